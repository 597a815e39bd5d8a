package httpapi

import (
	"github.com/park285/tarik-tambang-server/internal/room"
	"github.com/park285/tarik-tambang-server/pkg/matchdto"
)

func toRoomView(r *room.Room) *matchdto.RoomView {
	if r == nil {
		return nil
	}
	return &matchdto.RoomView{
		Code:            r.Code,
		Status:          string(r.Status),
		CreatedAt:       r.CreatedAt.UnixMilli(),
		PlayerA:         toSeatView(r.PlayerA),
		PlayerB:         toSeatView(r.PlayerB),
		CurrentQuestion: r.CurrentQuestion,
		Winner:          r.Winner,
		Rev:             r.Rev,
	}
}

func toSeatView(s room.SeatState) *matchdto.SeatView {
	if !s.Occupied() {
		return nil
	}
	return &matchdto.SeatView{Name: s.Name, Score: s.Score, Ready: s.Ready}
}
