package notify

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/park285/tarik-tambang-server/internal/room"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

// State is the connection state of a Watcher.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReconnecting
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateFailed:
		return "failed"
	default:
		return "disconnected"
	}
}

type ChangeCallback func(ch room.Change)

type StateCallback func(s State)

// Watcher follows a room change stream over websocket and reconnects on failure.
// A reconnect starts with a fresh snapshot from the server.
type Watcher struct {
	url    string
	header http.Header

	conn   *websocket.Conn
	connM  sync.Mutex
	state  State
	stateM sync.RWMutex

	onChange ChangeCallback
	onState  StateCallback

	maxReconnectAttempts int
	pingInterval         time.Duration

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	rootCtx    context.Context
	rootCancel context.CancelFunc
}

func NewWatcher(url string, maxReconnectAttempts int) *Watcher {
	ctx, cancel := context.WithCancel(context.Background())
	return &Watcher{
		url:                  url,
		header:               http.Header{},
		state:                StateDisconnected,
		maxReconnectAttempts: maxReconnectAttempts,
		pingInterval:         30 * time.Second,
		stopCh:               make(chan struct{}),
		rootCtx:              ctx,
		rootCancel:           cancel,
	}
}

// SetHeader adds a handshake header, e.g. Authorization.
func (w *Watcher) SetHeader(k, v string) { w.header.Set(k, v) }

func (w *Watcher) OnChange(cb ChangeCallback) { w.onChange = cb }

func (w *Watcher) OnState(cb StateCallback) { w.onState = cb }

func (w *Watcher) State() State {
	w.stateM.RLock()
	defer w.stateM.RUnlock()
	return w.state
}

// Connect dials once; on failure a background reconnect is scheduled.
func (w *Watcher) Connect(ctx context.Context) error {
	if s := w.State(); s == StateConnected || s == StateConnecting {
		return nil
	}
	w.setState(StateConnecting)
	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	conn, err := w.dial(dialCtx)
	if err != nil {
		w.setState(StateFailed)
		w.scheduleReconnect()
		return err
	}
	w.attach(conn)
	return nil
}

func (w *Watcher) dial(ctx context.Context) (*websocket.Conn, error) {
	conn, _, err := websocket.Dial(ctx, w.url, &websocket.DialOptions{
		CompressionMode: websocket.CompressionNoContextTakeover,
		HTTPHeader:      w.header.Clone(),
	})
	return conn, err
}

func (w *Watcher) attach(conn *websocket.Conn) {
	w.connM.Lock()
	w.conn = conn
	w.connM.Unlock()
	w.setState(StateConnected)
	w.wg.Add(2)
	go w.listen(conn)
	go w.pingLoop(conn)
}

func (w *Watcher) listen(conn *websocket.Conn) {
	defer w.wg.Done()
	for {
		var ch room.Change
		if err := wsjson.Read(w.rootCtx, conn, &ch); err != nil {
			if w.isStopping() {
				return
			}
			status := websocket.CloseStatus(err)
			_ = w.closeConn(conn, websocket.StatusGoingAway, "reconnect")
			// the server closes normally once the room is gone
			if status == websocket.StatusNormalClosure {
				w.setState(StateDisconnected)
				return
			}
			w.setState(StateDisconnected)
			w.scheduleReconnect()
			return
		}
		if w.onChange != nil {
			w.onChange(ch)
		}
	}
}

func (w *Watcher) pingLoop(conn *websocket.Conn) {
	defer w.wg.Done()
	t := time.NewTicker(w.pingInterval)
	defer t.Stop()
	failures := 0
	for {
		select {
		case <-w.stopCh:
			return
		case <-w.rootCtx.Done():
			return
		case <-t.C:
			w.connM.Lock()
			current := w.conn
			w.connM.Unlock()
			if current != conn {
				return
			}
			ctx, cancel := context.WithTimeout(w.rootCtx, 3*time.Second)
			err := conn.Ping(ctx)
			cancel()
			if err == nil {
				failures = 0
				continue
			}
			failures++
			if failures >= 2 {
				_ = w.closeConn(conn, websocket.StatusGoingAway, "ping failure")
				return
			}
		}
	}
}

func (w *Watcher) scheduleReconnect() {
	if w.maxReconnectAttempts <= 0 {
		w.setState(StateFailed)
		return
	}
	w.setState(StateReconnecting)
	go func() {
		for attempt := 1; attempt <= w.maxReconnectAttempts; attempt++ {
			select {
			case <-w.stopCh:
				return
			case <-time.After(backoffDuration(attempt)):
			}
			dialCtx, cancel := context.WithTimeout(w.rootCtx, 10*time.Second)
			conn, err := w.dial(dialCtx)
			cancel()
			if err != nil {
				continue
			}
			w.attach(conn)
			return
		}
		w.setState(StateFailed)
	}()
}

func (w *Watcher) setState(s State) {
	w.stateM.Lock()
	w.state = s
	w.stateM.Unlock()
	if w.onState != nil {
		w.onState(s)
	}
}

// Close stops reconnects and waits for the reader to exit.
func (w *Watcher) Close(ctx context.Context) error {
	w.stopOnce.Do(func() { close(w.stopCh) })
	w.connM.Lock()
	conn := w.conn
	w.connM.Unlock()
	if conn != nil {
		_ = w.closeConn(conn, websocket.StatusNormalClosure, "close")
	}
	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		w.rootCancel()
		return nil
	}
}

func (w *Watcher) closeConn(conn *websocket.Conn, code websocket.StatusCode, reason string) error {
	w.connM.Lock()
	if w.conn == conn {
		w.conn = nil
	}
	w.connM.Unlock()
	return conn.Close(code, reason)
}

func (w *Watcher) isStopping() bool {
	select {
	case <-w.stopCh:
		return true
	default:
		return false
	}
}

func backoffDuration(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > 6 {
		attempt = 6
	}
	base := 100 * time.Millisecond
	return time.Duration(1<<uint(attempt-1)) * base
}
