package accounts

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func TestLoginPostsForm(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/login", r.URL.Path)
		require.NoError(t, r.ParseForm())
		if r.PostForm.Get("username") == "ana" && r.PostForm.Get("password") == "pw" {
			writeJSON(w, map[string]any{"success": true, "accessToken": "tok", "user": map[string]any{"id": 1, "username": "ana"}})
			return
		}
		writeJSON(w, map[string]any{"success": false, "message": "bad credentials"})
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	resp, err := c.Login(context.Background(), "ana", "pw")
	require.NoError(t, err)
	assert.Equal(t, "tok", resp.AccessToken)
	assert.Equal(t, "ana", resp.User.Username)

	_, err = c.Login(context.Background(), "ana", "nope")
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestAddWinSendsUsernameAndBearer(t *testing.T) {
	var gotUser, gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/add-win", r.URL.Path)
		require.NoError(t, r.ParseForm())
		gotUser = r.PostForm.Get("username")
		gotAuth = r.Header.Get("Authorization")
		writeJSON(w, map[string]any{"success": true})
	}))
	defer srv.Close()

	c := NewClient(srv.URL+"/", WithServiceToken("svc"))
	require.NoError(t, c.AddWin(context.Background(), "budi"))
	assert.Equal(t, "budi", gotUser)
	assert.Equal(t, "Bearer svc", gotAuth)

	assert.Error(t, c.AddWin(context.Background(), " "))
}

func TestAddWinNotReplayedAfterServerError(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// the counter was bumped before the gateway gave up
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		writeJSON(w, map[string]any{"success": true})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, WithRetry(3))
	assert.Error(t, c.AddWin(context.Background(), "ana"))
	assert.EqualValues(t, 1, atomic.LoadInt32(&calls))
}

func TestAddWinNotReplayedAfterDroppedConnection(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		if conn, _, err := w.(http.Hijacker).Hijack(); err == nil {
			_ = conn.Close()
		}
	}))
	defer srv.Close()

	c := NewClient(srv.URL, WithRetry(3), WithTimeout(2*time.Second))
	assert.Error(t, c.AddWin(context.Background(), "ana"))
	assert.EqualValues(t, 1, atomic.LoadInt32(&calls))
}

func TestAddWinRetriesThrottled(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		writeJSON(w, map[string]any{"success": true})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, WithRetry(3))
	require.NoError(t, c.AddWin(context.Background(), "ana"))
	assert.EqualValues(t, 2, atomic.LoadInt32(&calls))
}

func TestLeaderboardRetriesServerErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		writeJSON(w, map[string]any{"success": true, "leaderboard": []map[string]any{}})
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, WithRetry(3)).Leaderboard(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 3, atomic.LoadInt32(&calls))
}

func TestUnauthorizedStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()
	c := NewClient(srv.URL)
	err := c.DeleteAccount(context.Background(), "tok")
	assert.ErrorIs(t, err, ErrUnauthorized)
	_, err = c.UpdateProfile(context.Background(), "tok", "new", "")
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestUpdateProfileOmitsEmptyPassword(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		_, hasPw := r.PostForm["password"]
		assert.False(t, hasPw)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		writeJSON(w, map[string]any{"success": true, "username": r.PostForm.Get("username")})
	}))
	defer srv.Close()
	resp, err := NewClient(srv.URL).UpdateProfile(context.Background(), "tok", "ana2", "")
	require.NoError(t, err)
	assert.Equal(t, "ana2", resp.Username)
}

func TestLeaderboardSortedByWins(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodGet, r.Method)
		writeJSON(w, map[string]any{"success": true, "leaderboard": []map[string]any{
			{"username": "a", "wins": 1}, {"username": "b", "wins": 7}, {"username": "c", "wins": 3},
		}})
	}))
	defer srv.Close()
	lb, err := NewClient(srv.URL, WithTimeout(2*time.Second)).Leaderboard(context.Background())
	require.NoError(t, err)
	require.Len(t, lb, 3)
	assert.Equal(t, []string{"b", "c", "a"}, []string{lb[0].Username, lb[1].Username, lb[2].Username})
}
