package ws

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yoon511/netplay-badminton-board-yoon/internal/auth"
	"github.com/yoon511/netplay-badminton-board-yoon/internal/board"
	"github.com/yoon511/netplay-badminton-board-yoon/internal/hub"
	"github.com/yoon511/netplay-badminton-board-yoon/internal/roster"
	"github.com/yoon511/netplay-badminton-board-yoon/internal/store"
	"github.com/yoon511/netplay-badminton-board-yoon/pkg/types"
)

func startServer(t *testing.T, authz auth.Authorizer) *httptest.Server {
	t.Helper()
	srv, _ := startServerHub(t, authz)
	return srv
}

func startServerHub(t *testing.T, authz auth.Authorizer) (*httptest.Server, *hub.Hub) {
	t.Helper()
	mem := store.NewMemory(nil)
	h := hub.NewHub(context.Background(), mem, "netplay", board.Config{}, nil)
	srv := httptest.NewServer(Handler(h, authz, Options{DefaultPath: "netplay"}))
	t.Cleanup(func() {
		srv.Close()
		done := make(chan struct{})
		h.Inbox() <- hub.ShutdownHub{Done: done}
		<-done
		_ = mem.Close()
	})
	return srv, h
}

func dial(t *testing.T, srv *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws" + query
	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "") })
	return conn
}

func read(t *testing.T, conn *websocket.Conn) types.ServerMessage {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	var msg types.ServerMessage
	require.NoError(t, wsjson.Read(ctx, conn, &msg))
	return msg
}

func write(t *testing.T, conn *websocket.Conn, msg types.ClientMessage) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, wsjson.Write(ctx, conn, msg))
}

func TestHandler_RegisterAndQueue(t *testing.T) {
	srv := startServer(t, auth.Static(true))
	conn := dial(t, srv, "")

	first := read(t, conn)
	require.Equal(t, types.MsgStateSnapshot, first.Type)
	assert.True(t, first.Admin)
	require.NotNil(t, first.State)
	assert.Len(t, first.State.Courts, roster.DefaultCourts)

	for _, name := range []string{"P1", "P2", "P3", "P4"} {
		write(t, conn, types.ClientMessage{Type: "Register", Name: name, Group: "B", Sex: "male"})
	}
	var last types.ServerMessage
	for i := 0; i < 4; i++ {
		last = read(t, conn)
		require.Equal(t, types.MsgStateSnapshot, last.Type)
	}
	require.Len(t, last.State.Participants, 4)

	for _, p := range last.State.Participants {
		write(t, conn, types.ClientMessage{Type: "ToggleSelect", ParticipantID: p.ID})
		read(t, conn)
	}
	write(t, conn, types.ClientMessage{Type: "CommitSelection"})
	queued := read(t, conn)
	require.Len(t, queued.State.WaitingSlots[0], 4)

	// a second commit has nothing selected
	write(t, conn, types.ClientMessage{Type: "CommitSelection"})
	notice := read(t, conn)
	assert.Equal(t, types.MsgNotice, notice.Type)
	assert.Equal(t, "selection_size", notice.Code)
}

func TestHandler_ViewerIsNotAdmin(t *testing.T) {
	srv, h := startServerHub(t, auth.Static(false))
	require.NotNil(t, h.Ensure("other"))
	conn := dial(t, srv, "?board=other")

	first := read(t, conn)
	assert.False(t, first.Admin)

	write(t, conn, types.ClientMessage{Type: "Reset", Confirmed: true})
	write(t, conn, types.ClientMessage{Type: "Register", Name: "solo", Group: "A", Sex: "female"})
	next := read(t, conn)
	assert.Equal(t, 1, next.Version)
	require.Len(t, next.State.Participants, 1)
}

func TestHandler_UnknownBoardIsNotFound(t *testing.T) {
	srv, h := startServerHub(t, auth.Static(true))
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?board=nobody-made-this"
	_, resp, err := websocket.Dial(ctx, url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Nil(t, h.Get("nobody-made-this"))
}

func TestHandler_DisconnectLeavesBoard(t *testing.T) {
	srv, h := startServerHub(t, auth.Static(false))
	conn := dial(t, srv, "")
	read(t, conn)

	b := h.Get("netplay")
	require.NotNil(t, b)
	conn.Close(websocket.StatusNormalClosure, "")

	require.Eventually(t, func() bool {
		reply := make(chan board.View, 1)
		b.Inbox() <- board.GetState{Reply: reply}
		return (<-reply).NumClients == 0
	}, 2*time.Second, 20*time.Millisecond)
}

func TestHandler_RejectsBadInput(t *testing.T) {
	srv := startServer(t, auth.Static(false))
	conn := dial(t, srv, "")
	read(t, conn)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, conn.Write(ctx, websocket.MessageText, []byte("{not json")))
	msg := read(t, conn)
	assert.Equal(t, types.MsgError, msg.Type)
	assert.Equal(t, "bad json", msg.Error)

	write(t, conn, types.ClientMessage{Type: "Smash"})
	msg = read(t, conn)
	assert.Equal(t, "unknown type", msg.Error)
}

func TestToServerMessage_NoticeCodes(t *testing.T) {
	cases := []struct {
		err  error
		code string
	}{
		{err: roster.ErrQueuesFull, code: "queues_full"},
		{err: board.ErrSyncFailed, code: "sync_failed"},
		{err: errors.New("boom"), code: "error"},
	}
	for _, tc := range cases {
		msg := toServerMessage(board.Notice{Err: tc.err})
		assert.Equal(t, types.MsgNotice, msg.Type)
		assert.Equal(t, tc.code, msg.Code)
		assert.Equal(t, tc.err.Error(), msg.Error)
	}
}

func TestToCommand(t *testing.T) {
	cmd, ok := toCommand(types.ClientMessage{Type: "AssignSlot", CourtID: 2, SlotIndex: 1})
	require.True(t, ok)
	assert.Equal(t, roster.Command{Type: roster.CmdAssignSlot, CourtID: 2, SlotIndex: 1}, cmd)

	cmd, ok = toCommand(types.ClientMessage{Type: "Reset"})
	require.True(t, ok)
	assert.False(t, cmd.Confirmed)

	_, ok = toCommand(types.ClientMessage{Type: "LockPick"})
	assert.False(t, ok)
}
