package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/yoon511/netplay-badminton-board-yoon/internal/auth"
	"github.com/yoon511/netplay-badminton-board-yoon/internal/board"
	"github.com/yoon511/netplay-badminton-board-yoon/internal/hub"
	"github.com/yoon511/netplay-badminton-board-yoon/internal/roster"
	"github.com/yoon511/netplay-badminton-board-yoon/pkg/types"
)

const writeTimeout = 3 * time.Second

type Options struct {
	DefaultPath    string
	OriginPatterns []string
	Log            *zap.Logger
}

func Handler(h *hub.Hub, authz auth.Authorizer, opts Options) http.HandlerFunc {
	log := opts.Log
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("ws")

	return func(w http.ResponseWriter, r *http.Request) {
		path := r.URL.Query().Get("board")
		if path == "" {
			path = opts.DefaultPath
		}
		if path == "" {
			http.Error(w, "missing board", http.StatusBadRequest)
			return
		}

		b := h.Open(path)
		if b == nil {
			if path == h.DefaultPath() {
				http.Error(w, "board unavailable", http.StatusServiceUnavailable)
			} else {
				http.Error(w, "board not found", http.StatusNotFound)
			}
			return
		}
		admin := authz.IsAdmin(r)

		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			OriginPatterns: opts.OriginPatterns,
		})
		if err != nil {
			log.Debug("accept", zap.Error(err))
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "bye")

		out := make(chan board.Update, 32)
		clientID := uuid.NewString()
		clog := log.With(zap.String("client", clientID), zap.String("board", path), zap.Bool("admin", admin))

		if !b.Send(board.Join{ClientID: clientID, Admin: admin, Outbox: out}) {
			conn.Close(websocket.StatusTryAgainLater, "board closed")
			return
		}
		defer b.Send(board.Leave{ClientID: clientID})
		clog.Info("viewer joined")

		// Writer goroutine
		writeCtx, writeCancel := context.WithCancel(r.Context())
		defer writeCancel()
		go func() {
			// Board dropped us, we left, or it shut down.
			defer conn.Close(websocket.StatusGoingAway, "board closed")
			for {
				var u board.Update
				var ok bool
				select {
				case u, ok = <-out:
					if !ok {
						return
					}
				case <-b.Done():
					return
				}
				ctx, cancel := context.WithTimeout(writeCtx, writeTimeout)
				err := wsjson.Write(ctx, conn, toServerMessage(u))
				cancel()
				if err != nil {
					clog.Debug("write", zap.Error(err))
					return
				}
			}
		}()

		// Reader loop
		for {
			_, data, err := conn.Read(r.Context())
			if err != nil {
				// Treat clean close/going-away as normal:
				switch websocket.CloseStatus(err) {
				case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				default:
					clog.Debug("read", zap.Error(err))
				}
				clog.Info("viewer left")
				return
			}

			var cm types.ClientMessage
			if err := json.Unmarshal(data, &cm); err != nil {
				writeError(r.Context(), conn, "bad json")
				continue
			}

			cmd, ok := toCommand(cm)
			if !ok {
				writeError(r.Context(), conn, "unknown type")
				continue
			}

			if !b.Send(board.FromClient{ClientID: clientID, Cmd: cmd}) {
				return
			}
		}
	}
}

func writeError(ctx context.Context, conn *websocket.Conn, msg string) {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	_ = wsjson.Write(ctx, conn, types.ServerMessage{Type: types.MsgError, Error: msg})
}

func toCommand(m types.ClientMessage) (roster.Command, bool) {
	switch roster.CommandType(m.Type) {
	case roster.CmdRegister:
		return roster.Command{Type: roster.CmdRegister, Name: m.Name, Group: roster.Group(m.Group), Sex: roster.Sex(m.Sex)}, true
	case roster.CmdRemove:
		return roster.Command{Type: roster.CmdRemove, ParticipantID: m.ParticipantID}, true
	case roster.CmdToggleSelect:
		return roster.Command{Type: roster.CmdToggleSelect, ParticipantID: m.ParticipantID}, true
	case roster.CmdCommitSelection:
		return roster.Command{Type: roster.CmdCommitSelection}, true
	case roster.CmdAssignSlot:
		return roster.Command{Type: roster.CmdAssignSlot, CourtID: m.CourtID, SlotIndex: m.SlotIndex}, true
	case roster.CmdClearCourt:
		return roster.Command{Type: roster.CmdClearCourt, CourtID: m.CourtID}, true
	case roster.CmdReset:
		return roster.Command{Type: roster.CmdReset, Confirmed: m.Confirmed}, true
	default:
		return roster.Command{}, false
	}
}

func toServerMessage(u board.Update) types.ServerMessage {
	switch u := u.(type) {
	case board.Snapshot:
		return types.ServerMessage{
			Type:     types.MsgStateSnapshot,
			Version:  u.Version,
			State:    &u.State,
			Selected: u.Selected,
			Admin:    u.Admin,
			Clocks:   u.Clocks,
		}
	case board.Tick:
		return types.ServerMessage{Type: types.MsgClock, Clocks: u.Clocks}
	case board.Notice:
		return types.ServerMessage{Type: types.MsgNotice, Code: board.ErrorCode(u.Err), Error: u.Err.Error()}
	default:
		return types.ServerMessage{Type: types.MsgError, Error: "unknown update"}
	}
}
