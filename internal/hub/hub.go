package hub

import (
	"context"

	"go.uber.org/zap"

	"github.com/yoon511/netplay-badminton-board-yoon/internal/board"
	"github.com/yoon511/netplay-badminton-board-yoon/internal/store"
)

type HubMsg interface{ isHubMsg() }

type GetBoard struct {
	Path  string
	Reply chan *board.Board
}

// EnsureBoard returns the board for Path, starting it if needed. Reply
// receives nil if the board could not subscribe to the store.
type EnsureBoard struct {
	Path  string
	Reply chan *board.Board
}

// RemoveBoard drops the board for Path. When Board is set, only that exact
// board is dropped, so a stale request cannot remove its replacement.
type RemoveBoard struct {
	Path  string
	Board *board.Board
}

type ShutdownHub struct {
	Done chan struct{} // optional, closed once every board has stopped
}

func (GetBoard) isHubMsg()    {}
func (EnsureBoard) isHubMsg() {}
func (RemoveBoard) isHubMsg() {}
func (ShutdownHub) isHubMsg() {}

// Hub keeps one board per store path. The default path is pinned: it is
// always started on demand and never stopped for being idle.
type Hub struct {
	inbox       chan HubMsg
	boards      map[string]*board.Board
	store       store.Store
	config      board.Config // template; Path is filled per board
	defaultPath string
	log         *zap.Logger
	ctx         context.Context
	cancel      context.CancelFunc
}

func NewHub(parent context.Context, st store.Store, defaultPath string, cfg board.Config, log *zap.Logger) *Hub {
	if log == nil {
		log = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(parent)
	h := &Hub{
		inbox:       make(chan HubMsg, 64),
		boards:      make(map[string]*board.Board),
		store:       st,
		config:      cfg,
		defaultPath: defaultPath,
		log:         log,
		ctx:         ctx,
		cancel:      cancel,
	}
	go h.loop()
	return h
}

func (h *Hub) Inbox() chan<- HubMsg { return h.inbox }

func (h *Hub) DefaultPath() string { return h.defaultPath }

// Open returns the board for path. Only the default path is started on
// demand; any other path must already be live.
func (h *Hub) Open(path string) *board.Board {
	if path == h.defaultPath {
		return h.Ensure(path)
	}
	return h.Get(path)
}

// Get is a convenience wrapper around GetBoard.
func (h *Hub) Get(path string) *board.Board {
	reply := make(chan *board.Board, 1)
	select {
	case h.inbox <- GetBoard{Path: path, Reply: reply}:
	case <-h.ctx.Done():
		return nil
	}
	select {
	case b := <-reply:
		return b
	case <-h.ctx.Done():
		return nil
	}
}

// Ensure is a convenience wrapper around EnsureBoard.
func (h *Hub) Ensure(path string) *board.Board {
	reply := make(chan *board.Board, 1)
	select {
	case h.inbox <- EnsureBoard{Path: path, Reply: reply}:
	case <-h.ctx.Done():
		return nil
	}
	select {
	case b := <-reply:
		return b
	case <-h.ctx.Done():
		return nil
	}
}

func (h *Hub) loop() {
	for {
		select {
		case <-h.ctx.Done():
			h.shutdown()
			return

		case m := <-h.inbox:
			switch msg := m.(type) {
			case GetBoard:
				msg.Reply <- h.live(msg.Path) // May be nil

			case EnsureBoard:
				if b := h.live(msg.Path); b != nil {
					msg.Reply <- b
					break
				}
				cfg := h.config
				cfg.Path = msg.Path
				if msg.Path == h.defaultPath {
					cfg.IdleTimeout = 0
				} else {
					cfg.OnIdle = h.evict
				}
				b, err := board.NewBoard(h.ctx, h.store, cfg, h.log)
				if err != nil {
					h.log.Error("start board", zap.String("path", msg.Path), zap.Error(err))
					msg.Reply <- nil
					break
				}
				h.log.Info("board started", zap.String("path", msg.Path))
				h.boards[msg.Path] = b
				msg.Reply <- b

			case RemoveBoard:
				b := h.boards[msg.Path]
				if b == nil || (msg.Board != nil && msg.Board != b) {
					break
				}
				delete(h.boards, msg.Path)
				b.Send(board.Shutdown{})
				h.log.Info("board removed", zap.String("path", msg.Path))

			case ShutdownHub:
				h.shutdown()
				h.cancel()
				if msg.Done != nil {
					close(msg.Done)
				}
				return
			}
		}
	}
}

// evict runs on an idle board's goroutine after it has stopped.
func (h *Hub) evict(b *board.Board) {
	select {
	case h.inbox <- RemoveBoard{Path: b.Path(), Board: b}:
	default:
		// live drops stopped boards on the next lookup anyway.
	}
}

// live returns the board for path unless it has already stopped.
func (h *Hub) live(path string) *board.Board {
	b := h.boards[path]
	if b == nil {
		return nil
	}
	select {
	case <-b.Done():
		delete(h.boards, path)
		return nil
	default:
		return b
	}
}

func (h *Hub) shutdown() {
	for _, b := range h.boards {
		_ = b.Close()
	}
	clear(h.boards)
}
