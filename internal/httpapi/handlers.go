package httpapi

import (
	"crypto/rand"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/yoon511/netplay-badminton-board-yoon/internal/board"
	"github.com/yoon511/netplay-badminton-board-yoon/internal/hub"
	"github.com/yoon511/netplay-badminton-board-yoon/internal/roster"
	"github.com/yoon511/netplay-badminton-board-yoon/pkg/types"
)

const replyTimeout = 5 * time.Second

func GenerateCode() (string, error) {
	const charset = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

	code := make([]byte, 6)
	for i := range code {
		num, err := rand.Int(rand.Reader, big.NewInt(int64(len(charset))))
		if err != nil {
			return "", err
		}
		code[i] = charset[num.Int64()]
	}
	return string(code), nil
}

// CreateBoard starts a board under a fresh code that no live board uses.
func CreateBoard(h *hub.Hub, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var code string
		for {
			c, err := GenerateCode()
			if err != nil {
				writeError(w, http.StatusInternalServerError, "error", "failed to generate code")
				return
			}
			reply := make(chan *board.Board, 1)
			h.Inbox() <- hub.GetBoard{Path: c, Reply: reply}
			if <-reply == nil {
				code = c
				break
			}
			log.Debug("board code collision, regenerating", zap.String("code", c))
		}

		if h.Ensure(code) == nil {
			writeError(w, http.StatusServiceUnavailable, "error", "failed to start board")
			return
		}
		writeJSON(w, http.StatusCreated, struct {
			Path string `json:"path"`
		}{Path: code})
	}
}

// GetBoard returns the shared state of a board plus its court clocks.
func GetBoard(h *hub.Hub, now func() time.Time) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		b := openBoard(w, h, chi.URLParam(r, "path"))
		if b == nil {
			return
		}

		reply := make(chan board.View, 1)
		if !b.Send(board.GetState{Reply: reply}) {
			writeError(w, http.StatusServiceUnavailable, "error", "board closed")
			return
		}
		select {
		case v := <-reply:
			writeJSON(w, http.StatusOK, types.BoardView{
				Version: v.Version,
				State:   v.State,
				Clocks:  roster.Clocks(now(), v.State.Courts),
			})
		case <-time.After(replyTimeout):
			writeError(w, http.StatusGatewayTimeout, "error", "board did not answer")
		case <-r.Context().Done():
		}
	}
}

// openBoard finds a live board, starting only the default one. It writes
// the error response itself when there is none.
func openBoard(w http.ResponseWriter, h *hub.Hub, path string) *board.Board {
	b := h.Open(path)
	switch {
	case b != nil:
	case path == h.DefaultPath():
		writeError(w, http.StatusServiceUnavailable, "error", "board unavailable")
	default:
		writeError(w, http.StatusNotFound, "not_found", "board not found")
	}
	return b
}

type registerRequest struct {
	Name  string `json:"name"`
	Group string `json:"group"`
	Sex   string `json:"sex"`
}

// RegisterParticipant adds one participant. Registration is open to anyone.
func RegisterParticipant(h *hub.Hub, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req registerRequest
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4<<10)).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "bad_json", "bad json")
			return
		}
		if strings.TrimSpace(req.Name) == "" {
			writeError(w, http.StatusBadRequest, "name_required", "name is required")
			return
		}

		b := openBoard(w, h, chi.URLParam(r, "path"))
		if b == nil {
			return
		}

		reply := make(chan error, 1)
		cmd := roster.Command{
			Type:  roster.CmdRegister,
			Name:  req.Name,
			Group: roster.Group(strings.ToUpper(strings.TrimSpace(req.Group))),
			Sex:   roster.Sex(strings.ToLower(strings.TrimSpace(req.Sex))),
		}
		if !b.Send(board.FromClient{Cmd: cmd, Reply: reply}) {
			writeError(w, http.StatusServiceUnavailable, "error", "board closed")
			return
		}

		var err error
		select {
		case err = <-reply:
		case <-time.After(replyTimeout):
			writeError(w, http.StatusGatewayTimeout, "error", "board did not answer")
			return
		case <-r.Context().Done():
			return
		}

		var adv *roster.AdvisoryError
		switch {
		case err == nil:
			writeJSON(w, http.StatusAccepted, registerResponse{Status: "accepted"})
		case errors.As(err, &adv):
			writeError(w, http.StatusBadRequest, adv.Code, adv.Message)
		case errors.Is(err, board.ErrSyncFailed):
			// Applied on this server, not yet shared.
			log.Warn("register not synced", zap.Error(err))
			writeJSON(w, http.StatusAccepted, registerResponse{Status: "accepted", Warning: board.ErrorCode(err)})
		default:
			log.Error("register", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "error", "register failed")
		}
	}
}

type registerResponse struct {
	Status  string `json:"status"`
	Warning string `json:"warning,omitempty"`
}

func Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

type errorResponse struct {
	Code  string `json:"code"`
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, errorResponse{Code: code, Error: msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
