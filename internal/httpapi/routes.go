package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/yoon511/netplay-badminton-board-yoon/internal/auth"
	"github.com/yoon511/netplay-badminton-board-yoon/internal/hub"
	"github.com/yoon511/netplay-badminton-board-yoon/internal/ws"
)

type Options struct {
	DefaultPath    string
	AllowedOrigins []string
	Log            *zap.Logger
	Now            func() time.Time
}

func SetupRoutes(h *hub.Hub, authz auth.Authorizer, opts Options) http.Handler {
	log := opts.Log
	if log == nil {
		log = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(RequestLogger(log.Named("http")))
	r.Use(middleware.Recoverer)

	// Public routes
	r.Get("/healthz", Healthz)
	r.Route("/boards", func(r chi.Router) {
		r.Post("/", CreateBoard(h, log))
		r.Get("/{path}", GetBoard(h, opts.Now))
		r.Post("/{path}/participants", RegisterParticipant(h, log))
	})
	r.Get("/ws", ws.Handler(h, authz, ws.Options{
		DefaultPath:    opts.DefaultPath,
		OriginPatterns: opts.AllowedOrigins,
		Log:            log,
	}))
	return r
}
