package httpapi

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/park285/tarik-tambang-server/internal/accounts"
	"github.com/park285/tarik-tambang-server/internal/config"
	"github.com/park285/tarik-tambang-server/internal/lobby"
	"github.com/park285/tarik-tambang-server/internal/match"
	"github.com/park285/tarik-tambang-server/internal/metrics"
	"github.com/park285/tarik-tambang-server/internal/msgcat"
	"github.com/park285/tarik-tambang-server/internal/notify"
	"github.com/park285/tarik-tambang-server/internal/room"
	"github.com/park285/tarik-tambang-server/internal/ticket"
)

// LeaderboardSource supplies the accounts leaderboard.
type LeaderboardSource interface {
	Leaderboard(ctx context.Context) ([]accounts.LeaderboardEntry, error)
}

// Deps are the collaborators of the HTTP surface. Leaderboard and Limiter are optional.
type Deps struct {
	Store            *room.Store
	Lobby            *lobby.Manager
	Engine           *match.Engine
	Hub              *notify.Hub
	Tickets          *ticket.Issuer
	Messages         *msgcat.Catalog
	Metrics          *metrics.Metrics
	Leaderboard      LeaderboardSource
	Limiter          *IPRateLimiter
	DisconnectPolicy config.DisconnectPolicy
	AllowedOrigins   []string
}

// Server exposes the client-facing operations over HTTP and websocket.
type Server struct {
	store   *room.Store
	lobby   *lobby.Manager
	engine  *match.Engine
	hub     *notify.Hub
	tickets *ticket.Issuer
	msg     *msgcat.Catalog
	metrics *metrics.Metrics
	board   LeaderboardSource
	limiter *IPRateLimiter
	policy  config.DisconnectPolicy
	origins []string

	pingInterval time.Duration
}

func NewServer(d Deps) *Server {
	if d.Metrics == nil {
		d.Metrics = metrics.New()
	}
	if d.DisconnectPolicy == "" {
		d.DisconnectPolicy = config.DisconnectKeep
	}
	return &Server{
		store:        d.Store,
		lobby:        d.Lobby,
		engine:       d.Engine,
		hub:          d.Hub,
		tickets:      d.Tickets,
		msg:          d.Messages,
		metrics:      d.Metrics,
		board:        d.Leaderboard,
		limiter:      d.Limiter,
		policy:       d.DisconnectPolicy,
		origins:      d.AllowedOrigins,
		pingInterval: 30 * time.Second,
	}
}

// Router builds the chi route tree.
func (s *Server) Router() http.Handler {
	mux := chi.NewRouter()
	mux.Use(middleware.RequestID)
	mux.Use(middleware.RealIP)
	mux.Use(middleware.Recoverer)
	mux.Use(s.corsHandler())

	mux.Get("/healthz", s.handleHealth)
	mux.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	// websocket streams skip the latency histogram and the rate limiter
	mux.Get("/rooms/{code}/ws", s.handleStream)

	mux.Group(func(r chi.Router) {
		r.Use(s.instrument)
		if s.limiter != nil {
			r.Use(s.limiter.Middleware)
		}
		r.Get("/leaderboard", s.handleLeaderboard)
		r.Route("/rooms", func(r chi.Router) {
			r.Get("/", s.handleListRooms)
			r.Post("/", s.handleCreateRoom)
			r.Route("/{code}", func(r chi.Router) {
				r.Get("/", s.handleGetRoom)
				r.Post("/join", s.handleJoin)
				r.Group(func(r chi.Router) {
					r.Use(s.requireTicket)
					r.Post("/leave", s.handleLeave)
					r.Post("/ready", s.handleReady)
					r.Post("/reset", s.handleReset)
					r.Post("/answer", s.handleAnswer)
				})
			})
		})
	})
	return mux
}

func (s *Server) corsHandler() func(http.Handler) http.Handler {
	if len(s.origins) == 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	return cors.Handler(cors.Options{
		AllowedOrigins:   s.origins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: false,
		MaxAge:           300,
	})
}

func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		route := "unmatched"
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		s.metrics.HTTPRequests.WithLabelValues(route, strconv.Itoa(status)).Inc()
		s.metrics.HTTPDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}
