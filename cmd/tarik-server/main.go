package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/park285/tarik-tambang-server/internal/accounts"
	appcfg "github.com/park285/tarik-tambang-server/internal/config"
	"github.com/park285/tarik-tambang-server/internal/httpapi"
	"github.com/park285/tarik-tambang-server/internal/lobby"
	"github.com/park285/tarik-tambang-server/internal/match"
	"github.com/park285/tarik-tambang-server/internal/metrics"
	"github.com/park285/tarik-tambang-server/internal/msgcat"
	"github.com/park285/tarik-tambang-server/internal/notify"
	"github.com/park285/tarik-tambang-server/internal/obslog"
	"github.com/park285/tarik-tambang-server/internal/question"
	"github.com/park285/tarik-tambang-server/internal/room"
	"github.com/park285/tarik-tambang-server/internal/ticket"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func main() {
	cfg, err := appcfg.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	if err := obslog.InitFromEnv(); err != nil {
		log.Printf("logger init error: %v (falling back to stderr)", err)
	}
	defer obslog.Sync()
	lg := obslog.L()

	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		lg.Fatal("redis_url_invalid", zap.Error(err))
	}
	rdb := redis.NewClient(opt)
	defer func() { _ = rdb.Close() }()

	store := room.NewStore(rdb)
	pctx, pcancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := store.Ping(pctx); err != nil {
		pcancel()
		lg.Fatal("redis_unreachable", zap.Error(err))
	}
	pcancel()

	m := metrics.New()
	engine := match.NewEngine(store, question.New(), cfg.WinScore)
	engine.AttachObserver(m)

	if cfg.DatabaseURL != "" {
		repo, err := match.NewRepository(cfg.DatabaseURL)
		if err != nil {
			lg.Fatal("results_db_init", zap.Error(err))
		}
		defer func() { _ = repo.Close() }()
		engine.AttachRepository(repo)
	}

	var board httpapi.LeaderboardSource
	if cfg.AccountsBaseURL != "" {
		ac := accounts.NewClient(cfg.AccountsBaseURL,
			accounts.WithTimeout(8*time.Second),
			accounts.WithServiceToken(cfg.AccountsToken),
		)
		engine.AttachWinRecorder(ac)
		board = ac
	}

	secret := cfg.TicketSecret
	if secret == "" {
		secret, err = ticket.RandomSecret()
		if err != nil {
			lg.Fatal("ticket_secret", zap.Error(err))
		}
		lg.Warn("ticket_secret_ephemeral")
	}

	catalog, err := msgcat.New(cfg.MessagesDir)
	if err != nil {
		lg.Fatal("messages_load", zap.String("dir", cfg.MessagesDir), zap.Error(err))
	}

	api := httpapi.NewServer(httpapi.Deps{
		Store:            store,
		Lobby:            lobby.NewManager(store, lobby.WithMaxAttempts(cfg.CodeAttempts)),
		Engine:           engine,
		Hub:              notify.NewHub(store),
		Tickets:          ticket.NewIssuer(secret, cfg.TicketTTL),
		Messages:         catalog,
		Metrics:          m,
		Leaderboard:      board,
		Limiter:          httpapi.NewIPRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst),
		DisconnectPolicy: cfg.DisconnectPolicy,
		AllowedOrigins:   cfg.AllowedOrigins,
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		lg.Info("http_listen",
			zap.String("addr", cfg.HTTPAddr),
			zap.Int("win_score", cfg.WinScore),
			zap.String("disconnect_policy", string(cfg.DisconnectPolicy)),
			zap.Bool("results_db", cfg.DatabaseURL != ""),
			zap.Bool("accounts", cfg.AccountsBaseURL != ""),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		lg.Info("shutdown_signal")
	case err := <-errCh:
		if err != nil {
			lg.Error("http_serve", zap.Error(err))
		}
	}

	sctx, scancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer scancel()
	if err := srv.Shutdown(sctx); err != nil {
		lg.Warn("http_shutdown", zap.Error(err))
	}
	// let pending win/result writes land before the stores close
	engine.Wait()
	lg.Info("shutdown_complete")
}
