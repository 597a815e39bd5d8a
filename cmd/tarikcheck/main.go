package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/park285/tarik-tambang-server/internal/lobby"
	"github.com/park285/tarik-tambang-server/internal/match"
	"github.com/park285/tarik-tambang-server/internal/notify"
	"github.com/park285/tarik-tambang-server/internal/room"
	"github.com/redis/go-redis/v9"
	"github.com/urfave/cli/v2"
)

func main() {
	app := &cli.App{
		Name:  "tarikcheck",
		Usage: "inspect a running tarik-tambang deployment",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "redis", EnvVars: []string{"REDIS_URL"}, Usage: "redis connection URL"},
			&cli.DurationFlag{Name: "timeout", Value: 5 * time.Second},
		},
		Commands: []*cli.Command{
			pingCommand(),
			roomsCommand(),
			showCommand(),
			watchCommand(),
			resultsCommand(),
		},
	}
	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func openStore(c *cli.Context) (*room.Store, func(), error) {
	url := c.String("redis")
	if url == "" {
		return nil, nil, errors.New("REDIS_URL (or --redis) is required")
	}
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, nil, fmt.Errorf("redis url: %w", err)
	}
	rdb := redis.NewClient(opt)
	return room.NewStore(rdb), func() { _ = rdb.Close() }, nil
}

func pingCommand() *cli.Command {
	return &cli.Command{
		Name:  "ping",
		Usage: "check redis connectivity",
		Action: func(c *cli.Context) error {
			store, closeFn, err := openStore(c)
			if err != nil {
				return err
			}
			defer closeFn()
			ctx, cancel := context.WithTimeout(c.Context, c.Duration("timeout"))
			defer cancel()
			start := time.Now()
			if err := store.Ping(ctx); err != nil {
				return err
			}
			fmt.Printf("redis ok (%s)\n", time.Since(start).Round(time.Millisecond))
			return nil
		},
	}
}

func roomsCommand() *cli.Command {
	return &cli.Command{
		Name:  "rooms",
		Usage: "list open rooms, newest first",
		Action: func(c *cli.Context) error {
			store, closeFn, err := openStore(c)
			if err != nil {
				return err
			}
			defer closeFn()
			ctx, cancel := context.WithTimeout(c.Context, c.Duration("timeout"))
			defer cancel()
			rooms, err := lobby.NewManager(store).ListOpen(ctx)
			if err != nil {
				return err
			}
			if len(rooms) == 0 {
				fmt.Println("no open rooms")
				return nil
			}
			for _, r := range rooms {
				fmt.Printf("%s  A=%-12q B=%-12q created=%s\n", r.Code, r.PlayerA.Name, r.PlayerB.Name, r.CreatedAt.Format(time.RFC3339))
			}
			return nil
		},
	}
}

func showCommand() *cli.Command {
	return &cli.Command{
		Name:      "show",
		Usage:     "print the stored state of a room",
		ArgsUsage: "CODE",
		Action: func(c *cli.Context) error {
			code := room.NormalizeCode(c.Args().First())
			if code == "" {
				return errors.New("room code is required")
			}
			store, closeFn, err := openStore(c)
			if err != nil {
				return err
			}
			defer closeFn()
			ctx, cancel := context.WithTimeout(c.Context, c.Duration("timeout"))
			defer cancel()
			r, err := store.Load(ctx, code)
			if err != nil {
				return err
			}
			if r == nil {
				return fmt.Errorf("room %s not found", code)
			}
			return printJSON(r.Snapshot())
		},
	}
}

func watchCommand() *cli.Command {
	return &cli.Command{
		Name:      "watch",
		Usage:     "follow the change stream of a room through the public websocket",
		ArgsUsage: "CODE",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "server", Value: "ws://localhost:8080", EnvVars: []string{"TARIK_WS_URL"}},
			&cli.StringFlag{Name: "ticket", Usage: "seat ticket; the seat follows the server disconnect policy"},
			&cli.IntFlag{Name: "reconnect", Value: 5, Usage: "max reconnect attempts"},
			&cli.DurationFlag{Name: "for", Usage: "stop after this long (0 = until interrupted)"},
		},
		Action: func(c *cli.Context) error {
			code := room.NormalizeCode(c.Args().First())
			if code == "" {
				return errors.New("room code is required")
			}
			w := notify.NewWatcher(c.String("server")+"/rooms/"+code+"/ws", c.Int("reconnect"))
			if t := c.String("ticket"); t != "" {
				w.SetHeader("Authorization", "Bearer "+t)
			}
			done := make(chan struct{})
			var once sync.Once
			finish := func() { once.Do(func() { close(done) }) }
			w.OnState(func(s notify.State) {
				log.Printf("ws state: %s", s)
				if s == notify.StateFailed {
					finish()
				}
			})
			w.OnChange(func(ch room.Change) {
				_ = printJSON(ch)
				if ch.Deleted {
					finish()
				}
			})

			ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
			defer stop()
			if d := c.Duration("for"); d > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, d)
				defer cancel()
			}
			cctx, ccancel := context.WithTimeout(ctx, c.Duration("timeout"))
			err := w.Connect(cctx)
			ccancel()
			if err != nil {
				log.Printf("ws connect error: %v (retrying in background)", err)
			}
			select {
			case <-ctx.Done():
			case <-done:
			}
			sctx, scancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer scancel()
			return w.Close(sctx)
		},
	}
}

func resultsCommand() *cli.Command {
	return &cli.Command{
		Name:  "results",
		Usage: "list recently finished matches from the archive",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "db", EnvVars: []string{"DATABASE_URL"}, Usage: "postgres connection URL"},
			&cli.IntFlag{Name: "limit", Value: 20},
		},
		Action: func(c *cli.Context) error {
			repo, err := match.NewRepository(c.String("db"))
			if err != nil {
				return err
			}
			defer func() { _ = repo.Close() }()
			ctx, cancel := context.WithTimeout(c.Context, c.Duration("timeout"))
			defer cancel()
			results, err := repo.RecentResults(ctx, c.Int("limit"))
			if err != nil {
				return err
			}
			for _, r := range results {
				fmt.Printf("%s  %s  %s %d : %d %s  winner=%s (%s)\n",
					r.FinishedAt.Format(time.RFC3339), r.Code,
					r.PlayerA, r.ScoreA, r.ScoreB, r.PlayerB,
					r.Winner, r.FinishedAt.Sub(r.StartedAt).Round(time.Second))
			}
			return nil
		},
	}
}

func printJSON(v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(b))
	return nil
}
