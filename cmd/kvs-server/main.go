// Command kvs-server runs the TCP key-value server described in
// SPEC_FULL.md §6: it opens the log-structured engine at --dir and
// serves get/set/remove requests on --addr until interrupted.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"github.com/rust-kv/rust-kv/internal/config"
	"github.com/rust-kv/rust-kv/internal/engine"
	"github.com/rust-kv/rust-kv/internal/kvlog"
	"github.com/rust-kv/rust-kv/internal/server"
	"github.com/rust-kv/rust-kv/internal/workerpool"
)

func main() {
	app := &cli.App{
		Name:  "kvs-server",
		Usage: "run the rust-kv log-structured key-value server",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "addr", Aliases: []string{"a"}, Value: config.DefaultServerAddr, Usage: "address to listen on"},
			&cli.StringFlag{Name: "dir", Aliases: []string{"d"}, Value: "db", Usage: "directory holding segment files"},
			&cli.StringFlag{Name: "config", Aliases: []string{"c"}, Usage: "optional YAML config file"},
			&cli.IntFlag{Name: "pool", Value: 0, Usage: "worker pool size (0 means runtime.NumCPU(), -1 means unbounded, one goroutine per request)"},
			&cli.StringFlag{Name: "log-level", Value: "info", Usage: "logrus log level"},
		},
		Action: run,
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	log := kvlog.New()
	if lvl, err := logrus.ParseLevel(c.String("log-level")); err == nil {
		log.SetLevel(lvl)
	}

	cfg, err := config.LoadServerConfig(c.String("config"))
	if err != nil {
		return err
	}
	if c.IsSet("addr") {
		cfg.Addr = c.String("addr")
	}
	if c.IsSet("dir") {
		cfg.Dir = c.String("dir")
	}
	if c.IsSet("pool") {
		cfg.WorkerPoolSize = c.Int("pool")
	}

	eng, err := engine.Open(cfg.Dir, cfg.Engine, engine.WithLogger(log))
	if err != nil {
		return fmt.Errorf("kvs-server: open engine: %w", err)
	}
	defer eng.Close()

	var pool workerpool.Pool
	switch {
	case cfg.WorkerPoolSize > 0:
		pool = workerpool.NewSharedQueue(cfg.WorkerPoolSize)
	case cfg.WorkerPoolSize < 0:
		pool = workerpool.NewNaive()
	default:
		pool = workerpool.NewSharedQueue(runtime.NumCPU())
	}

	srv := server.New(eng, pool, server.WithLogger(log))

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe(cfg.Addr)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		log.Info("kvs-server: shutting down")
		return srv.Close()
	}
}
