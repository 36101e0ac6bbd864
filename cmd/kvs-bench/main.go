// Command kvs-bench drives a simple set/get workload against both the
// log-structured engine and the bbolt-backed comparison engine,
// reporting elapsed time for each, and separately measures the
// throughput of each internal/workerpool variant under a fixed job
// count. It exists to exercise internal/boltengine,
// internal/engine.Engine's CompactNow, and internal/workerpool the way
// original_source's benches directory compared KvStore against
// SledStore and its thread pools against each other.
package main

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/rust-kv/rust-kv/internal/boltengine"
	"github.com/rust-kv/rust-kv/internal/config"
	"github.com/rust-kv/rust-kv/internal/engine"
	"github.com/rust-kv/rust-kv/internal/kvlog"
	"github.com/rust-kv/rust-kv/internal/workerpool"
)

func main() {
	app := &cli.App{
		Name:  "kvs-bench",
		Usage: "compare the log-structured engine against the bbolt engine and the worker pool variants",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "keys", Value: 10000, Usage: "number of distinct keys to write"},
			&cli.IntFlag{Name: "value-size", Value: 128, Usage: "value size in bytes"},
			&cli.BoolFlag{Name: "compact", Value: true, Usage: "force a compaction pass after writing"},
			&cli.IntFlag{Name: "jobs", Value: 100000, Usage: "number of no-op jobs to run per worker pool variant"},
		},
		Action: run,
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	n := c.Int("keys")
	valueSize := c.Int("value-size")
	value := randomBytes(valueSize)

	dir, err := os.MkdirTemp("", "kvs-bench-*")
	if err != nil {
		return err
	}
	defer os.RemoveAll(dir)

	if err := benchLogEngine(filepath.Join(dir, "logkv"), n, value, c.Bool("compact")); err != nil {
		return err
	}
	if err := benchBoltEngine(filepath.Join(dir, "bolt.db"), n, value); err != nil {
		return err
	}
	benchWorkerPools(c.Int("jobs"))
	return nil
}

func benchLogEngine(dir string, n int, value []byte, compact bool) error {
	eng, err := engine.Open(dir, config.DefaultEngineConfig(), engine.WithLogger(kvlog.Discard()))
	if err != nil {
		return fmt.Errorf("kvs-bench: open log engine: %w", err)
	}
	defer eng.Close()

	start := time.Now()
	for i := 0; i < n; i++ {
		key := []byte(fmt.Sprintf("key-%08d", i))
		if err := eng.Set(key, value); err != nil {
			return err
		}
	}
	writeElapsed := time.Since(start)

	start = time.Now()
	for i := 0; i < n; i++ {
		key := []byte(fmt.Sprintf("key-%08d", i))
		if _, _, err := eng.Get(key); err != nil {
			return err
		}
	}
	readElapsed := time.Since(start)

	fmt.Printf("log-engine:  %d sets in %s, %d gets in %s\n", n, writeElapsed, n, readElapsed)

	if compact {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		start = time.Now()
		if err := eng.CompactNow(ctx); err != nil {
			return err
		}
		fmt.Printf("log-engine:  compaction pass in %s\n", time.Since(start))
	}
	return nil
}

func benchBoltEngine(path string, n int, value []byte) error {
	store, err := boltengine.Open(path)
	if err != nil {
		return fmt.Errorf("kvs-bench: open bolt engine: %w", err)
	}
	defer store.Close()

	start := time.Now()
	for i := 0; i < n; i++ {
		key := []byte(fmt.Sprintf("key-%08d", i))
		if err := store.Set(key, value); err != nil {
			return err
		}
	}
	writeElapsed := time.Since(start)

	start = time.Now()
	for i := 0; i < n; i++ {
		key := []byte(fmt.Sprintf("key-%08d", i))
		if _, _, err := store.Get(key); err != nil {
			return err
		}
	}
	readElapsed := time.Since(start)

	fmt.Printf("bolt-engine: %d sets in %s, %d gets in %s\n", n, writeElapsed, n, readElapsed)
	return nil
}

// benchWorkerPools runs jobs no-op jobs through each internal/workerpool
// variant and prints each one's elapsed time, the Go analogue of
// original_source's thread pool benches comparing NaiveThreadPool
// against SharedQueueThreadPool.
func benchWorkerPools(jobs int) {
	variants := []struct {
		name string
		pool workerpool.Pool
	}{
		{"naive", workerpool.NewNaive()},
		{"shared-queue", workerpool.NewSharedQueue(runtime.NumCPU())},
		{"bounded", workerpool.NewBounded(int64(runtime.NumCPU()))},
	}

	for _, v := range variants {
		var wg sync.WaitGroup
		wg.Add(jobs)

		start := time.Now()
		for i := 0; i < jobs; i++ {
			v.pool.Spawn(func() { wg.Done() })
		}
		wg.Wait()
		elapsed := time.Since(start)
		v.pool.Close()

		fmt.Printf("workerpool:  %-12s %d jobs in %s (%.0f jobs/s)\n", v.name, jobs, elapsed, float64(jobs)/elapsed.Seconds())
	}
}

func randomBytes(n int) []byte {
	b := make([]byte, n)
	rand.Read(b)
	return b
}
