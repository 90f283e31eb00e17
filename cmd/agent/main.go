// Command agent is the logline agent binary. It loads configuration from a
// YAML file and/or flags, scans for log files matching the configured glob
// patterns, tails each across rotations, and streams appended bytes to a
// logline server. It shuts down gracefully on SIGTERM or SIGINT.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/messa/logline/internal/clientsession"
	"github.com/messa/logline/internal/compress"
	"github.com/messa/logline/internal/config"
	"github.com/messa/logline/internal/logging"
	"github.com/messa/logline/internal/scanner"
	"github.com/messa/logline/internal/statsdb"
	"github.com/messa/logline/internal/tail"
)

func main() {
	cfg, err := config.LoadAgentConfig(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "logline-agent: %v\n", err)
		os.Exit(1)
	}

	logger, closeLog, err := logging.New(cfg.Verbose, cfg.LogFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logline-agent: %v\n", err)
		os.Exit(1)
	}
	defer closeLog()
	slog.SetDefault(logger)

	hostname, err := os.Hostname()
	if err != nil {
		logger.Error("failed to determine hostname", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("logline agent starting",
		slog.Any("scan", cfg.ScanGlobs),
		slog.String("server", cfg.ServerAddr),
		slog.Bool("tls", cfg.TLS),
	)

	selfLogs := tail.NewSelfLogSet(cfg.LogFile)
	transportMetrics := clientsession.NewMetrics()

	var stats tail.StatsSink
	if cfg.StatsDBPath != "" {
		db, err := statsdb.Open(cfg.StatsDBPath)
		if err != nil {
			logger.Error("failed to open stats database", slog.Any("error", err))
			os.Exit(1)
		}
		defer db.Close()
		stats = db
	}

	followerCfg := tail.FollowerConfig{
		PrefixLength:                    cfg.PrefixLength,
		MinPrefixLength:                 cfg.MinPrefixLength,
		TailReadInterval:                cfg.TailReadInterval,
		RotatedFilesInactivityThreshold: cfg.RotatedFilesInactivityThreshold,
	}

	dial := func(ctx context.Context) (tail.SessionTransport, error) {
		return clientsession.Dial(ctx, clientsession.Config{
			Addr:         fmt.Sprintf("%s:%d", cfg.ServerHost, cfg.ServerPort),
			UseTLS:       cfg.TLS,
			TLSCertPath:  cfg.TLSCertFile,
			ClientToken:  cfg.ClientToken,
			FrameTimeout: cfg.FrameTimeout,
			Metrics:      transportMetrics,
		})
	}

	compressPool := compress.NewPool(0)
	defer compressPool.Stop()

	newFollower := func(path string, f *os.File, inode uint64) tail.Follower {
		currentInode := func() (uint64, bool) { return tail.CurrentInode(path) }
		return tail.NewFollower(path, f, inode, hostname, followerCfg, dial, currentInode, selfLogs, logger, stats, compressPool)
	}

	ctx, cancel := context.WithCancel(context.Background())

	sc := scanner.New(cfg.ScanGlobs, cfg.ExcludeGlobs, cfg.ScanNewFilesInterval, logger)
	go sc.Run(ctx)

	var wg sync.WaitGroup
	watched := make(map[string]struct{})
	var watchedMu sync.Mutex

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case paths := <-sc.Paths:
				watchedMu.Lock()
				for _, p := range paths {
					if _, ok := watched[p]; ok {
						continue
					}
					watched[p] = struct{}{}
					w := tail.NewWatcher(p, cfg.TailReadInterval, newFollower, logger, stats)
					wg.Add(1)
					go func(path string) {
						defer wg.Done()
						w.Run(ctx)
					}(p)
				}
				watchedMu.Unlock()
			}
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	sig := <-sigCh
	logger.Info("received shutdown signal", slog.String("signal", sig.String()))

	cancel()
	wg.Wait()
	logger.Info("logline agent exited cleanly")
}
