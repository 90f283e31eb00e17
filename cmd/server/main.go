// Command server is the logline server binary. It loads configuration from
// a YAML file and/or flags, accepts agent connections, appends received
// bytes to per-source destination files, and shuts down gracefully on
// SIGTERM or SIGINT.
package main

import (
	"context"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/messa/logline/internal/adminrest"
	"github.com/messa/logline/internal/adminws"
	"github.com/messa/logline/internal/audit"
	"github.com/messa/logline/internal/auth"
	"github.com/messa/logline/internal/catalog"
	"github.com/messa/logline/internal/config"
	"github.com/messa/logline/internal/logging"
	"github.com/messa/logline/internal/servsession"
	"github.com/messa/logline/internal/tlsconfig"
)

func main() {
	cfg, err := config.LoadServerConfig(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "logline-server: %v\n", err)
		os.Exit(1)
	}

	logger, closeLog, err := logging.New(cfg.Verbose, cfg.LogFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logline-server: %v\n", err)
		os.Exit(1)
	}
	defer closeLog()
	slog.SetDefault(logger)

	logger.Info("logline server starting",
		slog.String("bind", cfg.BindAddr),
		slog.String("dest", cfg.DestDir),
	)

	var tlsCfg *servsession.TLSConfig
	if cfg.TLSCertFile != "" {
		cert, err := tlsconfig.LoadServerCertificate(cfg.TLSCertFile, cfg.TLSKeyFile, cfg.TLSKeyPasswordFile, cfg.TLSKeyPassword)
		if err != nil {
			logger.Error("failed to load TLS certificate", slog.Any("error", err))
			os.Exit(1)
		}
		tlsCfg = &servsession.TLSConfig{Cert: cert}
		logger.Info("TLS enabled")
	}

	frameTimeout := 300 * time.Second
	if cfg.FrameTimeout != "" {
		if d, err := time.ParseDuration(cfg.FrameTimeout); err == nil {
			frameTimeout = d
		} else {
			logger.Warn("ignoring unparseable frame_timeout", slog.String("value", cfg.FrameTimeout))
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var cat *catalog.Store
	if cfg.CatalogDSN != "" {
		cat, err = catalog.Open(ctx, cfg.CatalogDSN)
		if err != nil {
			logger.Error("failed to open ingestion catalog", slog.Any("error", err))
			os.Exit(1)
		}
		defer cat.Close()
		logger.Info("ingestion catalog enabled")
	}

	var auditLogger *audit.Logger
	if cfg.AuditLogPath != "" {
		auditLogger, err = audit.Open(cfg.AuditLogPath)
		if err != nil {
			logger.Error("failed to open audit log", slog.Any("error", err))
			os.Exit(1)
		}
		defer auditLogger.Close()
		logger.Info("audit logging enabled", slog.String("path", cfg.AuditLogPath))
	}

	registry := adminrest.NewRegistry(500)
	broadcaster := adminws.NewBroadcaster(logger, 64)
	defer broadcaster.Close()

	onSessionStart := func(peerAddr string) {
		registry.RegisterStart(peerAddr, time.Now())
	}

	onDataFrame := func(peerAddr, hostname, sourcePath, destPath string, offset int64, n int) {
		broadcaster.PublishDataFrame(peerAddr, hostname, sourcePath, destPath, offset, n)
	}

	onRotation := func(peerAddr, hostname, sourcePath, destPath string) {
		broadcaster.PublishRotation(peerAddr, hostname, sourcePath, destPath)
	}

	onSessionEnd := func(peerAddr, hostname, sourcePath, destPath string, bytesWritten int64, rotated bool, sessErr error) {
		info := adminrest.SessionInfo{
			PeerAddr:     peerAddr,
			Hostname:     hostname,
			SourcePath:   sourcePath,
			DestPath:     destPath,
			BytesWritten: bytesWritten,
			EndedAt:      time.Now(),
		}
		if sessErr != nil {
			info.Error = sessErr.Error()
		}
		registry.Record(info)
		broadcaster.PublishSessionEnd(peerAddr, hostname, sourcePath, destPath, bytesWritten, sessErr)

		if cat != nil && sessErr == nil {
			var rotatedAt *time.Time
			if rotated {
				now := time.Now()
				rotatedAt = &now
			}
			if err := cat.Touch(ctx, hostname, sourcePath, destPath, bytesWritten, rotatedAt); err != nil {
				logger.Warn("failed to update ingestion catalog", slog.Any("error", err))
			}
		}
	}

	ln, err := servsession.Listen(servsession.Config{
		BindHost:       cfg.BindHost,
		BindPort:       cfg.BindPort,
		TLS:            tlsCfg,
		DestRoot:       cfg.DestDir,
		Verifier:       auth.NewVerifier(cfg.ClientTokenHashes),
		FrameTimeout:   frameTimeout,
		Logger:         logger,
		Audit:          auditLogger,
		OnSessionStart: onSessionStart,
		OnDataFrame:    onDataFrame,
		OnRotation:     onRotation,
		OnSessionEnd:   onSessionEnd,
	})
	if err != nil {
		logger.Error("failed to bind listener", slog.Any("error", err))
		os.Exit(1)
	}
	defer ln.Close()

	var adminSrv *http.Server
	if cfg.AdminAddr != "" {
		var pubKey *rsa.PublicKey
		if cfg.AdminJWTPubKeyPath != "" {
			pubKey, err = loadRSAPublicKey(cfg.AdminJWTPubKeyPath)
			if err != nil {
				logger.Error("failed to load admin JWT public key", slog.Any("error", err))
				os.Exit(1)
			}
		}

		mux := http.NewServeMux()
		mux.Handle("/", adminrest.NewRouter(adminrest.NewServer(registry, cat).WithAuditLog(cfg.AuditLogPath), pubKey))
		mux.Handle("/admin/ws", adminws.NewHandler(broadcaster, logger, 10*time.Second))

		adminSrv = &http.Server{Addr: cfg.AdminAddr, Handler: mux}
		go func() {
			logger.Info("admin API listening", slog.String("addr", cfg.AdminAddr))
			if err := adminSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("admin API server stopped unexpectedly", slog.Any("error", err))
			}
		}()
		defer func() {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			adminSrv.Shutdown(shutdownCtx)
		}()
	}

	logger.Info("listening", slog.String("addr", ln.Addr().String()))

	serveErrCh := make(chan error, 1)
	go func() {
		serveErrCh <- ln.Serve(ctx)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal", slog.String("signal", sig.String()))
	case err := <-serveErrCh:
		if err != nil {
			logger.Error("listener stopped unexpectedly", slog.Any("error", err))
		}
	}

	cancel()
	ln.Close()
	<-serveErrCh

	logger.Info("logline server exited cleanly")
}

// loadRSAPublicKey reads a PEM-encoded RSA public key (PKIX or PKCS#1) used
// to validate admin API bearer tokens.
func loadRSAPublicKey(path string) (*rsa.PublicKey, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read admin JWT public key: %w", err)
	}
	block, _ := pem.Decode(raw)
	if block == nil {
		return nil, fmt.Errorf("admin JWT public key %s: no PEM block found", path)
	}
	if key, err := x509.ParsePKIXPublicKey(block.Bytes); err == nil {
		if rsaKey, ok := key.(*rsa.PublicKey); ok {
			return rsaKey, nil
		}
		return nil, fmt.Errorf("admin JWT public key %s: not an RSA key", path)
	}
	return x509.ParsePKCS1PublicKey(block.Bytes)
}
