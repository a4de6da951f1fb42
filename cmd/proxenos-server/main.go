package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/kathoros-ai/proxenos/internal/audit"
	"github.com/kathoros-ai/proxenos/internal/auth"
	"github.com/kathoros-ai/proxenos/internal/keystore"
	"github.com/kathoros-ai/proxenos/internal/registry"
	"github.com/kathoros-ai/proxenos/internal/router"
	"github.com/kathoros-ai/proxenos/internal/server"
	"github.com/kathoros-ai/proxenos/internal/session"
)

func main() {
	// Logger
	logger := mustBuildLogger(envOrDefault("PROXENOS_LOG_LEVEL", "info"))
	defer logger.Sync() //nolint:errcheck // best-effort flush

	// Config from env
	port := envOrDefault("PROXENOS_PORT", "8089")
	projectRoot := envOrDefault("PROXENOS_PROJECT_ROOT", ".")
	manifestPath := os.Getenv("PROXENOS_MANIFEST")
	postgresDSN := os.Getenv("POSTGRES_DSN")
	clickhouseDSN := os.Getenv("CLICKHOUSE_DSN")
	auditLogPath := os.Getenv("PROXENOS_AUDIT_LOG")
	authCacheTTL := envOrDefaultInt("PROXENOS_AUTH_CACHE_TTL_S", 30)
	autoApprove := os.Getenv("PROXENOS_AUTO_APPROVE") == "1"
	keystoreDir := os.Getenv("PROXENOS_KEYSTORE_DIR")

	logger.Info("starting proxenos server",
		zap.String("port", port),
		zap.String("project_root", projectRoot),
	)

	// Tool registry: manifest and/or Postgres, then latch
	reg := registry.New()
	if manifestPath != "" {
		if err := registry.LoadManifest(manifestPath, reg, logger); err != nil {
			logger.Fatal("failed to load tool manifest", zap.Error(err))
		}
	}
	if postgresDSN != "" {
		db, err := sql.Open("pgx", postgresDSN)
		if err != nil {
			logger.Fatal("failed to open postgres", zap.Error(err))
		}
		defer func() { _ = db.Close() }()
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)
		if err := db.PingContext(context.Background()); err != nil {
			logger.Fatal("failed to ping postgres", zap.Error(err))
		}
		if err := registry.LoadFromPostgres(context.Background(), db, reg, logger); err != nil {
			logger.Fatal("failed to load tools from postgres", zap.Error(err))
		}
	}
	if manifestPath == "" && postgresDSN == "" {
		logger.Fatal("no tool source configured: set PROXENOS_MANIFEST or POSTGRES_DSN")
	}
	reg.Build()
	logger.Info("tool registry built", zap.Int("tools", len(reg.All())))

	// Audit trail: file or log sink, plus optional ClickHouse mirror
	var primary audit.Sink
	if auditLogPath != "" {
		fileSink, err := audit.NewFileSink(auditLogPath)
		if err != nil {
			logger.Fatal("failed to open audit log", zap.Error(err))
		}
		primary = fileSink
		logger.Info("audit file sink opened", zap.String("path", auditLogPath))
	} else {
		primary = audit.NewLogSink(logger)
		logger.Info("no PROXENOS_AUDIT_LOG set, auditing to log sink")
	}

	sink := primary
	if clickhouseDSN != "" {
		chSink, err := audit.NewClickHouseSink(clickhouseDSN, logger)
		if err != nil {
			logger.Warn("clickhouse connection failed, audit mirror disabled",
				zap.Error(err),
			)
		} else {
			sink = audit.Tee{primary, chSink}
			logger.Info("clickhouse audit mirror connected")
		}
	}
	defer sink.Close()

	// Auth: Postgres if DSN provided, otherwise static
	var authenticator auth.Authenticator
	if postgresDSN != "" {
		db, err := sql.Open("pgx", postgresDSN)
		if err != nil {
			logger.Fatal("failed to open postgres for auth", zap.Error(err))
		}
		defer func() { _ = db.Close() }()
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)
		authenticator = auth.NewPostgresAuthenticator(auth.PostgresAuthConfig{
			DB:       db,
			CacheTTL: time.Duration(authCacheTTL) * time.Second,
			FailOpen: true,
			Logger:   logger,
		})
		logger.Info("postgres authenticator connected")
	} else {
		authenticator = auth.NewStaticAuthenticator("local")
		logger.Info("using static authenticator (no POSTGRES_DSN)")
	}

	// Keystore: presence only is logged, never the secrets
	if keystoreDir != "" {
		ks, err := keystore.New(keystoreDir)
		if err != nil {
			logger.Fatal("failed to open keystore", zap.Error(err))
		}
		for _, provider := range []string{"anthropic", "openai"} {
			if masked := ks.Masked(provider); masked != "" {
				logger.Info("provider key present",
					zap.String("provider", provider),
					zap.String("key", masked),
				)
			}
		}
	}

	// Approval surface. Auto-approve is for local development only;
	// production hosts wire a real decision surface here.
	var approver router.Approver
	if autoApprove {
		approver = router.ApproverFunc(func(*router.ToolRequest, *registry.ToolDefinition) bool {
			return true
		})
		logger.Warn("PROXENOS_AUTO_APPROVE set, all gated requests approved")
	}

	executors := map[string]router.Executor{
		"echo": router.ExecutorFunc(func(args map[string]any, _ *registry.ToolDefinition, _ string) (any, error) {
			return args, nil
		}),
	}

	sessions, err := session.NewManager(session.Config{
		Registry:    reg,
		ProjectRoot: projectRoot,
		Audit:       sink,
		Approver:    approver,
		Executors:   executors,
		Logger:      logger,
	})
	if err != nil {
		logger.Fatal("failed to build session manager", zap.Error(err))
	}

	handler := server.NewRouter(&server.Dependencies{
		Sessions: sessions,
		Auth:     authenticator,
		Logger:   logger,
	})

	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigCh
		logger.Info("received signal, shutting down", zap.String("signal", sig.String()))
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			logger.Warn("shutdown error", zap.Error(err))
		}
	}()

	logger.Info("proxenos server listening", zap.String("addr", srv.Addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal("http server failed", zap.Error(err))
	}
}

func mustBuildLogger(level string) *zap.Logger {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	cfg := zap.Config{
		Level:            zap.NewAtomicLevelAt(zapLevel),
		Development:      false,
		Encoding:         "json",
		EncoderConfig:    zap.NewProductionEncoderConfig(),
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}

	logger, err := cfg.Build()
	if err != nil {
		panic(fmt.Sprintf("failed to build logger: %v", err))
	}
	return logger
}

func envOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envOrDefaultInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultVal
}
