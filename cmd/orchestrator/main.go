package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/spf13/viper"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"

	"github.com/SYMBIONT-X/SYMBIONT-X/internal/agents"
	"github.com/SYMBIONT-X/SYMBIONT-X/internal/api"
	"github.com/SYMBIONT-X/SYMBIONT-X/internal/audit"
	"github.com/SYMBIONT-X/SYMBIONT-X/internal/auth"
	"github.com/SYMBIONT-X/SYMBIONT-X/internal/config"
	"github.com/SYMBIONT-X/SYMBIONT-X/internal/engine"
	"github.com/SYMBIONT-X/SYMBIONT-X/internal/hitl"
	"github.com/SYMBIONT-X/SYMBIONT-X/internal/logging"
	"github.com/SYMBIONT-X/SYMBIONT-X/internal/mcp"
	"github.com/SYMBIONT-X/SYMBIONT-X/internal/notifications"
	"github.com/SYMBIONT-X/SYMBIONT-X/internal/repository"
	tlsutil "github.com/SYMBIONT-X/SYMBIONT-X/internal/tls"
)

func main() {
	ctx := context.Background()

	logger := logging.NewLogger()

	configFile := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configFile)
	if err != nil {
		logger.Error("Failed to load configuration", "error", err)
		log.Fatalf("Configuration loading failed: %v", err)
	}
	logger.Info("Configuration loaded",
		"environment", cfg.Environment,
		"config_file", viper.ConfigFileUsed(),
	)

	logger.Info("Starting Vulnerability Remediation Orchestrator")

	// Storage layer. A configured database host selects the Postgres-backed
	// stores; otherwise everything lives in process memory.
	var workflowStore repository.WorkflowStore
	var approvalStore repository.ApprovalStore
	if cfg.DB.Host != "" {
		pool, err := initDatabase(ctx, cfg, logger)
		if err != nil {
			logger.Error("Failed to initialize database", "error", err)
			log.Fatalf("Database initialization failed: %v", err)
		}
		defer pool.Close()
		workflowStore = repository.NewPostgresWorkflowStore(pool)
		approvalStore = repository.NewPostgresApprovalStore(pool)
		logger.Info("Database connected", "host", cfg.DB.Host, "name", cfg.DB.Name)
	} else {
		workflowStore = repository.NewMemoryWorkflowStore()
		approvalStore = repository.NewMemoryApprovalStore()
		logger.Info("Using in-memory stores")
	}

	auditLog := audit.NewLog(logger)
	notifier := notifications.FromConfig(cfg, logger)
	agentClient := agents.NewClient(cfg, logger)
	approvals := hitl.NewService(approvalStore, auditLog, notifier, cfg.ApprovalExpiry(), logger)

	eng, err := engine.New(cfg, workflowStore, approvals, agentClient, auditLog, logger)
	if err != nil {
		logger.Error("Failed to initialize engine", "error", err)
		log.Fatalf("Engine initialization failed: %v", err)
	}
	logger.Info("Service layer initialized")

	e := echo.New()
	e.HideBanner = true

	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(otelecho.Middleware("symbiont-orchestrator"))

	authz, err := auth.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("Failed to initialize auth", "error", err)
		log.Fatalf("Auth initialization failed: %v", err)
	}
	authz.MountHandlers(e)

	server := api.NewServer(eng, approvals, auditLog, agentClient, logger)
	e.GET("/health", server.Health)

	apiGroup := e.Group("/api/v1")
	apiGroup.Use(authz.Middleware())
	server.RegisterRoutes(apiGroup)
	logger.Info("REST API handlers mounted")

	mcpServer := mcp.NewServer(eng, approvals)
	mcp.MountHTTPHandlers(e, mcpServer.GetMCPServer())
	logger.Info("MCP protocol handlers mounted")

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      e,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("Server starting", "address", addr, "tls", cfg.TLS.Enable)
		if cfg.TLS.Enable && cfg.TLS.CertFile != "" && cfg.TLS.KeyFile != "" {
			if err := tlsutil.EnsureCert(cfg.TLS.CertFile, cfg.TLS.KeyFile, cfg.TLS.Hostnames); err != nil {
				logger.Error("Failed to ensure TLS certificate", "error", err)
			}
			serverErrors <- httpServer.ListenAndServeTLS(cfg.TLS.CertFile, cfg.TLS.KeyFile)
			return
		}
		serverErrors <- httpServer.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if err != http.ErrServerClosed {
			logger.Error("Server error", "error", err)
			log.Fatalf("Server error: %v", err)
		}
	case sig := <-shutdown:
		logger.Info("Shutdown signal received", "signal", sig.String())

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("Server shutdown error", "error", err)
			if err := httpServer.Close(); err != nil {
				logger.Error("Server close error", "error", err)
			}
		}

		// Let in-flight workflow goroutines finish their current store write.
		eng.Wait()

		logger.Info("Server stopped gracefully")
	}
}

func initDatabase(ctx context.Context, cfg *config.Config, logger *logging.Logger) (*pgxpool.Pool, error) {
	logger.Debug("Initializing database connection")

	connStr := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.DB.Host, cfg.DB.Port, cfg.DB.User, cfg.DB.Password, cfg.DB.Name, cfg.DB.SSLMode,
	)

	poolConfig, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err := repository.EnsureSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ensure schema: %w", err)
	}

	return pool, nil
}
