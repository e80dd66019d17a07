// Command server runs the workflow engine HTTP API: it loads configuration,
// connects to PostgreSQL, applies migrations, and serves the REST routes
// until interrupted.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/flowline/flowline/pkg/api"
	"github.com/flowline/flowline/pkg/common/config"
	"github.com/flowline/flowline/pkg/executor"
	"github.com/flowline/flowline/pkg/observability"
	pgrepo "github.com/flowline/flowline/pkg/repository/postgres"
	"github.com/flowline/flowline/pkg/steps"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.LogLevel)
	tracer := observability.NewStartSpan("flowline")

	db, err := openDatabase(cfg.Database)
	if err != nil {
		logger.Fatal("Failed to connect to database", map[string]interface{}{
			"error": err.Error(),
		})
	}
	defer func() { _ = db.Close() }()

	if err := runMigrations(db, cfg.Database.MigrationsPath); err != nil {
		logger.Fatal("Failed to run migrations", map[string]interface{}{
			"error": err.Error(),
		})
	}

	workflowRepo, err := pgrepo.NewWorkflowRepository(db, logger.WithPrefix("workflow_repository"), tracer)
	if err != nil {
		logger.Fatal("Failed to create workflow repository", map[string]interface{}{
			"error": err.Error(),
		})
	}
	executionRepo := pgrepo.NewExecutionRepository(db, logger.WithPrefix("execution_repository"), tracer)

	registry := steps.NewRegistry(logger.WithPrefix("steps"))
	engine := executor.NewLinearExecutor(executionRepo, workflowRepo, registry,
		logger.WithPrefix("executor"), executor.Config{
			DefaultStepTimeout: cfg.Engine.DefaultStepTimeout,
		})

	router := api.NewRouter(
		api.NewWorkflowAPI(workflowRepo),
		api.NewExecutionAPI(workflowRepo, executionRepo, engine),
		logger.WithPrefix("api"),
	)
	server := api.NewServer(api.ServerConfig{
		ListenAddress: cfg.API.ListenAddress,
		ReadTimeout:   cfg.API.ReadTimeout,
		WriteTimeout:  cfg.API.WriteTimeout,
		IdleTimeout:   cfg.API.IdleTimeout,
	}, router)

	go func() {
		logger.Info("Server listening", map[string]interface{}{
			"address":     cfg.API.ListenAddress,
			"environment": cfg.Environment,
		})
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Server failed", map[string]interface{}{
				"error": err.Error(),
			})
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down", nil)
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Error("Graceful shutdown failed", map[string]interface{}{
			"error": err.Error(),
		})
	}
}

func newLogger(level string) observability.Logger {
	logger := observability.NewStandardLogger("flowline")
	standard, ok := logger.(*observability.StandardLogger)
	if !ok {
		return logger
	}
	switch strings.ToLower(level) {
	case "debug":
		return standard.WithLevel(observability.LogLevelDebug)
	case "warn":
		return standard.WithLevel(observability.LogLevelWarn)
	case "error":
		return standard.WithLevel(observability.LogLevelError)
	default:
		return standard.WithLevel(observability.LogLevelInfo)
	}
}

func openDatabase(cfg config.DatabaseConfig) (*sqlx.DB, error) {
	db, err := sqlx.Connect("postgres", cfg.ConnectionString())
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	return db, nil
}

func runMigrations(db *sqlx.DB, migrationsPath string) error {
	driver, err := postgres.WithInstance(db.DB, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("failed to create postgres driver: %w", err)
	}
	migrator, err := migrate.NewWithDatabaseInstance(
		fmt.Sprintf("file://%s", migrationsPath), "postgres", driver)
	if err != nil {
		return fmt.Errorf("failed to create migrator: %w", err)
	}
	if err := migrator.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}
	return nil
}
