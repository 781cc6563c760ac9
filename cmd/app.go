package cmd

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/takato23/sparkrelay/internal/application/config"
	"github.com/takato23/sparkrelay/internal/application/constant"
	"github.com/takato23/sparkrelay/internal/application/metric"
	"github.com/takato23/sparkrelay/internal/infra/adapters/memory"
	"github.com/takato23/sparkrelay/internal/infra/adapters/postgres"
	"github.com/takato23/sparkrelay/internal/infra/adapters/postgres/repository"
	"github.com/takato23/sparkrelay/internal/infra/ports/http/handlers"
	"github.com/takato23/sparkrelay/internal/infra/ports/http/server"
	"github.com/takato23/sparkrelay/internal/usecase"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the relay server",
	Run: func(cmd *cobra.Command, args []string) {
		runApp()
	},
}

var errShuttingDown = errors.New("shutting down")

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runApp() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.New()
	if err != nil {
		slog.Error("parse config", slog.Any(constant.Error, err))
		os.Exit(1)
	}

	level := slog.LevelInfo
	if cfg.Debug {
		level = slog.LevelDebug
	}

	slog.SetDefault(
		slog.New(
			slog.NewJSONHandler(
				os.Stdout,
				&slog.HandlerOptions{Level: level},
			),
		),
	)

	var sessionRepo repository.SessionRepository

	// пока ctx жив, релей принимает новых клиентов
	checks := map[string]metric.Check{
		"relay": func(context.Context) error {
			if ctx.Err() != nil {
				return errShuttingDown
			}
			return nil
		},
	}

	if cfg.Postgres.UsePostgres() {
		dbConn, err := postgres.NewPostgres(ctx, cfg.Postgres)
		if err != nil {
			slog.Error("connect to postgres", slog.Any(constant.Error, err))
			os.Exit(1)
		}
		defer dbConn.Close()

		sessionRepo = repository.NewSessionRepo(dbConn)
		checks["postgres"] = postgres.Ready(dbConn)
	} else {
		slog.Warn("postgres is not configured, sessions are kept in memory")

		sessionRepo = memory.NewSessionRepository()
	}

	connRepo := memory.NewPeerConnectionRepository()
	membersRepo := memory.NewSessionMembersRepository()
	liveRepo := memory.NewLiveSessionRepository()
	roomRepo := memory.NewCollaborationRoomRepository()

	relayUsecase := usecase.NewRelayUsecase(cfg, sessionRepo, connRepo, membersRepo, liveRepo, roomRepo)
	sessionUsecase := usecase.NewSessionUsecase(sessionRepo, relayUsecase)

	sessionHandler := handlers.NewSessionHandler(sessionUsecase)
	wsHandler := handlers.NewWebSocketHandler(cfg, relayUsecase)
	pollHandler := handlers.NewPollHandler(cfg, relayUsecase)

	go pollHandler.Run(ctx)

	echoSrv := server.New(sessionHandler, wsHandler, pollHandler)

	metricsSrv := metric.NewServer(checks)

	echoSrvCh := make(chan error, 1)
	metricsSrvCh := make(chan error, 1)

	// Запускаем HTTP сервер
	go func() {
		echoSrvCh <- echoSrv.Start(":" + cfg.Port)
	}()

	// Запускаем сервер метрик
	go func() {
		metricsSrvCh <- metricsSrv.Start(":" + cfg.MetricPort)
	}()

	slog.Info("relay started", slog.String("port", cfg.Port), slog.String("metric_port", cfg.MetricPort))

	// Ожидаем сигнал завершения или ошибку сервера
	select {
	case <-ctx.Done():
		slog.Info("Shutting down servers due to context cancel")
	case err := <-echoSrvCh:
		slog.Error(
			"HTTP server failed",
			slog.Any(constant.Error, err),
		)
		os.Exit(1)
	case err := <-metricsSrvCh:
		slog.Error(
			"Metrics server failed",
			slog.Any(constant.Error, err),
		)
		os.Exit(1)
	}

	// Graceful shutdown, ctx уже отменен
	timeoutCtx, timeoutCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer timeoutCancel()

	if err := echoSrv.Shutdown(timeoutCtx); err != nil {
		slog.Error("Failed to gracefully shutdown HTTP server", slog.Any(constant.Error, err))
	}

	if err := metricsSrv.Shutdown(timeoutCtx); err != nil {
		slog.Error("Failed to gracefully shutdown metric server", slog.Any(constant.Error, err))
	}
}
