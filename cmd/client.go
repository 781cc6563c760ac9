package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/takato23/sparkrelay/internal/application/constant"
	"github.com/takato23/sparkrelay/internal/client/collab"
	"github.com/takato23/sparkrelay/internal/client/connection"
	"github.com/takato23/sparkrelay/internal/client/slidestate"
	"github.com/takato23/sparkrelay/internal/client/transport"
	"github.com/takato23/sparkrelay/internal/domain/events"
	"github.com/takato23/sparkrelay/internal/domain/models"
)

type clientFlags struct {
	configPath     string
	url            string
	mode           string
	role           string
	session        string
	name           string
	presentationID string
	liveResults    bool
	statsInterval  time.Duration
	debug          bool
}

var clientOpts clientFlags

var clientCmd = &cobra.Command{
	Use:   "client",
	Short: "Connect a diagnostic client to a relay and log what it sees",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runClient(cmd.Context(), clientOpts)
	},
}

func init() {
	f := clientCmd.Flags()

	f.StringVar(&clientOpts.configPath, "config", "", "YAML file with connection tuning")
	f.StringVar(&clientOpts.url, "url", "", "relay base URL (default http://localhost:3000)")
	f.StringVar(&clientOpts.mode, "mode", "", "transport mode: websocket or polling")
	f.StringVar(&clientOpts.role, "role", string(models.RoleProjector), "session role: presenter, participant or projector")
	f.StringVar(&clientOpts.session, "session", "", "session code to join")
	f.StringVar(&clientOpts.name, "name", "", "participant or collaborator name")
	f.StringVar(&clientOpts.presentationID, "presentation", "", "presentation id to join as a collaborator")
	f.BoolVar(&clientOpts.liveResults, "live-results", false, "show results while answers are open")
	f.DurationVar(&clientOpts.statsInterval, "stats", 30*time.Second, "connection metrics log interval")
	f.BoolVar(&clientOpts.debug, "debug", false, "debug logging")

	rootCmd.AddCommand(clientCmd)
}

// loadClientConfig читает YAML поверх значений по умолчанию, флаги важнее файла
func loadClientConfig(path string, opts clientFlags) (connection.Config, error) {
	cfg := connection.DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read client config: %w", err)
		}

		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse client config: %w", err)
		}
	}

	if opts.url != "" {
		cfg.URL = opts.url
	}
	if cfg.URL == "" {
		cfg.URL = "http://localhost:3000"
	}
	if opts.mode != "" {
		cfg.Mode = transport.Mode(opts.mode)
	}

	return cfg, nil
}

func runClient(ctx context.Context, opts clientFlags) error {
	level := slog.LevelInfo
	if opts.debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	role := models.SessionRole(opts.role)
	if !role.Valid() {
		return fmt.Errorf("unknown role %q", opts.role)
	}
	if opts.session == "" && opts.presentationID == "" {
		return fmt.Errorf("nothing to do: pass --session or --presentation")
	}

	cfg, err := loadClientConfig(opts.configPath, opts)
	if err != nil {
		return err
	}

	manager, err := connection.New(cfg, connection.WithLogger(logger))
	if err != nil {
		return fmt.Errorf("new connection manager: %w", err)
	}
	defer manager.Destroy()

	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	var coordinator *slidestate.Coordinator
	if opts.session != "" {
		coordinator = slidestate.New(manager, role,
			slidestate.WithLiveResults(opts.liveResults),
			slidestate.WithLogger(logger),
		)
		defer coordinator.Close()

		coordinator.OnChange(func(v slidestate.View) {
			logger.Info(
				"session view",
				slog.String(constant.State, string(v.State)),
				slog.Int("participants", v.TotalParticipants),
				slog.Bool("show_results", v.ShowResults),
				slog.Bool("kicked", v.Kicked),
			)
			if v.Kicked {
				cancel()
			}
		})
	}

	var collabSync *collab.Sync
	if opts.presentationID != "" {
		self := models.Collaborator{UserID: opts.name, Name: opts.name, Role: models.CollaboratorViewer}
		if self.UserID == "" {
			self.UserID = "cli"
		}

		collabSync = collab.New(manager, opts.presentationID, self, collab.WithLogger(logger))
		defer collabSync.Close()

		collabSync.OnChange(func(s collab.Snapshot) {
			logger.Info(
				"collaboration",
				slog.String(constant.Presentation, opts.presentationID),
				slog.Int("collaborators", len(s.Collaborators)),
				slog.Int("changes", len(s.Changes)),
			)
		})
	}

	manager.OnStateChange(func(change connection.StateChange) {
		logger.Info(
			"connection state",
			slog.String(constant.State, change.To.String()),
			slog.String(constant.PreviousState, change.From.String()),
		)

		if change.To != connection.StateConnected {
			return
		}

		// каждое новое подключение входит в сессию заново
		go rejoin(ctx, logger, manager, collabSync, opts, role)
	})

	manager.On(events.Error, func(env events.Envelope) {
		e, err := events.Decode[events.ErrorEvent](env)
		if err == nil {
			logger.Warn("relay error", slog.String("message", e.Message))
		}
	})

	manager.Connect()

	ticker := time.NewTicker(opts.statsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if collabSync != nil {
				leaveCtx, leaveCancel := context.WithTimeout(context.Background(), time.Second)
				_ = collabSync.Disconnect(leaveCtx)
				leaveCancel()
			}
			return nil

		case <-ticker.C:
			m := manager.Metrics()

			attrs := []any{
				slog.String(constant.State, manager.State().String()),
				slog.Int("failures", m.FailureCount),
				slog.Int("missed_pongs", m.MissedPongs),
			}
			if m.RTT != nil {
				attrs = append(attrs, slog.Duration(constant.RTT, *m.RTT))
			}

			logger.Info("connection metrics", attrs...)
		}
	}
}

func rejoin(ctx context.Context, logger *slog.Logger, manager *connection.Manager, collabSync *collab.Sync, opts clientFlags, role models.SessionRole) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if opts.session != "" {
		join := events.JoinSessionEvent{SessionCode: opts.session, Role: role}
		if role == models.RoleParticipant {
			join.Participant = &models.Participant{Name: opts.name}
		}

		if err := manager.Emit(ctx, events.JoinSession, join); err != nil {
			logger.Error("join session", slog.Any(constant.Error, err), slog.String(constant.SessionCode, opts.session))
		}
	}

	if collabSync != nil {
		if err := collabSync.Join(ctx); err != nil {
			logger.Error("join collaboration", slog.Any(constant.Error, err))
		}
	}
}
