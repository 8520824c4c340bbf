package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/shohag/reclaim/internal/api"
	"github.com/shohag/reclaim/internal/config"
	"github.com/shohag/reclaim/internal/gateway"
	"github.com/shohag/reclaim/internal/models"
	"github.com/shohag/reclaim/internal/notify"
	"github.com/shohag/reclaim/internal/recovery"
	"github.com/shohag/reclaim/internal/retry"
	"github.com/shohag/reclaim/internal/signing"
	"github.com/shohag/reclaim/internal/storage"
)

var version = "0.1.0"

func main() {
	rootCmd := &cobra.Command{
		Use:   "reclaim",
		Short: "Reclaim - failed payment recovery for Stripe merchants",
	}

	var configPath string
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config file")

	rootCmd.AddCommand(serveCmd(&configPath))
	rootCmd.AddCommand(migrateCmd(&configPath))
	rootCmd.AddCommand(processCmd(&configPath))
	rootCmd.AddCommand(accountCmd(&configPath))
	rootCmd.AddCommand(statsCmd(&configPath))
	rootCmd.AddCommand(versionCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the webhook/API server and the recovery runner",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			log := setupLogger(cfg.Logging)

			store, err := setupStorage(cfg.Storage, log)
			if err != nil {
				return fmt.Errorf("failed to setup storage: %w", err)
			}
			defer store.Close()

			if err := store.Migrate(context.Background()); err != nil {
				return fmt.Errorf("failed to run migrations: %w", err)
			}
			log.Info().Msg("database migrations completed")

			svc, proc, err := setupRecovery(cfg, store, log)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			var runner *recovery.Runner
			if cfg.Recovery.PollInterval > 0 {
				runner = recovery.NewRunner(proc, cfg.Recovery.PollInterval, log)
				runner.Start(ctx)
			} else {
				log.Info().Msg("in-process runner disabled, waiting for external triggers")
			}

			server := api.NewServer(cfg, store, svc, proc, log)
			go func() {
				if err := server.Start(); err != nil && err != http.ErrServerClosed {
					log.Fatal().Err(err).Msg("server error")
				}
			}()

			log.Info().
				Str("version", version).
				Int("port", cfg.Server.Port).
				Int("workers", cfg.Recovery.Workers).
				Dur("poll_interval", cfg.Recovery.PollInterval).
				Bool("smtp", cfg.SMTP.Enabled).
				Msg("Reclaim is running")

			quit := make(chan os.Signal, 1)
			signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
			<-quit

			log.Info().Msg("shutting down...")

			if err := server.Shutdown(10 * time.Second); err != nil {
				log.Error().Err(err).Msg("server shutdown error")
			}

			if runner != nil {
				runner.Stop()
			}

			log.Info().Msg("Reclaim stopped")
			return nil
		},
	}
}

func migrateCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			log := setupLogger(cfg.Logging)

			store, err := setupStorage(cfg.Storage, log)
			if err != nil {
				return fmt.Errorf("failed to setup storage: %w", err)
			}
			defer store.Close()

			if err := store.Migrate(context.Background()); err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}

			log.Info().Msg("migrations completed successfully")
			return nil
		},
	}
}

func processCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "process",
		Short: "Retry every payment that is due, once",
		Long: "Runs one batch over the due queue. With --url the batch runs on a remote server " +
			"through its signed trigger endpoint instead of against the local database.",
		RunE: func(cmd *cobra.Command, args []string) error {
			url, _ := cmd.Flags().GetString("url")

			cfg, err := config.Load(*configPath)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			if url != "" {
				return triggerRemote(cmd.Context(), url, cfg.Recovery)
			}

			log := setupLogger(cfg.Logging)
			store, err := setupStorage(cfg.Storage, log)
			if err != nil {
				return fmt.Errorf("failed to setup storage: %w", err)
			}
			defer store.Close()

			if err := store.Migrate(context.Background()); err != nil {
				return fmt.Errorf("failed to run migrations: %w", err)
			}

			_, proc, err := setupRecovery(cfg, store, log)
			if err != nil {
				return err
			}

			res, err := proc.ProcessDue(context.Background())
			if err != nil {
				return err
			}
			out, _ := json.MarshalIndent(res, "", "  ")
			fmt.Println(string(out))
			return nil
		},
	}
	cmd.Flags().String("url", "", "trigger endpoint of a running server, e.g. http://localhost:8080/internal/process")
	return cmd
}

func triggerRemote(ctx context.Context, url string, cfg config.RecoveryConfig) error {
	if cfg.TriggerSecret == "" {
		return fmt.Errorf("recovery.trigger_secret is required to sign the trigger")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	req, err := signing.NewRequest(ctx, url, cfg.TriggerSecret, []byte(`{}`))
	if err != nil {
		return err
	}
	client := &http.Client{Timeout: cfg.BatchTimeout + 10*time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("trigger request failed: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("trigger returned %d: %s", resp.StatusCode, body)
	}
	fmt.Println(string(body))
	return nil
}

func accountCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "account",
		Short: "Manage connected merchant accounts",
	}

	// account create
	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Connect a new merchant account",
		RunE: func(cmd *cobra.Command, args []string) error {
			name, _ := cmd.Flags().GetString("name")
			stripeAccount, _ := cmd.Flags().GetString("stripe-account")
			webhookSecret, _ := cmd.Flags().GetString("webhook-secret")
			if name == "" {
				return fmt.Errorf("--name is required")
			}

			store, cleanup, err := storeFromConfig(*configPath)
			if err != nil {
				return err
			}
			defer cleanup()

			now := time.Now().UTC()
			acct := &models.Account{
				ID:              models.NewID("acct"),
				Name:            name,
				StripeAccountID: stripeAccount,
				WebhookSecret:   webhookSecret,
				APIKey:          models.NewAPIKey(),
				Connected:       true,
				CreatedAt:       now,
				UpdatedAt:       now,
			}

			if err := store.CreateAccount(context.Background(), acct); err != nil {
				return fmt.Errorf("failed to create account: %w", err)
			}

			acct.WebhookSecret = ""
			out, _ := json.MarshalIndent(acct, "", "  ")
			fmt.Println(string(out))
			return nil
		},
	}
	createCmd.Flags().String("name", "", "merchant name")
	createCmd.Flags().String("stripe-account", "", "connected Stripe account id (acct_...)")
	createCmd.Flags().String("webhook-secret", "", "Stripe webhook signing secret for this account")

	// account list
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List all accounts",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, cleanup, err := storeFromConfig(*configPath)
			if err != nil {
				return err
			}
			defer cleanup()

			accts, err := store.ListAccounts(context.Background())
			if err != nil {
				return fmt.Errorf("failed to list accounts: %w", err)
			}

			if len(accts) == 0 {
				fmt.Println("No accounts found.")
				return nil
			}

			for _, a := range accts {
				state := "connected"
				if !a.Connected {
					state = "disconnected"
				}
				fmt.Printf("  %s  %s  %s  (created %s)\n", a.ID, a.Name, state, a.CreatedAt.Format(time.RFC3339))
			}
			return nil
		},
	}

	// account disconnect
	disconnectCmd := &cobra.Command{
		Use:   "disconnect <account_id>",
		Short: "Stop retrying an account's payments",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, cleanup, err := storeFromConfig(*configPath)
			if err != nil {
				return err
			}
			defer cleanup()

			acct, err := store.GetAccount(context.Background(), args[0])
			if err != nil {
				return fmt.Errorf("failed to get account: %w", err)
			}
			if acct == nil {
				return fmt.Errorf("account %s not found", args[0])
			}
			if err := store.SetAccountConnected(context.Background(), acct.ID, false); err != nil {
				return fmt.Errorf("failed to disconnect account: %w", err)
			}
			fmt.Printf("Account %s disconnected.\n", acct.ID)
			return nil
		},
	}

	cmd.AddCommand(createCmd, listCmd, disconnectCmd)
	return cmd
}

func statsCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "stats <account_id>",
		Short: "Show recovery stats for an account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, cleanup, err := storeFromConfig(*configPath)
			if err != nil {
				return err
			}
			defer cleanup()

			stats, err := store.GetStats(context.Background(), args[0])
			if err != nil {
				return fmt.Errorf("failed to get stats: %w", err)
			}

			out, _ := json.MarshalIndent(stats, "", "  ")
			fmt.Println(string(out))
			return nil
		},
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("Reclaim v%s\n", version)
		},
	}
}

func setupLogger(cfg config.LoggingConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.Format == "console" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).
			With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

func setupStorage(cfg config.StorageConfig, log zerolog.Logger) (storage.Storage, error) {
	switch cfg.Driver {
	case "sqlite":
		if err := os.MkdirAll(filepath.Dir(cfg.SQLite.Path), 0o755); err != nil {
			return nil, err
		}
		log.Info().Str("path", cfg.SQLite.Path).Msg("using SQLite storage")
		return storage.NewSQLite(cfg.SQLite.Path)
	default:
		return nil, fmt.Errorf("unsupported storage driver: %s", cfg.Driver)
	}
}

// setupRecovery wires the gateway, notifier and retry policy into the
// recovery service and queue processor.
func setupRecovery(cfg *config.Config, store storage.Storage, log zerolog.Logger) (*recovery.Service, *recovery.Processor, error) {
	if cfg.Stripe.SecretKey == "" {
		return nil, nil, fmt.Errorf("stripe.secret_key is required")
	}

	classifier, err := retry.NewClassifier(cfg.Recovery.MaxRetries)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid recovery.max_retries: %w", err)
	}
	scheduler, err := retry.NewScheduler(classifier, cfg.Recovery.Schedules)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid recovery.schedules: %w", err)
	}

	var notifier recovery.Notifier
	if cfg.SMTP.Enabled {
		notifier = notify.NewSMTP(cfg.SMTP, log)
	} else {
		notifier = notify.NewLog(log)
	}

	gw := gateway.NewStripe(cfg.Stripe.SecretKey, log)
	worker := recovery.NewWorker(store, gw, notifier, scheduler, recovery.NewPolicy(cfg.Recovery.Notifications),
		cfg.Recovery.AttemptTimeout, log)

	return recovery.NewService(store, worker, log), recovery.NewProcessor(cfg.Recovery, store, worker, log), nil
}

func storeFromConfig(configPath string) (storage.Storage, func(), error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	log := setupLogger(cfg.Logging)
	store, err := setupStorage(cfg.Storage, log)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to setup storage: %w", err)
	}

	if err := store.Migrate(context.Background()); err != nil {
		store.Close()
		return nil, nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return store, func() { store.Close() }, nil
}
