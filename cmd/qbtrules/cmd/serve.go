package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/qbtrules/qbtrules/internal/config"
	"github.com/qbtrules/qbtrules/internal/qbt"
	"github.com/qbtrules/qbtrules/internal/queue"
	"github.com/qbtrules/qbtrules/internal/server"
	"github.com/qbtrules/qbtrules/internal/worker"
)

const stopGracePeriod = 30 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the qbt-rules service: job queue, worker, and HTTP API",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().String("host", "", "HTTP server host (overrides config)")
	serveCmd.Flags().Int("port", 0, "HTTP server port (overrides config)")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if cmd.Flags().Changed("host") {
		cfg.Host, _ = cmd.Flags().GetString("host")
	}
	if cmd.Flags().Changed("port") {
		cfg.Port, _ = cmd.Flags().GetInt("port")
	}

	log, err := newLogger(cfg)
	if err != nil {
		return err
	}

	store, err := config.NewRuleStore(cfg.RulesFile, log)
	if err != nil {
		return fmt.Errorf("failed to load rules: %w", err)
	}

	db, err := queue.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if err := queue.MigrateUp(db); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	jobQueue, err := queue.New(db)
	if err != nil {
		return fmt.Errorf("failed to initialize queue: %w", err)
	}

	client, err := qbt.New(qbt.Config{
		URL:      cfg.QbtURL,
		Username: cfg.QbtUsername,
		Password: cfg.QbtPassword,
		Timeout:  cfg.QbtTimeout,
	}, log)
	if err != nil {
		return err
	}

	w := worker.New(jobQueue, client, store, cfg.PollInterval, cfg.JobRetention, log)
	w.Start()

	watchCtx, stopWatch := context.WithCancel(context.Background())
	defer stopWatch()
	go func() {
		if err := store.Watch(watchCtx); err != nil && watchCtx.Err() == nil {
			log.Error().Err(err).Msg("rules watcher exited")
		}
	}()

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	srv := server.New(addr, jobQueue, w, cfg.APIKey, log)

	errChan := make(chan error, 1)
	go func() {
		errChan <- srv.ListenAndServe()
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errChan:
		return err
	case sig := <-sigChan:
		log.Info().Str("signal", sig.String()).Msg("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), stopGracePeriod)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http shutdown failed")
	}
	stopWatch()
	return w.Stop(shutdownCtx)
}
