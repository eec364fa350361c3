package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/qbtrules/qbtrules/internal/config"
	"github.com/qbtrules/qbtrules/internal/qbt"
	"github.com/qbtrules/qbtrules/internal/rules"
	"github.com/qbtrules/qbtrules/internal/types"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Execute the rule set once against qBittorrent, without the service",
	RunE:  runOnce,
}

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().String("context", "", "run context label for rule eligibility")
	runCmd.Flags().String("hash", "", "restrict the run to one torrent hash")
	runCmd.Flags().String("instance", "", "instance id selecting variable overrides")
	runCmd.Flags().Bool("dry-run", false, "evaluate and report without issuing actions")
}

func runOnce(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log, err := newLogger(cfg)
	if err != nil {
		return err
	}

	doc, err := config.LoadRules(cfg.RulesFile)
	if err != nil {
		return err
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

	ec := types.ExecutionContext{}
	ec.Context, _ = cmd.Flags().GetString("context")
	ec.Instance, _ = cmd.Flags().GetString("instance")
	dryRun, _ := cmd.Flags().GetBool("dry-run")

	if rawHash, _ := cmd.Flags().GetString("hash"); rawHash != "" {
		hash, err := types.ParseHash(rawHash)
		if err != nil {
			return fmt.Errorf("invalid torrent hash %q: want 40 hex characters", rawHash)
		}
		ec.Hash = hash
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	runner := rules.NewRunner(client, doc, dryRun, log)
	result, err := runner.Run(ctx, ec)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}
