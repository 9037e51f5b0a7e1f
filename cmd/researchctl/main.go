// Command researchctl runs migrations, one-off searches, ingestion and chat
// turns, and serves the MCP tools.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"researchmcp/internal/app"
	"researchmcp/internal/config"
	"researchmcp/internal/logging"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	configFile string
	logLevel   string
	timeout    time.Duration

	cfg    config.Config
	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "researchctl",
	Short: "Research assistant toolkit",
	Long: `researchctl drives the research assistant from the command line.

It applies database migrations, searches Semantic Scholar, ingests papers into
the hybrid index, asks questions in general or paper mode, and serves the
research tools over the Model Context Protocol.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		_ = godotenv.Load(".env")
		var err error
		if configFile != "" {
			cfg, err = config.LoadFile(configFile)
		} else {
			cfg, err = config.FromEnv()
		}
		if err != nil {
			return err
		}
		if logLevel != "" {
			cfg.LogLevel = logLevel
		}
		logger, err = logging.New(logging.Options{Level: cfg.LogLevel, File: cfg.LogFile})
		if err != nil {
			return fmt.Errorf("init logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(*cobra.Command, []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "YAML config file (default: RESEARCHMCP_CONFIG_FILE)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override the configured log level")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 5*time.Minute, "operation timeout")

	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(searchCmd)
	rootCmd.AddCommand(ingestCmd)
	rootCmd.AddCommand(askCmd)
	rootCmd.AddCommand(mcpCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// openContainer connects every backing service named by the loaded config.
func openContainer(ctx context.Context) (*app.Container, error) {
	bootCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	return app.New(bootCtx, cfg, logger)
}
