package cmd

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/example/faceid/internal/config"
	"github.com/example/faceid/internal/logging"
)

// Version is the application version.
const Version = "0.1.0"

var (
	// cfg is resolved once per invocation from .env, the environment and flags.
	cfg    config.Config
	logger = zap.NewNop()

	envFile string
	flags   struct {
		logLevel     string
		backendURL   string
		schema       string
		threshold    float64
		cameraSource string
		agentAddr    string
	}
)

var rootCmd = &cobra.Command{
	Use:           "faceid",
	Short:         "Face enrollment and authentication kiosk",
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := config.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", envFile, err)
		}
		cfg = config.FromEnv()
		applyFlags(cmd)

		var err error
		logger, err = logging.NewLogger(logging.Options{Level: cfg.LogLevel, File: cfg.LogFile})
		if err != nil {
			return fmt.Errorf("build logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = logger.Sync()
	},
}

// applyFlags lets explicitly set flags win over environment values.
func applyFlags(cmd *cobra.Command) {
	set := cmd.Flags().Changed
	if set("log-level") {
		cfg.LogLevel = flags.logLevel
	}
	if set("backend-url") {
		cfg.Backend.URL = flags.backendURL
	}
	if set("schema") {
		cfg.Backend.Schema = flags.schema
	}
	if set("threshold") {
		cfg.MatchThreshold = flags.threshold
	}
	if set("camera-source") {
		cfg.Camera.Source = flags.cameraSource
	}
	if set("camera-agent") {
		cfg.Camera.AgentAddr = flags.agentAddr
	}
}

// Execute runs the root command until completion or SIGINT/SIGTERM.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&envFile, "env-file", ".env", "dotenv file to load before reading the environment")
	pf.StringVar(&flags.logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	pf.StringVar(&flags.backendURL, "backend-url", "", "verification service base URL (default $BACKEND_URL)")
	pf.StringVar(&flags.schema, "schema", "coded", "backend response schema: coded, single-match or flat-list")
	pf.Float64Var(&flags.threshold, "threshold", 0.70, "minimum similarity accepted as a match")
	pf.StringVar(&flags.cameraSource, "camera-source", "v4l2", "camera platform: v4l2 or agent")
	pf.StringVar(&flags.agentAddr, "camera-agent", "", "camera agent gRPC address (default $CAMERA_AGENT_ADDR)")
}
