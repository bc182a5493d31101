package cmd

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/example/faceid/internal/auth"
	"github.com/example/faceid/internal/handlers"
	"github.com/example/faceid/internal/server"
)

var listenAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the kiosk control API",
	RunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Flags().Changed("listen") {
			cfg.ListenAddr = listenAddr
		}
		ctx := cmd.Context()

		a, err := buildApp(ctx, cfg, logger, nil)
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.orch.Init(ctx); err != nil {
			return err
		}
		if snap := a.orch.Snapshot(); snap.Error != nil {
			logger.Warn("camera not ready", zap.String("code", string(snap.Error.Code)), zap.String("message", snap.Error.Message))
		}

		gin.SetMode(gin.ReleaseMode)
		r := gin.New()
		r.Use(gin.Recovery())

		protect := []gin.HandlerFunc{handlers.RateLimit(cfg.RateLimitRPS, cfg.RateLimitBurst, logger)}
		if cfg.JWTSecret != "" {
			protect = append(protect, auth.JWTMiddleware(cfg.JWTSecret, cfg.JWTAudience))
		} else {
			logger.Warn("JWT_SECRET not set, control API is unauthenticated")
		}
		handlers.RegisterRoutes(r, handlers.New(a.orch, a.form, a.metrics, logger), protect...)

		srv := &http.Server{Addr: cfg.ListenAddr, Handler: r}
		logger.Info("control API listening", zap.String("addr", cfg.ListenAddr))
		return server.Serve(ctx, srv, logger, server.Options{})
	},
}

func init() {
	serveCmd.Flags().StringVar(&listenAddr, "listen", ":8080", "control API listen address (default $LISTEN_ADDR)")
	rootCmd.AddCommand(serveCmd)
}
