package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/example/faceid/internal/camera"
	"github.com/example/faceid/internal/capture"
	"github.com/example/faceid/internal/config"
	"github.com/example/faceid/internal/device"
	"github.com/example/faceid/internal/form"
	"github.com/example/faceid/internal/grpcclient"
	"github.com/example/faceid/internal/metrics"
	"github.com/example/faceid/internal/outcome"
	"github.com/example/faceid/internal/packager"
	"github.com/example/faceid/internal/repository"
	"github.com/example/faceid/internal/usecase"
	"github.com/example/faceid/internal/verification"
)

// app is one fully wired session.
type app struct {
	orch    *usecase.Orchestrator
	form    *form.Form
	metrics *metrics.Metrics
	closers []func()
}

func (a *app) Close() {
	if a.orch != nil {
		a.orch.Close()
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

// buildPlatform returns the camera platform selected by cfg.
func buildPlatform(ctx context.Context, cfg config.Config, logger *zap.Logger) (device.Platform, func(), error) {
	switch cfg.Camera.Source {
	case "", "v4l2":
		return camera.NewV4L2(cfg.Camera.FFmpegPath, logger), func() {}, nil
	case "agent":
		agent, conn, err := grpcclient.DialCameraAgent(ctx, cfg.Camera.AgentAddr, logger)
		if err != nil {
			return nil, nil, err
		}
		return agent, func() { _ = conn.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unknown camera source %q", cfg.Camera.Source)
	}
}

// buildApp wires every component. Database and Redis are only used when configured.
func buildApp(ctx context.Context, cfg config.Config, logger *zap.Logger, onChange func(usecase.Snapshot)) (*app, error) {
	a := &app{form: form.New(nil), metrics: metrics.New()}

	normalizer, err := outcome.New(cfg.Backend.Schema, cfg.MatchThreshold)
	if err != nil {
		return nil, err
	}
	logger.Info("result normalizer configured",
		zap.String("schema", normalizer.Schema()),
		zap.Float64("threshold", normalizer.Threshold()))

	platform, closePlatform, err := buildPlatform(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, closePlatform)

	deps := usecase.Dependencies{
		Devices:  device.NewManager(platform, device.Resolution{Width: cfg.Camera.Width, Height: cfg.Camera.Height}, logger),
		Capturer: capture.NewBurster(logger),
		Packager: packager.New(packager.Options{
			MaxEdge:   cfg.Packager.MaxEdge,
			Quality:   cfg.Packager.Quality,
			ChunkSize: cfg.Packager.ChunkSize,
		}, logger),
		Submitter: verification.NewClient(verification.Options{
			BaseURL:             cfg.Backend.URL,
			EnrollPath:          cfg.Backend.EnrollPath,
			AuthenticatePath:    cfg.Backend.AuthenticatePath,
			EnrollTimeout:       cfg.Backend.EnrollTimeout,
			AuthenticateTimeout: cfg.Backend.AuthenticateTimeout,
			JWTSecret:           cfg.Backend.JWTSecret,
		}, logger),
		Normalizer: normalizer,
		Identity:   a.form,
		Metrics:    a.metrics,
	}

	if cfg.DatabaseDSN != "" {
		db, err := repository.Open(cfg.DatabaseDSN)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("connect database: %w", err)
		}
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.SetMaxIdleConns(2)
			sqlDB.SetMaxOpenConns(5)
			sqlDB.SetConnMaxLifetime(time.Hour)
			a.closers = append(a.closers, func() { _ = sqlDB.Close() })
		}
		repo := repository.NewAttemptRepository(db, logger)
		if err := repo.AutoMigrate(ctx); err != nil {
			a.Close()
			return nil, fmt.Errorf("migrate attempt log: %w", err)
		}
		deps.Repo = repo
	}

	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := client.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			_ = client.Close()
			a.Close()
			return nil, fmt.Errorf("redis connection failed: %w", err)
		}
		a.closers = append(a.closers, func() { _ = client.Close() })
		deps.Cache = usecase.NewRedisCache(client, "faceid:")
	}

	a.orch = usecase.New(deps, usecase.Options{
		EnrollCapture: capture.Options{
			FrameCount:     cfg.Capture.BurstSize,
			FrameDelay:     cfg.Capture.FrameDelay,
			PreRollSeconds: cfg.Capture.PreRollSeconds,
		},
		AuthenticateCapture: capture.Options{
			FrameCount: cfg.Capture.BurstSize,
			FrameDelay: cfg.Capture.FrameDelay,
		},
		OnChange: onChange,
	}, logger)
	return a, nil
}
