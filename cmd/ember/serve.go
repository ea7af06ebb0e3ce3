package main

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/labstack/echo/v5"
	"github.com/labstack/echo/v5/middleware"
	"github.com/urfave/cli/v3"

	"github.com/calebodell/ember/internal/api"
	"github.com/calebodell/ember/internal/inference"
	"github.com/calebodell/ember/internal/logger"
)

func serveCmd() *cli.Command {
	var (
		addr        string
		readTimeout time.Duration
		rps         float64
	)

	return &cli.Command{
		Name:      "serve",
		Usage:     "Serve an OpenAI-compatible chat completions API",
		ArgsUsage: "[model-path]",
		Flags: append(append(commonModelFlags(), loggingFlags()...),
			&cli.StringFlag{
				Name:        "addr",
				Usage:       "listen address",
				Value:       "127.0.0.1:8080",
				Destination: &addr,
			},
			&cli.DurationFlag{
				Name:        "read-timeout",
				Usage:       "read header timeout",
				Value:       30 * time.Second,
				Destination: &readTimeout,
			},
			&cli.Float64Flag{
				Name:        "rps",
				Usage:       "request rate limit for completions (0 = unlimited)",
				Value:       10,
				Destination: &rps,
			},
		),
		Action: func(ctx context.Context, c *cli.Command) error {
			cfg := LoadConfig()
			applyServeConfig(c, cfg, &addr)

			if debug {
				logLevel = "debug"
			}
			log := logger.ForFormat(logFormat, os.Stderr, logger.ParseLevel(logLevel))

			path := modelPath
			if path == "" && c.Args().Len() > 0 {
				path = c.Args().First()
			}
			resolved, err := resolveModelPath(path, modelsPath, os.Stdin, os.Stderr)
			if err != nil {
				return cli.Exit(err.Error(), 1)
			}

			engineCfg := inference.DefaultConfig(resolved)
			engineCfg.NCtx = int(nCtx)
			engineCfg.NBatch = int(nBatch)
			engineCfg.NGPULayers = int(nGPULayers)
			engineCfg.NThreads = int(nThreads)
			engineCfg.UseMmap = useMmap
			engineCfg.UseMlock = useMlock
			engineCfg.ChatTemplate = chatTpl

			engine, err := inference.New(engineCfg, inference.WithLogger(log))
			if err != nil {
				return cli.Exit(err.Error(), 1)
			}
			defer func() { _ = engine.Close() }()

			modelID := strings.TrimSuffix(filepath.Base(resolved), filepath.Ext(resolved))
			server := api.NewServer(engine, api.Options{
				Model:             modelID,
				RequestsPerSecond: rps,
				Logger:            log,
			})

			e := echo.New()
			e.Use(middleware.RequestLogger())
			e.Use(middleware.Recover())
			server.Register(e)

			log.Info("starting server", "address", addr, "model", modelID)
			sc := echo.StartConfig{
				Address: addr,
				BeforeServeFunc: func(srv *http.Server) error {
					srv.ReadHeaderTimeout = readTimeout
					return nil
				},
			}
			return sc.Start(ctx, e)
		},
	}
}
