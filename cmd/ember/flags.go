package main

import "github.com/urfave/cli/v3"

var (
	modelPath  string
	modelsPath string
	nCtx       int64
	nBatch     int64
	nGPULayers int64
	nThreads   int64
	useMmap    bool
	useMlock   bool
	chatTpl    string
	logLevel   string
	logFormat  string
	debug      bool
)

func commonModelFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "model",
			Aliases:     []string{"m"},
			Usage:       "path to a model file",
			Destination: &modelPath,
		},
		&cli.StringFlag{
			Name:        "models-path",
			Aliases:     []string{"path"},
			Usage:       "directory containing model files",
			Destination: &modelsPath,
		},
		&cli.Int64Flag{
			Name:        "ctx",
			Aliases:     []string{"c", "max-context", "max-ctx"},
			Usage:       "context window size",
			Value:       4096,
			Destination: &nCtx,
		},
		&cli.Int64Flag{
			Name:        "batch",
			Aliases:     []string{"b"},
			Usage:       "prefill batch size",
			Value:       512,
			Destination: &nBatch,
		},
		&cli.Int64Flag{
			Name:        "gpu",
			Aliases:     []string{"g", "gpu-layers"},
			Usage:       "layers to offload to the GPU (-1 for all)",
			Value:       35,
			Destination: &nGPULayers,
		},
		&cli.Int64Flag{
			Name:        "threads",
			Usage:       "CPU threads (0 = auto)",
			Destination: &nThreads,
		},
		&cli.BoolFlag{
			Name:        "mmap",
			Usage:       "memory-map model weights",
			Value:       true,
			Destination: &useMmap,
		},
		&cli.BoolFlag{
			Name:        "mlock",
			Usage:       "lock model weights in memory",
			Destination: &useMlock,
		},
		&cli.StringFlag{
			Name:        "chat-template",
			Usage:       "template family (chatml, llama2, llama3, qwen) or a custom template",
			Destination: &chatTpl,
		},
	}
}

func loggingFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "log-level",
			Usage:       "log level (debug, info, warn, error)",
			Value:       "info",
			Destination: &logLevel,
		},
		&cli.StringFlag{
			Name:        "log-format",
			Usage:       "log format (pretty, json, text)",
			Value:       "pretty",
			Destination: &logFormat,
		},
		&cli.BoolFlag{
			Name:        "debug",
			Usage:       "enable debug logging (shorthand for --log-level=debug)",
			Destination: &debug,
		},
	}
}
