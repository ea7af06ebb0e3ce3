package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/calebodell/ember/internal/inference"
	"github.com/calebodell/ember/internal/logger"
)

func chatCmd() *cli.Command {
	var (
		system        string
		temp          float64
		topK          int64
		topP          float64
		repeatPenalty float64
		repeatLastN   int64
		maxTokens     int64
		seed          int64
		streamMode    string
		sessionPath   string
	)

	return &cli.Command{
		Name:      "chat",
		Usage:     "Interactive chat REPL",
		ArgsUsage: "[model-path]",
		Flags: append(append(commonModelFlags(), loggingFlags()...),
			&cli.StringFlag{
				Name:        "system",
				Aliases:     []string{"sys"},
				Usage:       "system prompt",
				Destination: &system,
			},
			&cli.Float64Flag{
				Name:        "temp",
				Aliases:     []string{"temperature", "t"},
				Usage:       "sampling temperature (0 = greedy)",
				Value:       0.7,
				Destination: &temp,
			},
			&cli.Int64Flag{
				Name:        "top-k",
				Aliases:     []string{"top_k", "topk"},
				Usage:       "top-k sampling parameter",
				Value:       40,
				Destination: &topK,
			},
			&cli.Float64Flag{
				Name:        "top-p",
				Aliases:     []string{"top_p", "topp"},
				Usage:       "top-p sampling parameter",
				Value:       0.9,
				Destination: &topP,
			},
			&cli.Float64Flag{
				Name:        "repeat-penalty",
				Aliases:     []string{"repeat_penalty"},
				Usage:       "repetition penalty (1.0 = disabled)",
				Value:       1.1,
				Destination: &repeatPenalty,
			},
			&cli.Int64Flag{
				Name:        "repeat-last-n",
				Aliases:     []string{"repeat_last_n"},
				Usage:       "last n tokens to penalize",
				Value:       64,
				Destination: &repeatLastN,
			},
			&cli.Int64Flag{
				Name:        "max-tokens",
				Aliases:     []string{"n"},
				Usage:       "max tokens per reply",
				Value:       512,
				Destination: &maxTokens,
			},
			&cli.Int64Flag{
				Name:        "seed",
				Usage:       "sampling RNG seed (-1 = random)",
				Value:       -1,
				Destination: &seed,
			},
			&cli.StringFlag{
				Name:        "stream-mode",
				Usage:       "token output mode (instant, typewriter, quiet)",
				Value:       "instant",
				Destination: &streamMode,
			},
			&cli.StringFlag{
				Name:        "session",
				Usage:       "session file to load on start and save on exit",
				Destination: &sessionPath,
			},
		),
		Action: func(ctx context.Context, c *cli.Command) error {
			cfg := LoadConfig()
			applyChatConfig(c, cfg, &temp, &topK, &topP, &repeatPenalty, &maxTokens, &seed, &streamMode)

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

			if sessionPath != "" {
				if err := engine.LoadSession(sessionPath); err != nil {
					log.Warn("session not restored", "path", sessionPath, "error", err)
				} else {
					log.Info("session restored", "path", sessionPath)
				}
			}

			fmt.Println(engine.ModelInfo())
			fmt.Println("Type 'quit' to exit, 'clear' to reset the conversation, 'stats' for throughput.")
			fmt.Println()

			genCfg := inference.DefaultGenerationConfig()
			genCfg.Temperature = float32(temp)
			genCfg.TopK = int(topK)
			genCfg.TopP = float32(topP)
			genCfg.RepeatPenalty = float32(repeatPenalty)
			genCfg.RepeatLastN = int(repeatLastN)
			genCfg.MaxTokens = int(maxTokens)
			genCfg.Seed = seed

			repl := &chatREPL{
				engine:     engine,
				log:        log,
				genCfg:     genCfg,
				system:     system,
				streamMode: StreamMode(streamMode),
			}
			repl.resetConversation()
			err = repl.run(ctx)

			if sessionPath != "" {
				if saveErr := engine.SaveSession(sessionPath); saveErr != nil {
					log.Warn("session not saved", "path", sessionPath, "error", saveErr)
				}
			}
			return err
		},
	}
}

type chatREPL struct {
	engine     *inference.Engine
	log        logger.Logger
	genCfg     inference.GenerationConfig
	system     string
	streamMode StreamMode
	messages   []inference.Message
}

func (r *chatREPL) resetConversation() {
	r.messages = r.messages[:0]
	if r.system != "" {
		r.messages = append(r.messages, inference.Message{Role: "system", Content: r.system})
	}
}

func (r *chatREPL) run(ctx context.Context) error {
	for {
		input, err := readInteractiveLine("User: ")
		if err != nil {
			if errors.Is(err, io.EOF) {
				fmt.Println("Goodbye!")
				return nil
			}
			return err
		}
		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}

		if done, handled := r.handleCommand(input); handled {
			if done {
				fmt.Println("Goodbye!")
				return nil
			}
			continue
		}

		r.messages = append(r.messages, inference.Message{Role: "user", Content: input})

		fmt.Print("Assistant: ")
		writer := NewStreamWriter(r.streamMode)
		response, err := r.engine.GenerateStream(ctx, r.messages,
			func(piece string, isEnd bool) {
				if isEnd {
					writer.Finish()
					return
				}
				writer.Write(piece)
			}, r.genCfg)
		if err != nil {
			// Drop the failed turn so a later retry renders cleanly.
			r.messages = r.messages[:len(r.messages)-1]
			r.log.Error("generation failed", "error", err)
			continue
		}
		fmt.Println()

		if call, ok := r.engine.ParseFunctionCall(response); ok {
			fmt.Printf("[function call] %s(%s)\n", call.Name, call.Arguments)
		}

		r.messages = append(r.messages, inference.Message{
			Role:    "assistant",
			Content: inference.SanitizeAssistantForContext(response),
		})

		stats := r.engine.Stats()
		fmt.Printf("[%.1f tok/s, %d/%d ctx]\n\n",
			stats.TokensPerSecond, r.engine.ContextUsage(), r.engine.MaxContext())
	}
}

// handleCommand processes REPL commands. The first result requests exit;
// the second reports whether input was a command at all.
func (r *chatREPL) handleCommand(input string) (bool, bool) {
	fields := strings.Fields(input)
	switch fields[0] {
	case "quit", "exit":
		return true, true
	case "clear", "reset":
		r.resetConversation()
		r.engine.ClearCache()
		fmt.Println("Conversation cleared.")
		fmt.Println()
		return false, true
	case "stats":
		stats := r.engine.Stats()
		fmt.Println("Stats:")
		fmt.Printf("  Tokens generated: %d\n", stats.TokensGenerated)
		fmt.Printf("  Generation time: %s\n", stats.GenerationTime)
		fmt.Printf("  Tokens/sec: %.2f\n", stats.TokensPerSecond)
		fmt.Printf("  Context usage: %d/%d\n\n", r.engine.ContextUsage(), r.engine.MaxContext())
		return false, true
	case "save":
		if len(fields) < 2 {
			fmt.Println("usage: save <path>")
			return false, true
		}
		if err := r.engine.SaveSession(fields[1]); err != nil {
			fmt.Printf("save failed: %v\n", err)
		} else {
			fmt.Printf("session saved to %s\n", fields[1])
		}
		fmt.Println()
		return false, true
	case "load":
		if len(fields) < 2 {
			fmt.Println("usage: load <path>")
			return false, true
		}
		if err := r.engine.LoadSession(fields[1]); err != nil {
			fmt.Printf("load failed: %v\n", err)
		} else {
			fmt.Printf("session loaded from %s\n", fields[1])
		}
		fmt.Println()
		return false, true
	}
	return false, false
}
