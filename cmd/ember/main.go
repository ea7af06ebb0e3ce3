// Command ember is a local conversational-assistant runtime: an
// interactive chat REPL and an OpenAI-compatible API server over the
// same inference engine.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/calebodell/ember/internal/version"

	// Registered model backends.
	_ "github.com/calebodell/ember/internal/backend/toylm"
)

func main() {
	app := &cli.Command{
		Name:    "ember",
		Usage:   "Conversational LLM inference runtime",
		Version: version.String(),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return cli.ShowAppHelp(cmd)
		},
		Commands: []*cli.Command{
			chatCmd(),
			serveCmd(),
		},
	}

	if err := app.Run(context.Background(), os.Args); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
