package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"
)

func main() {
	_ = godotenv.Load()

	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "bartender:", err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "bartender",
		Usage: "Catalog-grounded drink recommendations over a persistent vector index",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to YAML config file (uses ./config.yaml or ~/.config/bartender/config.yaml if not provided)",
				EnvVars: []string{"BARTENDER_CONFIG"},
			},
			&cli.StringFlag{
				Name:    "log-level",
				Aliases: []string{"l"},
				Usage:   "Override logging level (debug, info, warn, error)",
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "build",
				Usage:  "Load or build the index from the catalog",
				Action: buildCommand,
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:    "force",
						Aliases: []string{"f"},
						Usage:   "Discard persisted artifacts and rebuild from scratch",
					},
				},
			},
			{
				Name:      "ask",
				Usage:     "Answer a single question",
				ArgsUsage: "<query>",
				Action:    askCommand,
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:    "top-k",
						Aliases: []string{"k"},
						Usage:   "Number of catalog items to retrieve (0 uses index.top_k)",
					},
					&cli.BoolFlag{
						Name:  "context-only",
						Usage: "Print the retrieved context and constraints without calling the generator",
					},
				},
			},
			{
				Name:   "chat",
				Usage:  "Interactive terminal chat",
				Action: chatCommand,
			},
			{
				Name:   "serve",
				Usage:  "Serve the HTTP API",
				Action: serveCommand,
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:  "port",
						Usage: "Listen port (overrides http.port)",
					},
				},
			},
		},
	}
}
