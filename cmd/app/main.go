package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	_ "github.com/joho/godotenv/autoload"
	"github.com/urfave/cli/v3"
	"golang.org/x/term"

	"github.com/starford/ankisync/internal"
	"github.com/starford/ankisync/internal/apperr"
	"github.com/starford/ankisync/internal/mcpserver"
	"github.com/starford/ankisync/internal/reconcile"
	"github.com/starford/ankisync/internal/report"
)

// setup loads the config, applies flag and positional overrides and builds
// the services. pathArg and deckArg are positional argument indexes, -1 when
// the command takes none.
func setup(cmd *cli.Command, pathArg, deckArg int) (*internal.Config, *internal.Services, error) {
	cfg, err := internal.LoadConfig(cmd.String("config"))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if cmd.Bool("debug") {
		cfg.App.LogLevel = slog.LevelDebug
	}
	if pathArg >= 0 && cmd.Args().Get(pathArg) != "" {
		cfg.Notebooks.Path = cmd.Args().Get(pathArg)
	}
	if d := cmd.String("deck"); d != "" {
		cfg.Anki.Deck = d
	}
	if deckArg >= 0 && cmd.Args().Get(deckArg) != "" {
		cfg.Anki.Deck = cmd.Args().Get(deckArg)
	}

	// stdout carries reports (or the MCP protocol), so logs go to stderr.
	logger := internal.NewLogger(cfg.App, os.Stderr)
	slog.SetDefault(logger)

	svcs, err := internal.NewServices(cfg, logger)
	if err != nil {
		return nil, nil, err
	}
	if svcs.Deck == "" {
		svcs.Close()
		return nil, nil, errors.New("no deck given: pass it as an argument, with --deck or as anki.deck in the config")
	}
	return cfg, svcs, nil
}

// gate asks before anything is mutated. Without a terminal the answer is no
// unless --yes was given.
func gate(yes bool, show func(*reconcile.Plan)) func(*reconcile.Plan) bool {
	return func(plan *reconcile.Plan) bool {
		show(plan)
		if yes {
			return true
		}
		if !term.IsTerminal(int(os.Stdin.Fd())) {
			fmt.Fprintln(os.Stderr, "stdin is not a terminal; re-run with --yes to apply.")
			return false
		}
		return report.Confirm(os.Stdout, os.Stdin, "Execute commands?")
	}
}

func planCmd(ctx context.Context, cmd *cli.Command) error {
	_, svcs, err := setup(cmd, 0, 1)
	if err != nil {
		return err
	}
	defer svcs.Close()

	plan, err := svcs.Service.Plan(ctx, svcs.Request(cmd.Bool("strict")))
	if err != nil {
		return err
	}
	report.New(os.Stdout).Plan(plan)
	return nil
}

func syncCmd(ctx context.Context, cmd *cli.Command) error {
	_, svcs, err := setup(cmd, 0, 1)
	if err != nil {
		return err
	}
	defer svcs.Close()

	p := report.New(os.Stdout)
	shown := false
	confirm := gate(cmd.Bool("yes"), func(plan *reconcile.Plan) {
		p.Plan(plan)
		shown = true
	})

	out, err := svcs.Service.Sync(ctx, svcs.Request(cmd.Bool("strict")), confirm)
	if out != nil && !shown {
		p.Plan(out.Plan)
	}
	if errors.Is(err, apperr.ErrAborted) {
		return err
	}
	p.Outcome(out, err)
	return err
}

func pruneCmd(ctx context.Context, cmd *cli.Command) error {
	_, svcs, err := setup(cmd, 0, 1)
	if err != nil {
		return err
	}
	defer svcs.Close()

	p := report.New(os.Stdout)
	shown := false
	confirm := gate(cmd.Bool("yes"), func(plan *reconcile.Plan) {
		p.Orphans(plan)
		shown = true
	})

	out, err := svcs.Service.Prune(ctx, svcs.Request(false), cmd.Bool("force"), confirm)
	if out != nil && !shown {
		p.Orphans(out.Plan)
	}
	if errors.Is(err, apperr.ErrAborted) {
		return err
	}
	p.Outcome(out, err)
	return err
}

func checkCmd(ctx context.Context, cmd *cli.Command) error {
	cfg, svcs, err := setup(cmd, -1, 0)
	if err != nil {
		return err
	}
	defer svcs.Close()

	if err := svcs.Service.Check(ctx, svcs.Deck); err != nil {
		return err
	}
	fmt.Fprintf(os.Stdout, "AnkiConnect at %s: model %q and deck %q are ready.\n", cfg.Anki.URL, cfg.Anki.Model, svcs.Deck)
	return nil
}

func historyCmd(_ context.Context, cmd *cli.Command) error {
	cfg, err := internal.LoadConfig(cmd.String("config"))
	if err != nil {
		return fmt.Errorf("failed to parse config: %w", err)
	}
	svcs, err := internal.NewServices(cfg, internal.NewLogger(cfg.App, os.Stderr))
	if err != nil {
		return err
	}
	defer svcs.Close()

	runs, err := svcs.Service.History(int(cmd.Int("limit")))
	if err != nil {
		return err
	}
	report.New(os.Stdout).Runs(runs)
	return nil
}

func serveCmd(ctx context.Context, cmd *cli.Command) error {
	cfg, err := internal.LoadConfig(cmd.String("config"))
	if err != nil {
		return fmt.Errorf("failed to parse config: %w", err)
	}
	if cmd.Bool("debug") {
		cfg.App.LogLevel = slog.LevelDebug
	}
	if d := cmd.String("deck"); d != "" {
		cfg.Anki.Deck = d
	}

	opts := []internal.Option{
		internal.WithConfig(cfg),
		internal.WithLogOutput(os.Stderr),
	}

	if err := internal.Run(ctx, opts...); err != nil {
		return fmt.Errorf("app run error: %w", err)
	}

	return nil
}

func mcpCmd(_ context.Context, cmd *cli.Command) error {
	_, svcs, err := setup(cmd, -1, -1)
	if err != nil {
		return err
	}
	defer svcs.Close()

	return mcpserver.New(svcs.Service, svcs.Deck).ServeStdio()
}

func main() {
	yesFlag := &cli.BoolFlag{
		Name:    "yes",
		Aliases: []string{"y"},
		Usage:   "Apply without asking for confirmation",
	}
	strictFlag := &cli.BoolFlag{
		Name:  "strict",
		Usage: "Abort on the first cell that cannot be extracted instead of skipping it",
	}

	cmd := &cli.Command{
		Name:  "ankisync",
		Usage: "Keep flashcard cells of Jupyter notebooks in sync with an Anki deck",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "config",
				Aliases:     []string{"c"},
				Usage:       "Path to config file",
				DefaultText: internal.DefaultConfigFile,
				Value:       internal.DefaultConfigFile,
				Sources:     cli.EnvVars("APP_CONFIG_FILE"),
			},
			&cli.StringFlag{
				Name:    "deck",
				Aliases: []string{"d"},
				Usage:   "Anki deck (overrides anki.deck)",
				Sources: cli.EnvVars("ANKISYNC_DECK"),
			},
			&cli.BoolFlag{
				Name:  "debug",
				Usage: "Log at debug level",
			},
		},
		Commands: []*cli.Command{
			{
				Name:      "plan",
				Usage:     "Show the operations a sync would run",
				ArgsUsage: "[path] [deck]",
				Flags:     []cli.Flag{strictFlag},
				Action:    planCmd,
			},
			{
				Name:      "sync",
				Usage:     "Create and update notes so the deck matches the notebooks",
				ArgsUsage: "[path] [deck]",
				Flags:     []cli.Flag{yesFlag, strictFlag},
				Action:    syncCmd,
			},
			{
				Name:      "prune",
				Usage:     "Delete notes in the deck that no cell refers to",
				ArgsUsage: "[path] [deck]",
				Flags: []cli.Flag{
					yesFlag,
					&cli.BoolFlag{
						Name:  "force",
						Usage: "Prune even when some cells could not be extracted",
					},
				},
				Action: pruneCmd,
			},
			{
				Name:      "check",
				Usage:     "Verify AnkiConnect, the note model and the deck",
				ArgsUsage: "[deck]",
				Action:    checkCmd,
			},
			{
				Name:  "history",
				Usage: "List recent runs from the journal",
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:    "limit",
						Aliases: []string{"n"},
						Usage:   "Maximum runs to show",
						Value:   20,
					},
				},
				Action: historyCmd,
			},
			{
				Name:   "serve",
				Usage:  "Watch notebooks and serve the HTTP API with live plan updates",
				Action: serveCmd,
			},
			{
				Name:   "mcp",
				Usage:  "Serve read-only sync tools over MCP on stdio",
				Action: mcpCmd,
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		slog.Error("application error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
