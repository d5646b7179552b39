// Command monana organizes media files into a structured archive whose
// layout is driven by a user-authored rule pipeline (the YAML file given by
// --config, monana.yaml by default).
package main

import (
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/mattn/go-isatty"
	"github.com/urfave/cli/v2"

	"github.com/nilp0inter/monana/internal/config"
	"github.com/nilp0inter/monana/internal/locationhistory"
	"github.com/nilp0inter/monana/internal/monanaerr"
	"github.com/nilp0inter/monana/internal/orchestrator"
	"github.com/nilp0inter/monana/internal/ruleengine"
)

func main() {
	app := &cli.App{
		Name:  "monana",
		Usage: "organize media files by rule-driven metadata pipelines",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Aliases: []string{"c"}, Value: "monana.yaml", Usage: "pipeline configuration file"},
			&cli.StringSliceFlag{Name: "ruleset", Usage: "restrict the run to these cmdline ruleset(s); default: all cmdline rulesets"},
			&cli.StringFlag{Name: "location-history", Usage: "override the pipeline's location_history_path"},
			&cli.BoolFlag{Name: "recursive", Aliases: []string{"R"}, Usage: "descend into subdirectories of the input path"},
			&cli.BoolFlag{Name: "dry-run", Usage: "print intended source -> destination pairs without applying them"},
			&cli.BoolFlag{Name: "verbose", Aliases: []string{"v"}, Usage: "enable debug logging"},
			&cli.BoolFlag{Name: "quiet", Aliases: []string{"q"}, Usage: "only log warnings and errors"},
			&cli.StringFlag{Name: "log-format", Value: "text", Usage: "log output format: text or json"},
		},
		ArgsUsage: "<input-path>",
		Action:    run,
	}

	if err := app.Run(os.Args); err != nil {
		var merr *monanaerr.Error
		if isFatal(err, &merr) {
			slog.Error("fatal", "error", err)
			os.Exit(1)
		}
		slog.Error("run failed", "error", err)
		os.Exit(1)
	}
}

func isFatal(err error, target **monanaerr.Error) bool {
	if e, ok := err.(*monanaerr.Error); ok {
		*target = e
		return e.IsFatal()
	}
	return true // anything surfacing out of run() unwrapped is treated as fatal
}

func run(c *cli.Context) error {
	log := newLogger(c.Bool("verbose"), c.Bool("quiet"), c.String("log-format"))
	slog.SetDefault(log)

	if c.NArg() != 1 {
		return monanaerr.New(monanaerr.KindInputPath, "parse_args", "",
			fmt.Errorf("exactly one input path is required, got %d", c.NArg()))
	}
	inputPath := c.Args().Get(0)

	info, err := os.Stat(inputPath)
	if err != nil {
		return monanaerr.New(monanaerr.KindInputPath, "stat_input", inputPath, err)
	}

	pipeline, err := config.Load(c.String("config"))
	if err != nil {
		return monanaerr.New(monanaerr.KindConfig, "load_config", c.String("config"), err)
	}

	historyPath := c.String("location-history")
	if historyPath == "" {
		historyPath = pipeline.LocationHistoryPath
	}

	var history *locationhistory.History
	if historyPath != "" {
		h, err := locationhistory.Load(historyPath)
		if err != nil {
			log.Warn("location history failed to load, proceeding without it",
				"path", historyPath, "error", monanaerr.New(monanaerr.KindLocationHistory, "load_history", historyPath, err))
		} else {
			history = h
		}
	}

	files, err := collectFiles(inputPath, info, c.Bool("recursive"))
	if err != nil {
		return monanaerr.New(monanaerr.KindInputPath, "collect_files", inputPath, err)
	}

	stats := orchestrator.Run(files, orchestrator.Options{
		Pipeline: pipeline,
		Engine:   ruleengine.New(),
		History:  history,
		DryRun:   c.Bool("dry-run"),
		Log:      log,
		Progress: true,
		Rulesets: c.StringSlice("ruleset"),
	})
	stats.PrintSummary(log)

	return nil
}

// collectFiles is the directory-walking collaborator spec.md §1 names as
// external to the core; a minimal implementation lives here so the CLI is
// runnable end-to-end. root is either a single file or a directory; when
// it is a directory and recursive is false, only its immediate children
// are collected.
func collectFiles(root string, info os.FileInfo, recursive bool) ([]string, error) {
	if !info.IsDir() {
		return []string{root}, nil
	}

	var files []string
	if recursive {
		err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if !d.IsDir() {
				files = append(files, path)
			}
			return nil
		})
		return files, err
	}

	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		if !e.IsDir() {
			files = append(files, filepath.Join(root, e.Name()))
		}
	}
	return files, nil
}

func newLogger(verbose, quiet bool, format string) *slog.Logger {
	level := slog.LevelInfo
	switch {
	case verbose:
		level = slog.LevelDebug
	case quiet:
		level = slog.LevelWarn
	}

	opts := &slog.HandlerOptions{Level: level}

	if format == "json" || !isatty.IsTerminal(os.Stderr.Fd()) {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}
