// Package orchestrator drives files through a Pipeline's rulesets:
// extracting metadata once per file, evaluating entry rulesets, and
// recursively following dependent rulesets with first-match-wins
// semantics.
package orchestrator

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/schollz/progressbar/v3"

	"github.com/nilp0inter/monana/internal/action"
	"github.com/nilp0inter/monana/internal/config"
	"github.com/nilp0inter/monana/internal/extractor"
	"github.com/nilp0inter/monana/internal/locationhistory"
	"github.com/nilp0inter/monana/internal/mediacontext"
	"github.com/nilp0inter/monana/internal/monanaerr"
	"github.com/nilp0inter/monana/internal/ruleengine"
	"github.com/nilp0inter/monana/internal/template"
)

// MaxTraversalDepth bounds dependent-ruleset recursion per file,
// backstopping the visited-ruleset-name cycle guard (SPEC_FULL.md §13.1).
const MaxTraversalDepth = 64

// Options configures a Run.
type Options struct {
	Pipeline *config.Pipeline
	Engine   *ruleengine.Engine
	History  *locationhistory.History
	DryRun   bool
	Log      *slog.Logger
	Progress bool // show a TTY progress bar

	// Rulesets restricts which cmdline entry-point rulesets run, by name.
	// A nil/empty slice means all cmdline rulesets run (the default).
	Rulesets []string
}

// Stats summarizes a completed run, matching the three counters named in
// spec.md §7's propagation policy (processed, matched, errors) plus the
// run's start and end time, in the teacher's summary-reporting idiom. No
// throughput figure is computed.
type Stats struct {
	StartTime time.Time
	EndTime   time.Time

	Processed int
	Matched   int
	Errors    int
}

// Duration reports wall-clock run time.
func (s Stats) Duration() time.Duration {
	if s.EndTime.IsZero() {
		return time.Since(s.StartTime)
	}
	return s.EndTime.Sub(s.StartTime)
}

// PrintSummary writes the final processed/matched/errors/duration line to
// the given logger, matching the teacher's PrintSummary texture.
func (s Stats) PrintSummary(log *slog.Logger) {
	log.Info("run complete",
		"processed", s.Processed,
		"matched", s.Matched,
		"errors", s.Errors,
		"duration", s.Duration().Round(time.Millisecond).String())
}

// Run processes every file in paths through the pipeline's cmdline
// rulesets (or just opts.Rulesets, if non-empty), returning aggregate
// stats. Per-file errors are logged and counted; they never abort the
// run (spec.md §7).
func Run(paths []string, opts Options) Stats {
	stats := Stats{StartTime: time.Now()}
	log := opts.Log
	if log == nil {
		log = slog.Default()
	}

	wantRuleset := make(map[string]bool, len(opts.Rulesets))
	for _, name := range opts.Rulesets {
		wantRuleset[name] = true
	}

	byName := make(map[string]config.Ruleset, len(opts.Pipeline.Rulesets))
	dependents := make(map[string][]config.Ruleset)
	var entryPoints []config.Ruleset
	for _, rs := range opts.Pipeline.Rulesets {
		byName[rs.Name] = rs
		if rs.Input == config.CmdlineInput {
			if len(wantRuleset) == 0 || wantRuleset[rs.Name] {
				entryPoints = append(entryPoints, rs)
			}
			continue
		}
		if parent, ok := rs.DependsOn(); ok {
			dependents[parent] = append(dependents[parent], rs)
		}
	}

	var bar *progressbar.ProgressBar
	if opts.Progress && isatty.IsTerminal(os.Stdout.Fd()) {
		bar = progressbar.NewOptions(len(paths),
			progressbar.OptionSetDescription("processing"),
			progressbar.OptionShowCount(),
			progressbar.OptionShowIts(),
			progressbar.OptionSetWidth(40),
			progressbar.OptionSetPredictTime(true),
			progressbar.OptionShowElapsedTimeOnFinish(),
		)
	}

	extractOpts := extractor.Options{
		History:  opts.History,
		MaxHours: opts.Pipeline.LocationHistoryMaxHours,
	}

	r := &runner{opts: opts, log: log, byName: byName, dependents: dependents, stats: &stats}

	for _, path := range paths {
		stats.Processed++
		if bar != nil {
			_ = bar.Add(1)
		}

		ctx, err := extractor.Extract(path, extractOpts)
		if err != nil {
			stats.Errors++
			log.Warn("extraction failed, skipping file", "path", path, "error", err)
			continue
		}

		for _, entry := range entryPoints {
			r.processRecursive(path, ctx, entry, map[string]bool{}, 0)
		}
	}

	stats.EndTime = time.Now()
	return stats
}

type runner struct {
	opts       Options
	log        *slog.Logger
	byName     map[string]config.Ruleset
	dependents map[string][]config.Ruleset
	stats      *Stats
}

// processRecursive evaluates ruleset's rules against ctx in order,
// applying the first matching rule's action and stopping the scan
// (first-match-wins). On a match, it re-enters itself for every
// dependent ruleset with a source refreshed from the destination path —
// in dry-run mode destination never exists, so this still previews the
// whole dependent chain, only skipping the action itself.
func (r *runner) processRecursive(path string, ctx mediacontext.MediaContext, ruleset config.Ruleset, visited map[string]bool, depth int) {
	if depth > MaxTraversalDepth {
		r.log.Warn("ruleset traversal depth exceeded, stopping branch", "ruleset", ruleset.Name, "depth", depth)
		return
	}
	if visited[ruleset.Name] {
		r.log.Warn("cycle detected in dependent ruleset graph, stopping branch", "ruleset", ruleset.Name)
		return
	}
	visited = withVisited(visited, ruleset.Name)

	for i, rule := range ruleset.Rules {
		ok, err := r.opts.Engine.Evaluate(rule.Condition, ctx)
		if err != nil {
			r.log.Debug("rule evaluation error, treating as non-matching",
				"ruleset", ruleset.Name, "rule_index", i, "error", err)
			continue
		}
		if !ok {
			continue
		}

		destination := template.Expand(rule.Template, ctx)

		if r.opts.DryRun {
			r.log.Info("dry-run match", "ruleset", ruleset.Name, "rule_index", i,
				"source", path, "destination", destination)
		} else {
			if err := action.Apply(rule.Action, path, destination); err != nil {
				r.stats.Errors++
				r.log.Warn("action failed", "ruleset", ruleset.Name, "rule_index", i,
					"source", path, "destination", destination,
					"error", monanaerr.New(monanaerr.KindAction, "apply_action", path, err))
				return
			}
			r.log.Info("matched", "ruleset", ruleset.Name, "rule_index", i,
				"source", path, "destination", destination)
		}
		r.stats.Matched++

		nextCtx := ctx.WithSource(sourceFromPath(destination))
		for _, dep := range r.dependents[ruleset.Name] {
			r.processRecursive(destination, nextCtx, dep, visited, depth+1)
		}
		return // first-match-wins: stop scanning this ruleset
	}
}

func withVisited(visited map[string]bool, name string) map[string]bool {
	next := make(map[string]bool, len(visited)+1)
	for k := range visited {
		next[k] = true
	}
	next[name] = true
	return next
}

func sourceFromPath(path string) mediacontext.SourceContext {
	ext := filepath.Ext(path)
	base := filepath.Base(path)
	size := int64(0)
	if info, err := os.Stat(path); err == nil {
		size = info.Size()
	}
	return mediacontext.SourceContext{
		Path:      filepath.Dir(path),
		Name:      strings.TrimSuffix(base, ext),
		Extension: strings.TrimPrefix(ext, "."),
		Original:  base,
		Size:      size,
	}
}
