package orchestrator

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/nilp0inter/monana/internal/config"
	"github.com/nilp0inter/monana/internal/ruleengine"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
}

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	return p
}

func TestRunFirstMatchWins(t *testing.T) {
	dir := t.TempDir()
	src := writeFile(t, dir, "photo.jpg", "not-a-real-jpeg-but-fine-for-this-test")

	pipeline := &config.Pipeline{
		Rulesets: []config.Ruleset{
			{
				Name:  "entry",
				Input: config.CmdlineInput,
				Rules: []config.Rule{
					{Condition: `true`, Template: filepath.Join(dir, "A", "{source.original}"), Action: config.ActionSpec{Kind: config.ActionCopy}},
					{Condition: `true`, Template: filepath.Join(dir, "B", "{source.original}"), Action: config.ActionSpec{Kind: config.ActionCopy}},
				},
			},
		},
		LocationHistoryMaxHours: config.DefaultLocationHistoryMaxHours,
	}

	stats := Run([]string{src}, Options{
		Pipeline: pipeline,
		Engine:   ruleengine.New(),
		Log:      testLogger(),
	})

	require.Equal(t, 1, stats.Processed)
	require.Equal(t, 1, stats.Matched)
	require.Equal(t, 0, stats.Errors)

	_, errA := os.Stat(filepath.Join(dir, "A", "photo.jpg"))
	_, errB := os.Stat(filepath.Join(dir, "B", "photo.jpg"))
	require.NoError(t, errA, "first rule should have matched")
	require.True(t, os.IsNotExist(errB), "second rule must never run")
}

func TestRunDryRunMakesNoMutations(t *testing.T) {
	dir := t.TempDir()
	src := writeFile(t, dir, "photo.jpg", "body")

	pipeline := &config.Pipeline{
		Rulesets: []config.Ruleset{
			{
				Name:  "entry",
				Input: config.CmdlineInput,
				Rules: []config.Rule{
					{Condition: `true`, Template: filepath.Join(dir, "out", "{source.original}"), Action: config.ActionSpec{Kind: config.ActionCopy}},
				},
			},
		},
	}

	stats := Run([]string{src}, Options{
		Pipeline: pipeline,
		Engine:   ruleengine.New(),
		Log:      testLogger(),
		DryRun:   true,
	})

	require.Equal(t, 1, stats.Matched)
	_, err := os.Stat(filepath.Join(dir, "out", "photo.jpg"))
	require.True(t, os.IsNotExist(err), "dry-run must not mutate the filesystem")
}

func TestRunDependentRuleset(t *testing.T) {
	dir := t.TempDir()
	src := writeFile(t, dir, "photo.jpg", "body")

	pipeline := &config.Pipeline{
		Rulesets: []config.Ruleset{
			{
				Name:  "primary",
				Input: config.CmdlineInput,
				Rules: []config.Rule{
					{Condition: `true`, Template: filepath.Join(dir, "stage1", "{source.original}"), Action: config.ActionSpec{Kind: config.ActionCopy}},
				},
			},
			{
				Name:  "archive",
				Input: "ruleset:primary",
				Rules: []config.Rule{
					{Condition: `true`, Template: filepath.Join(dir, "stage2", "{source.original}"), Action: config.ActionSpec{Kind: config.ActionCopy}},
				},
			},
		},
	}

	stats := Run([]string{src}, Options{
		Pipeline: pipeline,
		Engine:   ruleengine.New(),
		Log:      testLogger(),
	})

	require.Equal(t, 2, stats.Matched)
	_, err1 := os.Stat(filepath.Join(dir, "stage1", "photo.jpg"))
	_, err2 := os.Stat(filepath.Join(dir, "stage2", "photo.jpg"))
	require.NoError(t, err1)
	require.NoError(t, err2)
}

func TestRunDryRunScansDependentRulesets(t *testing.T) {
	dir := t.TempDir()
	src := writeFile(t, dir, "photo.jpg", "body")

	pipeline := &config.Pipeline{
		Rulesets: []config.Ruleset{
			{
				Name:  "primary",
				Input: config.CmdlineInput,
				Rules: []config.Rule{
					{Condition: `true`, Template: filepath.Join(dir, "stage1", "{source.original}"), Action: config.ActionSpec{Kind: config.ActionCopy}},
				},
			},
			{
				Name:  "archive",
				Input: "ruleset:primary",
				Rules: []config.Rule{
					{Condition: `true`, Template: filepath.Join(dir, "stage2", "{source.original}"), Action: config.ActionSpec{Kind: config.ActionCopy}},
				},
			},
		},
	}

	stats := Run([]string{src}, Options{
		Pipeline: pipeline,
		Engine:   ruleengine.New(),
		Log:      testLogger(),
		DryRun:   true,
	})

	// Dry-run previews the whole dependent chain (spec.md §4.6): both
	// rulesets must be scanned and counted as matched, even though
	// neither destination is ever created.
	require.Equal(t, 2, stats.Matched)
	_, err1 := os.Stat(filepath.Join(dir, "stage1", "photo.jpg"))
	_, err2 := os.Stat(filepath.Join(dir, "stage2", "photo.jpg"))
	require.True(t, os.IsNotExist(err1), "dry-run must not mutate the filesystem")
	require.True(t, os.IsNotExist(err2), "dry-run must not mutate the filesystem")
}

func TestRunRulesetsFilterRestrictsEntryPoints(t *testing.T) {
	dir := t.TempDir()
	src := writeFile(t, dir, "photo.jpg", "body")

	pipeline := &config.Pipeline{
		Rulesets: []config.Ruleset{
			{
				Name:  "a",
				Input: config.CmdlineInput,
				Rules: []config.Rule{
					{Condition: `true`, Template: filepath.Join(dir, "a", "{source.original}"), Action: config.ActionSpec{Kind: config.ActionCopy}},
				},
			},
			{
				Name:  "b",
				Input: config.CmdlineInput,
				Rules: []config.Rule{
					{Condition: `true`, Template: filepath.Join(dir, "b", "{source.original}"), Action: config.ActionSpec{Kind: config.ActionCopy}},
				},
			},
		},
	}

	stats := Run([]string{src}, Options{
		Pipeline: pipeline,
		Engine:   ruleengine.New(),
		Log:      testLogger(),
		Rulesets: []string{"b"},
	})

	require.Equal(t, 1, stats.Matched)
	_, errA := os.Stat(filepath.Join(dir, "a", "photo.jpg"))
	_, errB := os.Stat(filepath.Join(dir, "b", "photo.jpg"))
	require.True(t, os.IsNotExist(errA), "ruleset a must not run when excluded")
	require.NoError(t, errB)
}

func TestRunCycleDetectionStopsBranch(t *testing.T) {
	dir := t.TempDir()
	src := writeFile(t, dir, "photo.jpg", "body")

	pipeline := &config.Pipeline{
		Rulesets: []config.Ruleset{
			{
				Name:  "a",
				Input: config.CmdlineInput,
				Rules: []config.Rule{
					{Condition: `true`, Template: filepath.Join(dir, "a", "{source.original}"), Action: config.ActionSpec{Kind: config.ActionCopy}},
				},
			},
			{
				Name:  "b",
				Input: "ruleset:a",
				Rules: []config.Rule{
					{Condition: `true`, Template: filepath.Join(dir, "b", "{source.original}"), Action: config.ActionSpec{Kind: config.ActionCopy}},
				},
			},
		},
	}
	// Wire a cycle b -> a: a third ruleset reuses the name "a" and chains
	// from b, so the traversal a -> b -> a reaches a name that is already
	// in the visited set and stops there.
	pipeline.Rulesets = append(pipeline.Rulesets, config.Ruleset{
		Name:  "a", // duplicate name is what closes the cycle
		Input: "ruleset:b",
		Rules: nil,
	})

	stats := Run([]string{src}, Options{
		Pipeline: pipeline,
		Engine:   ruleengine.New(),
		Log:      testLogger(),
	})

	// The run must still terminate (no infinite recursion/hang).
	require.GreaterOrEqual(t, stats.Matched, 1)
}
