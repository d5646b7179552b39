package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	p := filepath.Join(dir, "monana.yaml")
	require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	return p
}

func TestLoadValidPipeline(t *testing.T) {
	p := writeConfig(t, `
rulesets:
  - name: organize_photos
    input: cmdline
    rules:
      - condition: type == "image"
        template: out/{time.yyyy}/{source.original}
        action: copy
  - name: archive
    input: "ruleset:organize_photos"
    rules:
      - condition: 'type == "image"'
        template: archive/{source.original}
        action: "cmd:echo {source} {destination}"
location_history_path: history.json
location_history_max_hours: 72
`)

	pipeline, err := Load(p)
	require.NoError(t, err)
	require.Len(t, pipeline.Rulesets, 2)
	require.Equal(t, uint(72), pipeline.LocationHistoryMaxHours)
	require.Equal(t, "history.json", pipeline.LocationHistoryPath)

	require.Equal(t, ActionCopy, pipeline.Rulesets[0].Rules[0].Action.Kind)
	require.Equal(t, ActionCommand, pipeline.Rulesets[1].Rules[0].Action.Kind)
	require.Equal(t, "echo {source} {destination}", pipeline.Rulesets[1].Rules[0].Action.Command)

	name, ok := pipeline.Rulesets[1].DependsOn()
	require.True(t, ok)
	require.Equal(t, "organize_photos", name)
}

func TestLoadDefaultsMaxHours(t *testing.T) {
	p := writeConfig(t, `
rulesets:
  - name: a
    input: cmdline
    rules:
      - condition: "true"
        template: "{source.original}"
        action: move
`)
	pipeline, err := Load(p)
	require.NoError(t, err)
	require.Equal(t, uint(DefaultLocationHistoryMaxHours), pipeline.LocationHistoryMaxHours)
}

func TestLoadRejectsMissingRulesets(t *testing.T) {
	p := writeConfig(t, `location_history_max_hours: 10`)
	_, err := Load(p)
	require.Error(t, err)
}

func TestLoadRejectsBadInputLiteral(t *testing.T) {
	p := writeConfig(t, `
rulesets:
  - name: a
    input: bogus
    rules: []
`)
	_, err := Load(p)
	require.Error(t, err)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestParseActionSpecBareCommand(t *testing.T) {
	a := parseActionSpec("echo hi")
	require.Equal(t, ActionCommand, a.Kind)
	require.Equal(t, "echo hi", a.Command)
}
