// Package config loads and validates the YAML pipeline configuration that
// declares rulesets, their rules, and where a location history file (if
// any) can be found.
package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// CmdlineInput is the sentinel input literal marking an entry-point
// ruleset fed directly from the file collector.
const CmdlineInput = "cmdline"

// DefaultLocationHistoryMaxHours is used when a pipeline does not set
// location_history_max_hours explicitly.
const DefaultLocationHistoryMaxHours = 48

// ActionKind enumerates the four built-in action literals; a rule whose
// action is none of these is treated as an inline shell command template.
type ActionKind int

const (
	ActionMove ActionKind = iota
	ActionCopy
	ActionSymlink
	ActionHardlink
	ActionCommand
)

// ActionSpec is a parsed rule action: one of the four built-in kinds, or
// ActionCommand carrying the shell template verbatim (the `cmd:` prefix,
// if present, is stripped; its absence is tolerated per spec.md §6).
type ActionSpec struct {
	Kind    ActionKind
	Command string
}

func parseActionSpec(raw string) ActionSpec {
	switch raw {
	case "move":
		return ActionSpec{Kind: ActionMove}
	case "copy":
		return ActionSpec{Kind: ActionCopy}
	case "symlink":
		return ActionSpec{Kind: ActionSymlink}
	case "hardlink":
		return ActionSpec{Kind: ActionHardlink}
	default:
		return ActionSpec{Kind: ActionCommand, Command: strings.TrimPrefix(raw, "cmd:")}
	}
}

// Rule is a single ordered entry within a Ruleset.
type Rule struct {
	Condition string
	Template  string
	Action    ActionSpec
}

// Ruleset is a named, ordered list of rules fed either from the top-level
// file collector (Input == CmdlineInput) or from another ruleset's output
// (Input == "ruleset:<name>").
type Ruleset struct {
	Name  string
	Input string
	Rules []Rule
}

// DependsOn returns the name of the ruleset this one chains from, and
// whether it is chained at all (as opposed to being a cmdline entry
// point).
func (r Ruleset) DependsOn() (name string, ok bool) {
	const prefix = "ruleset:"
	if !strings.HasPrefix(r.Input, prefix) {
		return "", false
	}
	return strings.TrimPrefix(r.Input, prefix), true
}

// Pipeline is the top-level parsed configuration.
type Pipeline struct {
	Rulesets                []Ruleset
	LocationHistoryPath     string
	LocationHistoryMaxHours uint
}

// yamlRule/yamlRuleset/yamlPipeline mirror the YAML document shape before
// the action-literal parsing and defaulting pass below.
type yamlRule struct {
	Condition string `yaml:"condition"`
	Template  string `yaml:"template"`
	Action    string `yaml:"action"`
}

type yamlRuleset struct {
	Name  string     `yaml:"name"`
	Input string     `yaml:"input"`
	Rules []yamlRule `yaml:"rules"`
}

type yamlPipeline struct {
	Rulesets                []yamlRuleset `yaml:"rulesets"`
	LocationHistoryPath     string        `yaml:"location_history_path"`
	LocationHistoryMaxHours *uint         `yaml:"location_history_max_hours"`
}

// Load reads and parses a pipeline configuration file from path. Any
// failure here (missing file, malformed YAML, an unrecognized `input`
// literal) is a configuration error, fatal to the process per spec.md §7.
func Load(path string) (*Pipeline, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	var doc yamlPipeline
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	if len(doc.Rulesets) == 0 {
		return nil, fmt.Errorf("config %s: rulesets is required and must be non-empty", path)
	}

	p := &Pipeline{
		LocationHistoryPath:     doc.LocationHistoryPath,
		LocationHistoryMaxHours: DefaultLocationHistoryMaxHours,
	}
	if doc.LocationHistoryMaxHours != nil {
		p.LocationHistoryMaxHours = *doc.LocationHistoryMaxHours
	}

	for _, rs := range doc.Rulesets {
		if err := validateInput(rs.Input); err != nil {
			return nil, fmt.Errorf("config %s: ruleset %q: %w", path, rs.Name, err)
		}

		ruleset := Ruleset{Name: rs.Name, Input: rs.Input}
		for i, r := range rs.Rules {
			if r.Condition == "" {
				return nil, fmt.Errorf("config %s: ruleset %q rule %d: condition is required", path, rs.Name, i)
			}
			ruleset.Rules = append(ruleset.Rules, Rule{
				Condition: r.Condition,
				Template:  r.Template,
				Action:    parseActionSpec(r.Action),
			})
		}
		p.Rulesets = append(p.Rulesets, ruleset)
	}

	return p, nil
}

func validateInput(input string) error {
	if input == CmdlineInput {
		return nil
	}
	if strings.HasPrefix(input, "ruleset:") && len(input) > len("ruleset:") {
		return nil
	}
	return fmt.Errorf("invalid input literal %q: must be %q or \"ruleset:<name>\"", input, CmdlineInput)
}
