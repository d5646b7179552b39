package ruleengine

import (
	"strings"
	"testing"

	"github.com/nilp0inter/monana/internal/mediacontext"
	"github.com/stretchr/testify/require"
)

func sampleContext() mediacontext.MediaContext {
	c := mediacontext.New()
	c.Type = mediacontext.TypeImage
	c.Time.Yyyy = "2024"
	c.Meta["ISO"] = mediacontext.IntTag(100)
	return c
}

func TestEvaluateSimpleCondition(t *testing.T) {
	e := New()
	ok, err := e.Evaluate(`type == "image" && time.yyyy == "2024"`, sampleContext())
	require.NoError(t, err)
	require.True(t, ok)
}

func TestEvaluateComplexCondition(t *testing.T) {
	e := New()
	ok, err := e.Evaluate(`(type == "image" || type == "video") && meta.ISO == 100`, sampleContext())
	require.NoError(t, err)
	require.True(t, ok)
}

func TestEvaluateMissingMetaTagIsFalseNotError(t *testing.T) {
	e := New()
	ok, err := e.Evaluate(`meta.ShutterSpeed == 100`, sampleContext())
	require.NoError(t, err)
	require.False(t, ok)
}

func TestEvaluateNonMatchingCondition(t *testing.T) {
	e := New()
	ok, err := e.Evaluate(`type == "video"`, sampleContext())
	require.NoError(t, err)
	require.False(t, ok)
}

func TestEvaluateSyntaxErrorIsRuleError(t *testing.T) {
	e := New()
	_, err := e.Evaluate(`type ==`, sampleContext())
	require.Error(t, err)
}

func TestEvaluateExcessDepthIsRuleError(t *testing.T) {
	e := New()
	cond := strings.Repeat("(", MaxDepth+1) + "true" + strings.Repeat(")", MaxDepth+1)
	_, err := e.Evaluate(cond, sampleContext())
	require.Error(t, err)
}

func TestEvaluateExcessUnparenthesizedOperatorChainIsRuleError(t *testing.T) {
	e := New()
	// No brackets at all: a bracket-only depth count would see 0 and let
	// this straight through, regardless of how long the chain is.
	cond := strings.Repeat(`type == "image" && `, MaxDepth) + `type == "image"`
	_, err := e.Evaluate(cond, sampleContext())
	require.Error(t, err)
}

func TestNestingDepthCountsOperatorsAndBrackets(t *testing.T) {
	require.Equal(t, 0, nestingDepth(`true`))
	require.Equal(t, 1, nestingDepth(`a == b`))
	require.Equal(t, 4, nestingDepth(`(a && b) || (c && d)`))
}
