// Package ruleengine evaluates the boolean rule conditions of a pipeline
// using a sandboxed embedded expression language, so user-authored
// conditions can never perform I/O or mutate state.
package ruleengine

import (
	"fmt"
	"regexp"

	"github.com/expr-lang/expr"
	"github.com/nilp0inter/monana/internal/mediacontext"
)

// MaxDepth bounds expression nesting to guard against pathological
// user-authored conditions; deeper expressions are rejected as a rule
// error rather than evaluated.
const MaxDepth = 64

// Engine evaluates rule conditions against a MediaContext. It is read-only
// and safe for concurrent use; expr.Compile results are not cached across
// calls since rule sets are small and compiled once per file per rule in
// practice.
type Engine struct{}

// New returns a ready-to-use rule Engine.
func New() *Engine {
	return &Engine{}
}

// Evaluate compiles and runs condition against ctx. A non-boolean result,
// per the evaluation contract, is treated as false rather than an error.
// Any compile or runtime failure (syntax error, unresolved identifier,
// excess nesting) is returned as an error; the caller (the orchestrator)
// treats such a rule as non-matching and continues.
func (e *Engine) Evaluate(condition string, ctx mediacontext.MediaContext) (bool, error) {
	if depth := nestingDepth(condition); depth > MaxDepth {
		return false, fmt.Errorf("rule condition exceeds max nesting depth %d (got %d)", MaxDepth, depth)
	}

	env := buildEnv(ctx)

	program, err := expr.Compile(condition, expr.Env(env))
	if err != nil {
		return false, fmt.Errorf("compile rule condition: %w", err)
	}

	out, err := expr.Run(program, env)
	if err != nil {
		return false, fmt.Errorf("evaluate rule condition: %w", err)
	}

	b, ok := out.(bool)
	if !ok {
		return false, nil
	}
	return b, nil
}

// buildEnv constructs the dynamic binding set the expression sees:
// time/space/source as loosely typed object maps, type as a string, and
// meta as a map whose missing keys resolve to nil rather than panicking
// or erroring, so `meta.iso == 100` on a file lacking an `iso` tag
// evaluates the comparison to false instead of failing the whole rule.
func buildEnv(ctx mediacontext.MediaContext) map[string]interface{} {
	meta := make(map[string]interface{}, len(ctx.Meta))
	for k, v := range ctx.Meta {
		switch v.Kind {
		case mediacontext.KindInt:
			meta[k] = v.Int
		case mediacontext.KindFloat:
			meta[k] = v.Flt
		default:
			meta[k] = v.Str
		}
	}

	return map[string]interface{}{
		"type": ctx.Type,
		"time": map[string]interface{}{
			"yyyy":       ctx.Time.Yyyy,
			"mm":         ctx.Time.Mm,
			"dd":         ctx.Time.Dd,
			"hh":         ctx.Time.Hh,
			"min":        ctx.Time.Min,
			"ss":         ctx.Time.Ss,
			"month_name": ctx.Time.MonthName,
			"weekday":    ctx.Time.Weekday,
		},
		"space": map[string]interface{}{
			"lat":          ctx.Space.Lat,
			"lon":          ctx.Space.Lon,
			"country":      ctx.Space.Country,
			"country_code": ctx.Space.CountryCode,
			"state":        ctx.Space.State,
			"city":         ctx.Space.City,
			"district":     ctx.Space.District,
			"road":         ctx.Space.Road,
		},
		"source": map[string]interface{}{
			"path":      ctx.Source.Path,
			"name":      ctx.Source.Name,
			"extension": ctx.Source.Extension,
			"original":  ctx.Source.Original,
			"size":      ctx.Source.Size,
		},
		"meta": meta,
	}
}

// operatorToken matches the binary/unary/ternary operators that each add
// one level to an expr AST, symbol and keyword forms alike.
var operatorToken = regexp.MustCompile(`&&|\|\||==|!=|>=|<=|\?\?|\bnot\b|\band\b|\bor\b|\bin\b|\bmatches\b|[<>+\-*/%?:!]`)

// nestingDepth bounds the depth of the AST expr.Compile would build for
// expression, without compiling it first. It is a textual proxy, not a
// walk of the compiled tree, so it must never under-count: bracket/paren
// nesting is structural depth, and every operator token adds one level to
// whatever it combines (a long unparenthesized chain like "a && a && a…"
// is just as deep as the same chain wrapped in parentheses). Summing
// operator count with max bracket depth therefore only ever over-counts
// relative to the true AST depth, which is the safe direction for a cap.
func nestingDepth(expression string) int {
	depth, maxBracket := 0, 0
	for _, r := range expression {
		switch r {
		case '(', '[':
			depth++
			if depth > maxBracket {
				maxBracket = depth
			}
		case ')', ']':
			if depth > 0 {
				depth--
			}
		}
	}
	opCount := len(operatorToken.FindAllStringIndex(expression, -1))
	return maxBracket + opCount
}
