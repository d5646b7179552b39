// Package template expands `{a.b}` placeholders in destination path
// templates against a media context, in a single non-recursive pass.
package template

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/nilp0inter/monana/internal/mediacontext"
)

var placeholder = regexp.MustCompile(`\{([A-Za-z_][A-Za-z0-9_]*(?:\.[A-Za-z_][A-Za-z0-9_]*)*)\}`)

// Expand resolves every `{ident(.ident)*}` placeholder in tmpl against ctx.
// Unknown references are rendered as the literal `{unknown:<name>}` rather
// than silently dropped. The scan is a single pass: substituted text is
// never re-scanned for further placeholders.
func Expand(tmpl string, ctx mediacontext.MediaContext) string {
	return placeholder.ReplaceAllStringFunc(tmpl, func(match string) string {
		name := match[1 : len(match)-1]
		v, ok := resolve(name, ctx)
		if !ok {
			return "{unknown:" + name + "}"
		}
		return v
	})
}

func resolve(name string, ctx mediacontext.MediaContext) (string, bool) {
	parts := strings.SplitN(name, ".", 2)
	switch parts[0] {
	case "type":
		if len(parts) == 1 {
			return ctx.Type, true
		}
		return "", false
	case "time":
		if len(parts) != 2 {
			return "", false
		}
		return resolveTime(parts[1], ctx.Time)
	case "space":
		if len(parts) != 2 {
			return "", false
		}
		return resolveSpace(parts[1], ctx.Space)
	case "source":
		if len(parts) != 2 {
			return "", false
		}
		return resolveSource(parts[1], ctx.Source)
	case "meta":
		if len(parts) != 2 {
			return "", false
		}
		tag, ok := ctx.Meta[parts[1]]
		if !ok {
			return "", false
		}
		return tag.String(), true
	default:
		return "", false
	}
}

func resolveTime(field string, t mediacontext.TimeContext) (string, bool) {
	switch field {
	case "yyyy":
		return t.Yyyy, true
	case "mm":
		return t.Mm, true
	case "dd":
		return t.Dd, true
	case "hh":
		return t.Hh, true
	case "min":
		return t.Min, true
	case "ss":
		return t.Ss, true
	case "month_name":
		return t.MonthName, true
	case "weekday":
		return t.Weekday, true
	default:
		return "", false
	}
}

func resolveSpace(field string, s mediacontext.SpaceContext) (string, bool) {
	switch field {
	case "lat":
		return formatFloat(s.Lat), true
	case "lon":
		return formatFloat(s.Lon), true
	case "altitude":
		if s.Altitude == nil {
			return "", false
		}
		return formatFloat(*s.Altitude), true
	case "country":
		return s.Country, true
	case "country_code":
		return s.CountryCode, true
	case "state":
		return s.State, true
	case "city":
		return s.City, true
	case "district":
		return s.District, true
	case "road":
		return s.Road, true
	default:
		return "", false
	}
}

func resolveSource(field string, s mediacontext.SourceContext) (string, bool) {
	switch field {
	case "path":
		return s.Path, true
	case "name":
		return s.Name, true
	case "extension":
		return s.Extension, true
	case "original":
		return s.Original, true
	case "size":
		return strconv.FormatInt(s.Size, 10), true
	default:
		return "", false
	}
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
