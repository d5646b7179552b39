// Package extractor fuses EXIF, video, filesystem, geocoding, and
// location-history facts into a single MediaContext per file, in the
// four-phase order described by the pipeline specification: source
// facts, EXIF, fallbacks, defaults.
package extractor

import (
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/abema/go-mp4"
	"github.com/gabriel-vasile/mimetype"
	"github.com/rwcarlsen/goexif/exif"
	"github.com/rwcarlsen/goexif/tiff"

	"github.com/nilp0inter/monana/internal/geocoder"
	"github.com/nilp0inter/monana/internal/locationhistory"
	"github.com/nilp0inter/monana/internal/mediacontext"
	"github.com/nilp0inter/monana/internal/monanaerr"
)

// Options configures the history-dependent fallback of phase 3.
type Options struct {
	History  *locationhistory.History
	MaxHours uint
}

// Extract derives a MediaContext for the file at path, applying the
// four-phase fusion of spec.md §4.3. Only a failure to open or stat the
// file itself is returned as an error; EXIF and metadata parse failures
// are swallowed and fall through to later phases.
func Extract(path string, opts Options) (mediacontext.MediaContext, error) {
	ctx := mediacontext.New()

	info, err := os.Stat(path)
	if err != nil {
		return ctx, monanaerr.New(monanaerr.KindExtraction, "stat", path, err)
	}
	f, err := os.Open(path)
	if err != nil {
		return ctx, monanaerr.New(monanaerr.KindExtraction, "open", path, err)
	}
	f.Close()

	// Phase 1 — source facts.
	ext := filepath.Ext(info.Name())
	ctx.Source = mediacontext.SourceContext{
		Path:      filepath.Dir(path),
		Name:      strings.TrimSuffix(info.Name(), ext),
		Extension: strings.TrimPrefix(ext, "."),
		Original:  info.Name(),
		Size:      info.Size(),
	}
	ctx.Type = detectType(path)

	// Phase 2 — EXIF.
	extractEXIF(path, &ctx)

	// Phase 3 — fallbacks.
	applyFallbacks(path, info, &ctx, opts)

	// Phase 4 — defaults.
	applyDefaults(&ctx)

	return ctx, nil
}

func detectType(path string) string {
	mt, err := mimetype.DetectFile(path)
	if err != nil {
		return mediacontext.TypeUnknown
	}
	s := mt.String()
	switch {
	case strings.HasPrefix(s, "image/"):
		return mediacontext.TypeImage
	case strings.HasPrefix(s, "video/"):
		return mediacontext.TypeVideo
	default:
		return mediacontext.TypeUnknown
	}
}

// extractEXIF performs the GPS pass and the tag pass of phase 2. Any
// failure to decode EXIF (no EXIF present, corrupt block) is swallowed:
// the context is left as-is for phase 3 to fill in.
func extractEXIF(path string, ctx *mediacontext.MediaContext) {
	f, err := os.Open(path)
	if err != nil {
		return
	}
	defer f.Close()

	x, err := exif.Decode(f)
	if err != nil {
		return
	}

	// GPS pass.
	if lat, lon, err := x.LatLong(); err == nil && !(lat == 0 && lon == 0) {
		ctx.Space.Lat = lat
		ctx.Space.Lon = lon
		if alt, err := extractAltitude(x); err == nil {
			ctx.Space.Altitude = &alt
		}
		geo := geocoder.ReverseGeocode(lat, lon)
		ctx.Space.Country = geo.Country
		ctx.Space.CountryCode = geo.CountryCode
		ctx.Space.State = geo.State
		ctx.Space.City = geo.City
	}

	// Tag pass: populate meta and derive the time block from
	// DateTimeOriginal/CreateDate, whichever is encountered last.
	w := &tagWalker{ctx: ctx}
	_ = x.Walk(w)
}

func extractAltitude(x *exif.Exif) (float64, error) {
	tag, err := x.Get(exif.GPSAltitude)
	if err != nil {
		return 0, err
	}
	r, err := tag.Rat(0)
	if err != nil {
		return 0, err
	}
	f, _ := r.Float64()
	return f, nil
}

type tagWalker struct {
	ctx *mediacontext.MediaContext
}

func (w *tagWalker) Walk(name exif.FieldName, tag *tiff.Tag) error {
	value := tagToValue(tag)
	w.ctx.Meta[string(name)] = value

	if name == exif.DateTimeOriginal || name == exif.FieldName("CreateDate") {
		if value.Kind == mediacontext.KindString {
			if t, ok := parseEXIFDateTime(value.Str); ok {
				w.ctx.Time = mediacontext.FromTime(t)
			}
		}
	}
	return nil
}

// tagToValue converts a raw EXIF tag to a tagged dynamic value using the
// precedence of spec.md §4.3 phase 2(b): integer widths first, then
// rational as float, then string, else a debug-formatted string.
func tagToValue(tag *tiff.Tag) mediacontext.TagValue {
	switch tag.Type {
	case tiff.DTByte, tiff.DTShort, tiff.DTLong, tiff.DTSByte, tiff.DTSShort, tiff.DTSLong:
		if v, err := tag.Int(0); err == nil {
			return mediacontext.IntTag(int64(v))
		}
	case tiff.DTRational, tiff.DTSRational:
		if r, err := tag.Rat(0); err == nil {
			f, _ := r.Float64()
			return mediacontext.FloatTag(f)
		}
	case tiff.DTAscii:
		if s, err := tag.StringVal(); err == nil {
			return mediacontext.StringTag(s)
		}
	}
	return mediacontext.StringTag(tag.String())
}

var exifDateRe = regexp.MustCompile(`^(\d{4}):(\d{2}):(\d{2}) (\d{2}:\d{2}:\d{2})$`)

// parseEXIFDateTime recognizes the EXIF "YYYY:MM:DD HH:MM:SS" string form
// (colons in the date part replaced by dashes, then parsed as UTC) plus
// the two debug-formatted shapes an upstream parser may emit:
// "Time(<rfc3339>)" and "NaiveDateTime(<iso-without-offset>)".
func parseEXIFDateTime(raw string) (time.Time, bool) {
	raw = strings.TrimSpace(raw)

	if strings.HasPrefix(raw, "Time(") && strings.HasSuffix(raw, ")") {
		inner := raw[len("Time(") : len(raw)-1]
		if t, err := time.Parse(time.RFC3339, inner); err == nil {
			return t.UTC(), true
		}
		return time.Time{}, false
	}

	if strings.HasPrefix(raw, "NaiveDateTime(") && strings.HasSuffix(raw, ")") {
		inner := raw[len("NaiveDateTime(") : len(raw)-1]
		if t, err := time.Parse("2006-01-02T15:04:05", inner); err == nil {
			return t.UTC(), true
		}
		return time.Time{}, false
	}

	if m := exifDateRe.FindStringSubmatch(raw); m != nil {
		iso := fmt.Sprintf("%s-%s-%sT%sZ", m[1], m[2], m[3], m[4])
		if t, err := time.Parse(time.RFC3339, iso); err == nil {
			return t.UTC(), true
		}
	}

	return time.Time{}, false
}

// applyFallbacks runs phase 3 in spec order, each step only engaging if
// its target is still unset.
func applyFallbacks(path string, info os.FileInfo, ctx *mediacontext.MediaContext, opts Options) {
	// 3.1 image dimensions.
	if _, hasW := ctx.Meta["ImageWidth"]; !hasW {
		if _, hasH := ctx.Meta["ImageHeight"]; !hasH {
			if w, h, ok := probeImageDimensions(path); ok {
				ctx.Meta["ImageWidth"] = mediacontext.IntTag(int64(w))
				ctx.Meta["ImageHeight"] = mediacontext.IntTag(int64(h))
			}
		}
	}

	// 3.2 filename date pattern for videos.
	if !ctx.Time.IsSet() && ctx.Type == mediacontext.TypeVideo {
		if t, ok := dateFromFilename(info.Name()); ok {
			ctx.Time = mediacontext.FromTime(t)
		}
	}

	// 3.2b video container creation time (ambient to the teacher's
	// domain, carried forward from handler/exif.go's Mvhd-box reader).
	if !ctx.Time.IsSet() && ctx.Type == mediacontext.TypeVideo {
		if t, ok := videoCreationTime(path, info.ModTime()); ok {
			ctx.Time = mediacontext.FromTime(t)
		}
	}

	// 3.3 filesystem creation time.
	if !ctx.Time.IsSet() {
		if t, ok := fsCreationTime(info); ok {
			ctx.Time = mediacontext.FromTime(t)
		}
	}

	// 3.4 location-history nearest point.
	if ctx.Space.Lat == 0.0 && ctx.Space.Lon == 0.0 && ctx.Time.IsSet() && opts.History != nil {
		applyLocationHistoryFallback(ctx, opts)
	}
}

func probeImageDimensions(path string) (int, int, bool) {
	f, err := os.Open(path)
	if err != nil {
		return 0, 0, false
	}
	defer f.Close()

	cfg, _, err := image.DecodeConfig(f)
	if err != nil {
		return 0, 0, false
	}
	return cfg.Width, cfg.Height, true
}

var (
	digitsDateRe = regexp.MustCompile(`(\d{8})`)
	isoDateRe    = regexp.MustCompile(`^(\d{4})[-. ](\d{2})[-. ](\d{2})`)
)

// dateFromFilename recognizes either eight consecutive digits
// (YYYYMMDD) or an ISO-ish prefix (YYYY-MM-DD / YYYY.MM.DD / YYYY MM DD)
// in a video's basename, accepting only calendrically valid dates in the
// range [1900, 2100].
func dateFromFilename(name string) (time.Time, bool) {
	if m := isoDateRe.FindStringSubmatch(name); m != nil {
		if t, ok := buildDate(m[1], m[2], m[3]); ok {
			return t, true
		}
	}
	if m := digitsDateRe.FindStringSubmatch(name); m != nil {
		s := m[1]
		if t, ok := buildDate(s[0:4], s[4:6], s[6:8]); ok {
			return t, true
		}
	}
	return time.Time{}, false
}

func buildDate(yStr, mStr, dStr string) (time.Time, bool) {
	y, err1 := strconv.Atoi(yStr)
	mo, err2 := strconv.Atoi(mStr)
	d, err3 := strconv.Atoi(dStr)
	if err1 != nil || err2 != nil || err3 != nil {
		return time.Time{}, false
	}
	if y < 1900 || y > 2100 || mo < 1 || mo > 12 || d < 1 || d > 31 {
		return time.Time{}, false
	}
	t := time.Date(y, time.Month(mo), d, 0, 0, 0, 0, time.UTC)
	if t.Day() != d || int(t.Month()) != mo {
		return time.Time{}, false // day invalid for that month (e.g. Feb 30)
	}
	return t, true
}

// videoCreationTime reads the Mvhd box of an MP4/MOV container, applying
// the wall-clock heuristic for cameras that mis-store local time in the
// UTC creation_time field.
func videoCreationTime(path string, modTime time.Time) (time.Time, bool) {
	f, err := os.Open(path)
	if err != nil {
		return time.Time{}, false
	}
	defer f.Close()

	var found *time.Time
	_, err = mp4.ReadBoxStructure(f, func(h *mp4.ReadHandle) (interface{}, error) {
		if h.BoxInfo.Type == mp4.BoxTypeMoov() || h.BoxInfo.Type == mp4.BoxTypeTrak() {
			return h.Expand()
		}
		box, _, err := h.ReadPayload()
		if err != nil {
			// A malformed box never aborts extraction; later phases fill the gap.
			return nil, nil
		}
		mvhd, ok := box.(*mp4.Mvhd)
		if !ok {
			return nil, nil
		}
		epoch := time.Date(1904, 1, 1, 0, 0, 0, 0, time.UTC)
		raw := mvhd.GetCreationTime()
		if raw > uint64(1<<62) {
			return nil, nil
		}
		creationUTC := epoch.Add(time.Duration(int64(raw)) * time.Second)

		if wallClockLooksLocal(creationUTC, modTime) {
			y, mo, d := creationUTC.Date()
			h2, mi, s := creationUTC.Clock()
			local := time.Date(y, mo, d, h2, mi, s, 0, time.Local)
			found = &local
		} else {
			found = &creationUTC
		}
		return nil, nil
	})
	if err != nil || found == nil {
		return time.Time{}, false
	}
	return *found, true
}

func wallClockLooksLocal(creationUTC, modTime time.Time) bool {
	ch, cm, cs := creationUTC.Clock()
	mh, mm, ms := modTime.Clock()
	diff := absInt(ch-mh)*3600 + absInt(cm-mm)*60 + absInt(cs-ms)
	return diff < 5
}

func absInt(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

func fsCreationTime(info os.FileInfo) (time.Time, bool) {
	t := statCreationTime(info)
	if t.IsZero() {
		return time.Time{}, false
	}
	return t, true
}

func applyLocationHistoryFallback(ctx *mediacontext.MediaContext, opts Options) {
	targetMs := uint64(ctx.Time.Timestamp.UnixMilli())
	maxHours := opts.MaxHours
	if maxHours == 0 {
		maxHours = 48
	}
	maxDeltaMs := uint64(maxHours) * 3_600_000

	before, after := opts.History.FindClosestPoints(targetMs)

	pick := pickClosest(targetMs, maxDeltaMs, before, after)
	if pick == nil {
		return
	}

	lat := pick.Lat()
	lon := pick.Lon()
	ctx.Space.Lat = lat
	ctx.Space.Lon = lon
	geo := geocoder.ReverseGeocode(lat, lon)
	ctx.Space.Country = geo.Country
	ctx.Space.CountryCode = geo.CountryCode
	ctx.Space.State = geo.State
	ctx.Space.City = geo.City
}

// pickClosest chooses between before/after per spec.md §4.3 phase 3.4:
// reject candidates beyond maxDeltaMs, otherwise take the smaller delta,
// ties favoring before.
func pickClosest(targetMs, maxDeltaMs uint64, before, after *locationhistory.Point) *locationhistory.Point {
	var beforeDelta, afterDelta uint64
	beforeOK, afterOK := false, false

	if before != nil {
		beforeDelta = deltaMs(targetMs, before.TimestampMs)
		beforeOK = beforeDelta <= maxDeltaMs
	}
	if after != nil {
		afterDelta = deltaMs(targetMs, after.TimestampMs)
		afterOK = afterDelta <= maxDeltaMs
	}

	switch {
	case beforeOK && afterOK:
		if afterDelta < beforeDelta {
			return after
		}
		return before
	case beforeOK:
		return before
	case afterOK:
		return after
	default:
		return nil
	}
}

func deltaMs(a, b uint64) uint64 {
	if a > b {
		return a - b
	}
	return b - a
}

// applyDefaults runs phase 4. mediacontext.New already seeds Space with
// UnknownSpaceContext, and every place that resolves a location (the EXIF
// GPS pass, the location-history fallback) sets Country and City together,
// so only the time block can still be unset by this point.
func applyDefaults(ctx *mediacontext.MediaContext) {
	if !ctx.Time.IsSet() {
		ctx.Time = mediacontext.UnknownTimeContext()
	}
}
