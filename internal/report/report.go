package report

import (
	"fmt"
	"io"
	"sort"

	"github.com/gocarina/gocsv"

	"github.com/frederic-klein/distsqueeze/internal/patch"
)

// Mode selects which alternative codec a record is compared against.
type Mode string

const (
	// ModeFirst compares the original against the second recorded codec only.
	ModeFirst Mode = "first"
	// ModeBest compares the original against the smallest alternative.
	ModeBest Mode = "best"
)

// ParseMode validates a mode name.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeFirst, ModeBest:
		return Mode(s), nil
	default:
		return "", fmt.Errorf("unknown compare mode %q", s)
	}
}

// Line is one patch for which another codec beats the published one.
type Line struct {
	Stem     string `csv:"stem"`
	Codec    string `csv:"original_codec"`
	Size     int64  `csv:"original_size"`
	AltCodec string `csv:"-"`
	AltSize  int64  `csv:"alternative_size"`
}

// Compare returns the line for rec if some alternative codec is strictly
// smaller than the original.
func Compare(rec *patch.Record, mode Mode) (Line, bool) {
	orig, ok := rec.Artifact(rec.Original)
	if !ok || orig.Size < 0 {
		return Line{}, false
	}

	var best *patch.Artifact
	for _, ext := range rec.Codecs() {
		if ext == rec.Original {
			continue
		}
		a, _ := rec.Artifact(ext)
		if a.Size < 0 {
			continue
		}
		if best == nil || a.Size < best.Size {
			alt := a
			best = &alt
		}
		if mode == ModeFirst {
			break
		}
	}

	if best == nil || best.Size >= orig.Size {
		return Line{}, false
	}
	return Line{
		Stem:     rec.Stem,
		Codec:    rec.Original,
		Size:     orig.Size,
		AltCodec: best.Codec,
		AltSize:  best.Size,
	}, true
}

// Lines compares every record and returns the hits sorted by stem.
func Lines(records map[string]*patch.Record, mode Mode) []Line {
	var lines []Line
	for _, rec := range records {
		if line, ok := Compare(rec, mode); ok {
			lines = append(lines, line)
		}
	}
	sort.Slice(lines, func(i, j int) bool {
		return lines[i].Stem < lines[j].Stem
	})
	return lines
}

// Emitter writes report lines as headerless CSV.
type Emitter struct {
	w io.Writer
}

// NewEmitter creates a new report emitter.
func NewEmitter(w io.Writer) *Emitter {
	return &Emitter{w: w}
}

// Emit writes one "stem,codec,size,altsize" line per entry.
func (e *Emitter) Emit(lines []Line) error {
	if len(lines) == 0 {
		return nil
	}
	if err := gocsv.MarshalWithoutHeaders(lines, e.w); err != nil {
		return fmt.Errorf("writing report: %w", err)
	}
	return nil
}
