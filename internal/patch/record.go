package patch

import (
	"fmt"
	"path/filepath"
	"strings"
)

// Artifact is one encoded variant of a patch on disk.
type Artifact struct {
	Codec string // codec extension, e.g. "xz"
	Path  string
	Size  int64
}

// Record tracks a single patch through retrieval and re-encoding.
// It is keyed by Stem: the published filename minus its codec suffix.
type Record struct {
	Stem     string
	Dir      string
	Original string // codec the file was published under
	URI      string // empty when the original was already on disk

	// Canonical uncompressed form, set once decompression succeeds.
	Path string
	Size int64

	artifacts map[string]Artifact
	order     []string
}

// SplitStem splits "foo.patch.bz2" into ("foo.patch", "bz2").
func SplitStem(filename string) (stem, ext string, err error) {
	base := filepath.Base(filename)
	i := strings.LastIndex(base, ".")
	if i <= 0 || i == len(base)-1 {
		return "", "", fmt.Errorf("filename %q has no codec suffix", filename)
	}
	return base[:i], base[i+1:], nil
}

// NewRecord creates a record for a published file that will live in dir.
// The original artifact is registered with an unknown size until Measure
// or SetArtifact fills it in.
func NewRecord(dir, filename string) (*Record, error) {
	stem, ext, err := SplitStem(filename)
	if err != nil {
		return nil, err
	}
	r := &Record{
		Stem:      stem,
		Dir:       dir,
		Original:  ext,
		artifacts: make(map[string]Artifact),
	}
	r.SetArtifact(Artifact{Codec: ext, Path: r.ArtifactPath(ext), Size: -1})
	return r, nil
}

// ArtifactPath returns where the artifact for codec ext lives.
func (r *Record) ArtifactPath(ext string) string {
	return filepath.Join(r.Dir, r.Stem+"."+ext)
}

// CanonicalPath returns where the decompressed form lives.
func (r *Record) CanonicalPath() string {
	return filepath.Join(r.Dir, r.Stem)
}

// SetArtifact records (or replaces) the artifact for a codec. Codecs keep
// the order in which they were first added.
func (r *Record) SetArtifact(a Artifact) {
	if _, ok := r.artifacts[a.Codec]; !ok {
		r.order = append(r.order, a.Codec)
	}
	r.artifacts[a.Codec] = a
}

// Artifact returns the artifact recorded for codec ext.
func (r *Record) Artifact(ext string) (Artifact, bool) {
	a, ok := r.artifacts[ext]
	return a, ok
}

// Has reports whether an artifact exists for codec ext.
func (r *Record) Has(ext string) bool {
	_, ok := r.artifacts[ext]
	return ok
}

// OriginalArtifact returns the artifact for the published codec.
func (r *Record) OriginalArtifact() Artifact {
	return r.artifacts[r.Original]
}

// Codecs returns recorded codecs in insertion order; the original is first.
func (r *Record) Codecs() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Decompressed reports whether the canonical form has been produced.
func (r *Record) Decompressed() bool {
	return r.Path != ""
}

// Complete reports whether every artifact in exts has a measured size.
func (r *Record) Complete(exts []string) bool {
	if !r.Decompressed() {
		return false
	}
	for _, ext := range exts {
		a, ok := r.artifacts[ext]
		if !ok || a.Size < 0 {
			return false
		}
	}
	return true
}
