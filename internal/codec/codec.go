package codec

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
)

// Codec encodes and decodes whole files. Implementations write to a
// temporary file next to dst and rename it into place, so dst only ever
// exists in complete form.
type Codec interface {
	Name() string
	Ext() string
	Decode(ctx context.Context, src, dst string) error
	Encode(ctx context.Context, src, dst string) error
}

// Backend selects how codecs are executed.
type Backend string

const (
	// BackendExec shells out to the codec's command-line tools.
	BackendExec Backend = "exec"
	// BackendNative encodes in-process with Go libraries.
	BackendNative Backend = "native"
)

// UnknownCodecError is returned for an extension with no registered codec.
type UnknownCodecError struct {
	Ext string
}

func (e *UnknownCodecError) Error() string {
	return fmt.Sprintf("unknown compression format: %s", e.Ext)
}

// Registry maps codec extensions to implementations.
type Registry struct {
	codecs map[string]Codec
}

// NewRegistry returns a registry holding every known codec for backend.
func NewRegistry(backend Backend) (*Registry, error) {
	var codecs []Codec
	switch backend {
	case BackendExec, "":
		codecs = execCodecs()
	case BackendNative:
		codecs = nativeCodecs()
	default:
		return nil, fmt.Errorf("unknown codec backend %q", backend)
	}

	r := &Registry{codecs: make(map[string]Codec)}
	for _, c := range codecs {
		r.Register(c)
	}
	return r, nil
}

// Register adds or replaces a codec.
func (r *Registry) Register(c Codec) {
	r.codecs[c.Ext()] = c
}

// Lookup returns the codec for ext.
func (r *Registry) Lookup(ext string) (Codec, error) {
	c, ok := r.codecs[ext]
	if !ok {
		return nil, &UnknownCodecError{Ext: ext}
	}
	return c, nil
}

// Validate checks that every extension is registered and, for codecs
// backed by external tools, that the tools can be found.
func (r *Registry) Validate(exts []string) error {
	for _, ext := range exts {
		c, err := r.Lookup(ext)
		if err != nil {
			return err
		}
		if a, ok := c.(interface{ Available() error }); ok {
			if err := a.Available(); err != nil {
				return fmt.Errorf("codec %s: %w", ext, err)
			}
		}
	}
	return nil
}

// Exts returns the registered extensions, sorted.
func (r *Registry) Exts() []string {
	exts := make([]string, 0, len(r.codecs))
	for ext := range r.codecs {
		exts = append(exts, ext)
	}
	sort.Strings(exts)
	return exts
}

// Known reports whether ext names a codec supported by every backend.
func Known(ext string) bool {
	_, ok := toolTable[ext]
	return ok
}

// writeAtomic writes dst through fill via a temporary file.
func writeAtomic(dst string, fill func(w io.Writer) error) error {
	tmpPath := dst + ".tmp"
	out, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("creating file: %w", err)
	}

	err = fill(out)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(tmpPath)
		return err
	}

	if err := os.Rename(tmpPath, dst); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("renaming file: %w", err)
	}
	return nil
}
