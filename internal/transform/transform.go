package transform

import (
	"context"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/frederic-klein/distsqueeze/internal/codec"
	"github.com/frederic-klein/distsqueeze/internal/metrics"
	"github.com/frederic-klein/distsqueeze/internal/patch"
)

// Engine decompresses a retrieved patch and re-encodes it under every
// configured codec. Existing files on disk are reused, never regenerated.
type Engine struct {
	codecs  *codec.Registry
	exts    []string
	logger  *zap.Logger
	metrics *metrics.Metrics
}

// NewEngine creates an engine producing an artifact for each of exts.
func NewEngine(codecs *codec.Registry, exts []string, logger *zap.Logger, m *metrics.Metrics) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		codecs:  codecs,
		exts:    append([]string(nil), exts...),
		logger:  logger,
		metrics: m,
	}
}

// Exts returns the configured codec extensions.
func (e *Engine) Exts() []string {
	return append([]string(nil), e.exts...)
}

// Run measures the original artifact, decompresses it and fills in every
// missing codec.
func (e *Engine) Run(ctx context.Context, rec *patch.Record) error {
	if err := e.Measure(rec); err != nil {
		return err
	}
	if err := e.Decompress(ctx, rec); err != nil {
		return err
	}
	return e.Recompress(ctx, rec)
}

// Measure records the on-disk size of the original artifact.
func (e *Engine) Measure(rec *patch.Record) error {
	orig := rec.OriginalArtifact()
	size, err := fileSize(orig.Path)
	if err != nil {
		return err
	}
	orig.Size = size
	rec.SetArtifact(orig)
	return nil
}

// Decompress writes the canonical uncompressed form next to the original.
func (e *Engine) Decompress(ctx context.Context, rec *patch.Record) error {
	orig := rec.OriginalArtifact()
	c, err := e.codecs.Lookup(orig.Codec)
	if err != nil {
		return err
	}

	dst := rec.CanonicalPath()
	if !exists(dst) {
		e.logger.Debug("decompressing", zap.String("src", orig.Path), zap.String("codec", orig.Codec))
		err := c.Decode(ctx, orig.Path, dst)
		e.metrics.CodecRun(orig.Codec, "decode", err)
		if err != nil {
			return fmt.Errorf("decompressing %s: %w", orig.Path, err)
		}
	}

	size, err := fileSize(dst)
	if err != nil {
		return err
	}
	rec.Path = dst
	rec.Size = size
	return nil
}

// Recompress encodes the canonical form under each configured codec the
// record does not have yet, in configuration order.
func (e *Engine) Recompress(ctx context.Context, rec *patch.Record) error {
	if !rec.Decompressed() {
		return fmt.Errorf("recompressing %s: not decompressed", rec.Stem)
	}

	for _, ext := range e.exts {
		if rec.Has(ext) {
			continue
		}
		c, err := e.codecs.Lookup(ext)
		if err != nil {
			return err
		}

		dst := rec.ArtifactPath(ext)
		if !exists(dst) {
			e.logger.Debug("compressing", zap.String("dst", dst), zap.String("codec", ext))
			err := c.Encode(ctx, rec.Path, dst)
			e.metrics.CodecRun(ext, "encode", err)
			if err != nil {
				return fmt.Errorf("compressing %s: %w", dst, err)
			}
		}

		size, err := fileSize(dst)
		if err != nil {
			return err
		}
		rec.SetArtifact(patch.Artifact{Codec: ext, Path: dst, Size: size})
	}
	return nil
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func fileSize(path string) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, fmt.Errorf("measuring %s: %w", path, err)
	}
	return info.Size(), nil
}
