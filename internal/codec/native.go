package codec

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/dsnet/compress/bzip2"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
	"github.com/ulikunitz/xz"
)

// NativeCodec encodes in-process through streaming reader/writer
// constructors.
type NativeCodec struct {
	ext       string
	name      string
	newReader func(io.Reader) (io.ReadCloser, error)
	newWriter func(io.Writer) (io.WriteCloser, error)
}

func nativeCodecs() []Codec {
	return []Codec{
		&NativeCodec{
			ext:  "bz2",
			name: "bzip2",
			newReader: func(r io.Reader) (io.ReadCloser, error) {
				return bzip2.NewReader(r, nil)
			},
			newWriter: func(w io.Writer) (io.WriteCloser, error) {
				return bzip2.NewWriter(w, &bzip2.WriterConfig{Level: bzip2.BestCompression})
			},
		},
		&NativeCodec{
			ext:  "xz",
			name: "xz",
			newReader: func(r io.Reader) (io.ReadCloser, error) {
				xr, err := xz.NewReader(r)
				if err != nil {
					return nil, err
				}
				return io.NopCloser(xr), nil
			},
			newWriter: func(w io.Writer) (io.WriteCloser, error) {
				return xz.NewWriter(w)
			},
		},
		&NativeCodec{
			ext:  "gz",
			name: "gzip",
			newReader: func(r io.Reader) (io.ReadCloser, error) {
				return gzip.NewReader(r)
			},
			newWriter: func(w io.Writer) (io.WriteCloser, error) {
				return gzip.NewWriterLevel(w, gzip.BestCompression)
			},
		},
		&NativeCodec{
			ext:  "zst",
			name: "zstd",
			newReader: func(r io.Reader) (io.ReadCloser, error) {
				dec, err := zstd.NewReader(r)
				if err != nil {
					return nil, err
				}
				return dec.IOReadCloser(), nil
			},
			newWriter: func(w io.Writer) (io.WriteCloser, error) {
				return zstd.NewWriter(w,
					zstd.WithEncoderLevel(zstd.SpeedDefault),
					zstd.WithEncoderConcurrency(1),
				)
			},
		},
		&NativeCodec{
			ext:  "lz4",
			name: "lz4",
			newReader: func(r io.Reader) (io.ReadCloser, error) {
				return io.NopCloser(lz4.NewReader(r)), nil
			},
			newWriter: func(w io.Writer) (io.WriteCloser, error) {
				return lz4.NewWriter(w), nil
			},
		},
	}
}

func (c *NativeCodec) Name() string { return c.name }
func (c *NativeCodec) Ext() string  { return c.ext }

func (c *NativeCodec) Decode(ctx context.Context, src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("opening source: %w", err)
	}
	defer in.Close()

	return writeAtomic(dst, func(w io.Writer) error {
		r, err := c.newReader(in)
		if err != nil {
			return fmt.Errorf("%s decode: %w", c.name, err)
		}
		defer r.Close()

		if _, err := io.Copy(w, &ctxReader{ctx: ctx, r: r}); err != nil {
			return fmt.Errorf("%s decode: %w", c.name, err)
		}
		return nil
	})
}

func (c *NativeCodec) Encode(ctx context.Context, src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("opening source: %w", err)
	}
	defer in.Close()

	return writeAtomic(dst, func(w io.Writer) error {
		zw, err := c.newWriter(w)
		if err != nil {
			return fmt.Errorf("%s encode: %w", c.name, err)
		}
		if _, err := io.Copy(zw, &ctxReader{ctx: ctx, r: in}); err != nil {
			zw.Close()
			return fmt.Errorf("%s encode: %w", c.name, err)
		}
		if err := zw.Close(); err != nil {
			return fmt.Errorf("%s encode: %w", c.name, err)
		}
		return nil
	})
}

// ctxReader stops a copy once ctx is done.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (cr *ctxReader) Read(p []byte) (int, error) {
	if err := cr.ctx.Err(); err != nil {
		return 0, err
	}
	return cr.r.Read(p)
}
