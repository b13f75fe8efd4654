package codec

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
)

// tool describes the command lines for one codec. Both read the source on
// stdin and write the result to stdout.
type tool struct {
	name   string
	decode []string
	encode []string
}

var toolTable = map[string]tool{
	"bz2": {name: "bzip2", decode: []string{"bzip2", "-d", "-c"}, encode: []string{"bzip2", "-c"}},
	"xz":  {name: "xz", decode: []string{"xz", "-d", "-c"}, encode: []string{"xz", "-c"}},
	"gz":  {name: "gzip", decode: []string{"gzip", "-d", "-c"}, encode: []string{"gzip", "-c", "-n"}},
	"zst": {name: "zstd", decode: []string{"zstd", "-d", "-c", "-q"}, encode: []string{"zstd", "-c", "-q"}},
	"lz4": {name: "lz4", decode: []string{"lz4", "-d", "-c"}, encode: []string{"lz4", "-c"}},
}

// ToolError reports a codec tool that exited unsuccessfully.
type ToolError struct {
	Args     []string
	ExitCode int
	Stderr   string
	Err      error
}

func (e *ToolError) Error() string {
	msg := fmt.Sprintf("running %s: exit status %d", strings.Join(e.Args, " "), e.ExitCode)
	if e.Stderr != "" {
		msg += ": " + e.Stderr
	}
	return msg
}

func (e *ToolError) Unwrap() error {
	return e.Err
}

// ExecCodec runs external programs to encode and decode.
type ExecCodec struct {
	ext    string
	name   string
	decode []string
	encode []string
}

// NewExecCodec creates a codec that pipes files through the given commands.
// The commands must read stdin and write stdout.
func NewExecCodec(ext, name string, decode, encode []string) *ExecCodec {
	return &ExecCodec{ext: ext, name: name, decode: decode, encode: encode}
}

func execCodecs() []Codec {
	codecs := make([]Codec, 0, len(toolTable))
	for ext, t := range toolTable {
		codecs = append(codecs, NewExecCodec(ext, t.name, t.decode, t.encode))
	}
	return codecs
}

func (c *ExecCodec) Name() string { return c.name }
func (c *ExecCodec) Ext() string  { return c.ext }

// Available checks that both programs are on PATH.
func (c *ExecCodec) Available() error {
	for _, argv := range [][]string{c.decode, c.encode} {
		if _, err := exec.LookPath(argv[0]); err != nil {
			return err
		}
	}
	return nil
}

func (c *ExecCodec) Decode(ctx context.Context, src, dst string) error {
	return run(ctx, c.decode, src, dst)
}

func (c *ExecCodec) Encode(ctx context.Context, src, dst string) error {
	return run(ctx, c.encode, src, dst)
}

func run(ctx context.Context, argv []string, src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("opening source: %w", err)
	}
	defer in.Close()

	return writeAtomic(dst, func(w io.Writer) error {
		var stderr bytes.Buffer
		cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
		cmd.Stdin = in
		cmd.Stdout = w
		cmd.Stderr = &stderr

		if err := cmd.Run(); err != nil {
			code := -1
			var exitErr *exec.ExitError
			if errors.As(err, &exitErr) {
				code = exitErr.ExitCode()
			}
			return &ToolError{
				Args:     argv,
				ExitCode: code,
				Stderr:   strings.TrimSpace(stderr.String()),
				Err:      err,
			}
		}
		return nil
	})
}
