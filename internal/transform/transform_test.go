package transform

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/frederic-klein/distsqueeze/internal/codec"
	"github.com/frederic-klein/distsqueeze/internal/patch"
)

// countingCodec copies bytes through and counts invocations.
type countingCodec struct {
	ext     string
	decodes int
	encodes int
	fail    error
}

func (c *countingCodec) Name() string { return c.ext }
func (c *countingCodec) Ext() string  { return c.ext }

func (c *countingCodec) Decode(_ context.Context, src, dst string) error {
	c.decodes++
	return c.copy(src, dst)
}

func (c *countingCodec) Encode(_ context.Context, src, dst string) error {
	c.encodes++
	return c.copy(src, dst)
}

func (c *countingCodec) copy(src, dst string) error {
	if c.fail != nil {
		return c.fail
	}
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	return os.WriteFile(dst, data, 0644)
}

func patchContent() []byte {
	return bytes.Repeat([]byte("+\tif (ptr == NULL) return -ENOMEM;\n"), 300)
}

// publish writes content to dir/name encoded with the native codec for ext.
func publish(t *testing.T, dir, name string, content []byte) {
	t.Helper()
	reg, err := codec.NewRegistry(codec.BackendNative)
	require.NoError(t, err)

	stem, ext, err := patch.SplitStem(name)
	require.NoError(t, err)
	c, err := reg.Lookup(ext)
	require.NoError(t, err)

	plain := filepath.Join(t.TempDir(), stem)
	require.NoError(t, os.WriteFile(plain, content, 0644))
	require.NoError(t, c.Encode(context.Background(), plain, filepath.Join(dir, name)))
}

func TestEngine_Run_Native(t *testing.T) {
	// Arrange
	dir := t.TempDir()
	publish(t, dir, "foo.patch.bz2", patchContent())

	reg, err := codec.NewRegistry(codec.BackendNative)
	require.NoError(t, err)
	engine := NewEngine(reg, []string{"bz2", "xz", "zst"}, nil, nil)

	rec, err := patch.NewRecord(dir, "foo.patch.bz2")
	require.NoError(t, err)

	// Act
	err = engine.Run(context.Background(), rec)

	// Assert
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "foo.patch"), rec.Path)
	assert.Equal(t, int64(len(patchContent())), rec.Size)
	assert.Equal(t, []string{"bz2", "xz", "zst"}, rec.Codecs())
	assert.True(t, rec.Complete(engine.Exts()))

	for _, ext := range []string{"bz2", "xz", "zst"} {
		a, ok := rec.Artifact(ext)
		require.True(t, ok)
		info, err := os.Stat(a.Path)
		require.NoError(t, err)
		assert.Equal(t, info.Size(), a.Size, ext)
	}

	plain, err := os.ReadFile(rec.Path)
	require.NoError(t, err)
	assert.Equal(t, patchContent(), plain)
}

func TestEngine_Run_SkipsExistingFiles(t *testing.T) {
	// Arrange
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "foo.patch.aa"), []byte("original"), 0644))

	aa := &countingCodec{ext: "aa"}
	bb := &countingCodec{ext: "bb"}
	reg, err := codec.NewRegistry(codec.BackendNative)
	require.NoError(t, err)
	reg.Register(aa)
	reg.Register(bb)
	engine := NewEngine(reg, []string{"aa", "bb"}, nil, nil)

	// Act
	for i := 0; i < 2; i++ {
		rec, err := patch.NewRecord(dir, "foo.patch.aa")
		require.NoError(t, err)
		require.NoError(t, engine.Run(context.Background(), rec))
	}

	// Assert
	assert.Equal(t, 1, aa.decodes, "decompression should run once")
	assert.Equal(t, 0, aa.encodes, "original codec is never re-encoded")
	assert.Equal(t, 1, bb.encodes, "recompression should run once")
}

func TestEngine_Run_SizesStableAcrossRuns(t *testing.T) {
	reg, err := codec.NewRegistry(codec.BackendNative)
	require.NoError(t, err)
	engine := NewEngine(reg, []string{"xz", "bz2"}, nil, nil)

	var sizes [2]map[string]int64
	for i := range sizes {
		dir := t.TempDir()
		publish(t, dir, "foo.patch.xz", patchContent())

		rec, err := patch.NewRecord(dir, "foo.patch.xz")
		require.NoError(t, err)
		require.NoError(t, engine.Run(context.Background(), rec))

		sizes[i] = make(map[string]int64)
		for _, ext := range rec.Codecs() {
			a, _ := rec.Artifact(ext)
			sizes[i][ext] = a.Size
		}
	}

	assert.Equal(t, sizes[0], sizes[1])
}

func TestEngine_Run_UnknownCodec(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "foo.patch.rar"), []byte("rar"), 0644))

	reg, err := codec.NewRegistry(codec.BackendNative)
	require.NoError(t, err)
	engine := NewEngine(reg, []string{"bz2", "xz"}, nil, nil)

	rec, err := patch.NewRecord(dir, "foo.patch.rar")
	require.NoError(t, err)

	err = engine.Run(context.Background(), rec)

	var unknown *codec.UnknownCodecError
	require.True(t, errors.As(err, &unknown), "got %v", err)
	assert.Equal(t, "rar", unknown.Ext)
	assert.False(t, rec.Decompressed())
}

func TestEngine_Run_ToolFailure(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "foo.patch.aa"), []byte("original"), 0644))

	boom := errors.New("exit status 1")
	reg, err := codec.NewRegistry(codec.BackendNative)
	require.NoError(t, err)
	reg.Register(&countingCodec{ext: "aa"})
	reg.Register(&countingCodec{ext: "bb", fail: boom})
	engine := NewEngine(reg, []string{"aa", "bb"}, nil, nil)

	rec, err := patch.NewRecord(dir, "foo.patch.aa")
	require.NoError(t, err)

	err = engine.Run(context.Background(), rec)

	require.ErrorIs(t, err, boom)
	assert.True(t, strings.Contains(err.Error(), "foo.patch.bb"))
	assert.False(t, rec.Has("bb"))
	assert.False(t, rec.Complete(engine.Exts()))
}

func TestEngine_Run_MissingOriginal(t *testing.T) {
	reg, err := codec.NewRegistry(codec.BackendNative)
	require.NoError(t, err)
	engine := NewEngine(reg, []string{"bz2", "xz"}, nil, nil)

	rec, err := patch.NewRecord(t.TempDir(), "gone.patch.bz2")
	require.NoError(t, err)

	assert.Error(t, engine.Run(context.Background(), rec))
}

func TestEngine_Recompress_RequiresDecompression(t *testing.T) {
	reg, err := codec.NewRegistry(codec.BackendNative)
	require.NoError(t, err)
	engine := NewEngine(reg, []string{"bz2", "xz"}, nil, nil)

	rec, err := patch.NewRecord(t.TempDir(), "foo.patch.bz2")
	require.NoError(t, err)

	assert.Error(t, engine.Recompress(context.Background(), rec))
}
