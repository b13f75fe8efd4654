package patch

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitStem(t *testing.T) {
	tests := []struct {
		filename string
		wantStem string
		wantExt  string
		wantErr  bool
	}{
		{"foo.patch.bz2", "foo.patch", "bz2", false},
		{"ambertools-1.5-bugfix_1-10.patch.xz", "ambertools-1.5-bugfix_1-10.patch", "xz", false},
		{"/some/dir/bar.patches.tar.xz", "bar.patches.tar", "xz", false},
		{"noext", "", "", true},
		{"trailing.", "", "", true},
		{".hidden", "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.filename, func(t *testing.T) {
			stem, ext, err := SplitStem(tt.filename)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantStem, stem)
			assert.Equal(t, tt.wantExt, ext)
		})
	}
}

func TestNewRecord(t *testing.T) {
	rec, err := NewRecord("/work", "foo.patch.bz2")
	require.NoError(t, err)

	assert.Equal(t, "foo.patch", rec.Stem)
	assert.Equal(t, "bz2", rec.Original)
	assert.Equal(t, []string{"bz2"}, rec.Codecs())
	assert.Equal(t, filepath.Join("/work", "foo.patch.bz2"), rec.OriginalArtifact().Path)
	assert.Equal(t, filepath.Join("/work", "foo.patch"), rec.CanonicalPath())
	assert.False(t, rec.Decompressed())
}

func TestRecord_SetArtifactKeepsInsertionOrder(t *testing.T) {
	rec, err := NewRecord("/work", "foo.patch.xz")
	require.NoError(t, err)

	rec.SetArtifact(Artifact{Codec: "bz2", Path: rec.ArtifactPath("bz2"), Size: 10})
	rec.SetArtifact(Artifact{Codec: "zst", Path: rec.ArtifactPath("zst"), Size: 12})
	rec.SetArtifact(Artifact{Codec: "xz", Path: rec.ArtifactPath("xz"), Size: 8})

	assert.Equal(t, []string{"xz", "bz2", "zst"}, rec.Codecs())
	assert.Equal(t, int64(8), rec.OriginalArtifact().Size)
}

func TestRecord_Complete(t *testing.T) {
	rec, err := NewRecord("/work", "foo.patch.bz2")
	require.NoError(t, err)
	exts := []string{"bz2", "xz"}

	assert.False(t, rec.Complete(exts), "nothing measured yet")

	rec.SetArtifact(Artifact{Codec: "bz2", Path: rec.ArtifactPath("bz2"), Size: 100})
	rec.Path = rec.CanonicalPath()
	rec.Size = 400
	assert.False(t, rec.Complete(exts), "xz missing")

	rec.SetArtifact(Artifact{Codec: "xz", Path: rec.ArtifactPath("xz"), Size: 90})
	assert.True(t, rec.Complete(exts))
}
