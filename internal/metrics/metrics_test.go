package metrics

import (
	"errors"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	m.FetchAttempt(nil, 10)
	m.File("failed")
	m.CodecRun("xz", "encode", errors.New("boom"))
}

func TestMetrics_Counters(t *testing.T) {
	m := New()

	m.FetchAttempt(errors.New("404"), 0)
	m.FetchAttempt(nil, 128)
	m.File("fetched")
	m.File("fetched")
	m.CodecRun("xz", "encode", nil)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.fetchAttempts.WithLabelValues("error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.fetchAttempts.WithLabelValues("ok")))
	assert.Equal(t, 128.0, testutil.ToFloat64(m.fetchedBytes))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.files.WithLabelValues("fetched")))

	expected := `
# HELP distsqueeze_codec_runs_total Codec invocations, by codec, operation and result.
# TYPE distsqueeze_codec_runs_total counter
distsqueeze_codec_runs_total{codec="xz",op="encode",result="ok"} 1
`
	assert.NoError(t, testutil.GatherAndCompare(m.Registry(), strings.NewReader(expected), "distsqueeze_codec_runs_total"))
}
