package infrastructure

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMetricsOwnsRegistry(t *testing.T) {
	m := NewMetrics()
	require.NotNil(t, m)
	require.NotNil(t, m.Registry())

	// Two instances must not share state or collide on registration.
	other := NewMetrics()
	m.RecordParse()
	assert.Equal(t, float64(1), testutil.ToFloat64(m.FramesParsed))
	assert.Equal(t, float64(0), testutil.ToFloat64(other.FramesParsed))
}

func TestMetricsRecorders(t *testing.T) {
	m := NewMetrics()

	m.RecordParse()
	m.RecordParse()
	m.RecordParseError("malformed_header")
	m.RecordParseError("malformed_header")
	m.RecordParseError("unknown_unit")
	m.RecordCacheHit()
	m.RecordCacheMiss()
	m.RecordCacheMiss()
	m.RecordEvictions(3)
	m.SetTrackedFiles(42)
	m.RecordFit(true)
	m.RecordFit(false)
	m.RecordExport()
	m.RecordCancellation()

	assert.Equal(t, float64(2), testutil.ToFloat64(m.FramesParsed))
	assert.Equal(t, float64(2), testutil.ToFloat64(m.ParseErrors.WithLabelValues("malformed_header")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.ParseErrors.WithLabelValues("unknown_unit")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.CacheHits))
	assert.Equal(t, float64(2), testutil.ToFloat64(m.CacheMisses))
	assert.Equal(t, float64(3), testutil.ToFloat64(m.Evictions))
	assert.Equal(t, float64(42), testutil.ToFloat64(m.TrackedFiles))
	assert.Equal(t, float64(2), testutil.ToFloat64(m.FitsTotal))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.FitsNonConvergent))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.ExportsTotal))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.BatchCancelled))
}

func TestMetricsRegistryGathers(t *testing.T) {
	m := NewMetrics()
	m.RecordParse()

	families, err := m.Registry().Gather()
	require.NoError(t, err)

	names := make(map[string]bool, len(families))
	for _, mf := range families {
		names[mf.GetName()] = true
	}

	assert.True(t, names["sxm_frames_parsed_total"])
	assert.True(t, names["go_goroutines"], "runtime collector should be registered")
}
