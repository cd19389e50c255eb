package observability

import (
	"testing"

	"github.com/couchcryptid/parking-occupancy-etl/internal/config"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMetricsForTesting_Independent(t *testing.T) {
	a := NewMetricsForTesting()
	b := NewMetricsForTesting()

	a.RecordsSkipped.WithLabelValues("duplicate").Add(3)

	assert.InDelta(t, 3, testutil.ToFloat64(a.RecordsSkipped.WithLabelValues("duplicate")), 0)
	assert.InDelta(t, 0, testutil.ToFloat64(b.RecordsSkipped.WithLabelValues("duplicate")), 0)
}

func TestMetrics_RegisterOnce(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetricsForTesting()
	require.NoError(t, registerAll(reg, m))
	assert.Error(t, registerAll(reg, NewMetricsForTesting()), "second registration must collide")
}

func registerAll(reg *prometheus.Registry, m *Metrics) error {
	for _, c := range m.collectors() {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, "DEBUG", parseLevel("debug").String())
	assert.Equal(t, "WARN", parseLevel("WARNING").String())
	assert.Equal(t, "ERROR", parseLevel("error").String())
	assert.Equal(t, "INFO", parseLevel("verbose").String())
}

func TestNewLogger(t *testing.T) {
	logger := NewLogger(&config.Config{LogLevel: "debug", LogFormat: "text"})
	require.NotNil(t, logger)
	assert.True(t, logger.Handler().Enabled(t.Context(), parseLevel("debug")))
}
