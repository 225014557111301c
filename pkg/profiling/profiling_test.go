package profiling

import (
	"testing"

	"order-metrics/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStartWithoutServerIsNoop(t *testing.T) {
	stop, err := Start(config.ProfilingConfig{ApplicationName: "order-metrics"})
	require.NoError(t, err)
	require.NotNil(t, stop)
	assert.NotPanics(t, stop)
}
