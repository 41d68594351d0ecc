package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMustRegisterOnFreshRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	require.NotPanics(t, func() { MustRegister(reg) })
}

func TestObserveNetworkRequestStatus(t *testing.T) {
	before := testutil.ToFloat64(NetworkRequestTotal.WithLabelValues("postgres", "select", "news", "error"))
	ObserveNetworkRequest("postgres", "select", "news", time.Now(), errors.New("boom"))
	after := testutil.ToFloat64(NetworkRequestTotal.WithLabelValues("postgres", "select", "news", "error"))
	assert.Equal(t, before+1, after)

	ObserveNetworkRequest("", "", "", time.Now(), nil)
	assert.Equal(t, 1.0, testutil.ToFloat64(NetworkRequestTotal.WithLabelValues("unknown", "unknown", "unknown", "success")))
}

func TestObserveInteraction(t *testing.T) {
	ObserveInteraction("like", false)
	assert.Equal(t, 1.0, testutil.ToFloat64(InteractionsTotal.WithLabelValues("like", "false")))
}
