package resilience_test

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/vexaro/backend-vpn/internal/resilience"
)

func stateGauge(target string) float64 {
	return testutil.ToFloat64(resilience.BreakerState.WithLabelValues(target))
}

func transitionCount(target, from, to string) float64 {
	return testutil.ToFloat64(resilience.BreakerTransitions.WithLabelValues(target, from, to))
}

// Walks a breaker through closed -> open -> half-open -> closed and checks
// every transition is published.
func TestBreakerMetricsTransitions(t *testing.T) {
	resilience.BreakerState.Reset()
	resilience.BreakerTransitions.Reset()
	resilience.BreakerOpenedTotal.Reset()

	breaker := resilience.NewBreaker(1, 0.5, 20*time.Millisecond).WithTarget("webhook")
	ctx := context.Background()

	require.True(t, breaker.Allow(ctx))
	breaker.Report(ctx, false)
	require.Equal(t, 1.0, stateGauge("webhook"), "breaker should be open after the failure")

	require.Eventually(t, func() bool {
		return breaker.Allow(ctx)
	}, 100*time.Millisecond, 5*time.Millisecond)
	require.Equal(t, 2.0, stateGauge("webhook"), "probe should move the breaker to half-open")

	breaker.Report(ctx, true)
	require.Equal(t, 0.0, stateGauge("webhook"), "successful probe should close the breaker")

	require.Equal(t, 1.0, testutil.ToFloat64(resilience.BreakerOpenedTotal.WithLabelValues("webhook")))
	require.Equal(t, 1.0, transitionCount("webhook", "closed", "open"))
	require.Equal(t, 1.0, transitionCount("webhook", "open", "half_open"))
	require.Equal(t, 1.0, transitionCount("webhook", "half_open", "closed"))
}
