package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetricsRegistration(t *testing.T) {
	t.Run("ActiveSessions", func(t *testing.T) {
		ActiveSessions.WithLabelValues("framed").Set(3)
		val := testutil.ToFloat64(ActiveSessions.WithLabelValues("framed"))
		if val != 3 {
			t.Errorf("expected ActiveSessions to be 3, got %v", val)
		}
	})

	t.Run("EventsDispatched", func(t *testing.T) {
		EventsDispatched.WithLabelValues("message_received").Inc()
		val := testutil.ToFloat64(EventsDispatched.WithLabelValues("message_received"))
		if val < 1 {
			t.Errorf("expected EventsDispatched to be at least 1, got %v", val)
		}
	})

	t.Run("EventsDropped", func(t *testing.T) {
		EventsDropped.WithLabelValues("user_typing").Inc()
		val := testutil.ToFloat64(EventsDropped.WithLabelValues("user_typing"))
		if val < 1 {
			t.Errorf("expected EventsDropped to be at least 1, got %v", val)
		}
	})

	t.Run("CommandDuration", func(t *testing.T) {
		CommandDuration.WithLabelValues("send_message").Observe(0.01)
	})

	t.Run("CommandErrors", func(t *testing.T) {
		CommandErrors.WithLabelValues("send_message", "not_a_member").Inc()
		val := testutil.ToFloat64(CommandErrors.WithLabelValues("send_message", "not_a_member"))
		if val < 1 {
			t.Errorf("expected CommandErrors to be at least 1, got %v", val)
		}
	})

	t.Run("RateLimitExceeded", func(t *testing.T) {
		RateLimitExceeded.WithLabelValues("auth").Inc()
		val := testutil.ToFloat64(RateLimitExceeded.WithLabelValues("auth"))
		if val < 1 {
			t.Errorf("expected RateLimitExceeded to be at least 1, got %v", val)
		}
	})

	t.Run("CircuitBreakerState", func(t *testing.T) {
		CircuitBreakerState.WithLabelValues("redis").Set(1)
		val := testutil.ToFloat64(CircuitBreakerState.WithLabelValues("redis"))
		if val != 1 {
			t.Errorf("expected CircuitBreakerState to be 1, got %v", val)
		}
	})

	t.Run("RedisOperationsTotal", func(t *testing.T) {
		RedisOperationsTotal.WithLabelValues("publish", "success").Inc()
		val := testutil.ToFloat64(RedisOperationsTotal.WithLabelValues("publish", "success"))
		if val < 1 {
			t.Errorf("expected RedisOperationsTotal to be at least 1, got %v", val)
		}
	})

	t.Run("RedisOperationDuration", func(t *testing.T) {
		RedisOperationDuration.WithLabelValues("publish").Observe(0.1)
	})
}
