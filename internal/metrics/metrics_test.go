package metrics

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scrape(t *testing.T, c *Collector) string {
	t.Helper()
	srv := httptest.NewServer(c.Handler())
	defer srv.Close()
	resp, err := srv.Client().Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(body)
}

func TestCollector_Counts(t *testing.T) {
	c := NewCollector()
	c.ObservePing("applied", 3*time.Millisecond)
	c.ObservePing("unknown_vehicle", time.Millisecond)
	c.ObservePing("unknown_vehicle", time.Millisecond)
	c.ObserveTransition("stop_arrived")
	c.ObserveProgressCreated()
	c.ObserveApplyConflict()
	c.NATSSetConnected(true)
	c.MQTTMessage("rejected")
	c.RateLimitedInc()

	body := scrape(t, c)
	for _, line := range []string{
		`tracker_pings_total{outcome="applied"} 1`,
		`tracker_pings_total{outcome="unknown_vehicle"} 2`,
		`tracker_transitions_total{kind="stop_arrived"} 1`,
		`tracker_progress_created_total 1`,
		`tracker_apply_conflicts_total 1`,
		`tracker_nats_connected 1`,
		`tracker_mqtt_messages_total{result="rejected"} 1`,
		`tracker_rate_limited_total 1`,
		`tracker_ping_duration_seconds_count 3`,
	} {
		assert.Contains(t, body, line)
	}

	c.NATSSetConnected(false)
	assert.Contains(t, scrape(t, c), "tracker_nats_connected 0")
}

func TestCollector_RegistryIsPrivate(t *testing.T) {
	a, b := NewCollector(), NewCollector()
	a.ObserveProgressCreated()
	assert.Contains(t, scrape(t, a), "tracker_progress_created_total 1")
	assert.Contains(t, scrape(t, b), "tracker_progress_created_total 0")
}
