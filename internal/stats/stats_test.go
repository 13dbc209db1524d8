package stats

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestNewStatsCollector verifies the initialization of a new StatsCollector
func TestNewStatsCollector(t *testing.T) {
	collector := NewStatsCollector()

	assert.NotNil(t, collector, "StatsCollector should be created")
	assert.WithinDuration(t, time.Now(), collector.StartTime, 100*time.Millisecond, "StartTime should be close to current time")
	assert.WithinDuration(t, time.Now(), collector.LastUpdate(), 100*time.Millisecond, "LastUpdate should be close to current time")

	assert.Zero(t, collector.MessagesReceived, "MessagesReceived should be zero")
	assert.Zero(t, collector.MessagesPublished, "MessagesPublished should be zero")
	assert.Zero(t, collector.MessagesDropped, "MessagesDropped should be zero")
	assert.Zero(t, collector.MessagesEvicted, "MessagesEvicted should be zero")
	assert.Zero(t, collector.Disconnects, "Disconnects should be zero")
}

func TestCounters(t *testing.T) {
	collector := NewStatsCollector()
	before := collector.LastUpdate()
	time.Sleep(time.Millisecond)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			collector.IncReceived()
			collector.IncPublished()
		}()
	}
	wg.Wait()

	collector.IncDropped()
	collector.IncConnects()
	collector.AddEvicted(5)
	collector.AddEvicted(-1)
	collector.RecordDisconnect("connection closed")

	assert.Equal(t, uint64(10), collector.MessagesReceived)
	assert.Equal(t, uint64(10), collector.MessagesPublished)
	assert.Equal(t, uint64(1), collector.MessagesDropped)
	assert.Equal(t, uint64(5), collector.MessagesEvicted)
	assert.Equal(t, uint64(1), collector.Connects)
	assert.Equal(t, uint64(1), collector.Disconnects)
	assert.True(t, collector.LastUpdate().After(before), "LastUpdate should be more recent")
}

// TestGetStats verifies the GetStats method
func TestGetStats(t *testing.T) {
	collector := NewStatsCollector()
	collector.IncReceived()
	collector.IncReceived()
	collector.RecordDisconnect("authorization error")

	stats := collector.GetStats()

	assert.Contains(t, stats, "uptime", "Should have uptime")
	assert.Contains(t, stats, "last_update", "Should have last_update")
	assert.Equal(t, uint64(2), stats["messages_received"])
	assert.Equal(t, uint64(0), stats["messages_published"])
	assert.Equal(t, uint64(1), stats["disconnects"])
	assert.Equal(t, "authorization error", stats["last_disconnect_reason"])
}

// TestGetStatsJSON verifies JSON marshaling of stats
func TestGetStatsJSON(t *testing.T) {
	c := NewStatsCollector()
	c.IncReceived()
	c.AddEvicted(3)

	jsonStats, err := c.GetStatsJSON()
	require.NoError(t, err, "GetStatsJSON should not return an error")

	var statsMap map[string]interface{}
	require.NoError(t, json.Unmarshal(jsonStats, &statsMap), "Should be able to unmarshal JSON")

	assert.Equal(t, float64(1), statsMap["messages_received"])
	assert.Equal(t, float64(3), statsMap["messages_evicted"])
}

// TestCalculateRate verifies message receive rate calculation
func TestCalculateRate(t *testing.T) {
	testCases := []struct {
		name          string
		received      uint64
		elapsed       time.Duration
		expectedRange struct {
			min float64
			max float64
		}
	}{
		{
			name:          "Zero messages",
			received:      0,
			elapsed:       1 * time.Second,
			expectedRange: struct{ min, max float64 }{0, 0.001},
		},
		{
			name:          "Normal rate",
			received:      100,
			elapsed:       10 * time.Second,
			expectedRange: struct{ min, max float64 }{9.9, 10.1},
		},
		{
			name:          "Short window",
			received:      50,
			elapsed:       100 * time.Millisecond,
			expectedRange: struct{ min, max float64 }{450, 510},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			collector := &StatsCollector{
				StartTime:        time.Now().Add(-tc.elapsed),
				MessagesReceived: tc.received,
			}

			rate := collector.CalculateRate()

			assert.GreaterOrEqual(t, rate, tc.expectedRange.min, "Rate should be greater than or equal to minimum")
			assert.LessOrEqual(t, rate, tc.expectedRange.max, "Rate should be less than or equal to maximum")
		})
	}
}
