package stats

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"
)

// StatsCollector tracks per-session counters
type StatsCollector struct {
	StartTime         time.Time
	MessagesReceived  uint64
	MessagesPublished uint64
	MessagesDropped   uint64
	MessagesEvicted   uint64
	Connects          uint64
	Disconnects       uint64

	mu         sync.RWMutex
	lastUpdate time.Time
	lastReason string
}

// NewStatsCollector creates a new stats collector
func NewStatsCollector() *StatsCollector {
	now := time.Now()
	return &StatsCollector{
		StartTime:  now,
		lastUpdate: now,
	}
}

func (s *StatsCollector) IncReceived()  { s.add(&s.MessagesReceived, 1) }
func (s *StatsCollector) IncPublished() { s.add(&s.MessagesPublished, 1) }
func (s *StatsCollector) IncDropped()   { s.add(&s.MessagesDropped, 1) }
func (s *StatsCollector) IncConnects()  { s.add(&s.Connects, 1) }

// AddEvicted counts messages removed by the capacity limit.
func (s *StatsCollector) AddEvicted(n int) {
	if n > 0 {
		s.add(&s.MessagesEvicted, uint64(n))
	}
}

// RecordDisconnect counts a disconnection and remembers its reason.
func (s *StatsCollector) RecordDisconnect(reason string) {
	s.mu.Lock()
	s.lastReason = reason
	s.mu.Unlock()
	s.add(&s.Disconnects, 1)
}

func (s *StatsCollector) add(counter *uint64, n uint64) {
	atomic.AddUint64(counter, n)
	s.mu.Lock()
	s.lastUpdate = time.Now()
	s.mu.Unlock()
}

// LastUpdate returns when a counter last changed.
func (s *StatsCollector) LastUpdate() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastUpdate
}

// GetStats returns current statistics
func (s *StatsCollector) GetStats() map[string]interface{} {
	s.mu.RLock()
	lastUpdate, lastReason := s.lastUpdate, s.lastReason
	s.mu.RUnlock()

	return map[string]interface{}{
		"uptime":                 time.Since(s.StartTime).String(),
		"messages_received":      atomic.LoadUint64(&s.MessagesReceived),
		"messages_published":     atomic.LoadUint64(&s.MessagesPublished),
		"messages_dropped":       atomic.LoadUint64(&s.MessagesDropped),
		"messages_evicted":       atomic.LoadUint64(&s.MessagesEvicted),
		"connects":               atomic.LoadUint64(&s.Connects),
		"disconnects":            atomic.LoadUint64(&s.Disconnects),
		"last_disconnect_reason": lastReason,
		"last_update":            lastUpdate,
	}
}

// GetStatsJSON returns stats as JSON
func (s *StatsCollector) GetStatsJSON() ([]byte, error) {
	return json.Marshal(s.GetStats())
}

// CalculateRate calculates the message receive rate per second
func (s *StatsCollector) CalculateRate() float64 {
	uptime := time.Since(s.StartTime).Seconds()
	if uptime <= 0 {
		return 0
	}
	return float64(atomic.LoadUint64(&s.MessagesReceived)) / uptime
}
