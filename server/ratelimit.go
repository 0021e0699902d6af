package server

import (
	"net"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"golang.org/x/time/rate"
)

const limiterCacheSize = 65536

// limiterStore keeps one token bucket per client IP, keyed by hash.
// Loopback clients and a zero rate bypass limiting entirely.
type limiterStore struct {
	mu       sync.RWMutex
	limiters map[uint64]*clientLimiter
	maxSize  int
	rate     int
}

type clientLimiter struct {
	rl       *rate.Limiter
	lastSeen time.Time
}

// newLimiterStore creates a store allowing ratePerMinute queries per
// client, 0 for unlimited.
func newLimiterStore(maxSize, ratePerMinute int) *limiterStore {
	return &limiterStore{
		limiters: make(map[uint64]*clientLimiter),
		maxSize:  maxSize,
		rate:     ratePerMinute,
	}
}

func (s *limiterStore) allow(ip net.IP) bool {
	if s.rate == 0 || ip == nil || ip.IsLoopback() {
		return true
	}

	return s.get(xxhash.Sum64(ip)).rl.Allow()
}

func (s *limiterStore) get(key uint64) *clientLimiter {
	s.mu.RLock()
	if cl, ok := s.limiters[key]; ok {
		cl.lastSeen = time.Now()
		s.mu.RUnlock()
		return cl
	}
	s.mu.RUnlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	if cl, ok := s.limiters[key]; ok {
		cl.lastSeen = time.Now()
		return cl
	}

	if len(s.limiters) >= s.maxSize {
		s.evictOne()
	}

	cl := &clientLimiter{
		rl:       rate.NewLimiter(rate.Every(time.Minute/time.Duration(s.rate)), s.rate),
		lastSeen: time.Now(),
	}
	s.limiters[key] = cl

	return cl
}

// evictOne removes the oldest entry, sampling large maps instead of
// scanning them fully.
func (s *limiterStore) evictOne() {
	var oldestKey uint64
	var oldestTime time.Time

	checked := 0
	for k, v := range s.limiters {
		if checked == 0 || v.lastSeen.Before(oldestTime) {
			oldestKey = k
			oldestTime = v.lastSeen
		}

		checked++
		if checked >= 100 {
			break
		}
	}

	if checked > 0 {
		delete(s.limiters, oldestKey)
	}
}

// cleanup removes entries idle longer than the given duration.
func (s *limiterStore) cleanup(olderThan time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().Add(-olderThan)
	for k, v := range s.limiters {
		if v.lastSeen.Before(cutoff) {
			delete(s.limiters, k)
		}
	}
}
