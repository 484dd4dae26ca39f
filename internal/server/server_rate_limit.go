package server

import (
	"hash/fnv"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	limiterShards = 16

	// Per-source budget, sized well above a normal download session so
	// the concurrency ceiling stays the binding limit.
	limiterRate  = rate.Limit(32)
	limiterBurst = 64

	limiterIdleTTL = 5 * time.Minute
)

type sourceLimiter struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

type limiterShard struct {
	mu      sync.Mutex
	sources map[string]*sourceLimiter
}

// ipLimiter throttles connection attempts per source IP. State is sharded
// so concurrent accepts rarely contend on one lock.
type ipLimiter struct {
	shards [limiterShards]*limiterShard
}

func newIPLimiter() *ipLimiter {
	l := &ipLimiter{}
	for i := range l.shards {
		l.shards[i] = &limiterShard{sources: make(map[string]*sourceLimiter)}
	}
	return l
}

func (l *ipLimiter) shardFor(ip string) *limiterShard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(ip))
	return l.shards[h.Sum32()%limiterShards]
}

func (l *ipLimiter) allow(ip string) bool {
	shard := l.shardFor(ip)
	shard.mu.Lock()
	defer shard.mu.Unlock()

	src, ok := shard.sources[ip]
	if !ok {
		src = &sourceLimiter{lim: rate.NewLimiter(limiterRate, limiterBurst)}
		shard.sources[ip] = src
	}
	src.lastSeen = time.Now()
	return src.lim.Allow()
}

// cleanup evicts sources idle past the TTL.
func (l *ipLimiter) cleanup() {
	cutoff := time.Now().Add(-limiterIdleTTL)
	for _, shard := range l.shards {
		shard.mu.Lock()
		for ip, src := range shard.sources {
			if src.lastSeen.Before(cutoff) {
				delete(shard.sources, ip)
			}
		}
		shard.mu.Unlock()
	}
}
