package rpc

import (
	"fmt"
	"os"
	"sync"
	"time"

	"golang.org/x/time/rate"
	"gopkg.in/yaml.v3"
)

// MethodLimit throttles a group of methods per client source.
type MethodLimit struct {
	RequestsPerMinute float64  `yaml:"requestsPerMinute"`
	Burst             int      `yaml:"burst"`
	Methods           []string `yaml:"methods"`
}

// Policy is the shape of the YAML rate-limit policy file.
type Policy struct {
	Limits []MethodLimit `yaml:"limits"`
}

// LoadPolicy reads a YAML policy file. An empty path yields an empty
// policy, which disables limiting entirely.
func LoadPolicy(path string) (Policy, error) {
	var p Policy
	if path == "" {
		return p, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return p, fmt.Errorf("rpc: read policy: %w", err)
	}
	if err := yaml.Unmarshal(raw, &p); err != nil {
		return p, fmt.Errorf("rpc: parse policy: %w", err)
	}
	return p, nil
}

type visitorEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

const visitorIdleEviction = 10 * time.Minute

// methodLimiter applies per-client token buckets to the methods named in
// the policy. Methods without a configured limit pass through.
type methodLimiter struct {
	limits map[string]MethodLimit

	mu       sync.Mutex
	visitors map[string]*visitorEntry
	now      func() time.Time
}

func newMethodLimiter(p Policy) *methodLimiter {
	limits := make(map[string]MethodLimit)
	for _, l := range p.Limits {
		for _, m := range l.Methods {
			limits[m] = l
		}
	}
	return &methodLimiter{
		limits:   limits,
		visitors: make(map[string]*visitorEntry),
		now:      time.Now,
	}
}

// allow reports whether source may run method now. Idle visitors are
// evicted inline, so the limiter needs no background goroutine.
func (l *methodLimiter) allow(source, method string) bool {
	limit, ok := l.limits[method]
	if !ok {
		return true
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	for key, entry := range l.visitors {
		if now.Sub(entry.lastSeen) >= visitorIdleEviction {
			delete(l.visitors, key)
		}
	}

	key := source + "\x00" + method
	entry, ok := l.visitors[key]
	if !ok {
		perSecond := limit.RequestsPerMinute / 60.0
		if perSecond <= 0 {
			perSecond = 1
		}
		burst := limit.Burst
		if burst <= 0 {
			burst = 1
		}
		entry = &visitorEntry{limiter: rate.NewLimiter(rate.Limit(perSecond), burst)}
		l.visitors[key] = entry
	}
	entry.lastSeen = now
	return entry.limiter.AllowN(now, 1)
}
