package server

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gorhill/cronexpr"
	"github.com/mohammad-safakhou/replanner/internal/capability"
	"github.com/redis/go-redis/v9"
)

const (
	probeLockKey   = "replanner:probe:lock"
	probeStatusKey = "replanner:probe:status"
)

// HealthStatus is the last probe result for one tool.
type HealthStatus struct {
	Tool      string        `json:"tool"`
	Healthy   bool          `json:"healthy"`
	Error     string        `json:"error,omitempty"`
	Latency   time.Duration `json:"latency"`
	CheckedAt time.Time     `json:"checked_at"`
}

// Prober runs CheckHealth on every enabled tool that supports it on a cron
// schedule. With Redis configured, one replica probes per period and the
// results are shared through a cached hash.
type Prober struct {
	Catalogue *capability.Catalogue
	Rdb       *redis.Client
	Schedule  string
	Timeout   time.Duration
	Stop      chan struct{}

	mu      sync.RWMutex
	last    map[string]HealthStatus
	lastRun *time.Time
	logger  *log.Logger
}

func NewProber(cat *capability.Catalogue, rdb *redis.Client, schedule string, timeout time.Duration) *Prober {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Prober{
		Catalogue: cat,
		Rdb:       rdb,
		Schedule:  schedule,
		Timeout:   timeout,
		Stop:      make(chan struct{}),
		last:      make(map[string]HealthStatus),
		logger:    log.New(log.Writer(), "[PROBE] ", log.LstdFlags),
	}
}

func (p *Prober) Start() {
	ticker := time.NewTicker(time.Minute)
	go func() {
		p.tick()
		for {
			select {
			case <-p.Stop:
				ticker.Stop()
				return
			case <-ticker.C:
				p.tick()
			}
		}
	}()
}

func (p *Prober) tick() {
	p.mu.RLock()
	last := p.lastRun
	p.mu.RUnlock()
	if !isDue(p.Schedule, last) {
		return
	}
	p.ProbeAll(context.Background())
}

// ProbeAll checks every probe-able tool now and returns the results in
// catalogue order. When another replica holds the lock, the shared cache is
// returned instead.
func (p *Prober) ProbeAll(ctx context.Context) []HealthStatus {
	now := time.Now()
	p.mu.Lock()
	p.lastRun = &now
	p.mu.Unlock()

	if p.Rdb != nil {
		ok, err := p.Rdb.SetNX(ctx, probeLockKey, "1", 2*time.Minute).Result()
		if err != nil {
			p.logger.Printf("warn: probe lock: %v", err)
		} else if !ok {
			return p.Status(ctx)
		} else {
			defer p.Rdb.Del(ctx, probeLockKey)
		}
	}

	type target struct {
		name string
		hc   capability.HealthChecker
	}
	var targets []target
	for d, tool := range p.Catalogue.Tools() {
		if !d.Enabled {
			continue
		}
		if hc, ok := tool.(capability.HealthChecker); ok {
			targets = append(targets, target{d.Name, hc})
		}
	}

	results := make([]HealthStatus, len(targets))
	var wg sync.WaitGroup
	for i, t := range targets {
		wg.Add(1)
		go func(i int, t target) {
			defer wg.Done()
			cctx, cancel := context.WithTimeout(ctx, p.Timeout)
			defer cancel()
			start := time.Now()
			err := t.hc.CheckHealth(cctx)
			st := HealthStatus{Tool: t.name, Healthy: err == nil, Latency: time.Since(start), CheckedAt: start}
			if err != nil {
				st.Error = err.Error()
			}
			results[i] = st
		}(i, t)
	}
	wg.Wait()

	p.mu.Lock()
	for _, r := range results {
		p.last[r.Tool] = r
		if !r.Healthy {
			p.logger.Printf("tool %s unhealthy: %s", r.Tool, r.Error)
		}
	}
	p.mu.Unlock()
	p.publish(ctx, results)
	return results
}

func (p *Prober) publish(ctx context.Context, results []HealthStatus) {
	if p.Rdb == nil || len(results) == 0 {
		return
	}
	fields := make(map[string]any, len(results))
	for _, r := range results {
		b, err := json.Marshal(r)
		if err != nil {
			continue
		}
		fields[r.Tool] = string(b)
	}
	if err := p.Rdb.HSet(ctx, probeStatusKey, fields).Err(); err != nil {
		p.logger.Printf("warn: caching probe results: %v", err)
		return
	}
	p.Rdb.Expire(ctx, probeStatusKey, time.Hour)
}

// Status returns the latest known results without probing, in catalogue order.
func (p *Prober) Status(ctx context.Context) []HealthStatus {
	known := make(map[string]HealthStatus)
	if p.Rdb != nil {
		if raw, err := p.Rdb.HGetAll(ctx, probeStatusKey).Result(); err == nil {
			for name, v := range raw {
				var st HealthStatus
				if json.Unmarshal([]byte(v), &st) == nil {
					known[name] = st
				}
			}
		}
	}
	p.mu.RLock()
	for name, st := range p.last {
		if prev, ok := known[name]; !ok || st.CheckedAt.After(prev.CheckedAt) {
			known[name] = st
		}
	}
	p.mu.RUnlock()

	out := make([]HealthStatus, 0, len(known))
	for d := range p.Catalogue.List() {
		if st, ok := known[d.Name]; ok {
			out = append(out, st)
		}
	}
	return out
}

// isDue determines if a probe with cronSpec should run now based on last run time.
// Supports "@daily", "@hourly", and standard 5-field cron expressions.
func isDue(cronSpec string, last *time.Time) bool {
	if last == nil {
		return true
	}
	now := time.Now()
	switch cronSpec {
	case "@daily":
		return now.Sub(*last) >= 24*time.Hour
	case "@hourly":
		return now.Sub(*last) >= time.Hour
	}
	expr, err := cronexpr.Parse(cronSpec)
	if err != nil {
		// treat unparsable specs as hourly
		return now.Sub(*last) >= time.Hour
	}
	return !expr.Next(*last).After(now)
}
