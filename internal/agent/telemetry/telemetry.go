package telemetry

import (
	"context"
	"errors"
	"fmt"
	"log"
	"maps"
	"strings"
	"sync"
	"time"

	"github.com/mohammad-safakhou/replanner/config"
	"github.com/prometheus/client_golang/prometheus"
)

// Telemetry aggregates turn, step, tool and model metrics for the loop and
// mirrors them into Prometheus collectors.
type Telemetry struct {
	config     config.TelemetryConfig
	logger     *log.Logger
	metrics    *Metrics
	collectors *collectors
	mu         sync.RWMutex
}

// Metrics holds in-process counters
type Metrics struct {
	// Turn metrics
	TotalTurns      int64
	TurnsByOutcome  map[string]int64
	AverageTurnTime time.Duration

	// Step metrics
	StepsByKind map[string]int64
	Replans     int64

	// Tool metrics
	ToolCalls        map[string]int64
	ToolFailures     map[string]int64
	ToolAverageTimes map[string]time.Duration

	// LLM metrics
	LLMRequests       int64
	LLMFailures       int64
	LLMAverageLatency time.Duration
}

// TurnEvent represents one finished request
type TurnEvent struct {
	ID        string
	Input     string
	StartTime time.Time
	EndTime   time.Time
	Duration  time.Duration
	Outcome   string
	Steps     int
	Error     string
}

// StepEvent represents one executed plan step
type StepEvent struct {
	TurnID      string
	Kind        string
	Duration    time.Duration
	NeedsReplan bool
}

// ToolEvent represents one dispatcher call
type ToolEvent struct {
	Tool      string
	StartTime time.Time
	Duration  time.Duration
	Outcome   string // ok, failed, timeout, missing_parameters, not_found
	Error     string
}

// LLMEvent represents one model invocation
type LLMEvent struct {
	Operation string // plan, raw_step
	Duration  time.Duration
	Success   bool
	Error     string
}

type collectors struct {
	turns        *prometheus.CounterVec
	turnDuration prometheus.Histogram
	steps        *prometheus.CounterVec
	toolCalls    *prometheus.CounterVec
	toolDuration *prometheus.HistogramVec
	llmRequests  *prometheus.CounterVec
	llmDuration  *prometheus.HistogramVec
}

// NewTelemetry creates a telemetry instance. Collectors are registered on
// reg when it is non-nil; an already registered collector is reused.
func NewTelemetry(cfg config.TelemetryConfig, reg prometheus.Registerer) *Telemetry {
	t := &Telemetry{
		config: cfg,
		logger: log.New(log.Writer(), "[TELEMETRY] ", log.LstdFlags),
		metrics: &Metrics{
			TurnsByOutcome:   make(map[string]int64),
			StepsByKind:      make(map[string]int64),
			ToolCalls:        make(map[string]int64),
			ToolFailures:     make(map[string]int64),
			ToolAverageTimes: make(map[string]time.Duration),
		},
	}
	if reg != nil {
		t.collectors = newCollectors(reg)
	}
	return t
}

func newCollectors(reg prometheus.Registerer) *collectors {
	return &collectors{
		turns: register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "replanner", Name: "turns_total", Help: "Finished turns by outcome.",
		}, []string{"outcome"})),
		turnDuration: register(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "replanner", Name: "turn_duration_seconds", Help: "End-to-end turn latency.",
			Buckets: prometheus.DefBuckets,
		})),
		steps: register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "replanner", Name: "steps_total", Help: "Executed steps by directive kind.",
		}, []string{"kind"})),
		toolCalls: register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "replanner", Name: "tool_calls_total", Help: "Tool dispatches by tool and outcome.",
		}, []string{"tool", "outcome"})),
		toolDuration: register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "replanner", Name: "tool_duration_seconds", Help: "Tool execution latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"tool"})),
		llmRequests: register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "replanner", Name: "llm_requests_total", Help: "Model invocations by operation and status.",
		}, []string{"operation", "status"})),
		llmDuration: register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "replanner", Name: "llm_duration_seconds", Help: "Model invocation latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation"})),
	}
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) C {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing
			}
		}
		panic(fmt.Errorf("register collector: %w", err))
	}
	return c
}

func runningAverage(avg time.Duration, n int64, sample time.Duration) time.Duration {
	if n <= 1 {
		return sample
	}
	total := avg * time.Duration(n-1)
	return (total + sample) / time.Duration(n)
}

// RecordTurnEvent records a finished turn
func (t *Telemetry) RecordTurnEvent(ctx context.Context, event TurnEvent) {
	if t == nil {
		return
	}
	if event.Duration == 0 && !event.EndTime.IsZero() {
		event.Duration = event.EndTime.Sub(event.StartTime)
	}
	t.mu.Lock()
	t.metrics.TotalTurns++
	t.metrics.TurnsByOutcome[event.Outcome]++
	t.metrics.AverageTurnTime = runningAverage(t.metrics.AverageTurnTime, t.metrics.TotalTurns, event.Duration)
	t.mu.Unlock()

	if c := t.collectors; c != nil {
		c.turns.WithLabelValues(event.Outcome).Inc()
		c.turnDuration.Observe(event.Duration.Seconds())
	}
	t.logger.Printf("Turn Event: ID=%s, Outcome=%s, Steps=%d, Duration=%v", event.ID, event.Outcome, event.Steps, event.Duration)
}

// RecordStepEvent records one executed step
func (t *Telemetry) RecordStepEvent(ctx context.Context, event StepEvent) {
	if t == nil {
		return
	}
	t.mu.Lock()
	t.metrics.StepsByKind[event.Kind]++
	if event.NeedsReplan {
		t.metrics.Replans++
	}
	t.mu.Unlock()
	if c := t.collectors; c != nil {
		c.steps.WithLabelValues(event.Kind).Inc()
	}
}

// RecordToolEvent records a dispatcher call
func (t *Telemetry) RecordToolEvent(ctx context.Context, event ToolEvent) {
	if t == nil {
		return
	}
	t.mu.Lock()
	t.metrics.ToolCalls[event.Tool]++
	if event.Outcome != "ok" {
		t.metrics.ToolFailures[event.Tool]++
	}
	t.metrics.ToolAverageTimes[event.Tool] = runningAverage(t.metrics.ToolAverageTimes[event.Tool], t.metrics.ToolCalls[event.Tool], event.Duration)
	t.mu.Unlock()

	if c := t.collectors; c != nil {
		c.toolCalls.WithLabelValues(event.Tool, event.Outcome).Inc()
		c.toolDuration.WithLabelValues(event.Tool).Observe(event.Duration.Seconds())
	}
	if event.Error != "" {
		t.logger.Printf("Tool Event: Tool=%s, Outcome=%s, Duration=%v, Error=%s", event.Tool, event.Outcome, event.Duration, event.Error)
	}
}

// RecordLLMEvent records a model invocation
func (t *Telemetry) RecordLLMEvent(ctx context.Context, event LLMEvent) {
	if t == nil {
		return
	}
	t.mu.Lock()
	t.metrics.LLMRequests++
	if !event.Success {
		t.metrics.LLMFailures++
	}
	t.metrics.LLMAverageLatency = runningAverage(t.metrics.LLMAverageLatency, t.metrics.LLMRequests, event.Duration)
	t.mu.Unlock()

	status := "ok"
	if !event.Success {
		status = "error"
	}
	if c := t.collectors; c != nil {
		c.llmRequests.WithLabelValues(event.Operation, status).Inc()
		c.llmDuration.WithLabelValues(event.Operation).Observe(event.Duration.Seconds())
	}
}

// GetMetrics returns current metrics snapshot
func (t *Telemetry) GetMetrics() Metrics {
	if t == nil {
		return Metrics{}
	}
	t.mu.RLock()
	defer t.mu.RUnlock()

	// Deep copy so callers can read without holding the lock
	m := *t.metrics
	m.TurnsByOutcome = maps.Clone(t.metrics.TurnsByOutcome)
	m.StepsByKind = maps.Clone(t.metrics.StepsByKind)
	m.ToolCalls = maps.Clone(t.metrics.ToolCalls)
	m.ToolFailures = maps.Clone(t.metrics.ToolFailures)
	m.ToolAverageTimes = maps.Clone(t.metrics.ToolAverageTimes)
	return m
}

// StartPeriodicLogging logs a snapshot every interval until ctx is done.
func (t *Telemetry) StartPeriodicLogging(ctx context.Context, interval time.Duration) {
	if t == nil || !t.config.PeriodicLogs {
		return
	}
	if interval <= 0 {
		interval = time.Minute
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m := t.GetMetrics()
				t.logger.Printf("Metrics Snapshot: Turns=%d, AvgTime=%v, LLM=%d/%d failed, Replans=%d",
					m.TotalTurns, m.AverageTurnTime, m.LLMFailures, m.LLMRequests, m.Replans)
			}
		}
	}()
}

// GetPerformanceReport renders the snapshot as text.
func (t *Telemetry) GetPerformanceReport() string {
	m := t.GetMetrics()
	var b strings.Builder
	fmt.Fprintf(&b, "Turns: %d (avg %v)\n", m.TotalTurns, m.AverageTurnTime)
	for outcome, n := range m.TurnsByOutcome {
		fmt.Fprintf(&b, "  %s: %d\n", outcome, n)
	}
	fmt.Fprintf(&b, "LLM requests: %d (failures %d, avg %v)\n", m.LLMRequests, m.LLMFailures, m.LLMAverageLatency)
	for tool, n := range m.ToolCalls {
		fmt.Fprintf(&b, "Tool %s: %d calls, %d failures, avg %v\n", tool, n, m.ToolFailures[tool], m.ToolAverageTimes[tool])
	}
	return b.String()
}

// Shutdown logs the final report.
func (t *Telemetry) Shutdown() {
	if t == nil {
		return
	}
	m := t.GetMetrics()
	t.logger.Printf("Final Report:")
	t.logger.Printf("  Total Turns: %d", m.TotalTurns)
	t.logger.Printf("  Average Turn Time: %v", m.AverageTurnTime)
	t.logger.Printf("  Replans: %d", m.Replans)
}
