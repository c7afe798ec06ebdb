package observability

import (
	"sync"
	"time"
)

// MetricType categorizes what is being measured.
type MetricType string

const (
	MetricRuns         MetricType = "runs"
	MetricStepDuration MetricType = "step_duration_sec"
	MetricPipelineCost MetricType = "pipeline_cost_usd"
	MetricStepCost     MetricType = "step_cost_usd"
	MetricErrors       MetricType = "errors"
	MetricGateHalts    MetricType = "gate_halts"
	MetricSyncFailures MetricType = "sync_failures"
)

// MetricPoint is a single recorded data point.
type MetricPoint struct {
	Type      MetricType `json:"type"`
	Value     float64    `json:"value"`
	Labels    Labels     `json:"labels,omitempty"`
	Timestamp time.Time  `json:"timestamp"`
}

// Labels are key-value metadata on a metric, e.g. {"step": "video_generation"}.
type Labels map[string]string

// MetricsCollector collects in-memory metrics with a rolling window.
type MetricsCollector struct {
	mu      sync.RWMutex
	points  []MetricPoint
	maxSize int // Ring buffer capacity
	// Monotonic per-type totals. Unlike the ring buffer these never evict.
	counters map[MetricType]int64
}

// NewMetricsCollector creates a collector with a max ring buffer size.
func NewMetricsCollector(maxSize int) *MetricsCollector {
	if maxSize <= 0 {
		maxSize = 10000
	}
	return &MetricsCollector{
		points:   make([]MetricPoint, 0, maxSize),
		maxSize:  maxSize,
		counters: make(map[MetricType]int64),
	}
}

// Record adds a metric data point and bumps the type's counter.
func (c *MetricsCollector) Record(mt MetricType, value float64, labels Labels) {
	c.mu.Lock()
	defer c.mu.Unlock()

	point := MetricPoint{
		Type:      mt,
		Value:     value,
		Labels:    labels,
		Timestamp: time.Now(),
	}

	if len(c.points) >= c.maxSize {
		// Shift left (drop oldest).
		copy(c.points, c.points[1:])
		c.points[len(c.points)-1] = point
	} else {
		c.points = append(c.points, point)
	}
	c.counters[mt]++
}

// Counter returns how many points of a type have ever been recorded.
func (c *MetricsCollector) Counter(mt MetricType) int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.counters[mt]
}

// Query returns metric points matching type and optional time window.
// If since is zero, returns all points of this type.
func (c *MetricsCollector) Query(mt MetricType, since time.Time) []MetricPoint {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var result []MetricPoint
	for _, p := range c.points {
		if p.Type != mt {
			continue
		}
		if !since.IsZero() && p.Timestamp.Before(since) {
			continue
		}
		result = append(result, p)
	}
	return result
}

// QueryWithLabel returns points matching type and a label key=value.
func (c *MetricsCollector) QueryWithLabel(mt MetricType, key, value string) []MetricPoint {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var result []MetricPoint
	for _, p := range c.points {
		if p.Type != mt {
			continue
		}
		if p.Labels[key] == value {
			result = append(result, p)
		}
	}
	return result
}

// Sum returns the sum of all values of a metric type.
func (c *MetricsCollector) Sum(mt MetricType) float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var sum float64
	for _, p := range c.points {
		if p.Type == mt {
			sum += p.Value
		}
	}
	return sum
}
