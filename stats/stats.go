package stats

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"
)

type Stage string

const (
	StageWalk  Stage = "walk"
	StageBuild Stage = "build"
	StageWrite Stage = "write"
)

type EventType string

const (
	EventTypeScanned  EventType = "scanned"
	EventTypeBuilt    EventType = "built"
	EventTypeFallback EventType = "fallback"
	EventTypeFiltered EventType = "filtered"
	EventTypeWritten  EventType = "written"
	EventTypeSkipped  EventType = "skipped"
	EventTypeError    EventType = "error"
)

type Event struct {
	Stage     Stage
	Type      EventType
	Folder    string
	MessageID string
	Err       error
	Detail    string
}

type Summary struct {
	Scanned   int
	Built     int
	Fallbacks int
	Filtered  int
	Written   int
	Skipped   int
	Errors    int
	Folders   map[string]int
	LastError error
}

func (s Summary) LogAttrs() []any {
	attrs := []any{
		"scanned", s.Scanned,
		"built", s.Built,
		"fallbacks", s.Fallbacks,
		"filtered", s.Filtered,
		"written", s.Written,
		"skipped", s.Skipped,
		"errors", s.Errors,
		"folders", len(s.Folders),
	}
	if s.LastError != nil {
		attrs = append(attrs, "lastError", s.LastError.Error())
	}
	return attrs
}

type Collector struct {
	mu      sync.Mutex
	summary Summary
}

func NewCollector() *Collector {
	return &Collector{summary: Summary{Folders: make(map[string]int)}}
}

func (c *Collector) Run(ctx context.Context, events <-chan Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-events:
			if !ok {
				return
			}
			c.Apply(evt)
		}
	}
}

func (c *Collector) Snapshot() Summary {
	c.mu.Lock()
	summary := c.summary
	summary.Folders = make(map[string]int, len(c.summary.Folders))
	for k, v := range c.summary.Folders {
		summary.Folders[k] = v
	}
	c.mu.Unlock()
	return summary
}

func (c *Collector) Apply(evt Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch evt.Type {
	case EventTypeScanned:
		c.summary.Scanned++
	case EventTypeBuilt:
		c.summary.Built++
	case EventTypeFallback:
		c.summary.Built++
		c.summary.Fallbacks++
	case EventTypeFiltered:
		c.summary.Filtered++
	case EventTypeWritten:
		c.summary.Written++
		if evt.Folder != "" {
			c.summary.Folders[evt.Folder]++
		}
	case EventTypeSkipped:
		c.summary.Skipped++
	case EventTypeError:
		c.summary.Errors++
		if evt.Err != nil {
			c.summary.LastError = evt.Err
		}
	}
}

type EventStream interface {
	SubscribeStats(name string, fn func(context.Context, <-chan Event) error)
}

type Reporter struct {
	collector *Collector
	logger    *slog.Logger
	started   time.Time
}

func NewReporter(stream EventStream, logger *slog.Logger) *Reporter {
	reporter := &Reporter{
		collector: NewCollector(),
		logger:    logger,
		started:   time.Now(),
	}
	stream.SubscribeStats("stats-reporter", reporter.consume)
	return reporter
}

func (r *Reporter) consume(ctx context.Context, events <-chan Event) error {
	r.collector.Run(ctx, events)
	summary := r.collector.Snapshot()
	attrs := append(summary.LogAttrs(), "duration", time.Since(r.started))
	if ctx.Err() != nil {
		if r.logger != nil {
			r.logger.Debug("stats collection stopped", append(attrs, "err", ctx.Err())...)
		}
		return ctx.Err()
	}
	if r.logger != nil {
		r.logger.Info("stats summary", attrs...)
	}
	return nil
}

func (r *Reporter) Summary() Summary {
	return r.collector.Snapshot()
}

// PrettyPrintTop prints the top N most frequent items in a map. Ties are
// ordered by key.
func PrettyPrintTop(m map[string]int, limit int) {
	for i, p := range Top(m, limit) {
		fmt.Printf("%d. %s (%d)\n", i+1, p.Key, p.Value)
	}
}

type Pair struct {
	Key   string
	Value int
}

// Top returns the limit most frequent entries of m.
func Top(m map[string]int, limit int) []Pair {
	pairs := make([]Pair, 0, len(m))
	for k, v := range m {
		pairs = append(pairs, Pair{k, v})
	}

	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].Value != pairs[j].Value {
			return pairs[i].Value > pairs[j].Value
		}
		return pairs[i].Key < pairs[j].Key
	})

	if limit >= 0 && limit < len(pairs) {
		pairs = pairs[:limit]
	}
	return pairs
}
