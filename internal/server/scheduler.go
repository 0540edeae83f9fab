package server

import (
	"context"
	"log"
	"time"

	"github.com/gorhill/cronexpr"

	"github.com/arashpx/seekly/internal/store"
	"github.com/arashpx/seekly/internal/stream"
)

// traceRetention is how long reasoning traces are kept before the sweeper
// prunes them.
const traceRetention = 30 * 24 * time.Hour

// Sweeper periodically prunes old reasoning traces and reports the active
// stream count. The schedule comes from server.cleanup_cron.
type Sweeper struct {
	Store    *store.Store
	Streams  *stream.ActiveStreams
	CronSpec string
	Stop     chan struct{}

	logger  *log.Logger
	lastRun time.Time
}

func NewSweeper(st *store.Store, streams *stream.ActiveStreams, cronSpec string) *Sweeper {
	return &Sweeper{
		Store:    st,
		Streams:  streams,
		CronSpec: cronSpec,
		Stop:     make(chan struct{}),
		logger:   log.New(log.Writer(), "[SWEEP] ", log.LstdFlags),
	}
}

func (s *Sweeper) Start() {
	ticker := time.NewTicker(time.Minute)
	go func() {
		for {
			select {
			case <-s.Stop:
				ticker.Stop()
				return
			case <-ticker.C:
				if s.due(time.Now()) {
					s.tick()
				}
			}
		}
	}()
}

func (s *Sweeper) tick() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	s.lastRun = time.Now()

	pruned, err := s.Store.PruneTraces(ctx, time.Now().Add(-traceRetention))
	if err != nil {
		s.logger.Printf("trace prune: %v", err)
		return
	}
	s.logger.Printf("pruned %d traces, %d active streams", pruned, s.Streams.Len())
}

// due applies the cron schedule against the last completed run. Supports
// "@hourly", "@daily" and standard 5-field cron expressions; an invalid
// expression falls back to hourly.
func (s *Sweeper) due(now time.Time) bool {
	last := s.lastRun
	switch s.CronSpec {
	case "@daily":
		return last.IsZero() || now.Sub(last) >= 24*time.Hour
	case "@hourly", "":
		return last.IsZero() || now.Sub(last) >= time.Hour
	default:
		expr, err := cronexpr.Parse(s.CronSpec)
		if err != nil {
			return last.IsZero() || now.Sub(last) >= time.Hour
		}
		if last.IsZero() {
			return true
		}
		return !expr.Next(last).After(now)
	}
}
