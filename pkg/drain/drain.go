// Package drain consumes an exchange until it is exhausted.
package drain

import (
	"context"
	"fmt"
	"time"

	"github.com/Sternrassler/page-exchange/pkg/page"
	"github.com/docker/go-units"
	"github.com/rs/zerolog/log"
)

// Config holds drain configuration
type Config struct {
	// PollInterval is the longest single wait for a page.
	PollInterval time.Duration
	// ProgressEvery logs progress after this many pages (0 disables).
	ProgressEvery int
}

// DefaultConfig returns the default drain configuration
func DefaultConfig() Config {
	return Config{
		PollInterval:  time.Second,
		ProgressEvery: 1000,
	}
}

// Source is the consumer side of an exchange. *exchange.Client implements it.
// A failed source reports IsClosed and keeps returning its failure from
// GetNextPage.
type Source interface {
	GetNextPage(ctx context.Context, maxWait time.Duration) (*page.Page, error)
	IsClosed() bool
}

// Handler processes one page. Returning an error stops the drain.
type Handler func(p *page.Page) error

// Stats summarizes a drain.
type Stats struct {
	Pages     int64
	Positions int64
	Bytes     int64
	Duration  time.Duration
}

// String renders the stats for logs and CLI output.
func (s Stats) String() string {
	return fmt.Sprintf("%d pages, %d rows, %s in %v",
		s.Pages, s.Positions, units.BytesSize(float64(s.Bytes)), s.Duration.Round(time.Millisecond))
}

// BytesPerSecond returns the average throughput.
func (s Stats) BytesPerSecond() float64 {
	if s.Duration <= 0 {
		return 0
	}
	return float64(s.Bytes) / s.Duration.Seconds()
}

// Drain pulls pages from src and hands them to fn until src closes, fn
// fails, src reports a failure or ctx ends. The returned stats cover every
// page handed to fn.
func Drain(ctx context.Context, src Source, cfg Config, fn Handler) (Stats, error) {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultConfig().PollInterval
	}

	start := time.Now()
	var stats Stats
	finish := func(err error) (Stats, error) {
		stats.Duration = time.Since(start)
		return stats, err
	}

	for !src.IsClosed() {
		p, err := src.GetNextPage(ctx, cfg.PollInterval)
		if err != nil {
			return finish(fmt.Errorf("get next page: %w", err))
		}
		if p == nil {
			continue
		}

		if fn != nil {
			if err := fn(p); err != nil {
				return finish(fmt.Errorf("handle page %d: %w", stats.Pages+1, err))
			}
		}
		stats.Pages++
		stats.Positions += int64(p.PositionCount())
		stats.Bytes += p.SizeInBytes()

		// Progress logging every ProgressEvery pages
		if cfg.ProgressEvery > 0 && stats.Pages%int64(cfg.ProgressEvery) == 0 {
			log.Info().
				Int64("pages", stats.Pages).
				Int64("rows", stats.Positions).
				Str("bytes", units.HumanSize(float64(stats.Bytes))).
				Dur("elapsed", time.Since(start)).
				Msg("Drain progress")
		}
	}

	// A failed exchange reports closed too; its failure is returned by the
	// next read.
	if _, err := src.GetNextPage(ctx, 0); err != nil {
		return finish(fmt.Errorf("get next page: %w", err))
	}

	stats, _ = finish(nil)
	log.Info().
		Int64("pages", stats.Pages).
		Int64("rows", stats.Positions).
		Int64("bytes", stats.Bytes).
		Dur("duration", stats.Duration).
		Msg("Drain complete")
	return stats, nil
}
