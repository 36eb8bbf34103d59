package statusstore

import (
	"context"
	"errors"
	"time"

	"github.com/Sternrassler/page-exchange/pkg/exchange"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// DefaultPublishInterval is how often a Publisher writes snapshots.
const DefaultPublishInterval = 5 * time.Second

// Source produces status snapshots. *exchange.Client implements it.
type Source interface {
	Status() exchange.Status
}

// Sink stores status snapshots. *Store implements it.
type Sink interface {
	Put(ctx context.Context, status exchange.Status) error
}

// Publisher periodically copies the status of an exchange into a Sink.
type Publisher struct {
	source   Source
	sink     Sink
	interval time.Duration
	logger   zerolog.Logger
}

// NewPublisher creates a publisher. An interval of zero uses
// DefaultPublishInterval.
func NewPublisher(source Source, sink Sink, interval time.Duration) *Publisher {
	if interval <= 0 {
		interval = DefaultPublishInterval
	}
	return &Publisher{
		source:   source,
		sink:     sink,
		interval: interval,
		logger:   log.With().Str("component", "status-publisher").Logger(),
	}
}

// PublishOnce writes the current snapshot.
func (p *Publisher) PublishOnce(ctx context.Context) error {
	status := p.source.Status()
	if err := p.sink.Put(ctx, status); err != nil {
		return err
	}
	p.logger.Debug().
		Str("exchange_id", status.ID).
		Int("buffered_pages", status.BufferedPages).
		Bool("closed", status.Closed).
		Msg("Published exchange status")
	return nil
}

// Run publishes every interval until ctx is done or the exchange closes,
// then writes a final snapshot. Write failures are logged and do not stop
// the loop.
func (p *Publisher) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		if err := p.PublishOnce(ctx); err != nil && !errors.Is(err, context.Canceled) {
			p.logger.Warn().Err(err).Msg("Failed to publish exchange status")
		}
		if p.source.Status().Closed {
			return nil
		}

		select {
		case <-ctx.Done():
			p.publishFinal()
			return nil
		case <-ticker.C:
		}
	}
}

func (p *Publisher) publishFinal() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := p.PublishOnce(ctx); err != nil {
		p.logger.Warn().Err(err).Msg("Failed to publish final exchange status")
	}
}
