package exchange

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/Sternrassler/page-exchange/pkg/buffer"
	"github.com/Sternrassler/page-exchange/pkg/page"
	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Transport fetches pages from remote buffers. *buffer.Client implements it.
type Transport interface {
	// Fetch returns the pages starting at token, bounded by maxBytes.
	Fetch(ctx context.Context, location string, token int64, maxBytes int64) (*buffer.Response, error)

	// Abort releases a remote buffer that will not be read any further.
	Abort(ctx context.Context, location string) error
}

// Executor runs fetch tasks. *ants.Pool implements it.
type Executor interface {
	Submit(task func()) error
}

// Client merges the page streams of many remote buffers into one queue.
// All methods are safe for concurrent use.
type Client struct {
	id        string
	config    Config
	transport Transport
	executor  Executor
	pool      *ants.Pool // owned, nil when Config.Executor was given
	logger    zerolog.Logger

	mu              sync.Mutex
	locations       []*locationClient
	slots           map[string]int
	queue           *pageQueue
	inFlight        int
	noMoreLocations bool
	closed          bool
	released        bool
	failure         error
	wake            chan struct{}
	timer           *time.Timer
	timerAt         time.Time
	pending         []func()

	successfulRequests int64
	bytesReceived      int64
}

// New creates an exchange client reading through transport.
func New(transport Transport, cfg Config) (*Client, error) {
	if transport == nil {
		return nil, errors.New("transport is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid exchange config: %w", err)
	}

	id := uuid.NewString()
	logger := log.With().
		Str("component", "exchange-client").
		Str("exchange_id", id).
		Logger()

	c := &Client{
		id:        id,
		config:    cfg,
		transport: transport,
		executor:  cfg.Executor,
		logger:    logger,
		slots:     make(map[string]int),
		queue:     newPageQueue(),
		wake:      make(chan struct{}),
	}

	if c.executor == nil {
		pool, err := ants.NewPool(-1, ants.WithPanicHandler(func(p interface{}) {
			logger.Error().Interface("panic", p).Msg("Fetch task panicked")
		}))
		if err != nil {
			return nil, fmt.Errorf("create fetch pool: %w", err)
		}
		c.pool = pool
		c.executor = pool
	}

	logger.Debug().
		Int64("max_buffered_bytes", cfg.MaxBufferedBytes).
		Int64("max_response_bytes", cfg.MaxResponseBytes).
		Int("max_concurrent_requests", cfg.MaxConcurrentRequests).
		Msg("Exchange client created")

	return c, nil
}

// ID returns the exchange id used in logs and status snapshots.
func (c *Client) ID() string {
	return c.id
}

// AddLocation registers a remote buffer. Adding a known location again is a
// no-op.
func (c *Client) AddLocation(location string) error {
	if err := validateLocation(location); err != nil {
		return err
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.noMoreLocations {
		c.mu.Unlock()
		return ErrNoMoreLocations
	}
	if _, ok := c.slots[location]; ok {
		c.mu.Unlock()
		return nil
	}

	slot := len(c.locations)
	loc := newLocationClient(slot, location, c.transport, &c.config, locationCallbacks{
		fetchDone: c.fetchDone,
		addPages:  c.addPagesLocked,
		finished:  c.locationFinishedLocked,
		failed:    c.locationFailedLocked,
	}, c.logger)
	c.locations = append(c.locations, loc)
	c.slots[location] = slot

	c.logger.Debug().Str("location", location).Int("slot", slot).Msg("Location added")

	c.scheduleLocked(time.Now())
	c.unlockAndSubmit()
	return nil
}

// NoMoreLocations marks the location set as final. Calling it again has no
// effect.
func (c *Client) NoMoreLocations() {
	c.mu.Lock()
	if !c.noMoreLocations {
		c.noMoreLocations = true
		c.logger.Debug().Int("locations", len(c.locations)).Msg("No more locations")
	}
	c.checkClosedLocked()
	c.unlockAndSubmit()
}

// ScheduleRequestIfNecessary starts fetches for idle locations while the
// memory and concurrency budgets allow. The client calls it on every state
// change; callers rarely need to.
func (c *Client) ScheduleRequestIfNecessary() {
	c.mu.Lock()
	c.scheduleLocked(time.Now())
	c.unlockAndSubmit()
}

// GetNextPage returns the oldest buffered page, waiting up to maxWait for
// one to arrive. It returns (nil, nil) on timeout and once the exchange is
// closed, the terminal failure if a location failed, and ctx.Err() if ctx
// ends first. A maxWait of zero or less does not wait.
func (c *Client) GetNextPage(ctx context.Context, maxWait time.Duration) (*page.Page, error) {
	var timeout <-chan time.Time
	if maxWait > 0 {
		timer := time.NewTimer(maxWait)
		defer timer.Stop()
		timeout = timer.C
	}

	for {
		c.mu.Lock()
		if c.failure != nil {
			err := c.failure
			c.mu.Unlock()
			return nil, err
		}
		if c.closed {
			c.mu.Unlock()
			return nil, nil
		}

		if p, ok := c.queue.pop(); ok {
			bufferedBytesGauge.Sub(float64(p.SizeInBytes()))
			c.checkClosedLocked()
			c.scheduleLocked(time.Now())
			c.unlockAndSubmit()
			return p, nil
		}

		wake := c.wake
		c.mu.Unlock()

		if timeout == nil {
			return nil, nil
		}
		select {
		case <-wake:
		case <-timeout:
			return nil, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// IsClosed reports whether the exchange is finished, failed or closed.
func (c *Client) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Close cancels outstanding fetches, aborts unfinished remote buffers,
// discards buffered pages and releases the owned worker pool. It is
// idempotent.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.released {
		c.mu.Unlock()
		return nil
	}
	c.released = true
	if !c.closed {
		c.closeLocked()
		c.logger.Info().
			Int("locations", len(c.locations)).
			Msg("Exchange closed")
	}
	c.unlockAndSubmit()

	if c.pool != nil {
		c.pool.Release()
	}
	return nil
}

// Status returns a snapshot of the exchange. It never schedules fetches.
func (c *Client) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := Status{
		ID:              c.id,
		BufferedPages:   c.queue.len(),
		BufferedBytes:   c.queue.sizeInBytes(),
		NoMoreLocations: c.noMoreLocations,
		Closed:          c.closed,
		Locations:       make([]LocationStatus, 0, len(c.locations)),
	}
	if c.successfulRequests > 0 {
		s.AverageBytesPerRequest = c.bytesReceived / c.successfulRequests
	}
	if c.failure != nil {
		s.Failure = c.failure.Error()
	}
	for _, loc := range c.locations {
		s.Locations = append(s.Locations, loc.status())
	}
	return s
}

// fetchDone runs on the worker once a fetch returns.
func (c *Client) fetchDone(loc *locationClient, resp *buffer.Response, err error) {
	c.mu.Lock()
	now := time.Now()
	if !loc.handleResult(now, resp, err) {
		c.mu.Unlock()
		if resp != nil && len(resp.Pages) > 0 {
			c.logger.Debug().
				Str("location", loc.location).
				Int("pages", len(resp.Pages)).
				Msg("Discarding pages received after close")
		}
		return
	}
	if c.inFlight > 0 {
		c.inFlight--
	}
	if err == nil {
		c.successfulRequests++
		c.bytesReceived += resp.Bytes
	}
	c.checkClosedLocked()
	c.scheduleLocked(now)
	c.unlockAndSubmit()
}

func (c *Client) addPagesLocked(loc *locationClient, pages []*page.Page) {
	var bytes int64
	for _, p := range pages {
		c.queue.push(p)
		bytes += p.SizeInBytes()
	}
	pagesReceivedTotal.Add(float64(len(pages)))
	bytesReceivedTotal.Add(float64(bytes))
	bufferedBytesGauge.Add(float64(bytes))

	c.logger.Debug().
		Str("location", loc.location).
		Int("pages", len(pages)).
		Int64("bytes", bytes).
		Int64("buffered_bytes", c.queue.sizeInBytes()).
		Msg("Pages added")

	c.signalLocked()
}

func (c *Client) locationFinishedLocked(loc *locationClient) {
	c.logger.Debug().
		Str("location", loc.location).
		Int64("pages", loc.pagesReceived).
		Msg("Location finished")
}

func (c *Client) locationFailedLocked(_ *locationClient, err *LocationError) {
	if c.closed {
		return
	}
	locationsFailedTotal.Inc()
	c.failure = err
	c.closeLocked()
	c.logger.Error().Err(err).Msg("Exchange failed")
}

// scheduleLocked starts fetches in insertion order while both budgets
// allow, and arms the coordinator timer for the earliest backoff deadline
// it skipped.
func (c *Client) scheduleLocked(now time.Time) {
	if c.closed {
		return
	}

	var wakeAt time.Time
	for _, loc := range c.locations {
		if c.inFlight >= c.config.MaxConcurrentRequests {
			break
		}
		reserved := c.queue.sizeInBytes() + int64(c.inFlight)*c.config.MaxResponseBytes
		if reserved >= c.config.MaxBufferedBytes {
			break
		}
		if !loc.isQueued() {
			continue
		}
		if until := loc.backoffUntil(now); !until.IsZero() {
			if wakeAt.IsZero() || until.Before(wakeAt) {
				wakeAt = until
			}
			continue
		}
		if task := loc.scheduleFetch(now); task != nil {
			c.inFlight++
			c.pending = append(c.pending, task)
		}
	}
	c.armTimerLocked(wakeAt)
}

// armTimerLocked makes sure a scheduling pass runs at or before at.
func (c *Client) armTimerLocked(at time.Time) {
	if at.IsZero() {
		return
	}
	if c.timer != nil && !c.timerAt.IsZero() && !at.Before(c.timerAt) {
		return
	}
	if c.timer != nil {
		c.timer.Stop()
	}
	c.timerAt = at
	c.timer = time.AfterFunc(time.Until(at), c.onTimer)
}

func (c *Client) onTimer() {
	c.mu.Lock()
	c.timerAt = time.Time{}
	c.scheduleLocked(time.Now())
	c.unlockAndSubmit()
}

// checkClosedLocked closes the exchange once every location is terminal,
// no more locations will be added and the queue is drained.
func (c *Client) checkClosedLocked() {
	if c.closed || !c.noMoreLocations || c.queue.len() > 0 {
		return
	}
	for _, loc := range c.locations {
		if !loc.isTerminal() {
			return
		}
	}

	c.closed = true
	c.stopTimerLocked()
	c.logger.Info().
		Int("locations", len(c.locations)).
		Int64("requests", c.successfulRequests).
		Int64("bytes", c.bytesReceived).
		Msg("Exchange finished")
	c.signalLocked()
}

// closeLocked cancels every location, queues best-effort aborts for remote
// buffers that may still hold pages and discards buffered pages.
func (c *Client) closeLocked() {
	c.closed = true
	for _, loc := range c.locations {
		loc.close()
		if c.config.AbortTimeout > 0 && loc.needsAbort() {
			c.pending = append(c.pending, c.abortTask(loc.location))
		}
	}
	if released := c.queue.clear(); released > 0 {
		bufferedBytesGauge.Sub(float64(released))
	}
	c.inFlight = 0
	c.stopTimerLocked()
	c.signalLocked()
}

func (c *Client) abortTask(location string) func() {
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), c.config.AbortTimeout)
		defer cancel()
		if err := c.transport.Abort(ctx, location); err != nil {
			c.logger.Debug().Err(err).Str("location", location).Msg("Abort failed")
		}
	}
}

func (c *Client) stopTimerLocked() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.timerAt = time.Time{}
}

// signalLocked wakes every goroutine blocked in GetNextPage.
func (c *Client) signalLocked() {
	close(c.wake)
	c.wake = make(chan struct{})
}

// unlockAndSubmit releases the lock and hands the tasks collected while it
// was held to the executor.
func (c *Client) unlockAndSubmit() {
	tasks := c.pending
	c.pending = nil
	c.mu.Unlock()

	for _, task := range tasks {
		if err := c.executor.Submit(task); err != nil {
			c.logger.Warn().Err(err).Msg("Executor rejected task, running it on a new goroutine")
			go task()
		}
	}
}

func validateLocation(location string) error {
	if location == "" {
		return fmt.Errorf("%w: empty location", ErrInvalidLocation)
	}
	u, err := url.Parse(location)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidLocation, err)
	}
	if !u.IsAbs() || u.Host == "" {
		return fmt.Errorf("%w: %q is not an absolute URI", ErrInvalidLocation, location)
	}
	return nil
}
