package exchange

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/Sternrassler/page-exchange/pkg/buffer"
	"github.com/Sternrassler/page-exchange/pkg/page"
	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
)

// locationState is the lifecycle state of one location.
type locationState int

const (
	stateQueued locationState = iota
	stateRunning
	stateClosed
	stateFailed
)

func (s locationState) String() string {
	switch s {
	case stateQueued:
		return "queued"
	case stateRunning:
		return "running"
	case stateClosed:
		return "closed"
	case stateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Transport request states, stored atomically because the worker updates
// them outside the exchange lock.
const (
	requestNotScheduled int32 = iota
	requestQueued
	requestRunning
	requestFinished
	requestCancelled
)

var requestStateNames = [...]string{
	requestNotScheduled: "not_scheduled",
	requestQueued:       "queued",
	requestRunning:      "running",
	requestFinished:     "finished",
	requestCancelled:    "cancelled",
}

// locationCallbacks connect a location to its exchange. fetchDone runs on
// the worker without any lock; the others run with the exchange lock held.
type locationCallbacks struct {
	fetchDone func(loc *locationClient, resp *buffer.Response, err error)
	addPages  func(loc *locationClient, pages []*page.Page)
	finished  func(loc *locationClient)
	failed    func(loc *locationClient, err *LocationError)
}

// locationClient pulls pages from one remote buffer. Everything except
// requestState is guarded by the exchange lock.
type locationClient struct {
	slot      int
	location  string
	transport Transport
	config    *Config
	callbacks locationCallbacks
	logger    zerolog.Logger

	state     locationState
	token     int64
	notBefore time.Time
	attempts  int
	completed bool
	cancel    context.CancelFunc

	retryBackoff *backoff.ExponentialBackOff
	pollBackoff  *backoff.ExponentialBackOff

	requestState atomic.Int32

	pagesReceived     int64
	bytesReceived     int64
	requestsScheduled int64
	requestsCompleted int64
	requestsFailed    int64
}

func newLocationClient(slot int, location string, transport Transport, cfg *Config, callbacks locationCallbacks, logger zerolog.Logger) *locationClient {
	return &locationClient{
		slot:         slot,
		location:     location,
		transport:    transport,
		config:       cfg,
		callbacks:    callbacks,
		logger:       logger.With().Str("location", location).Logger(),
		state:        stateQueued,
		retryBackoff: newBackOff(cfg.Retry.InitialBackoff, cfg.Retry.MaxBackoff, cfg.Retry.BackoffMultiplier),
		pollBackoff:  newBackOff(cfg.EmptyPollBackoff, cfg.MaxEmptyPollBackoff, 2.0),
	}
}

func (l *locationClient) isTerminal() bool {
	return l.state == stateClosed || l.state == stateFailed
}

func (l *locationClient) isQueued() bool {
	return l.state == stateQueued
}

// backoffUntil returns the pending retry or poll deadline, or the zero time
// when the location may be fetched at now.
func (l *locationClient) backoffUntil(now time.Time) time.Time {
	if now.Before(l.notBefore) {
		return l.notBefore
	}
	return time.Time{}
}

// scheduleFetch moves an idle location to running and returns the fetch to
// run outside the lock. It returns nil when the location is not idle.
func (l *locationClient) scheduleFetch(now time.Time) func() {
	if l.state != stateQueued || now.Before(l.notBefore) {
		return nil
	}

	var (
		ctx    context.Context
		cancel context.CancelFunc
	)
	if l.config.RequestTimeout > 0 {
		ctx, cancel = context.WithTimeout(context.Background(), l.config.RequestTimeout)
	} else {
		ctx, cancel = context.WithCancel(context.Background())
	}
	l.cancel = cancel
	l.state = stateRunning
	l.requestsScheduled++
	l.requestState.Store(requestQueued)

	token := l.token
	maxBytes := l.config.MaxResponseBytes

	l.logger.Debug().
		Int64("token", token).
		Int64("max_bytes", maxBytes).
		Msg("Scheduling fetch")

	return func() {
		defer cancel()
		if !l.requestState.CompareAndSwap(requestQueued, requestRunning) {
			// Cancelled before a worker picked it up.
			l.callbacks.fetchDone(l, nil, context.Canceled)
			return
		}
		resp, err := l.fetch(ctx, token, maxBytes)
		l.callbacks.fetchDone(l, resp, err)
	}
}

// fetch calls the transport, turning a panic into a fetch failure so the
// location still leaves the running state.
func (l *locationClient) fetch(ctx context.Context, token, maxBytes int64) (resp *buffer.Response, err error) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error().
				Interface("panic", r).
				Int64("token", token).
				Msg("Transport panicked")
			resp, err = nil, fmt.Errorf("fetch panicked: %v", r)
		}
	}()
	return l.transport.Fetch(ctx, l.location, token, maxBytes)
}

// handleResult applies a finished fetch. It reports false when the result
// was discarded because the location was closed while the fetch ran.
func (l *locationClient) handleResult(now time.Time, resp *buffer.Response, err error) bool {
	if l.state != stateRunning {
		return false
	}
	l.cancel = nil
	// Between requests the transport slot reads as queued again.
	l.requestState.Store(requestQueued)

	if err != nil {
		l.handleFailure(now, err)
		return true
	}

	l.requestsCompleted++
	l.attempts = 0
	l.retryBackoff.Reset()
	l.token = resp.NextToken

	if n := len(resp.Pages); n > 0 {
		l.pagesReceived += int64(n)
		l.bytesReceived += resp.Bytes
		l.pollBackoff.Reset()
		l.callbacks.addPages(l, resp.Pages)
	}

	if resp.Complete {
		requestsTotal.WithLabelValues("complete").Inc()
		l.state = stateClosed
		l.completed = true
		l.logger.Debug().
			Int64("token", l.token).
			Int64("pages", l.pagesReceived).
			Msg("Location complete")
		l.callbacks.finished(l)
		return true
	}

	l.state = stateQueued
	if len(resp.Pages) == 0 {
		requestsTotal.WithLabelValues("empty").Inc()
		l.notBefore = now.Add(l.pollBackoff.NextBackOff())
	} else {
		requestsTotal.WithLabelValues("pages").Inc()
	}
	return true
}

func (l *locationClient) handleFailure(now time.Time, err error) {
	requestsTotal.WithLabelValues("failure").Inc()
	l.requestsFailed++
	l.attempts++

	class := buffer.Classify(err)
	retriable := buffer.IsRetriable(err)

	if !retriable || l.attempts >= l.config.Retry.MaxAttempts {
		if retriable {
			retryExhaustedTotal.WithLabelValues(string(class)).Inc()
		}
		l.state = stateFailed
		l.requestState.Store(requestFinished)
		l.logger.Error().
			Err(err).
			Int64("token", l.token).
			Int("attempt", l.attempts).
			Str("error_class", string(class)).
			Msg("Location failed")
		l.callbacks.failed(l, &LocationError{
			Location:  l.location,
			Attempts:  l.attempts,
			Class:     class,
			Exhausted: retriable,
			Err:       err,
		})
		return
	}

	delay := l.retryBackoff.NextBackOff()
	retriesTotal.WithLabelValues(string(class)).Inc()
	retryBackoffSeconds.WithLabelValues(string(class)).Observe(delay.Seconds())

	l.state = stateQueued
	l.notBefore = now.Add(delay)
	l.logger.Warn().
		Err(err).
		Int64("token", l.token).
		Int("attempt", l.attempts).
		Int("max_attempts", l.config.Retry.MaxAttempts).
		Str("error_class", string(class)).
		Dur("backoff", delay).
		Msg("Retrying fetch after backoff")
}

// close cancels any outstanding request. A failed location stays failed.
func (l *locationClient) close() {
	if l.cancel != nil {
		l.cancel()
		l.cancel = nil
		l.requestState.Store(requestCancelled)
	}
	if l.state != stateFailed {
		l.state = stateClosed
	}
}

// needsAbort reports whether the remote buffer may still hold pages.
func (l *locationClient) needsAbort() bool {
	return !l.completed
}

func (l *locationClient) status() LocationStatus {
	return LocationStatus{
		Location:          l.location,
		State:             l.state.String(),
		Token:             l.token,
		PagesReceived:     l.pagesReceived,
		RequestsScheduled: l.requestsScheduled,
		RequestsCompleted: l.requestsCompleted,
		RequestsFailed:    l.requestsFailed,
		RequestState:      requestStateNames[l.requestState.Load()],
	}
}
