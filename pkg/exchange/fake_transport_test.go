package exchange

import (
	"context"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/Sternrassler/page-exchange/pkg/buffer"
	"github.com/Sternrassler/page-exchange/pkg/page"
)

type fakeBuffer struct {
	pages    []*page.Page
	complete bool
	failures []error
}

// fakeTransport serves in-memory page sequences. Completion is reported
// only on a response that carries no pages, so a finished location always
// costs one extra round trip.
type fakeTransport struct {
	mu       sync.Mutex
	buffers  map[string]*fakeBuffer
	requests map[string]int
	aborts   map[string]int

	inFlight    int
	maxInFlight int

	// When block is set, fetches wait until it is closed. ignoreCancel
	// makes them ignore the request context while waiting.
	block        chan struct{}
	ignoreCancel bool
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		buffers:  make(map[string]*fakeBuffer),
		requests: make(map[string]int),
		aborts:   make(map[string]int),
	}
}

func (f *fakeTransport) bufferLocked(location string) *fakeBuffer {
	b, ok := f.buffers[location]
	if !ok {
		b = &fakeBuffer{}
		f.buffers[location] = b
	}
	return b
}

func (f *fakeTransport) addPages(location string, pages ...*page.Page) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b := f.bufferLocked(location)
	b.pages = append(b.pages, pages...)
}

func (f *fakeTransport) setComplete(location string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bufferLocked(location).complete = true
}

func (f *fakeTransport) failNext(location string, errs ...error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b := f.bufferLocked(location)
	b.failures = append(b.failures, errs...)
}

// blockFetches makes every following fetch wait until the returned
// function is called.
func (f *fakeTransport) blockFetches(ignoreCancel bool) (release func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch := make(chan struct{})
	f.block = ch
	f.ignoreCancel = ignoreCancel
	var once sync.Once
	return func() {
		once.Do(func() {
			f.mu.Lock()
			f.block = nil
			f.mu.Unlock()
			close(ch)
		})
	}
}

func (f *fakeTransport) Fetch(ctx context.Context, location string, token int64, maxBytes int64) (*buffer.Response, error) {
	f.mu.Lock()
	f.requests[location]++
	b := f.bufferLocked(location)
	f.inFlight++
	if f.inFlight > f.maxInFlight {
		f.maxInFlight = f.inFlight
	}
	block, ignoreCancel := f.block, f.ignoreCancel
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		f.inFlight--
		f.mu.Unlock()
	}()

	if block != nil {
		if ignoreCancel {
			<-block
		} else {
			select {
			case <-block:
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if len(b.failures) > 0 {
		err := b.failures[0]
		b.failures = b.failures[1:]
		return nil, err
	}

	if token > int64(len(b.pages)) {
		return nil, &buffer.Error{
			Location:   location,
			StatusCode: http.StatusBadRequest,
			Class:      buffer.ErrorClassClient,
			Message:    "token beyond end of buffer",
		}
	}

	resp := &buffer.Response{Token: token, NextToken: token}
	for _, p := range b.pages[token:] {
		if len(resp.Pages) > 0 && resp.Bytes+p.SizeInBytes() > maxBytes {
			break
		}
		resp.Pages = append(resp.Pages, p)
		resp.Bytes += p.SizeInBytes()
	}
	resp.NextToken = token + int64(len(resp.Pages))
	resp.Complete = len(resp.Pages) == 0 && b.complete
	return resp, nil
}

func (f *fakeTransport) Abort(_ context.Context, location string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.aborts[location]++
	return nil
}

func (f *fakeTransport) requestCount(location string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests[location]
}

func (f *fakeTransport) aborted(location string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.aborts[location] > 0
}

func (f *fakeTransport) currentInFlight() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.inFlight
}

func (f *fakeTransport) peakInFlight() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.maxInFlight
}

func serverError(location string) error {
	return &buffer.Error{
		Location:   location,
		StatusCode: http.StatusServiceUnavailable,
		Class:      buffer.ErrorClassServer,
		Message:    "503 Service Unavailable",
	}
}

func notFoundError(location string) error {
	return &buffer.Error{
		Location:   location,
		StatusCode: http.StatusNotFound,
		Class:      buffer.ErrorClassClient,
		Message:    "404 Not Found",
	}
}

// waitFor polls cond until it holds or the timeout expires.
func waitFor(t *testing.T, timeout time.Duration, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}
