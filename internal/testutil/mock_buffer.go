// Package testutil provides an in-process remote buffer service for tests.
package testutil

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/Sternrassler/page-exchange/pkg/buffer"
	"github.com/Sternrassler/page-exchange/pkg/page"
)

// DefaultMaxSize is used when a request carries no max-size header.
const DefaultMaxSize = 1 << 20

type bufferState struct {
	pages    []*page.Page
	complete bool
	aborted  bool
	failures []int
	corrupt  int
	delay    time.Duration
	requests int
}

// MockBuffer is a configurable remote buffer service. Each location is an
// independent append-only page sequence that is served by token and kept
// until the buffer is aborted.
type MockBuffer struct {
	server  *httptest.Server
	mu      sync.Mutex
	buffers map[string]*bufferState

	// Tracking
	requestCount int
	abortCount   int
}

// NewMockBuffer starts a new mock remote buffer service.
func NewMockBuffer() *MockBuffer {
	mock := &MockBuffer{
		buffers: make(map[string]*bufferState),
	}
	mock.server = httptest.NewServer(http.HandlerFunc(mock.handle))
	return mock
}

// URL returns the server base URL.
func (m *MockBuffer) URL() string {
	return m.server.URL
}

// Location returns the address of a named buffer on this server. The
// buffer is created empty and incomplete.
func (m *MockBuffer) Location(name string) string {
	location := m.server.URL + "/v1/buffers/" + name
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state(location)
	return location
}

// Close shuts down the server.
func (m *MockBuffer) Close() {
	m.server.Close()
}

// AddPage appends a page to the buffer at location.
func (m *MockBuffer) AddPage(location string, p *page.Page) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := m.state(location)
	st.pages = append(st.pages, p)
}

// SetComplete marks the buffer at location as finished.
func (m *MockBuffer) SetComplete(location string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state(location).complete = true
}

// FailNext makes the next n fetches from location fail with status.
func (m *MockBuffer) FailNext(location string, status int, n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := m.state(location)
	for i := 0; i < n; i++ {
		st.failures = append(st.failures, status)
	}
}

// CorruptNext makes the next n page responses from location carry a
// damaged body.
func (m *MockBuffer) CorruptNext(location string, n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state(location).corrupt += n
}

// SetDelay delays every fetch from location.
func (m *MockBuffer) SetDelay(location string, d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state(location).delay = d
}

// RequestCount returns the number of fetches served for location.
func (m *MockBuffer) RequestCount(location string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state(location).requests
}

// TotalRequests returns the number of fetches across all locations.
func (m *MockBuffer) TotalRequests() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.requestCount
}

// Aborted reports whether location received an abort.
func (m *MockBuffer) Aborted(location string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state(location).aborted
}

// AbortCount returns the number of abort requests received.
func (m *MockBuffer) AbortCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.abortCount
}

// state must be called with m.mu held.
func (m *MockBuffer) state(location string) *bufferState {
	key := location
	if u, err := url.Parse(location); err == nil {
		key = u.Path
	}
	st, ok := m.buffers[key]
	if !ok {
		st = &bufferState{}
		m.buffers[key] = st
	}
	return st
}

func (m *MockBuffer) handle(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodDelete:
		m.handleAbort(w, r)
	case http.MethodGet:
		m.handleFetch(w, r)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (m *MockBuffer) handleAbort(w http.ResponseWriter, r *http.Request) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.abortCount++
	st, ok := m.buffers[r.URL.Path]
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	st.aborted = true
	st.pages = nil
	w.WriteHeader(http.StatusNoContent)
}

func (m *MockBuffer) handleFetch(w http.ResponseWriter, r *http.Request) {
	idx := strings.LastIndex(r.URL.Path, "/")
	key := r.URL.Path[:idx]
	token, err := strconv.ParseInt(r.URL.Path[idx+1:], 10, 64)
	if err != nil {
		http.Error(w, "invalid token", http.StatusBadRequest)
		return
	}
	maxSize := int64(DefaultMaxSize)
	if v := r.Header.Get(buffer.HeaderMaxSize); v != "" {
		if maxSize, err = strconv.ParseInt(v, 10, 64); err != nil {
			http.Error(w, "invalid max size", http.StatusBadRequest)
			return
		}
	}

	m.mu.Lock()
	m.requestCount++
	st, ok := m.buffers[key]
	if !ok {
		m.mu.Unlock()
		http.Error(w, fmt.Sprintf("unknown buffer %s", key), http.StatusNotFound)
		return
	}
	st.requests++
	delay := st.delay
	if st.aborted {
		m.mu.Unlock()
		w.WriteHeader(http.StatusGone)
		return
	}
	if len(st.failures) > 0 {
		status := st.failures[0]
		st.failures = st.failures[1:]
		m.mu.Unlock()
		http.Error(w, "injected failure", status)
		return
	}
	if token > int64(len(st.pages)) {
		m.mu.Unlock()
		http.Error(w, "token beyond end of buffer", http.StatusBadRequest)
		return
	}

	var selected []*page.Page
	var size int64
	for _, p := range st.pages[token:] {
		if len(selected) > 0 && size+p.SizeInBytes() > maxSize {
			break
		}
		selected = append(selected, p)
		size += p.SizeInBytes()
	}
	next := token + int64(len(selected))
	complete := st.complete && next == int64(len(st.pages))
	corrupt := false
	if len(selected) > 0 && st.corrupt > 0 {
		st.corrupt--
		corrupt = true
	}
	m.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-r.Context().Done():
			return
		}
	}

	w.Header().Set(buffer.HeaderPageToken, strconv.FormatInt(token, 10))
	w.Header().Set(buffer.HeaderNextToken, strconv.FormatInt(next, 10))
	w.Header().Set(buffer.HeaderBufferComplete, strconv.FormatBool(complete))

	if len(selected) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	w.Header().Set("Content-Type", page.ContentType)
	w.WriteHeader(http.StatusOK)
	if corrupt {
		w.Write([]byte("not a page stream"))
		return
	}
	page.WritePages(w, selected, page.EncoderOptions{Compress: true})
}

// LongPage creates a page with a single 8-byte-per-row channel holding the
// sequence start, start+1, ... of the given length.
func LongPage(start int64, positions int) *page.Page {
	block := make([]byte, 0, positions*8)
	for i := 0; i < positions; i++ {
		v := uint64(start + int64(i))
		for s := 0; s < 8; s++ {
			block = append(block, byte(v>>(8*s)))
		}
	}
	return page.New(positions, block)
}
