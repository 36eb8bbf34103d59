package drain

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/Sternrassler/page-exchange/pkg/page"
)

// scriptedSource returns its pages then closes. A nil entry simulates a
// poll timeout. Once err is set the source is closed and keeps returning
// err, the way a failed exchange does.
type scriptedSource struct {
	pages  []*page.Page
	err    error
	calls  int
	closed bool
}

func (s *scriptedSource) GetNextPage(ctx context.Context, _ time.Duration) (*page.Page, error) {
	if s.err != nil && len(s.pages) == 0 {
		s.closed = true
		return nil, s.err
	}
	if s.closed {
		return nil, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.calls++
	if len(s.pages) == 0 {
		s.closed = true
		return nil, nil
	}
	p := s.pages[0]
	s.pages = s.pages[1:]
	return p, nil
}

func (s *scriptedSource) IsClosed() bool {
	return s.closed
}

// fail closes the source with err and drops anything still buffered.
func (s *scriptedSource) fail(err error) {
	s.err = err
	s.pages = nil
	s.closed = true
}

func rows(n int) *page.Page {
	return page.New(n, make([]byte, n*8))
}

func TestDrain(t *testing.T) {
	src := &scriptedSource{pages: []*page.Page{rows(1), nil, rows(2), rows(3)}}

	var seen []int
	stats, err := Drain(context.Background(), src, Config{PollInterval: time.Millisecond, ProgressEvery: 2},
		func(p *page.Page) error {
			seen = append(seen, p.PositionCount())
			return nil
		})
	if err != nil {
		t.Fatalf("Drain() error = %v", err)
	}

	if len(seen) != 3 || seen[0] != 1 || seen[1] != 2 || seen[2] != 3 {
		t.Errorf("handled %v, want [1 2 3]", seen)
	}
	if stats.Pages != 3 || stats.Positions != 6 || stats.Bytes != 48 {
		t.Errorf("stats = %+v, want 3 pages, 6 rows, 48 bytes", stats)
	}
	if stats.Duration <= 0 {
		t.Error("Duration not recorded")
	}
}

func TestDrain_SourceError(t *testing.T) {
	failure := errors.New("location failed")
	src := &scriptedSource{pages: []*page.Page{rows(1)}, err: failure}

	stats, err := Drain(context.Background(), src, DefaultConfig(), nil)
	if !errors.Is(err, failure) {
		t.Fatalf("Drain() error = %v, want %v", err, failure)
	}
	if stats.Pages != 1 {
		t.Errorf("Pages = %d, want 1", stats.Pages)
	}
}

func TestDrain_SourceFailsWhileHandling(t *testing.T) {
	failure := errors.New("location failed")
	src := &scriptedSource{pages: []*page.Page{rows(1), rows(2)}}

	stats, err := Drain(context.Background(), src, DefaultConfig(), func(p *page.Page) error {
		src.fail(failure)
		return nil
	})
	if !errors.Is(err, failure) {
		t.Fatalf("Drain() error = %v, want %v", err, failure)
	}
	if stats.Pages != 1 {
		t.Errorf("Pages = %d, want 1", stats.Pages)
	}
}

func TestDrain_HandlerError(t *testing.T) {
	src := &scriptedSource{pages: []*page.Page{rows(1), rows(2), rows(3)}}
	stop := errors.New("disk full")

	stats, err := Drain(context.Background(), src, DefaultConfig(), func(p *page.Page) error {
		if p.PositionCount() == 2 {
			return stop
		}
		return nil
	})
	if !errors.Is(err, stop) {
		t.Fatalf("Drain() error = %v, want %v", err, stop)
	}
	if !strings.Contains(err.Error(), "page 2") {
		t.Errorf("error = %q, want page number", err)
	}
	if stats.Pages != 1 {
		t.Errorf("Pages = %d, want 1", stats.Pages)
	}
}

func TestDrain_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Drain(ctx, &scriptedSource{pages: []*page.Page{rows(1)}}, DefaultConfig(), nil)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Drain() error = %v, want context.Canceled", err)
	}
}

func TestStats(t *testing.T) {
	s := Stats{Pages: 2, Positions: 10, Bytes: 2048, Duration: 2 * time.Second}
	if got := s.BytesPerSecond(); got != 1024 {
		t.Errorf("BytesPerSecond() = %v, want 1024", got)
	}
	if got := s.String(); !strings.Contains(got, "2 pages") || !strings.Contains(got, "2KiB") {
		t.Errorf("String() = %q", got)
	}
	if got := (Stats{}).BytesPerSecond(); got != 0 {
		t.Errorf("zero BytesPerSecond() = %v, want 0", got)
	}
}
