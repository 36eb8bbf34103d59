package drain_test

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/Sternrassler/page-exchange/pkg/buffer"
	"github.com/Sternrassler/page-exchange/pkg/drain"
	"github.com/Sternrassler/page-exchange/pkg/exchange"
	"github.com/Sternrassler/page-exchange/pkg/page"
)

// vanishingTransport serves one page, then reports the buffer as gone.
type vanishingTransport struct {
	mu    sync.Mutex
	calls int
}

func (v *vanishingTransport) Fetch(_ context.Context, location string, token int64, _ int64) (*buffer.Response, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.calls++
	if v.calls == 1 {
		p := page.New(1, make([]byte, 8))
		return &buffer.Response{Token: token, NextToken: token + 1, Pages: []*page.Page{p}, Bytes: p.SizeInBytes()}, nil
	}
	return nil, &buffer.Error{
		Location:   location,
		StatusCode: http.StatusNotFound,
		Class:      buffer.ErrorClassClient,
		Message:    "buffer gone",
	}
}

func (v *vanishingTransport) Abort(context.Context, string) error { return nil }

func TestDrain_ExchangeFailsWhileHandling(t *testing.T) {
	client, err := exchange.New(&vanishingTransport{}, exchange.DefaultConfig())
	if err != nil {
		t.Fatalf("exchange.New() error = %v", err)
	}
	defer client.Close()

	if err := client.AddLocation("http://worker-1:8080/v1/buffers/q/0"); err != nil {
		t.Fatalf("AddLocation() error = %v", err)
	}
	client.NoMoreLocations()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	stats, err := drain.Drain(ctx, client, drain.Config{PollInterval: 50 * time.Millisecond}, func(*page.Page) error {
		time.Sleep(100 * time.Millisecond)
		return nil
	})
	if !errors.Is(err, exchange.ErrLocationFailed) {
		t.Fatalf("Drain() error = %v, want ErrLocationFailed", err)
	}
	if stats.Pages > 1 {
		t.Errorf("Pages = %d, want at most 1", stats.Pages)
	}
	if !client.IsClosed() {
		t.Error("IsClosed() = false after failure")
	}
}
