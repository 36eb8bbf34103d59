// Package exchange implements the consumer side of a distributed page
// exchange.
//
// A Client pulls pages from any number of remote output buffers
// ("locations") and merges them into a single FIFO that one consumer
// drains with GetNextPage:
//
//	client, err := exchange.New(transport, exchange.DefaultConfig())
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	for _, loc := range locations {
//	    if err := client.AddLocation(loc); err != nil {
//	        return err
//	    }
//	}
//	client.NoMoreLocations()
//
//	for !client.IsClosed() {
//	    p, err := client.GetNextPage(ctx, time.Second)
//	    if err != nil {
//	        return err
//	    }
//	    if p != nil {
//	        process(p)
//	    }
//	}
//
// # Flow control
//
// Fetches start only while the bytes in the queue plus MaxResponseBytes for
// every fetch in flight stay below MaxBufferedBytes, and while fewer than
// MaxConcurrentRequests fetches are running. Locations are visited in the
// order they were added. Removing a page, finishing a fetch, adding a
// location or reaching a backoff deadline triggers a new scheduling pass.
//
// # Failures
//
// Retriable transport errors (network, server, rate limit, protocol) are
// retried per location with jittered exponential backoff. A location that
// hits a non-retriable error or runs out of attempts fails the whole
// exchange: buffered pages are dropped, the other locations are closed and
// GetNextPage returns a *LocationError.
//
// # Metrics
//
//   - exchange_pages_received_total, exchange_bytes_received_total
//   - exchange_requests_total{outcome}
//   - exchange_retries_total{error_class}, exchange_retry_backoff_seconds{error_class}
//   - exchange_retry_exhausted_total{error_class}
//   - exchange_buffered_bytes, exchange_locations_failed_total
package exchange
