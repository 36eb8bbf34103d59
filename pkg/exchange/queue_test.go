package exchange

import (
	"testing"

	"github.com/Sternrassler/page-exchange/internal/testutil"
)

func TestPageQueue(t *testing.T) {
	q := newPageQueue()
	if _, ok := q.pop(); ok {
		t.Fatal("pop() on empty queue succeeded")
	}

	p1, p2, p3 := testutil.LongPage(0, 1), testutil.LongPage(1, 2), testutil.LongPage(3, 3)
	q.push(p1)
	q.push(p2)
	q.push(p3)
	if q.len() != 3 || q.sizeInBytes() != 48 {
		t.Fatalf("len = %d, bytes = %d, want 3, 48", q.len(), q.sizeInBytes())
	}

	got, ok := q.pop()
	if !ok || got != p1 {
		t.Fatal("pop() did not return the oldest page")
	}
	if q.sizeInBytes() != 40 {
		t.Errorf("bytes = %d, want 40", q.sizeInBytes())
	}

	if released := q.clear(); released != 40 {
		t.Errorf("clear() = %d, want 40", released)
	}
	if q.len() != 0 || q.sizeInBytes() != 0 {
		t.Errorf("len = %d, bytes = %d after clear, want 0, 0", q.len(), q.sizeInBytes())
	}
}
