package exchange

import (
	"github.com/Sternrassler/page-exchange/pkg/page"
	"github.com/emirpasic/gods/queues/linkedlistqueue"
)

// pageQueue is the FIFO between fetch completions and the consumer. It is
// guarded by the exchange lock.
type pageQueue struct {
	pages *linkedlistqueue.Queue
	bytes int64
}

func newPageQueue() *pageQueue {
	return &pageQueue{pages: linkedlistqueue.New()}
}

func (q *pageQueue) push(p *page.Page) {
	q.pages.Enqueue(p)
	q.bytes += p.SizeInBytes()
}

func (q *pageQueue) pop() (*page.Page, bool) {
	v, ok := q.pages.Dequeue()
	if !ok {
		return nil, false
	}
	p := v.(*page.Page)
	q.bytes -= p.SizeInBytes()
	return p, true
}

func (q *pageQueue) len() int {
	return q.pages.Size()
}

func (q *pageQueue) sizeInBytes() int64 {
	return q.bytes
}

// clear drops every page and returns the bytes released.
func (q *pageQueue) clear() int64 {
	released := q.bytes
	q.pages.Clear()
	q.bytes = 0
	return released
}
