// Package page defines the unit of data moved between producer tasks and the
// exchange client, together with its wire encoding.
package page

// Page is an immutable batch of rows in columnar form. Each channel is an
// opaque encoded block; the exchange layer never looks inside them.
//
// Callers must not modify the block slices after handing them to New.
type Page struct {
	positionCount int
	blocks        [][]byte
	sizeInBytes   int64
}

// New creates a page with the given row count and channel blocks.
func New(positionCount int, blocks ...[]byte) *Page {
	var size int64
	for _, b := range blocks {
		size += int64(len(b))
	}
	return &Page{
		positionCount: positionCount,
		blocks:        blocks,
		sizeInBytes:   size,
	}
}

// PositionCount returns the number of rows in the page.
func (p *Page) PositionCount() int {
	return p.positionCount
}

// ChannelCount returns the number of column blocks.
func (p *Page) ChannelCount() int {
	return len(p.blocks)
}

// Block returns the encoded block for the given channel.
func (p *Page) Block(channel int) []byte {
	return p.blocks[channel]
}

// SizeInBytes returns the retained size of the page, which is what the
// exchange client charges against its memory budget.
func (p *Page) SizeInBytes() int64 {
	return p.sizeInBytes
}
