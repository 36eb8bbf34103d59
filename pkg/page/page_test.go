package page

import "testing"

func TestNew(t *testing.T) {
	p := New(3, []byte{1, 2, 3, 4}, []byte{5, 6})

	if p.PositionCount() != 3 {
		t.Errorf("PositionCount() = %d, want 3", p.PositionCount())
	}
	if p.ChannelCount() != 2 {
		t.Errorf("ChannelCount() = %d, want 2", p.ChannelCount())
	}
	if p.SizeInBytes() != 6 {
		t.Errorf("SizeInBytes() = %d, want 6", p.SizeInBytes())
	}
	if got := p.Block(1); len(got) != 2 || got[0] != 5 {
		t.Errorf("Block(1) = %v, want [5 6]", got)
	}
}

func TestNew_NoBlocks(t *testing.T) {
	p := New(0)

	if p.ChannelCount() != 0 {
		t.Errorf("ChannelCount() = %d, want 0", p.ChannelCount())
	}
	if p.SizeInBytes() != 0 {
		t.Errorf("SizeInBytes() = %d, want 0", p.SizeInBytes())
	}
}
