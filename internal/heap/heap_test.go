package heap

import "testing"

func TestSetBrkGrowsWithinLimit(t *testing.T) {
	m := NewManager(0x10000, 0x4000)
	got, err := m.SetBrk(0x11000)
	if err != nil {
		t.Fatalf("SetBrk: %v", err)
	}
	if got != 0x11000 {
		t.Errorf("got %#x, want 0x11000", got)
	}
	if m.Current() != 0x11000 {
		t.Errorf("Current() = %#x, want 0x11000", m.Current())
	}
}

func TestSetBrkRefusesGrowthPastLimit(t *testing.T) {
	m := NewManager(0x10000, 0x1000)
	before := m.Current()
	if _, err := m.SetBrk(0x20000); err == nil {
		t.Fatalf("expected growth past the reserved limit to be refused")
	}
	if m.Current() != before {
		t.Errorf("Current() changed after a refused growth: got %#x, want %#x", m.Current(), before)
	}
}

func TestSetBrkRejectsBelowBase(t *testing.T) {
	m := NewManager(0x10000, 0x1000)
	if _, err := m.SetBrk(0xff); err == nil {
		t.Fatalf("expected an address below the heap base to be rejected")
	}
}

func TestSetBrkShrinkAlwaysSucceeds(t *testing.T) {
	m := NewManager(0x10000, 0x4000)
	if _, err := m.SetBrk(0x12000); err != nil {
		t.Fatalf("SetBrk grow: %v", err)
	}
	if _, err := m.SetBrk(0x10500); err != nil {
		t.Fatalf("SetBrk shrink: %v", err)
	}
	if m.Current() != 0x10500 {
		t.Errorf("Current() = %#x, want 0x10500", m.Current())
	}
}
