package bitset

import "testing"

func TestSetClearCheck(t *testing.T) {
	s := New(10)
	if s.Check(3) {
		t.Fatalf("bit 3 should start clear")
	}
	s.Set(3)
	if !s.Check(3) {
		t.Fatalf("bit 3 should be set")
	}
	s.Clear(3)
	if s.Check(3) {
		t.Fatalf("bit 3 should be clear after Clear")
	}
}

func TestGrowsPastInitialCapacity(t *testing.T) {
	s := New(4)
	s.Set(200)
	if !s.Check(200) {
		t.Fatalf("bit 200 should be set after growing")
	}
	if s.Check(199) {
		t.Fatalf("neighboring bit should remain clear")
	}
}

func TestOutOfRangeCheckIsFalse(t *testing.T) {
	s := New(0)
	if s.Check(1000) {
		t.Fatalf("unset/out-of-range bit must read false, never panic")
	}
}

func TestClearOnNeverSetWord(t *testing.T) {
	s := New(0)
	s.Clear(500) // must not panic, must not grow
	if s.Len() != 0 {
		t.Fatalf("Clear must not grow the set")
	}
}
