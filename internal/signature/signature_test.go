package signature

import "testing"

func TestImplicitIsUnresolved(t *testing.T) {
	s := Implicit("schedule")
	if s.IsResolved() {
		t.Error("Implicit signature should not be resolved")
	}
	if New("schedule", "kernel/sched/core.c").IsResolved() != true {
		t.Error("a signature with a concrete file should be resolved")
	}
}

func TestSetAlgebra(t *testing.T) {
	a := NewSet(New("f", "a.c"), New("g", "a.c"))
	b := NewSet(New("g", "a.c"), New("h", "b.c"))

	union := a.Union(b)
	if union.Len() != 3 {
		t.Errorf("Union len = %d, want 3", union.Len())
	}

	inter := a.Intersect(b)
	if inter.Len() != 1 || !inter.Has(New("g", "a.c")) {
		t.Errorf("Intersect = %v, want {g/a.c}", inter.Slice())
	}

	diff := a.Sub(b)
	if diff.Len() != 1 || !diff.Has(New("f", "a.c")) {
		t.Errorf("Sub = %v, want {f/a.c}", diff.Slice())
	}

	if a.Disjoint(b) {
		t.Error("a and b share g/a.c and should not be disjoint")
	}
}

func TestSubInPlaceMutatesReceiver(t *testing.T) {
	a := NewSet(New("f", "a.c"), New("g", "a.c"))
	b := NewSet(New("g", "a.c"))
	a.SubInPlace(b)
	if a.Len() != 1 || !a.Has(New("f", "a.c")) {
		t.Errorf("after SubInPlace a = %v, want {f/a.c}", a.Slice())
	}
}

func TestCloneIsIndependent(t *testing.T) {
	a := NewSet(New("f", "a.c"))
	clone := a.Clone()
	clone.Add(New("g", "a.c"))
	if a.Len() != 1 {
		t.Errorf("mutating a clone should not affect the original, a = %v", a.Slice())
	}
}

func TestUnionIsCommutative(t *testing.T) {
	a := NewSet(New("f", "a.c"), New("g", "a.c"))
	b := NewSet(New("h", "b.c"))
	if a.Union(b).Len() != b.Union(a).Len() {
		t.Error("union should be commutative in size")
	}
}
