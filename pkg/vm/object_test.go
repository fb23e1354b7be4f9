package vm

import "testing"

func TestTableSetGetDelete(t *testing.T) {
	v := New(Config{})
	tbl := newTable(v)

	tbl.Set(1, NumberValue(10))
	tbl.Set(2, NumberValue(20))

	if got, ok := tbl.Get(1); !ok || got.AsNumber() != 10 {
		t.Errorf("Get(1) = %v, %v; want 10, true", got, ok)
	}
	if got, ok := tbl.Get(2); !ok || got.AsNumber() != 20 {
		t.Errorf("Get(2) = %v, %v; want 20, true", got, ok)
	}
	if _, ok := tbl.Get(3); ok {
		t.Error("Get on an absent key should report ok=false")
	}

	tbl.Set(1, NumberValue(99))
	if got, ok := tbl.Get(1); !ok || got.AsNumber() != 99 {
		t.Errorf("Set on an existing key should overwrite, got %v, %v", got, ok)
	}
	if tbl.count != 2 {
		t.Errorf("overwriting an existing key should not change count, got %d", tbl.count)
	}

	tbl.Delete(2)
	if _, ok := tbl.Get(2); ok {
		t.Error("deleted key should no longer be found")
	}
	if tbl.count != 1 {
		t.Errorf("count after delete = %d, want 1", tbl.count)
	}
}

// TestTableGrowsAtLoadFactorOne checks the resize threshold matches
// the documented invariant (resize when count would exceed capacity,
// i.e. load factor 1 on the grow side) rather than over-filling the
// bucket array before growing.
func TestTableGrowsAtLoadFactorOne(t *testing.T) {
	v := New(Config{})
	tbl := newTable(v)
	initialCap := len(tbl.buckets)

	for i := 0; i < initialCap; i++ {
		tbl.Set(i, NumberValue(float64(i)))
	}
	if len(tbl.buckets) != initialCap {
		t.Fatalf("filling to exactly capacity should not yet grow, buckets = %d, want %d", len(tbl.buckets), initialCap)
	}

	tbl.Set(initialCap, NumberValue(float64(initialCap)))
	if len(tbl.buckets) <= initialCap {
		t.Errorf("count exceeding capacity should trigger a grow, buckets = %d, want > %d", len(tbl.buckets), initialCap)
	}

	for i := 0; i <= initialCap; i++ {
		if got, ok := tbl.Get(i); !ok || got.AsNumber() != float64(i) {
			t.Errorf("Get(%d) after grow = %v, %v; want %d, true", i, got, ok, i)
		}
	}
}

// TestTableShrinksOnDelete exercises the documented shrink side of the
// same invariant: count dropping below capacity/2-1 triggers a grow(cap/2).
func TestTableShrinksOnDelete(t *testing.T) {
	v := New(Config{})
	tbl := newTable(v)

	const n = 64
	for i := 0; i < n; i++ {
		tbl.Set(i, NumberValue(float64(i)))
	}
	grownCap := len(tbl.buckets)
	if grownCap <= mapMinCapacity {
		t.Fatalf("populating %d entries should have grown past the minimum capacity", n)
	}

	for i := 0; i < n-1; i++ {
		tbl.Delete(i)
	}
	if len(tbl.buckets) >= grownCap {
		t.Errorf("deleting almost everything should shrink the table, buckets = %d, want < %d", len(tbl.buckets), grownCap)
	}
	if got, ok := tbl.Get(n - 1); !ok || got.AsNumber() != float64(n-1) {
		t.Error("surviving entry should still be reachable after a shrink")
	}
}

func TestMapSetGetRemove(t *testing.T) {
	v := New(Config{})
	m := newMap(v)

	key := ObjValue(newString(v, "k"))
	m.Set(key, NumberValue(5))
	if got, ok := m.Get(key); !ok || got.AsNumber() != 5 {
		t.Errorf("Get after Set = %v, %v; want 5, true", got, ok)
	}
	if m.Count() != 1 {
		t.Errorf("Count() = %d, want 1", m.Count())
	}

	if old, ok := m.Remove(key); !ok || old.AsNumber() != 5 {
		t.Errorf("Remove = %v, %v; want 5, true", old, ok)
	}
	if m.Count() != 0 {
		t.Errorf("Count() after Remove = %d, want 0", m.Count())
	}
	if _, ok := m.Get(key); ok {
		t.Error("removed key should no longer be found")
	}
}

// TestMapTombstonesDoNotBreakProbing removes a key that collides with
// a later-inserted key's probe sequence and checks the survivor is
// still reachable — the documented reason Map uses tombstones rather
// than compacting on delete.
func TestMapTombstonesDoNotBreakProbing(t *testing.T) {
	v := New(Config{})
	m := newMap(v)

	keys := make([]Value, 0, mapMinCapacity)
	for i := 0; i < mapMinCapacity; i++ {
		keys = append(keys, ObjValue(newString(v, string(rune('a'+i)))))
	}
	for i, k := range keys {
		m.Set(k, NumberValue(float64(i)))
	}
	// Remove every other entry, leaving tombstones interleaved with survivors.
	for i := 0; i < len(keys); i += 2 {
		m.Remove(keys[i])
	}
	for i := 1; i < len(keys); i += 2 {
		if got, ok := m.Get(keys[i]); !ok || got.AsNumber() != float64(i) {
			t.Errorf("surviving key %d = %v, %v; want %d, true", i, got, ok, i)
		}
	}
}

func TestListAdd(t *testing.T) {
	v := New(Config{})
	l := newList(v, nil)
	l.Add(NumberValue(1))
	l.Add(NumberValue(2))
	if len(l.Items) != 2 {
		t.Fatalf("len(Items) = %d, want 2", len(l.Items))
	}
	if l.Items[0].AsNumber() != 1 || l.Items[1].AsNumber() != 2 {
		t.Error("Add should append in order")
	}
}

func TestRangeString(t *testing.T) {
	v := New(Config{})
	incl := newRange(v, 1, 3, true)
	if incl.String() != "1..3" {
		t.Errorf("inclusive range String() = %q, want %q", incl.String(), "1..3")
	}
	excl := newRange(v, 1, 3, false)
	if excl.String() != "1...3" {
		t.Errorf("exclusive range String() = %q, want %q", excl.String(), "1...3")
	}
}
