package vm

import (
	"fmt"
	"strings"
)

// Obj is implemented by every heap-allocated object: string, list, map,
// table, range, fn, closure, upvalue, fiber, class, instance, method
// handle, module. Every Obj carries the header fields spec.md §3
// requires (type tag via the concrete type itself, class pointer,
// mark flag, next-in-heap link) through the embedded ObjHeader.
type Obj interface {
	String() string
	Class() *Class
	header() *ObjHeader
}

// ObjHeader is embedded in every heap object. next chains every live
// allocation through the VM's all-objects list (gc.go) so the sweep
// phase can walk it without a separate registry.
type ObjHeader struct {
	marked bool
	next   Obj
	class  *Class
}

func (h *ObjHeader) header() *ObjHeader { return h }

// -------------------------------------------------------------------
// String

type String struct {
	ObjHeader
	s    string
	hash uint32
}

func newString(vm *VM, s string) *String {
	str := &String{s: s, hash: fnv1a(s)}
	str.class = vm.stringClass
	vm.register(str)
	return str
}

func (s *String) String() string  { return s.s }
func (s *String) Class() *Class   { return s.class }
func (s *String) Go() string      { return s.s }
func (s *String) Len() int        { return len([]rune(s.s)) }

// NewStringValue wraps s as a VM string Value, for embedders (such as
// pkg/compiler's assembler) that need to build constant pools outside
// this package.
func NewStringValue(vm *VM, s string) Value { return ObjValue(newString(vm, s)) }

// -------------------------------------------------------------------
// List

type List struct {
	ObjHeader
	Items []Value
}

func newList(vm *VM, items []Value) *List {
	l := &List{Items: items}
	l.class = vm.listClass
	vm.register(l)
	return l
}

func (l *List) String() string {
	var b strings.Builder
	b.WriteByte('[')
	for i, v := range l.Items {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(v.String())
	}
	b.WriteByte(']')
	return b.String()
}
func (l *List) Class() *Class { return l.class }

// Add appends a value, growing the backing array by at least 2x when
// full, per spec.md §3's List invariant.
func (l *List) Add(v Value) {
	l.Items = append(l.Items, v) // Go's append already satisfies the >=2x growth invariant
}

// -------------------------------------------------------------------
// Map: open-addressed, linear probing, tombstones, load factor <= 75%.

type mapEntry struct {
	key      Value
	value    Value
	occupied bool
	tomb     bool
}

type Map struct {
	ObjHeader
	entries []mapEntry
	count   int // live entries, excludes tombstones
}

const mapMinCapacity = 8
const mapMaxLoad = 0.75

func newMap(vm *VM) *Map {
	m := &Map{entries: make([]mapEntry, mapMinCapacity)}
	m.class = vm.mapClass
	vm.register(m)
	return m
}

func (m *Map) String() string {
	var b strings.Builder
	b.WriteByte('{')
	first := true
	for _, e := range m.entries {
		if !e.occupied || e.tomb {
			continue
		}
		if !first {
			b.WriteString(", ")
		}
		first = false
		fmt.Fprintf(&b, "%s: %s", e.key, e.value)
	}
	b.WriteByte('}')
	return b.String()
}
func (m *Map) Class() *Class { return m.class }
func (m *Map) Count() int    { return m.count }

func (m *Map) findSlot(entries []mapEntry, key Value) int {
	mask := uint32(len(entries) - 1)
	idx := HashValue(key) & mask
	firstTomb := -1
	for {
		e := &entries[idx]
		if !e.occupied {
			if e.tomb {
				if firstTomb == -1 {
					firstTomb = int(idx)
				}
			} else {
				if firstTomb != -1 {
					return firstTomb
				}
				return int(idx)
			}
		} else if Equal(e.key, key) {
			return int(idx)
		}
		idx = (idx + 1) & mask
	}
}

func (m *Map) Get(key Value) (Value, bool) {
	if len(m.entries) == 0 {
		return Undefined, false
	}
	idx := m.findSlot(m.entries, key)
	e := &m.entries[idx]
	if e.occupied && !e.tomb {
		return e.value, true
	}
	return Undefined, false
}

func (m *Map) Set(key, value Value) {
	if float64(m.count+1) > float64(len(m.entries))*mapMaxLoad {
		m.grow(len(m.entries) * 2)
	}
	idx := m.findSlot(m.entries, key)
	e := &m.entries[idx]
	isNew := !e.occupied
	*e = mapEntry{key: key, value: value, occupied: true}
	if isNew {
		m.count++
	}
}

// Remove leaves a tombstone so later probe sequences through this slot
// keep working (spec.md §3: "tombstones do not stop probes").
func (m *Map) Remove(key Value) (Value, bool) {
	if len(m.entries) == 0 {
		return Undefined, false
	}
	idx := m.findSlot(m.entries, key)
	e := &m.entries[idx]
	if !e.occupied || e.tomb {
		return Undefined, false
	}
	old := e.value
	*e = mapEntry{occupied: false, tomb: true}
	m.count--
	return old, true
}

func (m *Map) grow(newCap int) {
	if newCap < mapMinCapacity {
		newCap = mapMinCapacity
	}
	old := m.entries
	m.entries = make([]mapEntry, newCap)
	m.count = 0
	for _, e := range old {
		if e.occupied && !e.tomb {
			m.Set(e.key, e.value)
		}
	}
}

// Each calls fn for every live entry; used by the GC's mark phase and
// by foreign iteration helpers.
func (m *Map) Each(fn func(k, v Value)) {
	for _, e := range m.entries {
		if e.occupied && !e.tomb {
			fn(e.key, e.value)
		}
	}
}

// -------------------------------------------------------------------
// Table: separate-chaining hash table used only for the host-object
// table (spec.md §3). Keyed by plain Go ints (host handles), so it
// does not need Value's general hashing/equality rules.

type tableEntry struct {
	key   int
	value Value
	next  *tableEntry
}

type Table struct {
	ObjHeader
	buckets []*tableEntry
	count   int
}

func newTable(vm *VM) *Table {
	t := &Table{buckets: make([]*tableEntry, mapMinCapacity)}
	vm.register(t)
	return t
}

func (t *Table) String() string { return "<host table>" }
func (t *Table) Class() *Class  { return nil }

func (t *Table) bucket(key int) int {
	h := uint32(key)
	return int(h & uint32(len(t.buckets)-1))
}

func (t *Table) Get(key int) (Value, bool) {
	for e := t.buckets[t.bucket(key)]; e != nil; e = e.next {
		if e.key == key {
			return e.value, true
		}
	}
	return Undefined, false
}

func (t *Table) Set(key int, value Value) {
	if t.count+1 > len(t.buckets) {
		t.grow(len(t.buckets) * 2)
	}
	b := t.bucket(key)
	for e := t.buckets[b]; e != nil; e = e.next {
		if e.key == key {
			e.value = value
			return
		}
	}
	t.buckets[b] = &tableEntry{key: key, value: value, next: t.buckets[b]}
	t.count++
}

func (t *Table) Delete(key int) {
	b := t.bucket(key)
	var prev *tableEntry
	for e := t.buckets[b]; e != nil; e = e.next {
		if e.key == key {
			if prev == nil {
				t.buckets[b] = e.next
			} else {
				prev.next = e.next
			}
			t.count--
			if len(t.buckets) > mapMinCapacity && t.count < (len(t.buckets)/2-1) {
				t.grow(len(t.buckets) / 2)
			}
			return
		}
		prev = e
	}
}

func (t *Table) grow(newCap int) {
	if newCap < mapMinCapacity {
		newCap = mapMinCapacity
	}
	old := t.buckets
	t.buckets = make([]*tableEntry, newCap)
	t.count = 0
	for _, head := range old {
		for e := head; e != nil; e = e.next {
			t.Set(e.key, e.value)
		}
	}
}

func (t *Table) Each(fn func(key int, v Value)) {
	for _, head := range t.buckets {
		for e := head; e != nil; e = e.next {
			fn(e.key, e.value)
		}
	}
}

// -------------------------------------------------------------------
// Range

type Range struct {
	ObjHeader
	From, To  float64
	Inclusive bool
}

func newRange(vm *VM, from, to float64, inclusive bool) *Range {
	r := &Range{From: from, To: to, Inclusive: inclusive}
	r.class = vm.rangeClass
	vm.register(r)
	return r
}

func (r *Range) String() string {
	op := "..."
	if r.Inclusive {
		op = ".."
	}
	return fmt.Sprintf("%s%s%s", formatNumber(r.From), op, formatNumber(r.To))
}
func (r *Range) Class() *Class { return r.class }
