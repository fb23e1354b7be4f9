package vm

import "github.com/dustin/go-humanize"

// gcState is the non-moving, stop-the-world mark-sweep collector
// described in spec.md §4.9. There is a single reallocate-style entry
// point (register, called by every newXxx constructor) that tracks a
// running live-byte total and triggers a collection when a threshold
// is crossed, plus a bounded pin stack of temporary roots used by any
// multi-step constructor that needs to keep an intermediate object
// alive across a further allocation before it is reachable from a
// root.
type gcState struct {
	vm *VM

	all Obj // head of the all-objects chain; every Obj.header().next link forms it

	bytesAllocated int64
	nextGC         int64
	heapGrowthPercent int
	minNextGC      int64

	isWorking bool

	pinStack    []Obj
	pinStackMax int

	// Collections is incremented on every completed cycle; exposed for
	// diagnostics and tests, not part of the embedder contract.
	Collections int
}

const defaultPinStackMax = 10
const defaultMinNextGC = 1 << 20 // 1 MiB, matches spec.md §4.9's default

func newGC(v *VM, heapGrowthPercent int, minNextGC int64, pinMax int) *gcState {
	if heapGrowthPercent <= 0 {
		heapGrowthPercent = 150
	}
	if minNextGC <= 0 {
		minNextGC = defaultMinNextGC
	}
	if pinMax <= 0 {
		pinMax = defaultPinStackMax
	}
	return &gcState{
		vm: v, heapGrowthPercent: heapGrowthPercent, minNextGC: minNextGC,
		nextGC: minNextGC, pinStackMax: pinMax,
	}
}

// register is the allocator's single entry point: every heap object
// constructor in this package calls it once, right after allocating
// the Go struct, to link it into the all-objects chain and account for
// its size. Reallocation-during-collection (e.g. a Map growing while a
// destructor runs) must never itself trigger a nested collection,
// which isWorking guards against.
func (v *VM) register(o Obj) {
	g := v.gc
	h := o.header()
	h.next = g.all
	g.all = o
	g.bytesAllocated += int64(sizeOf(o))
	if !g.isWorking && g.bytesAllocated > g.nextGC {
		g.collect()
	}
}

// PushRoot pins o so it survives any collection triggered by a
// subsequent allocation, until the matching PopRoot. It is the scoped
// equivalent of the source runtime's pin/unpin macro pairs: a
// multi-step constructor (e.g. "build a List, then a String to put in
// it, then append") calls PushRoot right after each allocation whose
// only reference so far is a Go local variable.
func (v *VM) PushRoot(o Obj) {
	g := v.gc
	if len(g.pinStack) >= g.pinStackMax {
		v.fatal("too many temporary GC roots pinned at once (max %d)", g.pinStackMax)
		return
	}
	g.pinStack = append(g.pinStack, o)
}

func (v *VM) PopRoot() {
	g := v.gc
	if len(g.pinStack) == 0 {
		return
	}
	g.pinStack = g.pinStack[:len(g.pinStack)-1]
}

// Collect forces an immediate collection; exposed to the embedder API
// (spec.md §6 does not require it, but GC-soundness tests in §8 force
// collections interleaved with allocation) and used internally once
// the threshold is crossed.
func (v *VM) Collect() { v.gc.collect() }

func (g *gcState) collect() {
	if g.isWorking {
		return
	}
	g.isWorking = true
	defer func() { g.isWorking = false }()

	liveBytes := int64(0)
	g.mark(&liveBytes)
	g.sweep()

	g.bytesAllocated = liveBytes
	next := liveBytes * int64(100+g.heapGrowthPercent) / 100
	if next < g.minNextGC {
		next = g.minNextGC
	}
	g.nextGC = next
	g.Collections++
	if g.vm.config.GCLog != nil {
		g.vm.config.GCLog(GCStats{
			Collections: g.Collections,
			LiveBytes:   liveBytes,
			NextGC:      next,
			Summary:     humanize.Bytes(uint64(liveBytes)) + " live, next at " + humanize.Bytes(uint64(next)),
		})
	}
}

// GCStats is handed to the embedder's optional Config.GCLog hook after
// every collection.
type GCStats struct {
	Collections int
	LiveBytes   int64
	NextGC      int64
	Summary     string
}

// mark traverses every root (the built-in classes, the modules map,
// the host-object table, the pinned temporary roots, the current fiber)
// and recomputes liveBytes as it goes, since mark is the only pass
// that visits every reachable object exactly once.
func (g *gcState) mark(liveBytes *int64) {
	v := g.vm

	for _, c := range v.builtinClasses() {
		g.markObj(c, liveBytes)
	}
	for _, mod := range v.modules {
		g.markObj(mod, liveBytes)
	}
	if v.hostTable != nil {
		g.markObj(v.hostTable, liveBytes)
		v.hostTable.Each(func(_ int, val Value) { g.markValue(val, liveBytes) })
	}
	for _, o := range g.pinStack {
		g.markObj(o, liveBytes)
	}
	if v.fiber != nil {
		g.markObj(v.fiber, liveBytes)
	}
}

func (g *gcState) markValue(val Value, liveBytes *int64) {
	if val.IsObj() {
		g.markObj(val.AsObj(), liveBytes)
	}
}

func (g *gcState) markObj(o Obj, liveBytes *int64) {
	if o == nil {
		return
	}
	h := o.header()
	if h.marked {
		return
	}
	h.marked = true
	*liveBytes += int64(sizeOf(o))

	switch obj := o.(type) {
	case *List:
		for _, item := range obj.Items {
			g.markValue(item, liveBytes)
		}
	case *Map:
		obj.Each(func(k, val Value) {
			g.markValue(k, liveBytes)
			g.markValue(val, liveBytes)
		})
	case *Instance:
		g.markObj(obj.class, liveBytes)
		for _, f := range obj.Fields {
			g.markValue(f, liveBytes)
		}
	case *Class:
		if obj.Meta != nil {
			g.markObj(obj.Meta, liveBytes)
		}
		for _, s := range obj.Superclasses {
			g.markObj(s, liveBytes)
		}
		for _, m := range obj.Methods {
			if m.Variant == MethodBlock && m.Fn != nil {
				g.markObj(m.Fn, liveBytes)
			}
		}
	case *Fn:
		for _, c := range obj.Proto.Constants {
			if val, ok := c.(Value); ok {
				g.markValue(val, liveBytes)
			}
		}
		if obj.Mod != nil {
			g.markObj(obj.Mod, liveBytes)
		}
		if obj.cachedClosure != nil {
			g.markObj(obj.cachedClosure, liveBytes)
		}
	case *Closure:
		g.markObj(obj.Proto, liveBytes)
		for _, u := range obj.Upvalues {
			g.markObj(u, liveBytes)
		}
	case *Upvalue:
		if obj.fiber == nil {
			g.markValue(obj.closed, liveBytes)
		}
	case *Fiber:
		for i := 0; i < obj.stackTop; i++ {
			g.markValue(obj.stack[i], liveBytes)
		}
		for _, f := range obj.frames {
			g.markObj(f.Closure, liveBytes)
		}
		for u := obj.openUpvalues; u != nil; u = u.next {
			g.markObj(u, liveBytes)
		}
		if obj.caller != nil {
			g.markObj(obj.caller, liveBytes)
		}
		g.markValue(obj.errorValue, liveBytes)
	case *Module:
		for _, val := range obj.Variables {
			g.markValue(val, liveBytes)
		}
		if obj.Entry != nil {
			g.markObj(obj.Entry, liveBytes)
		}
	case *Table:
		obj.Each(func(_ int, val Value) { g.markValue(val, liveBytes) })
	}
}

// sweep walks the all-objects chain once, unlinking and discarding
// every unmarked object (firing its destructor first, if any) and
// unmarking every survivor for the next cycle.
func (g *gcState) sweep() {
	var head Obj
	for cur := g.all; cur != nil; {
		h := cur.header()
		next := h.next
		if h.marked {
			h.marked = false
			h.next = head
			head = cur
		} else if inst, ok := cur.(*Instance); ok && inst.class != nil && inst.class.Destruct != nil {
			inst.class.Destruct(inst)
		}
		cur = next
	}
	g.all = head
}

// sizeOf is a coarse per-type byte estimate used purely for the
// live-byte/threshold accounting spec.md §4.9 calls for; it need not
// match Go's real allocator down to the byte, only be monotonic in the
// object's actual payload size.
func sizeOf(o Obj) int {
	const headerSize = 32
	switch obj := o.(type) {
	case *String:
		return headerSize + len(obj.s)
	case *List:
		return headerSize + len(obj.Items)*16
	case *Map:
		return headerSize + len(obj.entries)*40
	case *Table:
		return headerSize + obj.count*24
	case *Range:
		return headerSize + 16
	case *Instance:
		return headerSize + len(obj.Fields)*16
	case *Class:
		return headerSize + len(obj.Methods)*48
	case *Fn:
		return headerSize + len(obj.Proto.Code) + len(obj.Proto.Constants)*16
	case *Closure:
		return headerSize + len(obj.Upvalues)*8
	case *Upvalue:
		return headerSize
	case *Fiber:
		return headerSize + len(obj.stack)*16 + len(obj.frames)*32
	case *Module:
		return headerSize + len(obj.Variables)*16
	default:
		return headerSize
	}
}
