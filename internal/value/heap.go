package value

import "sync/atomic"

// liveObjects counts heap containers (List/Dict/Pair/Block/Cmd) currently
// retained anywhere. It backs spec.md §8 testable property #4: after
// shutdown, live-bytes (here: live-object count) must equal 0 for any
// program that does not construct reference cycles.
var liveObjects int64

// LiveCount reports the number of heap-allocated containers that have not
// yet been released back to zero refcount. Intended for test harnesses
// that assert ref-count discipline across a VM's lifetime.
func LiveCount() int64 { return atomic.LoadInt64(&liveObjects) }

// Retain increments v's payload refcount, if it has one. Call this whenever
// a Value is copied into a long-lived slot: a variable binding, a container
// cell, or a register held across a call boundary (spec.md §3 invariant).
func Retain(v Value) {
	switch v.Kind {
	case List:
		v.List.retainSelf()
	case Dict:
		v.Dict.retainSelf()
	case Pair:
		v.Pair.retainSelf()
	case Block:
		v.Block.retainSelf()
	case Cmd:
		v.Cmd.retainSelf()
	}
}

// Release decrements v's payload refcount, if it has one, freeing the
// payload (and releasing everything it owns) once the count reaches zero.
func Release(v Value) {
	switch v.Kind {
	case List:
		v.List.release()
	case Dict:
		v.Dict.release()
	case Pair:
		v.Pair.release()
	case Block:
		v.Block.release()
	case Cmd:
		v.Cmd.release()
	}
}

// Assign is the ref-counted assignment helper referenced throughout
// spec.md §4.6: release the old value held in a slot, retain the new one,
// then store it. The ARG_PUSH* opcodes do not use it: they store into the
// argument stack without retaining the pushed value.
func Assign(slot *Value, newVal Value) {
	Retain(newVal)
	old := *slot
	*slot = newVal
	Release(old)
}

// Own stores newVal into slot, releasing whatever slot previously held, but
// without retaining newVal. Use this only when newVal already carries the
// one reference its constructor gave it and slot is meant to become that
// reference's sole owner -- the LIST_NEW/DICT_NEW/LDB register destination,
// for instance, where MakeList/MakeDict/MakeBlock already set refs to 1.
// Releasing the slot's prior occupant here is what keeps spec.md §8
// scenario F (construct-and-overwrite a register 100 times in a loop)
// netting to zero live objects instead of leaking the old occupant on every
// iteration; Assign would be wrong here since it would retain newVal a
// second time on top of its constructor's initial reference.
func Own(slot *Value, newVal Value) {
	old := *slot
	*slot = newVal
	Release(old)
}
