package memory

import "sync"

// Op names a store operation that can be made to fail.
type Op string

const (
	OpListConversations  Op = "list_conversations"
	OpGetConversation    Op = "get_conversation"
	OpCreateConversation Op = "create_conversation"
	OpUpdateMeta         Op = "update_meta"
	OpDeleteConversation Op = "delete_conversation"
	OpAppend             Op = "append"
	OpAppendDirect       Op = "append_direct"
	OpListMessages       Op = "list_messages"
	OpSubscribe          Op = "subscribe"
)

type fault struct {
	err       error
	remaining int
	// applied faults let the write land and then report err, the way a
	// timed-out write can still be committed server side.
	applied bool
}

// Faults injects errors into store operations.
type Faults struct {
	mu     sync.Mutex
	faults map[Op]*fault
	calls  map[Op]int
}

func NewFaults() *Faults {
	return &Faults{
		faults: make(map[Op]*fault),
		calls:  make(map[Op]int),
	}
}

// Fail makes the next times calls of op return err without applying the
// write. times <= 0 fails every call until Clear.
func (f *Faults) Fail(op Op, err error, times int) {
	f.set(op, &fault{err: err, remaining: times})
}

// FailAfterApply makes the next times calls of op apply the write and then
// return err.
func (f *Faults) FailAfterApply(op Op, err error, times int) {
	f.set(op, &fault{err: err, remaining: times, applied: true})
}

func (f *Faults) Clear(op Op) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.faults, op)
}

// Calls reports how many times op was invoked.
func (f *Faults) Calls(op Op) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

func (f *Faults) set(op Op, ft *fault) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.faults[op] = ft
}

func (f *Faults) before(op Op) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[op]++
	ft, ok := f.faults[op]
	if !ok || ft.applied {
		return nil
	}
	return f.consume(op, ft)
}

func (f *Faults) after(op Op) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	ft, ok := f.faults[op]
	if !ok || !ft.applied {
		return nil
	}
	return f.consume(op, ft)
}

func (f *Faults) consume(op Op, ft *fault) error {
	if ft.remaining > 0 {
		ft.remaining--
		if ft.remaining == 0 {
			delete(f.faults, op)
		}
	}
	return ft.err
}
