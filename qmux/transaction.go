package qmux

import (
	"sync"
	"time"

	"golang.org/x/exp/maps"

	"github.com/qmux-go/qmux/qmierr"
)

// Transaction-id ranges: control ids wrap 1..255 (0 is reserved), service
// ids cycle 256..65535 (<=255 reserved for control).
const (
	ctlMin = 1
	ctlMax = 255

	serviceMin = 256
	serviceMax = 65535
)

// waiter is the one-shot completion target a call blocks on.
type waiter chan callResult

type callResult struct {
	value interface{}
	err   error
}

// transactionEntry is the transaction-entry record: the waiter, the
// originating request (so its Decode can run on reply), and the deadline
// timer.
type transactionEntry struct {
	waiter  waiter
	request *Request
	timer   *time.Timer
}

// transactionTable maps outstanding transaction ids to entries and owns the
// two monotonic counters. It is mutated only by the reactor goroutine; the
// mutex here exists solely to let Stats() take a safe read-only snapshot
// from another goroutine.
type transactionTable struct {
	mu sync.Mutex

	control map[uint32]*transactionEntry
	service map[uint32]*transactionEntry

	lastCtl     uint32 // last control-class id handed out
	lastService uint32 // last service-class id handed out
}

func newTransactionTable() *transactionTable {
	return &transactionTable{
		control: make(map[uint32]*transactionEntry),
		service: make(map[uint32]*transactionEntry),
		lastCtl: 0,
		// start one below the minimum so the first allocation lands on
		// serviceMin.
		lastService: serviceMin - 1,
	}
}

func (t *transactionTable) tableFor(class serviceClass) map[uint32]*transactionEntry {
	if class == classControl {
		return t.control
	}
	return t.service
}

// allocate returns a fresh transaction id for class, wrapping past the
// range's maximum back to its minimum. No collision check is performed:
// correctness relies on the range vastly exceeding in-flight transactions.
func (t *transactionTable) allocate(class serviceClass) uint32 {
	if class == classControl {
		next := t.lastCtl + 1
		if next > ctlMax {
			next = ctlMin
		}
		t.lastCtl = next
		return next
	}
	next := t.lastService + 1
	if next > serviceMax {
		next = serviceMin
	}
	t.lastService = next
	return next
}

// install places an entry, which must happen immediately after allocate and
// before the outbound write is submitted.
func (t *transactionTable) install(class serviceClass, id uint32, entry *transactionEntry) {
	t.mu.Lock()
	t.tableFor(class)[id] = entry
	t.mu.Unlock()
}

// pop removes and returns the entry for (class, id), or nil if none exists.
func (t *transactionTable) pop(class serviceClass, id uint32) *transactionEntry {
	t.mu.Lock()
	defer t.mu.Unlock()
	table := t.tableFor(class)
	entry, ok := table[id]
	if !ok {
		return nil
	}
	delete(table, id)
	return entry
}

// complete pops id's entry, cancels its timer, and delivers value to the
// waiter.
func (t *transactionTable) complete(class serviceClass, id uint32, value interface{}) {
	entry := t.pop(class, id)
	if entry == nil {
		return
	}
	entry.timer.Stop()
	entry.waiter <- callResult{value: value}
}

// fail pops id's entry, cancels its timer, and delivers err to the waiter.
func (t *transactionTable) fail(class serviceClass, id uint32, err error) {
	entry := t.pop(class, id)
	if entry == nil {
		return
	}
	entry.timer.Stop()
	entry.waiter <- callResult{err: err}
}

// expire pops id's entry and fails it with a timeout, invoked from the
// reactor's event loop when a timer's deadline event is processed.
func (t *transactionTable) expire(class serviceClass, id uint32) {
	entry := t.pop(class, id)
	if entry == nil {
		return
	}
	entry.waiter <- callResult{err: qmierr.New(qmierr.KindTimeout)}
}

// rollback removes an installed entry without delivering to the waiter;
// used when the caller will deliver the result itself (e.g. a write
// failure rolling back its own just-installed entry).
func (t *transactionTable) rollback(class serviceClass, id uint32) {
	t.pop(class, id)
}

// drain removes every entry across both classes and fails each one with
// err, invoked on shutdown.
func (t *transactionTable) drain(err error) {
	t.mu.Lock()
	control := t.control
	service := t.service
	t.control = make(map[uint32]*transactionEntry)
	t.service = make(map[uint32]*transactionEntry)
	t.mu.Unlock()

	for _, entry := range control {
		entry.timer.Stop()
		entry.waiter <- callResult{err: err}
	}
	for _, entry := range service {
		entry.timer.Stop()
		entry.waiter <- callResult{err: err}
	}
}

// outstandingIDs returns a stable snapshot of outstanding transaction ids
// across both classes, for the Stats() diagnostic.
func (t *transactionTable) outstandingIDs() (control, service []uint32) {
	t.mu.Lock()
	defer t.mu.Unlock()
	control = maps.Keys(t.control)
	service = maps.Keys(t.service)
	return control, service
}

// count returns the number of outstanding entries across both classes,
// used by tests asserting that the transaction table has drained to zero.
func (t *transactionTable) count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.control) + len(t.service)
}
