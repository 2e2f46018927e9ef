package qmux

import (
	"io"
	"sync/atomic"
	"time"

	"github.com/qmux-go/qmux/internal/qlog"
	"github.com/qmux-go/qmux/qmierr"
)

// openFunc abstracts device opening so tests can substitute an in-memory
// Device without touching a real character device.
type openFunc func(path string) (Device, error)

// submission is one {call, request, timeout} event from a caller.
type submission struct {
	req      *Request
	timeout  time.Duration
	resultCh waiter
}

// timeoutEvent is the {timeout, tid} event posted by a transaction's timer.
// Routing it through the reactor's own event loop, rather than calling
// table.expire directly from the timer's own goroutine, keeps the reactor
// the sole mutator of the transaction table.
type timeoutEvent struct {
	class serviceClass
	id    uint32
}

// Reactor is the driver: a single-threaded cooperative actor that owns the
// device channel, framer, and transaction table, and dispatches
// indications to the subscriber callback.
//
// Its event loop follows the same close-channel-plus-mutex coordination
// style as a typical accept/serve RPC server, generalized here into one
// select-driven loop over submissions, device events, and timers.
type Reactor struct {
	cfg    Config
	log    *qlog.Logger
	openFn openFunc

	device Device
	acc    accumulator
	table  *transactionTable

	indicationFn IndicationFunc

	submitCh   chan *submission
	timeoutCh  chan timeoutEvent
	reopenedCh chan Device
	shutdownCh chan chan struct{}
	doneCh     chan struct{}

	// reopenCount is read from Stats() on any goroutine, so it is an atomic
	// counter rather than a plain field guarded by a mutex.
	reopenCount atomic.Uint64
}

// Option configures a Reactor at construction.
type Option func(*Reactor)

// WithIndicationCallback installs the subscriber callback invoked
// synchronously from the reactor for every unsolicited message.
func WithIndicationCallback(fn IndicationFunc) Option {
	return func(r *Reactor) { r.indicationFn = fn }
}

// withOpenFunc overrides how the device is opened; used by tests to wire in
// an in-memory Device instead of a real character device.
func withOpenFunc(fn openFunc) Option {
	return func(r *Reactor) { r.openFn = fn }
}

// New creates a Reactor for cfg and opens the device asynchronously. The
// event loop runs in its own goroutine; New returns immediately.
func New(cfg Config, logWriter io.Writer, opts ...Option) *Reactor {
	cfg.setDefaults()
	r := &Reactor{
		cfg:        cfg,
		log:        qlog.New(cfg.Name, logWriter),
		table:      newTransactionTable(),
		submitCh:   make(chan *submission),
		timeoutCh:  make(chan timeoutEvent, 16),
		reopenedCh: make(chan Device),
		shutdownCh: make(chan chan struct{}),
		doneCh:     make(chan struct{}),
		openFn: func(path string) (Device, error) {
			return openCharDevice(path)
		},
	}
	for _, opt := range opts {
		opt(r)
	}
	go r.run()
	return r
}

// Call submits req and blocks until a response, failure, or timeout. The
// outer wait is twice timeout so the reactor's own deadline always wins and
// the caller always sees a structured timeout rather than an opaque
// wait-abort.
func (r *Reactor) Call(req *Request, timeout time.Duration) (interface{}, error) {
	if timeout <= 0 {
		timeout = r.cfg.CallTimeout
	}
	sub := &submission{
		req:      req,
		timeout:  timeout,
		resultCh: make(waiter, 1),
	}
	select {
	case r.submitCh <- sub:
	case <-r.doneCh:
		return nil, qmierr.New(qmierr.KindShutdown)
	}

	select {
	case res := <-sub.resultCh:
		return res.value, res.err
	case <-time.After(2 * timeout):
		return nil, qmierr.New(qmierr.KindTimeout)
	}
}

// Stats is a read-only diagnostic snapshot.
type Stats struct {
	OutstandingControl []uint32
	OutstandingService []uint32
	ReopenCount        int
}

// Stats returns a snapshot of reactor state for operational visibility. It
// does not mutate anything and may be called from any goroutine.
func (r *Reactor) Stats() Stats {
	control, service := r.table.outstandingIDs()
	return Stats{
		OutstandingControl: control,
		OutstandingService: service,
		ReopenCount:        int(r.reopenCount.Load()),
	}
}

// Shutdown cancels all timers, fails every pending waiter with
// KindShutdown, and closes the device. It blocks until the reactor
// goroutine has exited.
func (r *Reactor) Shutdown() {
	ack := make(chan struct{})
	select {
	case r.shutdownCh <- ack:
		<-ack
	case <-r.doneCh:
	}
}

// run is the event loop body: the only goroutine permitted to mutate
// r.table, r.acc, or r.device.
func (r *Reactor) run() {
	defer close(r.doneCh)

	if err := r.openDevice(); err != nil {
		r.log.Errorf("initial open of %s failed: %v", r.cfg.DevicePath, err)
		go r.reopenLoop()
	}

	for {
		var events <-chan deviceEvent
		if r.device != nil {
			events = r.device.events()
		}

		select {
		case sub := <-r.submitCh:
			r.handleSubmission(sub)

		case ev, open := <-events:
			if !open {
				r.handleDeviceClosed()
				continue
			}
			r.handleDeviceEvent(ev)

		case dev := <-r.reopenedCh:
			r.device = dev
			r.acc = accumulator{}
			r.reopenCount.Add(1)
			r.log.Infof("device %s reopened", r.cfg.DevicePath)

		case te := <-r.timeoutCh:
			r.table.expire(te.class, te.id)

		case ack := <-r.shutdownCh:
			r.handleShutdown()
			close(ack)
			return
		}
	}
}

func (r *Reactor) openDevice() error {
	dev, err := r.openFn(r.cfg.DevicePath)
	if err != nil {
		return err
	}
	r.device = dev
	r.acc = accumulator{}
	return nil
}

func (r *Reactor) handleSubmission(sub *submission) {
	class := sub.req.serviceClass()
	id := r.table.allocate(class)

	entry := &transactionEntry{
		waiter:  sub.resultCh,
		request: sub.req,
	}
	entry.timer = time.AfterFunc(sub.timeout, func() {
		select {
		case r.timeoutCh <- timeoutEvent{class: class, id: id}:
		case <-r.doneCh:
		}
	})

	// Installation must precede the write: a fast reply must never arrive
	// before the entry exists to receive it.
	r.table.install(class, id, entry)

	if r.device == nil {
		entry.timer.Stop()
		r.table.rollback(class, id)
		sub.resultCh <- callResult{err: qmierr.New(qmierr.KindDeviceClosed)}
		return
	}

	frame := &outboundFrame{
		serviceID:     sub.req.ServiceID,
		clientID:      sub.req.ClientID,
		transactionID: id,
		class:         class,
		payload:       sub.req.Payload,
	}
	header, payload := frame.encode()

	if err := r.device.writeV(header, payload); err != nil {
		// A write failure rolls back the entry it just installed and
		// delivers a structured write_error to the waiter, rather than
		// leaving the call to time out or crashing the reactor.
		entry.timer.Stop()
		r.table.rollback(class, id)
		sub.resultCh <- callResult{err: qmierr.Wrap(qmierr.KindWriteError, err)}
	}
}

func (r *Reactor) handleDeviceEvent(ev deviceEvent) {
	switch ev.kind {
	case eventRead:
		r.acc.push(ev.data)
		r.drainFrames()
	case eventError:
		r.log.Errorf("device I/O error: %v", ev.err)
	case eventClosed:
		r.handleDeviceClosed()
	}
}

// drainFrames extracts and routes every whole frame currently buffered: the
// framer accumulates bytes until a full frame is available, emits it, and
// retains any remainder for the next read.
func (r *Reactor) drainFrames() {
	for {
		body, ok, err := r.acc.next()
		if err != nil {
			r.log.Warnf("dropping malformed frame: %v", err)
			continue
		}
		if !ok {
			return
		}
		msg, err := decodeFrame(body)
		if err != nil {
			r.log.Warnf("dropping frame with decode error: %v", err)
			continue
		}
		r.route(msg)
	}
}

// route dispatches one decoded message: indications go to the subscriber
// callback, responses complete or fail the matching transaction, and
// responses with no matching transaction are logged and dropped.
func (r *Reactor) route(msg *DecodedMessage) {
	if msg.Type == MessageIndication {
		ind := parseIndication(msg)
		if r.indicationFn != nil {
			r.indicationFn(ind)
		}
		return
	}

	class := classService
	if msg.ServiceID.IsControl() {
		class = classControl
	}

	if msg.Code == ResultSuccess {
		entry := r.table.pop(class, msg.TransactionID)
		if entry == nil {
			r.log.Warnf("unknown transaction %d (class=%v)", msg.TransactionID, class)
			return
		}
		entry.timer.Stop()
		value, err := entry.request.Decode(msg.Message)
		if err != nil {
			// A decode error fails only this call, never the reactor.
			entry.waiter <- callResult{err: qmierr.Wrap(qmierr.KindDecodeError, err)}
			return
		}
		entry.waiter <- callResult{value: value}
		return
	}

	r.table.fail(class, msg.TransactionID, qmierr.FromQMI(msg.QMIError))
}

func (r *Reactor) handleDeviceClosed() {
	r.log.Infof("device %s closed; reopening", r.cfg.DevicePath)
	if r.device != nil {
		r.device.close()
	}
	r.device = nil
	// The transaction table is left intact: in-flight timers still fire
	// normally and will time out calls if the device stays down.
	go r.reopenLoop()
}

// reopenLoop retries opening the device, backing off between attempts, and
// hands the freshly-opened device back to the event loop over reopenedCh so
// that r.device is only ever written from run().
func (r *Reactor) reopenLoop() {
	for {
		select {
		case <-r.doneCh:
			return
		case <-time.After(r.cfg.ReopenBackoff):
		}
		dev, err := r.openFn(r.cfg.DevicePath)
		if err != nil {
			r.log.Warnf("reopen of %s failed: %v", r.cfg.DevicePath, err)
			continue
		}
		select {
		case r.reopenedCh <- dev:
		case <-r.doneCh:
			dev.close()
		}
		return
	}
}

func (r *Reactor) handleShutdown() {
	r.table.drain(qmierr.New(qmierr.KindShutdown))
	if r.device != nil {
		r.device.close()
	}
}
