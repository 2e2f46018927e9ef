package qmux

import "sync"

// fakeDevice is an in-memory Device double: writes are captured for
// assertions and inbound bytes are injected with deliver. It lets the
// reactor's event loop be exercised without a real character device file.
type fakeDevice struct {
	mu      sync.Mutex
	evCh    chan deviceEvent
	writes  [][]byte
	closed  bool
	onWrite func(chunks [][]byte) error
}

func newFakeDevice() *fakeDevice {
	return &fakeDevice{
		evCh: make(chan deviceEvent, 64),
	}
}

func (d *fakeDevice) events() <-chan deviceEvent { return d.evCh }

func (d *fakeDevice) writeV(chunks ...[]byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.onWrite != nil {
		if err := d.onWrite(chunks); err != nil {
			return err
		}
	}
	cp := make([][]byte, len(chunks))
	for i, c := range chunks {
		buf := make([]byte, len(c))
		copy(buf, c)
		cp[i] = buf
	}
	d.writes = append(d.writes, cp...)
	return nil
}

func (d *fakeDevice) close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	close(d.evCh)
	return nil
}

// deliver injects bytes as if read from the wire.
func (d *fakeDevice) deliver(data []byte) {
	d.evCh <- deviceEvent{kind: eventRead, data: data}
}

// deliverClosed simulates the device disappearing (e.g. device unplugged).
func (d *fakeDevice) deliverClosed() {
	d.evCh <- deviceEvent{kind: eventClosed}
}

func (d *fakeDevice) lastWrite() []byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.writes) == 0 {
		return nil
	}
	var out []byte
	for _, w := range d.writes {
		out = append(out, w...)
	}
	return out
}

func (d *fakeDevice) writeCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.writes)
}
