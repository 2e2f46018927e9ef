package qmux

import (
	"bytes"
	"testing"

	"github.com/qmux-go/qmux/qmierr"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	frame := &outboundFrame{
		serviceID:     ServiceWDS,
		clientID:      3,
		transactionID: 300,
		class:         classService,
		payload:       []byte{0x22, 0x00, 0x00, 0x00},
	}
	header, payload := frame.encode()
	body := append(append([]byte{}, header[3:]...), payload...)

	msg, err := decodeFrame(body)
	if err != nil {
		t.Fatalf("decodeFrame: %v", err)
	}
	if msg.ServiceID != ServiceWDS || msg.ClientID != 3 || msg.TransactionID != 300 {
		t.Errorf("got %+v, unexpected fields", msg)
	}
}

func TestControlTransactionIDIsOneByteOnWire(t *testing.T) {
	frame := &outboundFrame{
		serviceID:     ServiceCTL,
		clientID:      0,
		transactionID: 42,
		class:         classControl,
		payload:       nil,
	}
	header, _ := frame.encode()
	// sentinel(1) + length(2) + flags(1) + service(1) + client(1) + reqtype(1) + tran(1) = 8
	if len(header) != 8 {
		t.Fatalf("header length = %d, want 8 for a control frame", len(header))
	}
	if header[7] != 42 {
		t.Errorf("transaction id byte = %d, want 42", header[7])
	}
}

func TestAccumulatorBuffersPartialDeliveries(t *testing.T) {
	frame := &outboundFrame{
		serviceID:     ServiceDMS,
		clientID:      1,
		transactionID: 500,
		class:         classService,
		payload:       []byte{0xAA, 0xBB, 0xCC},
	}
	header, payload := frame.encode()
	whole := append(append([]byte{}, header...), payload...)

	var acc accumulator
	// deliver byte-by-byte; no frame should be ready until the last byte.
	for i := 0; i < len(whole)-1; i++ {
		acc.push(whole[i : i+1])
		_, ok, err := acc.next()
		if err != nil {
			t.Fatalf("unexpected error mid-stream: %v", err)
		}
		if ok {
			t.Fatalf("frame completed early at byte %d", i)
		}
	}
	acc.push(whole[len(whole)-1:])
	body, ok, err := acc.next()
	if err != nil || !ok {
		t.Fatalf("next() = (%v, %v, %v), want a complete frame", body, ok, err)
	}
	if !bytes.Equal(body, whole[3:]) {
		t.Errorf("body mismatch")
	}
}

func TestAccumulatorRetainsTrailingBytesAcrossFrames(t *testing.T) {
	f1 := &outboundFrame{serviceID: ServiceDMS, clientID: 1, transactionID: 256, class: classService, payload: []byte{0x01, 0x00, 0x00, 0x00}}
	f2 := &outboundFrame{serviceID: ServiceDMS, clientID: 1, transactionID: 257, class: classService, payload: []byte{0x02, 0x00, 0x00, 0x00}}
	h1, p1 := f1.encode()
	h2, p2 := f2.encode()

	var acc accumulator
	combined := append(append(append(append([]byte{}, h1...), p1...), h2...), p2...)
	acc.push(combined)

	body1, ok, err := acc.next()
	if err != nil || !ok {
		t.Fatalf("first frame: ok=%v err=%v", ok, err)
	}
	msg1, err := decodeFrame(body1)
	if err != nil || msg1.TransactionID != 256 {
		t.Fatalf("first frame decode: %+v, %v", msg1, err)
	}

	body2, ok, err := acc.next()
	if err != nil || !ok {
		t.Fatalf("second frame: ok=%v err=%v", ok, err)
	}
	msg2, err := decodeFrame(body2)
	if err != nil || msg2.TransactionID != 257 {
		t.Fatalf("second frame decode: %+v, %v", msg2, err)
	}
}

func TestDecodeFrameReportsTooShort(t *testing.T) {
	if _, err := decodeFrame([]byte{0x00, 0x01}); err == nil {
		t.Fatal("expected an error for a too-short frame body")
	}
}

func TestDecodeFrameExtractsResultTLV(t *testing.T) {
	body := buildInboundFrame(false, ServiceDMS, 1, serviceMin, 0x0020, false, qmierr.QMIInvalidArg, []byte{0x10})
	msg, err := decodeFrame(body[3:])
	if err != nil {
		t.Fatalf("decodeFrame: %v", err)
	}
	if msg.Code != ResultFailure {
		t.Errorf("Code = %v, want ResultFailure", msg.Code)
	}
	if msg.QMIError != qmierr.QMIInvalidArg {
		t.Errorf("QMIError = %v, want QMIInvalidArg", msg.QMIError)
	}
	if !bytes.Equal(msg.Message, []byte{0x10}) {
		t.Errorf("Message = %v, want [0x10] (result TLV stripped)", msg.Message)
	}
}
