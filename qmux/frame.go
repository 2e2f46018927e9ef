package qmux

import (
	"encoding/binary"
	"fmt"

	"github.com/qmux-go/qmux/qmierr"
)

// sentinel is the mandatory leading byte of every QMUX frame.
const sentinel = 0x01

// indicationFlag marks a frame as an unsolicited indication rather than a
// response.
const indicationFlag = 0x02

// resultTag is the TLV tag for the (qmi_result, qmi_error) pair.
const resultTag = 0x02

// serviceClass distinguishes the control plane from every numbered service:
// each uses its own disjoint transaction-id range and wire width.
type serviceClass uint8

const (
	classControl serviceClass = iota
	classService
)

// tranWidth returns the wire width, in bytes, of the transaction-id field
// for this class: 1 byte for control, 2 for service.
func (c serviceClass) tranWidth() int {
	if c == classControl {
		return 1
	}
	return 2
}

// outboundFrame is the fully-decoded shape of an outbound submission.
type outboundFrame struct {
	serviceID     ServiceID
	clientID      byte
	transactionID uint32
	class         serviceClass
	payload       []byte
}

// encode produces the exact byte sequence of an outbound frame:
//
//	0x01
//	uint16_le length
//	uint8     flags = 0x00
//	uint8     service_id
//	uint8     client_id
//	uint8     request_type = 0x00
//	uintN_le  transaction_id
//	<payload>
//
// Scatter/gather is preserved at the caller: encode returns the header and
// payload as two chunks rather than one concatenated buffer, so a caller
// with a large payload can hand it straight to a vectored write.
func (f *outboundFrame) encode() (header []byte, payload []byte) {
	width := f.class.tranWidth()
	// length = bytes after the length field itself, including the
	// length field's own 2 bytes.
	afterLength := 1 + 1 + 1 + 1 + width + len(f.payload) // flags, service, client, reqtype, tran, payload
	length := afterLength + 2

	header = make([]byte, 1+2+1+1+1+1+width)
	header[0] = sentinel
	binary.LittleEndian.PutUint16(header[1:3], uint16(length))
	header[3] = 0x00 // flags
	header[4] = byte(f.serviceID)
	header[5] = f.clientID
	header[6] = 0x00 // request_type
	if width == 1 {
		header[7] = byte(f.transactionID)
	} else {
		binary.LittleEndian.PutUint16(header[7:9], uint16(f.transactionID))
	}
	return header, f.payload
}

// MessageType distinguishes a response from an unsolicited indication.
type MessageType uint8

const (
	MessageResponse MessageType = iota
	MessageIndication
)

// ResultCode is the outcome of a response frame, derived from the result
// TLV.
type ResultCode uint8

const (
	ResultSuccess ResultCode = iota
	ResultFailure
)

// DecodedMessage is the structured record produced by decodeFrame.
type DecodedMessage struct {
	Type          MessageType
	ServiceID     ServiceID
	ClientID      byte
	TransactionID uint32
	MessageID     uint16
	Code          ResultCode
	QMIError      qmierr.QMIResult
	Message       []byte // TLV area after message id + TLV-length, minus a response's result TLV, for the decoder
}

// decodeFrame parses one complete inbound QMUX frame body -- everything
// after the outer sentinel+length, i.e. what accumulator.next returns --
// into a DecodedMessage. The transaction-id width is derived from the
// service id field itself, matching the width that class would have used
// on encode.
func decodeFrame(body []byte) (*DecodedMessage, error) {
	// body layout: flags(1) service(1) client(1) reqtype(1) tran(N) <rest>
	if len(body) < 4 {
		return nil, fmt.Errorf("qmux: frame body too short: %d bytes", len(body))
	}
	flags := body[0]
	serviceID := ServiceID(body[1])
	clientID := body[2]
	// body[3] is request_type; ignored on decode.
	class := classControl
	if !serviceID.IsControl() {
		class = classService
	}
	width := class.tranWidth()
	rest := body[4:]
	if len(rest) < width {
		return nil, fmt.Errorf("qmux: frame body too short for %d-byte transaction id", width)
	}
	var transactionID uint32
	if width == 1 {
		transactionID = uint32(rest[0])
	} else {
		transactionID = uint32(binary.LittleEndian.Uint16(rest[0:2]))
	}
	rest = rest[width:]

	msgType := MessageResponse
	if flags&indicationFlag != 0 {
		msgType = MessageIndication
	}

	if len(rest) < 4 {
		return nil, fmt.Errorf("qmux: frame body missing message id / TLV length")
	}
	messageID := binary.LittleEndian.Uint16(rest[0:2])
	tlvAreaLen := binary.LittleEndian.Uint16(rest[2:4])
	tlvArea := rest[4:]
	if int(tlvAreaLen) > len(tlvArea) {
		return nil, fmt.Errorf("qmux: declared TLV area length %d exceeds %d available bytes", tlvAreaLen, len(tlvArea))
	}
	tlvArea = tlvArea[:tlvAreaLen]

	msg := &DecodedMessage{
		Type:          msgType,
		ServiceID:     serviceID,
		ClientID:      clientID,
		TransactionID: transactionID,
		MessageID:     messageID,
		Code:          ResultSuccess,
		Message:       tlvArea,
	}

	if msgType == MessageResponse && len(tlvArea) >= 3 && tlvArea[0] == resultTag {
		// result TLV is a response concern; an indication's first TLV
		// happening to carry tag 0x02 is not a result pair and must not be
		// stripped. Always first when present on a response.
		length := binary.LittleEndian.Uint16(tlvArea[1:3])
		if length == 4 && len(tlvArea) >= 3+4 {
			value := tlvArea[3 : 3+4]
			qmiResult := binary.LittleEndian.Uint16(value[0:2])
			qmiError := binary.LittleEndian.Uint16(value[2:4])
			if qmiResult == 1 {
				msg.Code = ResultFailure
			}
			msg.QMIError = qmierr.QMIResult(qmiError)
			msg.Message = tlvArea[3+4:]
		}
	}

	return msg, nil
}

// accumulator buffers inbound bytes across channel deliveries and yields
// whole QMUX frames as they complete. It is owned entirely by the reactor
// -- nothing else mutates it.
type accumulator struct {
	buf []byte
}

// push appends newly-read bytes to the accumulator.
func (a *accumulator) push(data []byte) {
	a.buf = append(a.buf, data...)
}

// next extracts one complete frame body if enough bytes are buffered,
// returning (body, true) and advancing past it, or (nil, false) if more
// bytes are needed. An invalid sentinel byte is a decode error: the byte is
// discarded and the caller should log and continue scanning.
func (a *accumulator) next() (body []byte, ok bool, err error) {
	if len(a.buf) == 0 {
		return nil, false, nil
	}
	if a.buf[0] != sentinel {
		bad := a.buf[0]
		a.buf = a.buf[1:]
		return nil, false, fmt.Errorf("qmux: expected sentinel 0x%02x, got 0x%02x", sentinel, bad)
	}
	if len(a.buf) < 3 {
		return nil, false, nil // length field not yet available
	}
	length := binary.LittleEndian.Uint16(a.buf[1:3])
	if length < 2 {
		// The length counts its own 2 bytes, so a smaller value cannot
		// delimit a frame: drop the sentinel and resync on the next byte.
		a.buf = a.buf[1:]
		return nil, false, fmt.Errorf("qmux: invalid frame length %d", length)
	}
	total := 1 + int(length) // sentinel + (length field + everything after it)
	if len(a.buf) < total {
		return nil, false, nil // await more bytes
	}
	body = a.buf[3:total]
	a.buf = a.buf[total:]
	return body, true, nil
}
