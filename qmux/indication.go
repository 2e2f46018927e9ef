package qmux

// Indication is the structured value handed to a subscriber callback for
// an unsolicited message.
type Indication struct {
	ServiceID ServiceID
	ClientID  byte
	MessageID uint16
	Message   []byte // raw TLV area, for a service-specific parser to consume
}

// IndicationFunc is the subscriber callback surface: invoked synchronously
// from the reactor for every indication. A nil callback means indications
// are parsed and then discarded.
type IndicationFunc func(*Indication)

// parseIndication converts a decoded indication-flagged frame into the
// structured value passed to the subscriber. Unlike a response, an
// indication frame has no result TLV to strip; its whole message area is
// handed to the subscriber to parse with its own service-specific codec.
func parseIndication(msg *DecodedMessage) *Indication {
	return &Indication{
		ServiceID: msg.ServiceID,
		ClientID:  msg.ClientID,
		MessageID: msg.MessageID,
		Message:   msg.Message,
	}
}
