package wire

import "fmt"

// MessageType enumerates the generic-header message types. The high bit
// distinguishes the subscription sub-protocol from the
// request/response/notification sub-protocol.
type MessageType uint32

// Message type wire values.
const (
	MessageTypeRequest              MessageType = 0x00000000
	MessageTypeRequestNoReturn      MessageType = 0x00000001
	MessageTypeResponse             MessageType = 0x00000002
	MessageTypeErrorResponse        MessageType = 0x00000003
	MessageTypeApplicationError     MessageType = 0x00000004
	MessageTypeNotification         MessageType = 0x00000005
	MessageTypeSubscribeEvent       MessageType = 0x80000003
	MessageTypeSubscribeEventAck    MessageType = 0x80000004
	MessageTypeSubscribeEventNAck   MessageType = 0x80000005
	MessageTypeUnsubscribeEvent     MessageType = 0x80000006
	MessageTypeUnsubscribeEventAck  MessageType = 0x80000007
	MessageTypeUnsubscribeEventNAck MessageType = 0x80000008
)

func (t MessageType) String() string {
	switch t {
	case MessageTypeRequest:
		return "Request"
	case MessageTypeRequestNoReturn:
		return "RequestNoReturn"
	case MessageTypeResponse:
		return "Response"
	case MessageTypeErrorResponse:
		return "ErrorResponse"
	case MessageTypeApplicationError:
		return "ApplicationError"
	case MessageTypeNotification:
		return "Notification"
	case MessageTypeSubscribeEvent:
		return "SubscribeEvent"
	case MessageTypeSubscribeEventAck:
		return "SubscribeEventAck"
	case MessageTypeSubscribeEventNAck:
		return "SubscribeEventNAck"
	case MessageTypeUnsubscribeEvent:
		return "UnsubscribeEvent"
	case MessageTypeUnsubscribeEventAck:
		return "UnsubscribeEventAck"
	case MessageTypeUnsubscribeEventNAck:
		return "UnsubscribeEventNAck"
	default:
		return fmt.Sprintf("MessageType(0x%08x)", uint32(t))
	}
}

// IsKnown reports whether t is one of the enumerated wire values. The two
// reserved unsubscribe-ack/nack types are known on the wire (they must
// round-trip and must not be rejected as malformed) even though no handling
// is defined for them yet; receivers treat them as no-ops.
func (t MessageType) IsKnown() bool {
	switch t {
	case MessageTypeRequest, MessageTypeRequestNoReturn, MessageTypeResponse,
		MessageTypeErrorResponse, MessageTypeApplicationError, MessageTypeNotification,
		MessageTypeSubscribeEvent, MessageTypeSubscribeEventAck, MessageTypeSubscribeEventNAck,
		MessageTypeUnsubscribeEvent, MessageTypeUnsubscribeEventAck, MessageTypeUnsubscribeEventNAck:
		return true
	default:
		return false
	}
}

// ReturnCode enumerates the ErrorResponse return codes.
type ReturnCode uint32

const (
	ReturnCodeUnknownServiceID              ReturnCode = 0
	ReturnCodeUnknownInstanceID             ReturnCode = 1
	ReturnCodeUnknownMethodID               ReturnCode = 2
	ReturnCodeMalformedMessage              ReturnCode = 3
	ReturnCodeServiceNotAvailable           ReturnCode = 4
	ReturnCodeMethodRequestSchedulingFailed ReturnCode = 5
)

func (c ReturnCode) String() string {
	switch c {
	case ReturnCodeUnknownServiceID:
		return "UnknownServiceId"
	case ReturnCodeUnknownInstanceID:
		return "UnknownInstanceId"
	case ReturnCodeUnknownMethodID:
		return "UnknownMethodId"
	case ReturnCodeMalformedMessage:
		return "MalformedMessage"
	case ReturnCodeServiceNotAvailable:
		return "ServiceNotAvailable"
	case ReturnCodeMethodRequestSchedulingFailed:
		return "MethodRequestSchedulingFailed"
	default:
		return fmt.Sprintf("ReturnCode(%d)", uint32(c))
	}
}

// ProtocolVersion is the only protocol_version value this binding accepts.
const ProtocolVersion uint32 = 3

// GenericHeaderSize is the fixed size, in bytes, of the generic header that
// precedes every message.
const GenericHeaderSize = 12

// Specific header sizes, keyed by the field layout they carry rather than
// by MessageType, since several types share a layout.
const (
	rrrHeaderSize           = 24 // Request/RequestNoReturn/Response/ApplicationError
	errorResponseHeaderSize = 28
	notificationHeaderSize  = 20
	subscribeHeaderSize     = 20
)

// SpecificHeaderSize returns the fixed specific-header length for a known
// message type, or 0 and false for an unknown one.
func SpecificHeaderSize(t MessageType) (int, bool) {
	switch t {
	case MessageTypeRequest, MessageTypeRequestNoReturn, MessageTypeResponse, MessageTypeApplicationError:
		return rrrHeaderSize, true
	case MessageTypeErrorResponse:
		return errorResponseHeaderSize, true
	case MessageTypeNotification:
		return notificationHeaderSize, true
	case MessageTypeSubscribeEvent, MessageTypeSubscribeEventAck, MessageTypeSubscribeEventNAck,
		MessageTypeUnsubscribeEvent, MessageTypeUnsubscribeEventAck, MessageTypeUnsubscribeEventNAck:
		return subscribeHeaderSize, true
	default:
		return 0, false
	}
}

// RRRHeader is the shared 24-byte specific header for Request,
// RequestNoReturn, Response and ApplicationError messages.
type RRRHeader struct {
	Service  ServiceID
	Instance InstanceID
	Major    MajorVersion
	Method   MethodID
	Client   ClientID
	Session  SessionID
}

// ProvidedInstance extracts the (Service, Instance, Major) triple carried in
// the header as a ProvidedServiceInstanceID, with Minor left zero since the
// wire header does not carry a minor version.
func (h RRRHeader) ProvidedInstance() ProvidedServiceInstanceID {
	return ProvidedServiceInstanceID{Service: h.Service, Instance: h.Instance, Major: h.Major}
}

// ErrorResponseHeader is the 28-byte specific header for ErrorResponse
// messages: the RRRHeader fields plus a trailing ReturnCode.
type ErrorResponseHeader struct {
	RRRHeader
	Code ReturnCode
}

// NotificationHeader is the 20-byte specific header for Notification
// messages.
type NotificationHeader struct {
	Service  ServiceID
	Instance InstanceID
	Major    MajorVersion
	Event    EventID
	Session  SessionID
}

// ProvidedInstance extracts the (Service, Instance, Major) triple.
func (h NotificationHeader) ProvidedInstance() ProvidedServiceInstanceID {
	return ProvidedServiceInstanceID{Service: h.Service, Instance: h.Instance, Major: h.Major}
}

// SubscribeHeader is the 20-byte specific header shared by SubscribeEvent,
// SubscribeEventAck, SubscribeEventNAck and UnsubscribeEvent.
type SubscribeHeader struct {
	Service  ServiceID
	Instance InstanceID
	Major    MajorVersion
	Event    EventID
	Client   ClientID
}

// ProvidedInstance extracts the (Service, Instance, Major) triple.
func (h SubscribeHeader) ProvidedInstance() ProvidedServiceInstanceID {
	return ProvidedServiceInstanceID{Service: h.Service, Instance: h.Instance, Major: h.Major}
}

// Message is a fully decoded, immutable wire message: a parsed header view
// plus an opaque payload slice. Once constructed, a Message is never
// mutated; Clone returns a new Message sharing the same payload backing
// array, safe for concurrent fan-out to multiple subscribers.
type Message struct {
	Type    MessageType
	RRR     *RRRHeader
	Err     *ErrorResponseHeader
	Notify  *NotificationHeader
	Sub     *SubscribeHeader
	Payload []byte
}

// Clone returns a shallow copy of the Message. The returned Message shares
// the same underlying Payload array; callers must not mutate Payload after
// handing a Message to Clone.
func (m *Message) Clone() *Message {
	clone := *m
	return &clone
}

// ProvidedInstance extracts the (Service, Instance, Major) triple carried by
// whichever specific header this message type uses. Panics if called on a
// Message whose Type has no recognized specific header decoded (a
// programmer error: callers must check Type first).
func (m *Message) ProvidedInstance() ProvidedServiceInstanceID {
	switch {
	case m.RRR != nil:
		return m.RRR.ProvidedInstance()
	case m.Err != nil:
		return m.Err.ProvidedInstance()
	case m.Notify != nil:
		return m.Notify.ProvidedInstance()
	case m.Sub != nil:
		return m.Sub.ProvidedInstance()
	default:
		panic("wire: Message has no decoded specific header")
	}
}
