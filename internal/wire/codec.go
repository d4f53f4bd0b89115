package wire

import (
	"encoding/binary"
	"fmt"
)

// ErrMalformed is returned (never panicked across the API boundary)
// whenever decoding fails for any protocol reason: bad version, unknown
// type, or a length mismatch.
type ErrMalformed struct {
	Code   ReturnCode
	Reason string
}

func (e *ErrMalformed) Error() string {
	return fmt.Sprintf("wire: malformed message: %s", e.Reason)
}

func malformed(format string, args ...interface{}) error {
	return &ErrMalformed{Code: ReturnCodeMalformedMessage, Reason: fmt.Sprintf(format, args...)}
}

// DecodeGenericHeader parses the fixed 12-byte generic header from buf[0:12].
// It returns the message type and the declared message_length (the
// combined specific-header + payload length that must follow). buf must be
// at least GenericHeaderSize bytes; callers read exactly that many bytes
// off the wire before calling this.
func DecodeGenericHeader(buf []byte) (msgType MessageType, messageLength uint32, err error) {
	if len(buf) < GenericHeaderSize {
		return 0, 0, malformed("generic header short read: %d bytes", len(buf))
	}
	version := binary.LittleEndian.Uint32(buf[0:4])
	if version != ProtocolVersion {
		return 0, 0, malformed("unsupported protocol_version %d", version)
	}
	msgType = MessageType(binary.LittleEndian.Uint32(buf[4:8]))
	messageLength = binary.LittleEndian.Uint32(buf[8:12])
	return msgType, messageLength, nil
}

// EncodeGenericHeader writes the 12-byte generic header into buf[0:12].
// buf must be at least GenericHeaderSize bytes.
func EncodeGenericHeader(buf []byte, msgType MessageType, messageLength uint32) {
	binary.LittleEndian.PutUint32(buf[0:4], ProtocolVersion)
	binary.LittleEndian.PutUint32(buf[4:8], uint32(msgType))
	binary.LittleEndian.PutUint32(buf[8:12], messageLength)
}

// Decode parses a complete wire frame (generic header + specific header +
// payload) into a Message. frame must contain exactly
// GenericHeaderSize + message_length bytes; any other length is a protocol
// violation.
func Decode(frame []byte) (*Message, error) {
	msgType, messageLength, err := DecodeGenericHeader(frame)
	if err != nil {
		return nil, err
	}
	specificLen, ok := SpecificHeaderSize(msgType)
	if !ok {
		return nil, malformed("unknown message_type 0x%08x", uint32(msgType))
	}
	body := frame[GenericHeaderSize:]
	if uint32(len(body)) != messageLength {
		return nil, malformed("message_length %d does not match received body size %d", messageLength, len(body))
	}
	if len(body) < specificLen {
		return nil, malformed("message_length %d shorter than specific header size %d for %s", messageLength, specificLen, msgType)
	}
	specific := body[:specificLen]
	payload := body[specificLen:]

	m := &Message{Type: msgType, Payload: payload}
	switch msgType {
	case MessageTypeRequest, MessageTypeRequestNoReturn, MessageTypeResponse, MessageTypeApplicationError:
		h := decodeRRRHeader(specific)
		m.RRR = &h
	case MessageTypeErrorResponse:
		h := decodeRRRHeader(specific[:rrrHeaderSize])
		m.Err = &ErrorResponseHeader{
			RRRHeader: h,
			Code:      ReturnCode(binary.LittleEndian.Uint32(specific[rrrHeaderSize : rrrHeaderSize+4])),
		}
	case MessageTypeNotification:
		m.Notify = &NotificationHeader{
			Service:  ServiceID(binary.LittleEndian.Uint32(specific[0:4])),
			Instance: InstanceID(binary.LittleEndian.Uint32(specific[4:8])),
			Major:    MajorVersion(binary.LittleEndian.Uint32(specific[8:12])),
			Event:    EventID(binary.LittleEndian.Uint32(specific[12:16])),
			Session:  SessionID(binary.LittleEndian.Uint32(specific[16:20])),
		}
	case MessageTypeSubscribeEvent, MessageTypeSubscribeEventAck, MessageTypeSubscribeEventNAck,
		MessageTypeUnsubscribeEvent, MessageTypeUnsubscribeEventAck, MessageTypeUnsubscribeEventNAck:
		m.Sub = &SubscribeHeader{
			Service:  ServiceID(binary.LittleEndian.Uint32(specific[0:4])),
			Instance: InstanceID(binary.LittleEndian.Uint32(specific[4:8])),
			Major:    MajorVersion(binary.LittleEndian.Uint32(specific[8:12])),
			Event:    EventID(binary.LittleEndian.Uint32(specific[12:16])),
			Client:   ClientID(binary.LittleEndian.Uint32(specific[16:20])),
		}
	}
	return m, nil
}

func decodeRRRHeader(b []byte) RRRHeader {
	return RRRHeader{
		Service:  ServiceID(binary.LittleEndian.Uint32(b[0:4])),
		Instance: InstanceID(binary.LittleEndian.Uint32(b[4:8])),
		Major:    MajorVersion(binary.LittleEndian.Uint32(b[8:12])),
		Method:   MethodID(binary.LittleEndian.Uint32(b[12:16])),
		Client:   ClientID(binary.LittleEndian.Uint32(b[16:20])),
		Session:  SessionID(binary.LittleEndian.Uint32(b[20:24])),
	}
}

func encodeRRRHeader(b []byte, h RRRHeader) {
	binary.LittleEndian.PutUint32(b[0:4], uint32(h.Service))
	binary.LittleEndian.PutUint32(b[4:8], uint32(h.Instance))
	binary.LittleEndian.PutUint32(b[8:12], uint32(h.Major))
	binary.LittleEndian.PutUint32(b[12:16], uint32(h.Method))
	binary.LittleEndian.PutUint32(b[16:20], uint32(h.Client))
	binary.LittleEndian.PutUint32(b[20:24], uint32(h.Session))
}

// Encode serializes m into a single contiguous wire frame (generic header +
// specific header + payload). Serialization cannot fail given a well-formed
// Message and adequate buffer allocation; an allocation failure is fatal to
// the process, not reported as an error here.
func Encode(m *Message) []byte {
	specificLen, ok := SpecificHeaderSize(m.Type)
	if !ok {
		panic(fmt.Sprintf("wire: Encode: unknown message type %s", m.Type))
	}
	messageLength := specificLen + len(m.Payload)
	frame := make([]byte, GenericHeaderSize+messageLength)
	EncodeGenericHeader(frame, m.Type, uint32(messageLength))
	specific := frame[GenericHeaderSize : GenericHeaderSize+specificLen]

	switch m.Type {
	case MessageTypeRequest, MessageTypeRequestNoReturn, MessageTypeResponse, MessageTypeApplicationError:
		encodeRRRHeader(specific, *m.RRR)
	case MessageTypeErrorResponse:
		encodeRRRHeader(specific[:rrrHeaderSize], m.Err.RRRHeader)
		binary.LittleEndian.PutUint32(specific[rrrHeaderSize:rrrHeaderSize+4], uint32(m.Err.Code))
	case MessageTypeNotification:
		binary.LittleEndian.PutUint32(specific[0:4], uint32(m.Notify.Service))
		binary.LittleEndian.PutUint32(specific[4:8], uint32(m.Notify.Instance))
		binary.LittleEndian.PutUint32(specific[8:12], uint32(m.Notify.Major))
		binary.LittleEndian.PutUint32(specific[12:16], uint32(m.Notify.Event))
		binary.LittleEndian.PutUint32(specific[16:20], uint32(m.Notify.Session))
	case MessageTypeSubscribeEvent, MessageTypeSubscribeEventAck, MessageTypeSubscribeEventNAck,
		MessageTypeUnsubscribeEvent, MessageTypeUnsubscribeEventAck, MessageTypeUnsubscribeEventNAck:
		binary.LittleEndian.PutUint32(specific[0:4], uint32(m.Sub.Service))
		binary.LittleEndian.PutUint32(specific[4:8], uint32(m.Sub.Instance))
		binary.LittleEndian.PutUint32(specific[8:12], uint32(m.Sub.Major))
		binary.LittleEndian.PutUint32(specific[12:16], uint32(m.Sub.Event))
		binary.LittleEndian.PutUint32(specific[16:20], uint32(m.Sub.Client))
	}
	copy(frame[GenericHeaderSize+specificLen:], m.Payload)
	return frame
}
