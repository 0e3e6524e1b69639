package wire

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// Message is implemented by every payload type carried inside an Envelope.
type Message interface {
	Type() MessageType
	marshal() []byte
}

// AuthRequest carries the claimed identity and the RSA-wrapped session key;
// see internal/cryptoutil for the wrap/unwrap contract.
type AuthRequest struct {
	Username         string
	Timestamp        int64 // seconds since epoch
	EncryptedAESKey  []byte
}

func (AuthRequest) Type() MessageType { return MessageAuthRequest }

func (m AuthRequest) marshal() []byte {
	var buf bytes.Buffer
	putString(&buf, m.Username)
	var tsBuf [8]byte
	binary.BigEndian.PutUint64(tsBuf[:], uint64(m.Timestamp))
	buf.Write(tsBuf[:])
	putBytes(&buf, m.EncryptedAESKey)
	return buf.Bytes()
}

func unmarshalAuthRequest(b []byte) (AuthRequest, error) {
	var m AuthRequest
	username, rest, err := takeString(b)
	if err != nil {
		return m, err
	}
	ts, rest, err := takeInt64(rest)
	if err != nil {
		return m, err
	}
	key, _, err := takeBytes(rest)
	if err != nil {
		return m, err
	}
	m.Username = username
	m.Timestamp = ts
	m.EncryptedAESKey = key
	return m, nil
}

// AuthResponse is the Proxy's reply to AuthRequest.
type AuthResponse struct {
	Success   bool
	Message   string
	SessionID string // optional; empty when absent
}

func (AuthResponse) Type() MessageType { return MessageAuthResponse }

func (m AuthResponse) marshal() []byte {
	var buf bytes.Buffer
	if m.Success {
		buf.WriteByte(1)
	} else {
		buf.WriteByte(0)
	}
	putString(&buf, m.Message)
	putString(&buf, m.SessionID)
	return buf.Bytes()
}

func unmarshalAuthResponse(b []byte) (AuthResponse, error) {
	var m AuthResponse
	success, rest, err := takeBool(b)
	if err != nil {
		return m, err
	}
	msg, rest, err := takeString(rest)
	if err != nil {
		return m, err
	}
	sid, _, err := takeString(rest)
	if err != nil {
		return m, err
	}
	m.Success = success
	m.Message = msg
	m.SessionID = sid
	return m, nil
}

// ConnectRequest asks the Proxy to open a stream to address over transport.
type ConnectRequest struct {
	RequestID string
	Address   Address
	Transport Transport
}

func (ConnectRequest) Type() MessageType { return MessageConnectRequest }

func (m ConnectRequest) marshal() []byte {
	var buf bytes.Buffer
	putString(&buf, m.RequestID)
	m.Address.encode(&buf)
	buf.WriteByte(byte(m.Transport))
	return buf.Bytes()
}

func unmarshalConnectRequest(b []byte) (ConnectRequest, error) {
	var m ConnectRequest
	reqID, rest, err := takeString(b)
	if err != nil {
		return m, err
	}
	addr, rest, err := decodeAddress(rest)
	if err != nil {
		return m, err
	}
	transport, _, err := takeByte(rest)
	if err != nil {
		return m, err
	}
	m.RequestID = reqID
	m.Address = addr
	m.Transport = Transport(transport)
	return m, nil
}

// ConnectResponse is the Proxy's reply to ConnectRequest.
type ConnectResponse struct {
	RequestID string
	Success   bool
	Message   string
}

func (ConnectResponse) Type() MessageType { return MessageConnectResponse }

func (m ConnectResponse) marshal() []byte {
	var buf bytes.Buffer
	putString(&buf, m.RequestID)
	if m.Success {
		buf.WriteByte(1)
	} else {
		buf.WriteByte(0)
	}
	putString(&buf, m.Message)
	return buf.Bytes()
}

func unmarshalConnectResponse(b []byte) (ConnectResponse, error) {
	var m ConnectResponse
	reqID, rest, err := takeString(b)
	if err != nil {
		return m, err
	}
	success, rest, err := takeBool(rest)
	if err != nil {
		return m, err
	}
	msg, _, err := takeString(rest)
	if err != nil {
		return m, err
	}
	m.RequestID = reqID
	m.Success = success
	m.Message = msg
	return m, nil
}

// DataPacket carries a chunk of stream payload. An empty Data with IsEnd set
// is the logical FIN from the sending side.
type DataPacket struct {
	StreamID string
	Data     []byte
	IsEnd    bool
}

func (DataPacket) Type() MessageType { return MessageData }

func (m DataPacket) marshal() []byte {
	var buf bytes.Buffer
	putString(&buf, m.StreamID)
	putBytes(&buf, m.Data)
	if m.IsEnd {
		buf.WriteByte(1)
	} else {
		buf.WriteByte(0)
	}
	return buf.Bytes()
}

func unmarshalDataPacket(b []byte) (DataPacket, error) {
	var m DataPacket
	streamID, rest, err := takeString(b)
	if err != nil {
		return m, err
	}
	data, rest, err := takeBytes(rest)
	if err != nil {
		return m, err
	}
	isEnd, _, err := takeBool(rest)
	if err != nil {
		return m, err
	}
	m.StreamID = streamID
	m.Data = data
	m.IsEnd = isEnd
	return m, nil
}

// unmarshal dispatches to the type-specific decoder for mt.
func unmarshal(mt MessageType, body []byte) (Message, error) {
	switch mt {
	case MessageAuthRequest:
		return unmarshalAuthRequest(body)
	case MessageAuthResponse:
		return unmarshalAuthResponse(body)
	case MessageConnectRequest:
		return unmarshalConnectRequest(body)
	case MessageConnectResponse:
		return unmarshalConnectResponse(body)
	case MessageData:
		return unmarshalDataPacket(body)
	default:
		return nil, fmt.Errorf("%w: unknown message type %d", ErrDeserialize, mt)
	}
}
