package proto

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// Codec names, also used as websocket subprotocols.
const (
	CodecJSON    = "citychat.json"
	CodecMsgPack = "citychat.msgpack"
)

// ErrEmptyEvent is returned when a frame has no event name.
var ErrEmptyEvent = errors.New("frame has no event name")

// Codec encodes named event frames.
type Codec interface {
	// Name is the websocket subprotocol for the codec.
	Name() string
	// Binary reports whether frames must be sent as binary messages.
	Binary() bool
	Encode(event string, data any) ([]byte, error)
	Decode(raw []byte) (Envelope, error)
}

// Envelope is a decoded frame whose payload has not been bound yet.
type Envelope struct {
	Event   string
	Payload []byte
	codec   payloadCodec
}

type payloadCodec interface {
	unmarshal(data []byte, v any) error
}

// NewEnvelope builds an envelope whose payload is encoded with codec.
func NewEnvelope(codec Codec, event string, data any) (Envelope, error) {
	raw, err := codec.Encode(event, data)
	if err != nil {
		return Envelope{}, err
	}
	return codec.Decode(raw)
}

// Bind decodes the payload into v.
func (e Envelope) Bind(v any) error {
	if e.codec == nil {
		return fmt.Errorf("bind %s: envelope has no codec", e.Event)
	}
	if len(e.Payload) == 0 {
		return fmt.Errorf("bind %s: empty payload", e.Event)
	}
	if err := e.codec.unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("bind %s: %w", e.Event, err)
	}
	return nil
}

// CodecByName returns the codec for name. Empty or "json" selects JSON.
func CodecByName(name string) (Codec, error) {
	switch name {
	case "", "json", CodecJSON:
		return JSON{}, nil
	case "msgpack", CodecMsgPack:
		return MsgPack{}, nil
	default:
		return nil, fmt.Errorf("unknown codec %q", name)
	}
}

// JSON encodes frames as {"event": ..., "data": ...} text messages.
type JSON struct{}

type jsonFrame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

func (JSON) Name() string { return CodecJSON }

func (JSON) Binary() bool { return false }

func (JSON) Encode(event string, data any) ([]byte, error) {
	if event == "" {
		return nil, ErrEmptyEvent
	}
	frame := jsonFrame{Event: event}
	if data != nil {
		payload, err := json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", event, err)
		}
		frame.Data = payload
	}
	return json.Marshal(frame)
}

func (c JSON) Decode(raw []byte) (Envelope, error) {
	var frame jsonFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		return Envelope{}, fmt.Errorf("decode frame: %w", err)
	}
	if frame.Event == "" {
		return Envelope{}, ErrEmptyEvent
	}
	return Envelope{Event: frame.Event, Payload: frame.Data, codec: c}, nil
}

func (JSON) unmarshal(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

// MsgPack encodes frames as msgpack binary messages.
type MsgPack struct{}

type msgpackFrame struct {
	Event string `msgpack:"event"`
	Data  []byte `msgpack:"data,omitempty"`
}

func (MsgPack) Name() string { return CodecMsgPack }

func (MsgPack) Binary() bool { return true }

func (MsgPack) Encode(event string, data any) ([]byte, error) {
	if event == "" {
		return nil, ErrEmptyEvent
	}
	frame := msgpackFrame{Event: event}
	if data != nil {
		payload, err := msgpack.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", event, err)
		}
		frame.Data = payload
	}
	return msgpack.Marshal(&frame)
}

func (c MsgPack) Decode(raw []byte) (Envelope, error) {
	var frame msgpackFrame
	if err := msgpack.Unmarshal(raw, &frame); err != nil {
		return Envelope{}, fmt.Errorf("decode frame: %w", err)
	}
	if frame.Event == "" {
		return Envelope{}, ErrEmptyEvent
	}
	return Envelope{Event: frame.Event, Payload: frame.Data, codec: c}, nil
}

func (MsgPack) unmarshal(data []byte, v any) error {
	return msgpack.Unmarshal(data, v)
}
