package chat

import (
	"encoding/json"
	"fmt"

	"ticketchat/tools/decode"
	"ticketchat/tools/errs"
)

// Encode serializes an envelope with its `type` field.
func Encode(env Envelope) ([]byte, error) {
	var v any
	switch e := env.(type) {
	case Connected:
		v = struct {
			Type Kind `json:"type"`
		}{KindConnected}
	case Ping:
		v = struct {
			Type Kind `json:"type"`
			Ping
		}{KindPing, e}
	case Pong:
		v = struct {
			Type Kind `json:"type"`
			Pong
		}{KindPong, e}
	case ClientMessage:
		if len(e.Content) == 0 {
			e.Content = json.RawMessage("null")
		}
		v = struct {
			Type Kind `json:"type"`
			ClientMessage
		}{KindClientMessage, e}
	case MessageReceived:
		v = struct {
			Type Kind `json:"type"`
			MessageReceived
		}{KindMessageReceived, e}
	case ServerMessage:
		if len(e.Content) == 0 {
			e.Content = json.RawMessage("null")
		}
		v = struct {
			Type Kind `json:"type"`
			ServerMessage
		}{KindServerMessage, e}
	case Info:
		v = struct {
			Type Kind `json:"type"`
			Info
		}{KindInfo, e}
	case ServerError:
		v = struct {
			Type Kind `json:"type"`
			ServerError
		}{KindError, e}
	case Typing:
		v = struct {
			Type Kind `json:"type"`
			Typing
		}{KindTyping, e}
	default:
		return nil, errs.ErrMalformedEnvelope.WrapMsg("cannot encode", "kind", fmt.Sprintf("%T", env))
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, errs.WrapMsg(err, "encode envelope", "kind", env.Kind())
	}
	return b, nil
}

// Decode parses one inbound frame. Numeric fields accept numbers or numeric
// strings; timestamps accept RFC3339 or epoch milliseconds. Frames whose type
// is not known decode to Unknown.
func Decode(raw []byte) (Envelope, error) {
	m, err := decode.JSONObject(raw)
	if err != nil {
		return nil, errs.ErrMalformedEnvelope.WrapMsg(err.Error())
	}
	kind, err := decode.ReadString(m, "type")
	if err != nil {
		return nil, errs.ErrMalformedEnvelope.WrapMsg(err.Error())
	}

	switch Kind(kind) {
	case KindConnected:
		return Connected{}, nil
	case KindPing:
		return decodeAs[Ping](m)
	case KindPong:
		return decodeAs[Pong](m)
	case KindMessageReceived:
		if err := require(m, "tempId", "messageId"); err != nil {
			return nil, err
		}
		return decodeAs[MessageReceived](m)
	case KindServerMessage:
		if err := require(m, "messageId"); err != nil {
			return nil, err
		}
		content, err := rawField(raw, "content")
		if err != nil {
			return nil, err
		}
		delete(m, "content")
		env, err := decodeAs[ServerMessage](m)
		if err != nil {
			return nil, err
		}
		env.Content = content
		return env, nil
	case KindClientMessage:
		content, err := rawField(raw, "content")
		if err != nil {
			return nil, err
		}
		delete(m, "content")
		env, err := decodeAs[ClientMessage](m)
		if err != nil {
			return nil, err
		}
		env.Content = content
		return env, nil
	case KindInfo:
		return decodeAs[Info](m)
	case KindError:
		return decodeAs[ServerError](m)
	case KindTyping:
		return decodeAs[Typing](m)
	default:
		return Unknown{Type: kind}, nil
	}
}

func decodeAs[T Envelope](m map[string]any) (T, error) {
	delete(m, "type")
	out, err := decode.DecodeMap[T](m)
	if err != nil {
		var zero T
		return zero, errs.ErrMalformedEnvelope.WrapMsg(err.Error())
	}
	return *out, nil
}

func require(m map[string]any, keys ...string) error {
	for _, k := range keys {
		if v, ok := m[k]; !ok || v == nil {
			return errs.ErrMalformedEnvelope.WrapMsg("missing field", "field", k)
		}
	}
	return nil
}

// rawField keeps the content document byte-for-byte; the core never looks
// inside it.
func rawField(raw []byte, key string) (json.RawMessage, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, errs.ErrMalformedEnvelope.WrapMsg(err.Error())
	}
	return fields[key], nil
}
