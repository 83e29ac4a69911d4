package message

import (
	"bytes"
	"fmt"

	"github.com/renproject/surge"
)

// Encode serializes a Message to its wire form: a one-byte Kind tag followed
// by the surge encoding of the concrete payload. This is the wire format used
// to move messages between committee members; simnet's Broadcast also
// round-trips every broadcast message through it.
func Encode(m Message) ([]byte, error) {
	buf := new(bytes.Buffer)
	if err := buf.WriteByte(byte(m.Kind())); err != nil {
		return nil, err
	}
	data, err := surge.ToBinary(m)
	if err != nil {
		return nil, fmt.Errorf("marshaling %v: %w", m.Kind(), err)
	}
	buf.Write(data)
	return buf.Bytes(), nil
}

// Decode parses the wire form produced by Encode back into a concrete
// Message.
func Decode(data []byte) (Message, error) {
	if len(data) < 1 {
		return nil, fmt.Errorf("truncated message: no kind byte")
	}
	kind := Kind(data[0])
	body := data[1:]

	switch kind {
	case KindPropose:
		var m Propose
		if err := surge.FromBinary(&m, body); err != nil {
			return nil, fmt.Errorf("unmarshaling PROPOSAL: %w", err)
		}
		return m, nil
	case KindPrevote:
		var v Vote
		if err := surge.FromBinary(&v, body); err != nil {
			return nil, fmt.Errorf("unmarshaling PREVOTE: %w", err)
		}
		return Prevote(v), nil
	case KindPrecommit:
		var v Vote
		if err := surge.FromBinary(&v, body); err != nil {
			return nil, fmt.Errorf("unmarshaling PRECOMMIT: %w", err)
		}
		return Precommit(v), nil
	default:
		return nil, fmt.Errorf("decode: unexpected wire kind %v (timeouts are never sent over the wire)", kind)
	}
}
