package types

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Kind marshals as its name so schemas and WAL payloads stay readable.
func (k Kind) MarshalJSON() ([]byte, error) {
	return json.Marshal(k.String())
}

func (k *Kind) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if s == "null" {
		*k = KindNull
		return nil
	}
	parsed, ok := KindFromString(s)
	if !ok {
		return fmt.Errorf("unknown kind %q", s)
	}
	*k = parsed
	return nil
}

// valueJSON is the tagged wire form of a Value. The tag keeps int and float
// apart, which plain JSON numbers cannot.
type valueJSON struct {
	T Kind        `json:"t"`
	V interface{} `json:"v,omitempty"`
}

func (v Value) MarshalJSON() ([]byte, error) {
	return json.Marshal(valueJSON{T: v.Kind, V: v.Native()})
}

func (v *Value) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw valueJSON
	if err := dec.Decode(&raw); err != nil {
		return err
	}
	switch raw.T {
	case KindNull:
		*v = Null()
	case KindBool:
		b, ok := raw.V.(bool)
		if !ok {
			return fmt.Errorf("bool value: got %T", raw.V)
		}
		*v = NewBool(b)
	case KindInt:
		n, ok := raw.V.(json.Number)
		if !ok {
			return fmt.Errorf("int value: got %T", raw.V)
		}
		i, err := n.Int64()
		if err != nil {
			return err
		}
		*v = NewInt(i)
	case KindFloat:
		n, ok := raw.V.(json.Number)
		if !ok {
			return fmt.Errorf("float value: got %T", raw.V)
		}
		f, err := n.Float64()
		if err != nil {
			return err
		}
		*v = NewFloat(f)
	case KindString:
		s, ok := raw.V.(string)
		if !ok {
			return fmt.Errorf("string value: got %T", raw.V)
		}
		*v = NewString(s)
	default:
		return fmt.Errorf("unknown kind %d", raw.T)
	}
	return nil
}
