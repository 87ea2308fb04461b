package pipeline

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

// Kind is the variant tag of a Value.
type Kind int

const (
	KindNull Kind = iota
	KindBool
	KindNumber
	KindString
	KindArray
	KindObject
)

// Member is one key of an object, kept in source order.
type Member struct {
	Key   string
	Value Value
}

// Value is an untyped JSON value. Numbers keep their literal text; objects keep their
// keys in source order so that coerced "key: value" lines are stable.
type Value struct {
	Kind    Kind
	Bool    bool
	Text    string // string content, or the literal of a number
	Items   []Value
	Members []Member
}

func StringValue(s string) Value { return Value{Kind: KindString, Text: s} }

func ArrayValue(items []Value) Value { return Value{Kind: KindArray, Items: items} }

func ObjectValue(members ...Member) Value { return Value{Kind: KindObject, Members: members} }

// Get returns the value of key. With duplicate keys the last one wins, as with
// encoding/json.
func (v Value) Get(key string) (Value, bool) {
	if v.Kind != KindObject {
		return Value{}, false
	}
	for i := len(v.Members) - 1; i >= 0; i-- {
		if v.Members[i].Key == key {
			return v.Members[i].Value, true
		}
	}
	return Value{}, false
}

// GetFold is Get with a case-insensitive key match.
func (v Value) GetFold(key string) (Value, bool) {
	if v.Kind != KindObject {
		return Value{}, false
	}
	for i := len(v.Members) - 1; i >= 0; i-- {
		if strings.EqualFold(v.Members[i].Key, key) {
			return v.Members[i].Value, true
		}
	}
	return Value{}, false
}

// ParseValue strictly decodes exactly one JSON value from s. Trailing data is an error.
func ParseValue(s string) (Value, error) {
	dec := json.NewDecoder(strings.NewReader(s))
	dec.UseNumber()

	v, err := decodeValue(dec)
	if err != nil {
		return Value{}, err
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		if err == nil {
			return Value{}, errors.New("unexpected data after top-level value")
		}
		return Value{}, err
	}
	return v, nil
}

func decodeValue(dec *json.Decoder) (Value, error) {
	tok, err := dec.Token()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return Value{}, io.ErrUnexpectedEOF
		}
		return Value{}, err
	}

	switch t := tok.(type) {
	case json.Delim:
		switch t {
		case '{':
			return decodeObject(dec)
		case '[':
			return decodeArray(dec)
		}
		return Value{}, fmt.Errorf("unexpected delimiter %q", t)
	case string:
		return Value{Kind: KindString, Text: t}, nil
	case json.Number:
		return Value{Kind: KindNumber, Text: t.String()}, nil
	case bool:
		return Value{Kind: KindBool, Bool: t}, nil
	case nil:
		return Value{Kind: KindNull}, nil
	}
	return Value{}, fmt.Errorf("unexpected token %v", tok)
}

func decodeObject(dec *json.Decoder) (Value, error) {
	v := Value{Kind: KindObject}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return Value{}, err
		}
		key, ok := tok.(string)
		if !ok {
			return Value{}, fmt.Errorf("object key is %T, not a string", tok)
		}
		val, err := decodeValue(dec)
		if err != nil {
			return Value{}, err
		}
		v.Members = append(v.Members, Member{Key: key, Value: val})
	}
	if _, err := dec.Token(); err != nil {
		return Value{}, err
	}
	return v, nil
}

func decodeArray(dec *json.Decoder) (Value, error) {
	v := Value{Kind: KindArray, Items: []Value{}}
	for dec.More() {
		item, err := decodeValue(dec)
		if err != nil {
			return Value{}, err
		}
		v.Items = append(v.Items, item)
	}
	if _, err := dec.Token(); err != nil {
		return Value{}, err
	}
	return v, nil
}

// coerceToDisplayString renders any variant as the string a test-case field holds.
// Arrays become one line per non-empty item, objects one "key: value" line per member.
// Null renders as the empty string; callers substitute placeholders.
func coerceToDisplayString(v Value) string {
	switch v.Kind {
	case KindNull:
		return ""
	case KindBool:
		if v.Bool {
			return "true"
		}
		return "false"
	case KindNumber, KindString:
		return v.Text
	case KindArray:
		lines := make([]string, 0, len(v.Items))
		for _, item := range v.Items {
			if s := strings.TrimSpace(coerceToDisplayString(item)); s != "" {
				lines = append(lines, s)
			}
		}
		return strings.Join(lines, "\n")
	case KindObject:
		lines := make([]string, 0, len(v.Members))
		for _, m := range v.Members {
			lines = append(lines, m.Key+": "+inlineString(m.Value))
		}
		return strings.Join(lines, "\n")
	}
	return ""
}

// inlineString renders a nested value on one line.
func inlineString(v Value) string {
	switch v.Kind {
	case KindArray:
		parts := make([]string, 0, len(v.Items))
		for _, item := range v.Items {
			if s := inlineString(item); s != "" {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, ", ")
	case KindObject:
		parts := make([]string, 0, len(v.Members))
		for _, m := range v.Members {
			parts = append(parts, m.Key+": "+inlineString(m.Value))
		}
		return "{" + strings.Join(parts, ", ") + "}"
	default:
		return strings.TrimSpace(coerceToDisplayString(v))
	}
}
