package ir

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"unicode/utf16"

	"golang.org/x/text/unicode/norm"
)

// MarshalCanonical produces RFC 8785 canonical JSON.
// This is the serialization used for job identity and golden snapshots.
//
// Key differences from standard json.Marshal:
// 1. Object keys sorted by UTF-16 code units (not UTF-8 bytes)
// 2. No HTML escaping (< > & are NOT escaped)
// 3. Strings are NFC normalized
// 4. No floats (returns error)
// 5. No null (returns error)
//
// Supported inputs: string, int, int64, bool, []any, map[string]any and
// the ir types Action, Job, Command and Program.
func MarshalCanonical(v any) ([]byte, error) {
	return marshalCanonical(v)
}

func marshalCanonical(v any) ([]byte, error) {
	switch val := v.(type) {
	case nil:
		return nil, fmt.Errorf("null is forbidden in canonical JSON")
	case string:
		return marshalCanonicalString(val)
	case int:
		return []byte(fmt.Sprintf("%d", val)), nil
	case int64:
		return []byte(fmt.Sprintf("%d", val)), nil
	case bool:
		if val {
			return []byte("true"), nil
		}
		return []byte("false"), nil
	case []any:
		return marshalCanonicalArray(val)
	case map[string]any:
		return marshalCanonicalObject(val)
	case Action:
		out, err := marshalCanonicalActions([]Action{val})
		if err != nil {
			return nil, err
		}
		return out[1 : len(out)-1], nil
	case actionSeq:
		return marshalCanonicalActions(val)
	case *Job:
		return marshalCanonicalObject(val.canonicalMap())
	case Command:
		return marshalCanonicalObject(val.canonicalMap())
	case *Program:
		return marshalCanonicalObject(val.canonicalMap())
	case float64, float32:
		return nil, fmt.Errorf("floats are forbidden in canonical JSON: %v", val)
	default:
		return nil, fmt.Errorf("unsupported type for canonical JSON: %T", v)
	}
}

// actionSeq marks an action list inside a canonical map. It is encoded by
// marshalCanonicalActions rather than through nested maps.
type actionSeq []Action

// marshalCanonicalActions encodes an action list as a canonical JSON array.
// The walk keeps its own stack of open repeat bodies, so nesting depth is
// bounded by memory, not by call depth. Keys are written in canonical order:
//
//	increment/decrement  {"counter":N,"kind":K}
//	msleep               {"kind":K,"millis":N}
//	repeat               {"body":[...],"count":N,"kind":"repeat"}
func marshalCanonicalActions(actions []Action) ([]byte, error) {
	type frame struct {
		body  []Action
		next  int
		count int // repeat count of the owning action; unused for the root
	}

	var buf bytes.Buffer
	buf.WriteByte('[')
	stack := []frame{{body: actions}}
	for len(stack) > 0 {
		top := &stack[len(stack)-1]
		if top.next == len(top.body) {
			buf.WriteByte(']')
			count := top.count
			stack = stack[:len(stack)-1]
			if len(stack) > 0 {
				fmt.Fprintf(&buf, `,"count":%d,"kind":"%s"}`, count, ActionRepeat)
			}
			continue
		}

		a := top.body[top.next]
		if top.next > 0 {
			buf.WriteByte(',')
		}
		top.next++

		switch a.Kind {
		case ActionIncrement, ActionDecrement:
			fmt.Fprintf(&buf, `{"counter":%d,"kind":"%s"}`, a.Counter, a.Kind)
		case ActionSleep:
			fmt.Fprintf(&buf, `{"kind":"%s","millis":%d}`, a.Kind, a.Millis)
		case ActionRepeat:
			buf.WriteString(`{"body":[`)
			stack = append(stack, frame{body: a.Body, count: a.Count})
		default:
			kind, err := marshalCanonicalString(string(a.Kind))
			if err != nil {
				return nil, fmt.Errorf("action kind: %w", err)
			}
			buf.WriteString(`{"kind":`)
			buf.Write(kind)
			buf.WriteByte('}')
		}
	}
	return buf.Bytes(), nil
}

func (j *Job) canonicalMap() map[string]any {
	return map[string]any{
		"line":    j.Line,
		"text":    j.Text,
		"actions": actionSeq(j.Actions),
	}
}

func (c Command) canonicalMap() map[string]any {
	m := map[string]any{
		"kind": string(c.Kind),
		"line": c.Line,
		"text": c.Text,
	}
	switch c.Kind {
	case CommandJob:
		if c.Job != nil {
			m["actions"] = actionSeq(c.Job.Actions)
		}
	case CommandSleep:
		m["millis"] = c.Millis
	}
	return m
}

func (p *Program) canonicalMap() map[string]any {
	cmds := make([]any, len(p.Commands))
	for i, c := range p.Commands {
		cmds[i] = c.canonicalMap()
	}
	return map[string]any{"commands": cmds}
}

// marshalCanonicalString produces a canonical JSON string with NFC normalization.
// Only control characters, backslash and quote are escaped.
func marshalCanonicalString(s string) ([]byte, error) {
	normalized := norm.NFC.String(s)

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(normalized); err != nil {
		return nil, err
	}

	// json.Encoder adds trailing newline, remove it
	result := bytes.TrimSuffix(buf.Bytes(), []byte{'\n'})
	return unescapeU2028U2029(result), nil
}

// unescapeU2028U2029 converts \u2028 and \u2029 escapes produced by
// encoding/json back to literal characters. An escape preceded by an odd
// number of backslashes is literal text and is left alone.
func unescapeU2028U2029(data []byte) []byte {
	if !bytes.Contains(data, []byte(`\u202`)) {
		return data
	}

	out := make([]byte, 0, len(data))
	backslashes := 0
	for i := 0; i < len(data); i++ {
		c := data[i]
		if c == '\\' && backslashes%2 == 0 && i+5 < len(data) &&
			data[i+1] == 'u' && data[i+2] == '2' && data[i+3] == '0' && data[i+4] == '2' &&
			(data[i+5] == '8' || data[i+5] == '9') {
			if data[i+5] == '8' {
				out = append(out, "\u2028"...)
			} else {
				out = append(out, "\u2029"...)
			}
			i += 5
			backslashes = 0
			continue
		}
		if c == '\\' {
			backslashes++
		} else {
			backslashes = 0
		}
		out = append(out, c)
	}
	return out
}

func marshalCanonicalArray(arr []any) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('[')

	for i, elem := range arr {
		if i > 0 {
			buf.WriteByte(',')
		}
		elemBytes, err := marshalCanonical(elem)
		if err != nil {
			return nil, fmt.Errorf("array[%d]: %w", i, err)
		}
		buf.Write(elemBytes)
	}

	buf.WriteByte(']')
	return buf.Bytes(), nil
}

// marshalCanonicalObject marshals an object with RFC 8785 key ordering.
func marshalCanonicalObject(obj map[string]any) ([]byte, error) {
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		return compareUTF16(keys[i], keys[j]) < 0
	})

	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		keyBytes, err := marshalCanonicalString(k)
		if err != nil {
			return nil, fmt.Errorf("key %q: %w", k, err)
		}
		buf.Write(keyBytes)
		buf.WriteByte(':')

		valBytes, err := marshalCanonical(obj[k])
		if err != nil {
			return nil, fmt.Errorf("value for key %q: %w", k, err)
		}
		buf.Write(valBytes)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// compareUTF16 orders strings by UTF-16 code units.
func compareUTF16(a, b string) int {
	ua := utf16.Encode([]rune(a))
	ub := utf16.Encode([]rune(b))
	for i := 0; i < len(ua) && i < len(ub); i++ {
		if ua[i] != ub[i] {
			if ua[i] < ub[i] {
				return -1
			}
			return 1
		}
	}
	return len(ua) - len(ub)
}
