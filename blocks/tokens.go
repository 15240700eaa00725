package blocks

import (
	"bytes"
	"fmt"

	"github.com/buger/jsonparser"

	"github.com/astei/chowder/fault"
)

type tokenKind uint8

const (
	tokKey tokenKind = iota
	tokString
	tokNumber
	tokBool
	tokNull
	tokObject
	tokObjectEnd
	tokArray
	tokArrayEnd
)

// token is one element of the flattened manifest. text is a view into the manifest source and
// stays valid as long as the source does. Keys arrive unescaped from the parser; string values
// are still escaped.
type token struct {
	kind  tokenKind
	depth int
	text  []byte
}

// String returns the unescaped text of a key or string token.
func (t token) String() string {
	if t.kind != tokString || bytes.IndexByte(t.text, '\\') < 0 {
		return string(t.text)
	}
	s, err := jsonparser.ParseString(t.text)
	if err != nil {
		return string(t.text)
	}
	return s
}

func (t token) is(key string) bool {
	return t.kind == tokKey && string(t.text) == key
}

// tokenize flattens src into a token list in document order. The list is built once and never
// modified; both passes of the table builder read it.
func tokenize(src []byte) ([]token, error) {
	trimmed := bytes.TrimSpace(src)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, fault.Op("manifest tokenize", fmt.Errorf("%w: top level is not an object", ErrParse))
	}
	tz := &tokenizer{}
	tz.emit(tokObject, 0, nil)
	if err := tz.object(trimmed, 1); err != nil {
		return nil, fault.Op("manifest tokenize", fmt.Errorf("%w: %w", ErrParse, err))
	}
	tz.emit(tokObjectEnd, 0, nil)
	return tz.tokens, nil
}

type tokenizer struct {
	tokens []token
}

func (tz *tokenizer) emit(kind tokenKind, depth int, text []byte) {
	tz.tokens = append(tz.tokens, token{kind: kind, depth: depth, text: text})
}

func (tz *tokenizer) object(data []byte, depth int) error {
	return jsonparser.ObjectEach(data, func(key, value []byte, dataType jsonparser.ValueType, _ int) error {
		tz.emit(tokKey, depth, key)
		return tz.value(value, dataType, depth)
	})
}

func (tz *tokenizer) array(data []byte, depth int) error {
	var inner error
	_, err := jsonparser.ArrayEach(data, func(value []byte, dataType jsonparser.ValueType, _ int, err error) {
		if inner != nil {
			return
		}
		if err != nil {
			inner = err
			return
		}
		inner = tz.value(value, dataType, depth)
	})
	if err != nil {
		return err
	}
	return inner
}

func (tz *tokenizer) value(value []byte, dataType jsonparser.ValueType, depth int) error {
	switch dataType {
	case jsonparser.Object:
		tz.emit(tokObject, depth, nil)
		if err := tz.object(value, depth+1); err != nil {
			return err
		}
		tz.emit(tokObjectEnd, depth, nil)
	case jsonparser.Array:
		tz.emit(tokArray, depth, nil)
		if err := tz.array(value, depth+1); err != nil {
			return err
		}
		tz.emit(tokArrayEnd, depth, nil)
	case jsonparser.String:
		tz.emit(tokString, depth, value)
	case jsonparser.Number:
		tz.emit(tokNumber, depth, value)
	case jsonparser.Boolean:
		tz.emit(tokBool, depth, value)
	case jsonparser.Null:
		tz.emit(tokNull, depth, value)
	default:
		return fmt.Errorf("unexpected value %q", value)
	}
	return nil
}

// skip returns the index just past the value starting at i.
func skip(tokens []token, i int) int {
	switch tokens[i].kind {
	case tokObject, tokArray:
		depth := tokens[i].depth
		for i++; i < len(tokens); i++ {
			if (tokens[i].kind == tokObjectEnd || tokens[i].kind == tokArrayEnd) && tokens[i].depth == depth {
				return i + 1
			}
		}
		return len(tokens)
	default:
		return i + 1
	}
}
