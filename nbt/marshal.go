package nbt

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"
	"reflect"
	"sort"
	"strings"
)

// Field is one named entry of a Compound.
type Field struct {
	Name  string
	Value interface{}
}

// Compound encodes as a compound whose entries keep the order given, unlike a map.
type Compound []Field

var compoundType = reflect.TypeOf(Compound(nil))

func Marshal(w io.Writer, v interface{}) error {
	return NewEncoder(w).Encode(v)
}

// MarshalBytes encodes v into a new byte slice.
func MarshalBytes(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	if err := Marshal(&buf, v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

type Encoder struct {
	w io.Writer
}

func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{w: w}
}

// Encode writes v as an unnamed root compound. v must be a struct, a string-keyed map or a
// Compound.
func (e *Encoder) Encode(v interface{}) error {
	val := reflect.ValueOf(v)
	kind, err := tagType(val)
	if err != nil {
		return err
	}
	if kind != TagCompound {
		return errors.New("nbt: root must be a compound, got " + TagName(kind))
	}
	if err := e.writeTag(kind, ""); err != nil {
		return err
	}
	return e.writePayload(indirect(val), kind)
}

func indirect(val reflect.Value) reflect.Value {
	for val.Kind() == reflect.Interface || val.Kind() == reflect.Ptr {
		if val.IsNil() {
			return val
		}
		val = val.Elem()
	}
	return val
}

// tagType picks the tag type a Go value is written as.
func tagType(val reflect.Value) (byte, error) {
	val = indirect(val)
	if !val.IsValid() || ((val.Kind() == reflect.Interface || val.Kind() == reflect.Ptr) && val.IsNil()) {
		return 0, errors.New("nbt: cannot encode nil")
	}
	if val.Type() == compoundType {
		return TagCompound, nil
	}
	switch vk := val.Kind(); vk {
	case reflect.Bool, reflect.Int8, reflect.Uint8:
		return TagByte, nil
	case reflect.Int16, reflect.Uint16:
		return TagShort, nil
	case reflect.Int, reflect.Int32, reflect.Uint32:
		return TagInt, nil
	case reflect.Int64, reflect.Uint64:
		return TagLong, nil
	case reflect.Float32:
		return TagFloat, nil
	case reflect.Float64:
		return TagDouble, nil
	case reflect.String:
		return TagString, nil
	case reflect.Struct:
		return TagCompound, nil
	case reflect.Map:
		if val.Type().Key().Kind() != reflect.String {
			return 0, errors.New("nbt: unknown key type " + val.Type().String() + " for map")
		}
		return TagCompound, nil
	case reflect.Array, reflect.Slice:
		switch val.Type().Elem().Kind() {
		case reflect.Uint8, reflect.Int8:
			return TagByteArray, nil
		case reflect.Int32, reflect.Uint32:
			return TagIntArray, nil
		case reflect.Int64, reflect.Uint64:
			return TagLongArray, nil
		}
		return TagList, nil
	default:
		return 0, errors.New("nbt: unknown type " + vk.String())
	}
}

func (e *Encoder) marshal(val reflect.Value, tagName string) error {
	kind, err := tagType(val)
	if err != nil {
		return fmt.Errorf("%w whilst serializing %s", err, tagName)
	}
	if err := e.writeTag(kind, tagName); err != nil {
		return err
	}
	return e.writePayload(indirect(val), kind)
}

func (e *Encoder) writePayload(val reflect.Value, kind byte) error {
	switch kind {
	case TagByte:
		var b byte
		switch val.Kind() {
		case reflect.Bool:
			if val.Bool() {
				b = 1
			}
		case reflect.Int8:
			b = byte(val.Int())
		default:
			b = byte(val.Uint())
		}
		_, err := e.w.Write([]byte{b})
		return err

	case TagShort:
		if val.Kind() == reflect.Uint16 {
			return e.writeInt16(int16(val.Uint()))
		}
		return e.writeInt16(int16(val.Int()))

	case TagInt:
		if val.Kind() == reflect.Uint32 {
			return e.writeInt32(int32(val.Uint()))
		}
		return e.writeInt32(int32(val.Int()))

	case TagLong:
		if val.Kind() == reflect.Uint64 {
			return e.writeInt64(int64(val.Uint()))
		}
		return e.writeInt64(val.Int())

	case TagFloat:
		return e.writeInt32(int32(math.Float32bits(float32(val.Float()))))

	case TagDouble:
		return e.writeInt64(int64(math.Float64bits(val.Float())))

	case TagString:
		return e.writeString(val.String())

	case TagByteArray, TagIntArray, TagLongArray:
		return e.writeArray(val, kind)

	case TagList:
		return e.writeList(val)

	case TagCompound:
		switch {
		case val.Type() == compoundType:
			return e.writeCompound(val.Interface().(Compound))
		case val.Kind() == reflect.Map:
			return e.writeMap(val)
		default:
			return e.writeStruct(val)
		}
	}
	return errors.New("nbt: cannot write " + TagName(kind))
}

func (e *Encoder) writeArray(val reflect.Value, kind byte) error {
	n := val.Len()
	if n > math.MaxInt32 {
		return errors.New("nbt: array too long")
	}
	if err := e.writeInt32(int32(n)); err != nil {
		return err
	}
	if kind == TagByteArray && val.Kind() == reflect.Slice && val.Type().Elem().Kind() == reflect.Uint8 {
		_, err := e.w.Write(val.Bytes())
		return err
	}
	for i := 0; i < n; i++ {
		elem := val.Index(i)
		var v int64
		switch elem.Kind() {
		case reflect.Uint8, reflect.Uint32, reflect.Uint64:
			v = int64(elem.Uint())
		default:
			v = elem.Int()
		}
		var err error
		switch kind {
		case TagByteArray:
			_, err = e.w.Write([]byte{byte(v)})
		case TagIntArray:
			err = e.writeInt32(int32(v))
		default:
			err = e.writeInt64(v)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (e *Encoder) writeList(val reflect.Value) error {
	n := val.Len()
	if n > math.MaxInt32 {
		return errors.New("nbt: list too long")
	}
	elemKind := TagEnd
	if n == 0 {
		// Empty lists still carry the element type when the Go type pins it down.
		if et := val.Type().Elem(); et.Kind() != reflect.Interface && et.Kind() != reflect.Ptr {
			if k, err := tagType(reflect.Zero(et)); err == nil {
				elemKind = k
			}
		}
	}
	for i := 0; i < n; i++ {
		k, err := tagType(val.Index(i))
		if err != nil {
			return err
		}
		if i == 0 {
			elemKind = k
		} else if k != elemKind {
			return errors.New("nbt: mixed types in list: found " + TagName(k) + " and " + TagName(elemKind))
		}
	}
	if _, err := e.w.Write([]byte{elemKind}); err != nil {
		return err
	}
	if err := e.writeInt32(int32(n)); err != nil {
		return err
	}
	for i := 0; i < n; i++ {
		if err := e.writePayload(indirect(val.Index(i)), elemKind); err != nil {
			return err
		}
	}
	return nil
}

func (e *Encoder) writeStruct(val reflect.Value) error {
	n := val.NumField()
	for i := 0; i < n; i++ {
		f := val.Type().Field(i)
		tag := f.Tag.Get("nbt")
		if f.PkgPath != "" || tag == "-" {
			continue // Private field
		}

		tagName, opts, _ := strings.Cut(tag, ",")
		if tagName == "" {
			tagName = f.Name
		}
		field := val.Field(i)
		if opts == "omitempty" && isEmpty(field) {
			continue
		}

		if err := e.marshal(field, tagName); err != nil {
			return err
		}
	}
	_, err := e.w.Write([]byte{TagEnd})
	return err
}

func isEmpty(val reflect.Value) bool {
	switch val.Kind() {
	case reflect.Slice, reflect.Map, reflect.String, reflect.Array:
		return val.Len() == 0
	case reflect.Interface, reflect.Ptr:
		return val.IsNil()
	}
	return val.IsZero()
}

// writeMap writes entries sorted by key so the output does not depend on map iteration order.
func (e *Encoder) writeMap(val reflect.Value) error {
	keys := val.MapKeys()
	sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })
	for _, key := range keys {
		if err := e.marshal(val.MapIndex(key), key.String()); err != nil {
			return err
		}
	}
	_, err := e.w.Write([]byte{TagEnd})
	return err
}

func (e *Encoder) writeCompound(c Compound) error {
	for _, f := range c {
		if err := e.marshal(reflect.ValueOf(f.Value), f.Name); err != nil {
			return err
		}
	}
	_, err := e.w.Write([]byte{TagEnd})
	return err
}

func (e *Encoder) writeTag(kind byte, tagName string) error {
	if _, err := e.w.Write([]byte{kind}); err != nil {
		return err
	}
	return e.writeString(tagName)
}

func (e *Encoder) writeString(s string) error {
	if len(s) > math.MaxUint16 {
		return errors.New("nbt: string longer than 65535 bytes")
	}
	if err := e.writeInt16(int16(len(s))); err != nil {
		return err
	}
	_, err := io.WriteString(e.w, s)
	return err
}

func (e *Encoder) writeInt16(n int16) error {
	_, err := e.w.Write([]byte{byte(n >> 8), byte(n)})
	return err
}

func (e *Encoder) writeInt32(n int32) error {
	_, err := e.w.Write([]byte{byte(n >> 24), byte(n >> 16), byte(n >> 8), byte(n)})
	return err
}

func (e *Encoder) writeInt64(n int64) error {
	_, err := e.w.Write([]byte{
		byte(n >> 56), byte(n >> 48), byte(n >> 40), byte(n >> 32),
		byte(n >> 24), byte(n >> 16), byte(n >> 8), byte(n)})
	return err
}
