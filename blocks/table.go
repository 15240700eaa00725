// Package blocks builds the dense block-state id table from a block definition manifest.
//
// The manifest is a JSON object keyed by block name. Each block may list "states"; each state may
// carry "properties", a "default" flag and an "id". Ids are expected in ascending document order:
// the last id in the document sizes the table.
package blocks

import (
	"fmt"
	"os"
	"strings"

	"github.com/buger/jsonparser"
	"github.com/willf/bitset"

	"github.com/astei/chowder/fault"
)

var (
	ErrParse           = fmt.Errorf("%w: invalid block manifest", fault.ErrMalformedInput)
	ErrIncompleteTable = fmt.Errorf("%w: block ids are not contiguous", fault.ErrMalformedInput)
	ErrDuplicateKey    = fmt.Errorf("%w: block state registered twice", fault.ErrMalformedInput)
	ErrTableBounds     = fmt.Errorf("%w: block id outside the table", fault.ErrResourceLimit)
)

// Depth of the keys inside a state object: root{ block{ states[ state{ key.
const stateKeyDepth = 4

// Property is one name=value pair of a block state.
type Property struct {
	Name  string
	Value string
}

// Key builds the canonical block-state key: the block name followed by ";name=value" for each
// property, in the given order.
func Key(name string, props ...Property) string {
	if len(props) == 0 {
		return name
	}
	var sb strings.Builder
	sb.WriteString(name)
	for _, p := range props {
		sb.WriteByte(';')
		sb.WriteString(p.Name)
		sb.WriteByte('=')
		sb.WriteString(p.Value)
	}
	return sb.String()
}

// Table maps block-state keys to ids in [0, MaxID]. It is immutable once built and safe for
// concurrent readers.
type Table struct {
	ids   map[string]int32
	names []string
	maxID int32
}

type options struct {
	names bool
}

type Option func(*options)

// WithNames keeps an id -> key side table, filled with the first key registered for each id.
func WithNames() Option {
	return func(o *options) { o.names = true }
}

// Load reads and builds the manifest at path.
func Load(path string, opts ...Option) (*Table, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	t, err := Build(src, opts...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return t, nil
}

// Build tokenizes the manifest once and walks the tokens twice: first for the table size, then to
// register every state.
func Build(manifest []byte, opts ...Option) (*Table, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	tokens, err := tokenize(manifest)
	if err != nil {
		return nil, err
	}

	maxID, err := lastID(tokens)
	if err != nil {
		return nil, fault.Op("manifest ids", err)
	}

	b := &builder{
		table: &Table{ids: make(map[string]int32, maxID+1), maxID: maxID},
		seen:  bitset.New(uint(maxID + 1)),
	}
	if o.names {
		b.table.names = make([]string, maxID+1)
	}
	if err := b.blocks(tokens); err != nil {
		return nil, fault.Op("manifest states", err)
	}
	if err := b.complete(); err != nil {
		return nil, fault.Op("manifest coverage", err)
	}
	return b.table, nil
}

// lastID returns the value of the final state "id" in the document, or -1 when there is none.
func lastID(tokens []token) (int32, error) {
	for i := len(tokens) - 2; i >= 0; i-- {
		if tokens[i].depth == stateKeyDepth && tokens[i].is("id") {
			return parseID(tokens[i+1])
		}
	}
	return -1, nil
}

func parseID(tok token) (int32, error) {
	if tok.kind != tokNumber {
		return 0, fmt.Errorf("%w: id %q is not a number", ErrParse, tok.text)
	}
	v, err := jsonparser.ParseInt(tok.text)
	if err != nil {
		return 0, fmt.Errorf("%w: id %q: %v", ErrParse, tok.text, err)
	}
	if v < 0 || v > 1<<31-2 {
		return 0, fmt.Errorf("%w: id %d", ErrTableBounds, v)
	}
	return int32(v), nil
}

type builder struct {
	table *Table
	seen  *bitset.BitSet
}

func (b *builder) blocks(tokens []token) error {
	// tokens[0] is the root object.
	i := 1
	for i < len(tokens) && tokens[i].kind == tokKey {
		name := tokens[i].String()
		i++
		if tokens[i].kind != tokObject {
			return fmt.Errorf("%w: block %q is not an object", ErrParse, name)
		}
		end := skip(tokens, i)
		for j := i + 1; j < end-1; {
			if !tokens[j].is("states") {
				j = skip(tokens, j+1)
				continue
			}
			if err := b.states(tokens, j+1, name); err != nil {
				return fmt.Errorf("block %q: %w", name, err)
			}
			j = skip(tokens, j+1)
		}
		i = end
	}
	return nil
}

func (b *builder) states(tokens []token, i int, name string) error {
	if tokens[i].kind != tokArray {
		return fmt.Errorf("%w: states is not an array", ErrParse)
	}
	end := skip(tokens, i)
	for j := i + 1; j < end-1; j = skip(tokens, j) {
		if tokens[j].kind != tokObject {
			return fmt.Errorf("%w: state is not an object", ErrParse)
		}
		if err := b.state(tokens, j, name); err != nil {
			return err
		}
	}
	return nil
}

func (b *builder) state(tokens []token, i int, name string) error {
	var (
		props     []Property
		isDefault bool
		id        int32
		hasID     bool
		err       error
	)
	end := skip(tokens, i)
	for j := i + 1; j < end-1; {
		key := tokens[j]
		val := tokens[j+1]
		switch {
		case key.is("properties"):
			if props, err = properties(tokens, j+1); err != nil {
				return err
			}
		case key.is("default"):
			isDefault = val.kind == tokBool && string(val.text) == "true"
		case key.is("id"):
			if id, err = parseID(val); err != nil {
				return err
			}
			hasID = true
		}
		j = skip(tokens, j+1)
	}
	if !hasID {
		return nil
	}

	if err := b.add(Key(name, props...), id); err != nil {
		return err
	}
	if isDefault {
		return b.add(name, id)
	}
	return nil
}

func properties(tokens []token, i int) ([]Property, error) {
	if tokens[i].kind != tokObject {
		return nil, fmt.Errorf("%w: properties is not an object", ErrParse)
	}
	end := skip(tokens, i)
	var props []Property
	for j := i + 1; j < end-1; j = skip(tokens, j+1) {
		val := tokens[j+1]
		switch val.kind {
		case tokString, tokNumber, tokBool:
		default:
			return nil, fmt.Errorf("%w: property %q has a non-scalar value", ErrParse, tokens[j].String())
		}
		props = append(props, Property{Name: tokens[j].String(), Value: val.String()})
	}
	return props, nil
}

func (b *builder) add(key string, id int32) error {
	if id > b.table.maxID {
		return fmt.Errorf("%w: %q has id %d, table ends at %d (ids out of order?)", ErrTableBounds, key, id, b.table.maxID)
	}
	if prev, ok := b.table.ids[key]; ok {
		if prev != id {
			return fmt.Errorf("%w: %q is both %d and %d", ErrDuplicateKey, key, prev, id)
		}
		return nil
	}
	b.table.ids[key] = id
	if !b.seen.Test(uint(id)) {
		b.seen.Set(uint(id))
		if b.table.names != nil {
			b.table.names[id] = key
		}
	}
	return nil
}

func (b *builder) complete() error {
	want := uint(b.table.maxID + 1)
	if got := b.seen.Count(); got != want {
		var missing uint
		for missing < want && b.seen.Test(missing) {
			missing++
		}
		return fmt.Errorf("%w: %d of %d ids registered, first missing id is %d", ErrIncompleteTable, got, want, missing)
	}
	return nil
}

// Lookup returns the id registered for key. A bare block name resolves to its default state.
func (t *Table) Lookup(key string) (int32, bool) {
	id, ok := t.ids[key]
	return id, ok
}

// ID looks up the state of block name with the given properties.
func (t *Table) ID(name string, props ...Property) (int32, bool) {
	return t.Lookup(Key(name, props...))
}

// MaxID is the largest id in the table, -1 for an empty table.
func (t *Table) MaxID() int32 { return t.maxID }

// Len is the number of registered keys, default aliases included.
func (t *Table) Len() int { return len(t.ids) }

// Name returns the key first registered for id. It needs WithNames.
func (t *Table) Name(id int32) (string, bool) {
	if t.names == nil || id < 0 || int(id) >= len(t.names) {
		return "", false
	}
	return t.names[id], true
}

// HasNames reports whether the table was built WithNames.
func (t *Table) HasNames() bool { return t.names != nil }
