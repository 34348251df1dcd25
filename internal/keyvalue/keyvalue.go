// Package keyvalue implements the ordered name/value dictionary shared by
// the wire protocol, the journal and the gateway clients, along with its
// compact "k=v&k=v" meta encoding.
package keyvalue

import "strings"

// Pair is a single ordered entry in a Dict.
type Pair struct {
	Name  string
	Value string
}

// Dict is an ordered, case-preserved mapping of names to values. Insertion
// order is preserved; a name may appear only once. Names beginning with "_"
// are internal and are never echoed to a client unless explicitly promoted.
type Dict struct {
	pairs []Pair
	index map[string]int
}

// New returns an empty dictionary.
func New() *Dict {
	return &Dict{index: make(map[string]int)}
}

// Clone returns a deep copy of d so the caller can mutate it independently.
func (d *Dict) Clone() *Dict {
	c := New()
	if d == nil {
		return c
	}
	for _, p := range d.pairs {
		c.Set(p.Name, p.Value)
	}
	return c
}

// Get returns the value for name and whether it was present.
func (d *Dict) Get(name string) (string, bool) {
	if d == nil {
		return "", false
	}
	if i, ok := d.index[name]; ok {
		return d.pairs[i].Value, true
	}
	return "", false
}

// GetDefault returns the value for name or def if absent.
func (d *Dict) GetDefault(name, def string) string {
	if v, ok := d.Get(name); ok {
		return v
	}
	return def
}

// Set inserts or updates name with value. An empty value is still stored;
// use Del to remove an entry entirely.
func (d *Dict) Set(name, value string) {
	if d.index == nil {
		d.index = make(map[string]int)
	}
	if i, ok := d.index[name]; ok {
		d.pairs[i].Value = value
		return
	}
	d.index[name] = len(d.pairs)
	d.pairs = append(d.pairs, Pair{Name: name, Value: value})
}

// Put mirrors the original keyvalue_put semantics: an empty value deletes
// the entry, a non-empty value upserts it.
func (d *Dict) Put(name, value string) {
	if value == "" {
		d.Del(name)
		return
	}
	d.Set(name, value)
}

// AppendNL appends value to the current value of name, joined by a newline,
// mirroring keyvalue_append_with_nl (used for protocol line continuations).
func (d *Dict) AppendNL(name, value string) {
	if cur, ok := d.Get(name); ok {
		d.Set(name, cur+"\n"+value)
		return
	}
	d.Set(name, value)
}

// Del removes name from the dictionary, if present.
func (d *Dict) Del(name string) {
	i, ok := d.index[name]
	if !ok {
		return
	}
	d.pairs = append(d.pairs[:i], d.pairs[i+1:]...)
	delete(d.index, name)
	for n, idx := range d.index {
		if idx > i {
			d.index[n] = idx - 1
		}
	}
}

// Has reports whether name is present.
func (d *Dict) Has(name string) bool {
	_, ok := d.Get(name)
	return ok
}

// Pairs returns the entries in insertion order. The returned slice must not
// be mutated by the caller.
func (d *Dict) Pairs() []Pair {
	if d == nil {
		return nil
	}
	return d.pairs
}

// Len returns the number of entries.
func (d *Dict) Len() int {
	if d == nil {
		return 0
	}
	return len(d.pairs)
}

// MetaKeys returns the decoded key names of all valid "Meta[key]" entries
// that have a non-empty value, in insertion order.
func (d *Dict) MetaKeys() []string {
	var out []string
	for _, p := range d.Pairs() {
		if name, ok := metaName(p.Name); ok && p.Value != "" {
			out = append(out, name)
		}
	}
	return out
}

// metaName extracts "key" from a "Meta[key]" name, requiring key to be
// non-empty and free of '=', '&', ' ', '\t'.
func metaName(name string) (string, bool) {
	const prefix = "Meta["
	if !strings.HasPrefix(name, prefix) || !strings.HasSuffix(name, "]") {
		return "", false
	}
	inner := name[len(prefix) : len(name)-1]
	if inner == "" {
		return "", false
	}
	if strings.ContainsAny(inner, "=& \t") {
		return "", false
	}
	return inner, true
}

// MetaName builds the wire name "Meta[key]" for a meta field key.
func MetaName(key string) string {
	return "Meta[" + key + "]"
}
