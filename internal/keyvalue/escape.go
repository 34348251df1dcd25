package keyvalue

import (
	"strings"
)

// escapeSet is the set of characters that must be percent-escaped for wire
// interchange (protocol continuation markers, the meta-field separator and
// assignment characters, and whitespace that would otherwise be ambiguous).
const escapeSet = " :&=%\t\r\n"

// PercentEscape encodes s so the result contains none of the characters in
// escapeSet, each replaced by "%HH" (uppercase hex of the byte).
func PercentEscape(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if strings.IndexByte(escapeSet, c) >= 0 {
			b.WriteByte('%')
			b.WriteByte(hexDigit(c >> 4))
			b.WriteByte(hexDigit(c & 0xf))
		} else {
			b.WriteByte(c)
		}
	}
	return b.String()
}

func hexDigit(n byte) byte {
	switch {
	case n < 10:
		return '0' + n
	default:
		return 'A' + (n - 10)
	}
}

// PercentUnescape is the inverse of PercentEscape: "%HH" triples are decoded
// back to their raw byte; malformed escapes are passed through verbatim.
func PercentUnescape(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		if s[i] == '%' && i+2 < len(s) {
			hi, okHi := fromHex(s[i+1])
			lo, okLo := fromHex(s[i+2])
			if okHi && okLo {
				b.WriteByte(hi<<4 | lo)
				i += 2
				continue
			}
		}
		b.WriteByte(s[i])
	}
	return b.String()
}

func fromHex(c byte) (byte, bool) {
	switch {
	case c >= '0' && c <= '9':
		return c - '0', true
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10, true
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10, true
	default:
		return 0, false
	}
}

// EncodeMeta renders the Meta[key] entries of d as a single "k=v&k=v..."
// string with PercentEscape applied to both sides of each pair. Entries
// whose decoded key is invalid (see metaName) are silently skipped, matching
// the write-side filtering the journal and gateway clients rely on.
func EncodeMeta(d *Dict) string {
	var b strings.Builder
	first := true
	for _, p := range d.Pairs() {
		name, ok := metaName(p.Name)
		if !ok || p.Value == "" {
			continue
		}
		if !first {
			b.WriteByte('&')
		}
		first = false
		b.WriteString(PercentEscape(name))
		b.WriteByte('=')
		b.WriteString(PercentEscape(p.Value))
	}
	return b.String()
}

// PutMeta parses a "k=v&k=v..." string (as produced by EncodeMeta) and
// stores each pair into d as "Meta[k]" = v, mirroring keyvalue_put_meta.
// It returns false if any segment is malformed (missing '=', empty key, or
// a key that, once unescaped, contains any of '=', '&', ' ', '\t', '%',
// ':', '\n' or '\r').
func PutMeta(d *Dict, s string) bool {
	if s == "" {
		return true
	}
	for _, seg := range strings.Split(s, "&") {
		eq := strings.IndexByte(seg, '=')
		if eq <= 0 {
			return false
		}
		key := PercentUnescape(seg[:eq])
		val := PercentUnescape(seg[eq+1:])
		if key == "" || strings.ContainsAny(key, "=& \t%:\n\r") {
			return false
		}
		d.Set(MetaName(key), val)
	}
	return true
}
