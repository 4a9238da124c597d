package flatten

import (
	"unicode/utf8"
)

const hexDigits = "0123456789abcdef"

// JSON returns the canonical encoding used for cells that hold nested data:
// members in document order, ", " between elements and ": " after keys.
func (v Value) JSON() string {
	return string(v.AppendJSON(nil))
}

func (v Value) AppendJSON(buf []byte) []byte {
	switch v.kind {
	case Null:
		return append(buf, "null"...)
	case Bool:
		if v.boolean {
			return append(buf, "true"...)
		}
		return append(buf, "false"...)
	case Number:
		if v.text == "" {
			return append(buf, '0')
		}
		return append(buf, v.text...)
	case String:
		return appendQuoted(buf, v.text)
	case Array:
		buf = append(buf, '[')
		for i, item := range v.items {
			if i > 0 {
				buf = append(buf, ", "...)
			}
			buf = item.AppendJSON(buf)
		}
		return append(buf, ']')
	case Object:
		buf = append(buf, '{')
		for i, m := range v.members {
			if i > 0 {
				buf = append(buf, ", "...)
			}
			buf = appendQuoted(buf, m.Key)
			buf = append(buf, ": "...)
			buf = m.Value.AppendJSON(buf)
		}
		return append(buf, '}')
	}
	return append(buf, "null"...)
}

func appendQuoted(buf []byte, s string) []byte {
	buf = append(buf, '"')
	for i := 0; i < len(s); {
		c := s[i]
		if c < utf8.RuneSelf {
			switch {
			case c == '"':
				buf = append(buf, '\\', '"')
			case c == '\\':
				buf = append(buf, '\\', '\\')
			case c == '\n':
				buf = append(buf, '\\', 'n')
			case c == '\r':
				buf = append(buf, '\\', 'r')
			case c == '\t':
				buf = append(buf, '\\', 't')
			case c < 0x20:
				buf = append(buf, '\\', 'u', '0', '0', hexDigits[c>>4], hexDigits[c&0xf])
			default:
				buf = append(buf, c)
			}
			i++
			continue
		}
		r, size := utf8.DecodeRuneInString(s[i:])
		if r == utf8.RuneError && size == 1 {
			buf = append(buf, `�`...)
			i++
			continue
		}
		buf = append(buf, s[i:i+size]...)
		i += size
	}
	return append(buf, '"')
}
