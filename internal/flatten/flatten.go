package flatten

const (
	DefaultSeparator = "_"

	// ValueKey names the single column used when a chunk line is not an object.
	ValueKey = "value"
)

type Field struct {
	Key   string
	Value Value
}

// Record is a flattened row. Keys are unique and keep first-seen order.
type Record []Field

func (r Record) Get(key string) (Value, bool) {
	for _, f := range r {
		if f.Key == key {
			return f.Value, true
		}
	}
	return Value{}, false
}

func (r Record) Keys() []string {
	keys := make([]string, len(r))
	for i, f := range r {
		keys[i] = f.Key
	}
	return keys
}

// Wrap builds the one-column record used for scalars and non-object array
// elements.
func Wrap(v Value) Record {
	return Record{{Key: ValueKey, Value: v}}
}

type Flattener struct {
	Separator string
}

func New(separator string) Flattener {
	if separator == "" {
		separator = DefaultSeparator
	}
	return Flattener{Separator: separator}
}

// Flatten uses the default separator.
func Flatten(v Value) Record {
	return New(DefaultSeparator).Flatten(v)
}

// Flatten turns a nested object into a single-level record:
//
//   - nested objects recurse, keys joined as parent+sep+child
//   - empty arrays are kept as empty arrays
//   - arrays whose first element is an object become one JSON string cell
//   - other arrays are kept unchanged
//   - scalars and null are kept unchanged
//
// A non-object input is wrapped under ValueKey.
func (f Flattener) Flatten(v Value) Record {
	if v.Kind() != Object {
		return Wrap(v)
	}
	sep := f.Separator
	if sep == "" {
		sep = DefaultSeparator
	}
	b := builder{index: make(map[string]int, len(v.members))}
	b.walk(v.members, "", sep)
	return b.out
}

type builder struct {
	out   Record
	index map[string]int
}

// set keeps the position of the first occurrence and the last value, which is
// what a dict built from the same pairs would hold.
func (b *builder) set(key string, v Value) {
	if i, ok := b.index[key]; ok {
		b.out[i].Value = v
		return
	}
	b.index[key] = len(b.out)
	b.out = append(b.out, Field{Key: key, Value: v})
}

func (b *builder) walk(members []Member, parent, sep string) {
	for _, m := range members {
		key := m.Key
		if parent != "" {
			key = parent + sep + m.Key
		}
		v := m.Value
		switch v.Kind() {
		case Object:
			b.walk(v.members, key, sep)
		case Array:
			if len(v.items) > 0 && v.items[0].Kind() == Object {
				b.set(key, StringValue(v.JSON()))
				continue
			}
			b.set(key, v)
		default:
			b.set(key, v)
		}
	}
}
