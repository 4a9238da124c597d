package flatten

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustParse(t *testing.T, s string) Value {
	t.Helper()
	v, err := Parse([]byte(s))
	require.NoError(t, err)
	return v
}

func TestFlatten(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  Record
	}{
		{
			name:  "nested object",
			input: `{"a": {"b": 1, "c": 2}}`,
			want:  Record{{"a_b", IntValue(1)}, {"a_c", IntValue(2)}},
		},
		{
			name:  "list of objects becomes json string",
			input: `{"a": [{"x": 1}]}`,
			want:  Record{{"a", StringValue(`[{"x": 1}]`)}},
		},
		{
			name:  "list of scalars kept",
			input: `{"a": [1, 2, 3]}`,
			want:  Record{{"a", ArrayValue(IntValue(1), IntValue(2), IntValue(3))}},
		},
		{
			name:  "empty list kept",
			input: `{"a": []}`,
			want:  Record{{"a", ArrayValue()}},
		},
		{
			name:  "empty object contributes nothing",
			input: `{"a": {}, "b": null}`,
			want:  Record{{"b", NullValue()}},
		},
		{
			name:  "mixed list follows first element",
			input: `{"a": [1, {"x": 2}], "b": [{"x": 1}, 2]}`,
			want: Record{
				{"a", ArrayValue(IntValue(1), ObjectValue(Member{"x", IntValue(2)}))},
				{"b", StringValue(`[{"x": 1}, 2]`)},
			},
		},
		{
			name:  "deep nesting keeps full path",
			input: `{"asset": {"os": {"name": "linux", "tags": ["a"]}, "id": "x"}}`,
			want: Record{
				{"asset_os_name", StringValue("linux")},
				{"asset_os_tags", ArrayValue(StringValue("a"))},
				{"asset_id", StringValue("x")},
			},
		},
		{
			name:  "scalars untouched",
			input: `{"s": "v", "n": 1.5, "t": true, "z": null}`,
			want: Record{
				{"s", StringValue("v")},
				{"n", NumberValue("1.5")},
				{"t", BoolValue(true)},
				{"z", NullValue()},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Flatten(mustParse(t, tt.input))
			require.Len(t, got, len(tt.want))
			for i := range tt.want {
				assert.Equal(t, tt.want[i].Key, got[i].Key)
				assert.Truef(t, tt.want[i].Value.Equal(got[i].Value),
					"key %s: want %s, got %s", tt.want[i].Key, tt.want[i].Value.JSON(), got[i].Value.JSON())
			}
		})
	}
}

func TestFlattenNonObjectIsWrapped(t *testing.T) {
	for _, in := range []string{`5`, `"x"`, `null`, `[1, 2]`} {
		got := Flatten(mustParse(t, in))
		require.Len(t, got, 1)
		assert.Equal(t, ValueKey, got[0].Key)
	}
}

func TestFlattenCustomSeparator(t *testing.T) {
	got := New(".").Flatten(mustParse(t, `{"a": {"b": {"c": 1}}}`))
	assert.Equal(t, []string{"a.b.c"}, got.Keys())
}

func TestFlattenCollisionKeepsFirstPositionLastValue(t *testing.T) {
	got := Flatten(mustParse(t, `{"a_b": 1, "x": 0, "a": {"b": 2}}`))
	require.Equal(t, []string{"a_b", "x"}, got.Keys())
	v, _ := got.Get("a_b")
	assert.Equal(t, "2", v.Str())
}

// buildNested makes an object tree of the given depth and fan-out whose leaves
// are scalars or scalar lists, and returns it with its leaf count.
func buildNested(depth, fanout int) (Value, int) {
	if depth == 0 {
		return ObjectValue(
			Member{"n", IntValue(int64(fanout))},
			Member{"l", ArrayValue(StringValue("a"), StringValue("b"))},
		), 2
	}
	members := make([]Member, 0, fanout+1)
	leaves := 0
	for i := 0; i < fanout; i++ {
		child, n := buildNested(depth-1, fanout)
		members = append(members, Member{fmt.Sprintf("k%d", i), child})
		leaves += n
	}
	members = append(members, Member{"leaf", StringValue("v")})
	return ObjectValue(members...), leaves + 1
}

func TestFlattenKeyCountEqualsLeafCount(t *testing.T) {
	for depth := 0; depth < 4; depth++ {
		for fanout := 1; fanout < 4; fanout++ {
			v, leaves := buildNested(depth, fanout)
			got := Flatten(v)
			assert.Lenf(t, got, leaves, "depth=%d fanout=%d", depth, fanout)
			seen := map[string]bool{}
			for _, f := range got {
				assert.Falsef(t, seen[f.Key], "duplicate key %s", f.Key)
				seen[f.Key] = true
			}
		}
	}
}

func TestParse(t *testing.T) {
	v := mustParse(t, `{"z": 1, "a": 2, "big": 12345678901234567890}`)
	require.Equal(t, Object, v.Kind())
	assert.Equal(t, "z", v.Members()[0].Key)
	assert.Equal(t, "a", v.Members()[1].Key)

	big, ok := v.Get("big")
	require.True(t, ok)
	assert.Equal(t, "12345678901234567890", big.Str())
	_, fits := big.Int64()
	assert.False(t, fits)

	for _, bad := range []string{``, `{`, `{"a": }`, `{"a": 1} x`, `[1,]`, `nope`} {
		_, err := Parse([]byte(bad))
		assert.Errorf(t, err, "input %q", bad)
	}
}

func TestJSONEncoding(t *testing.T) {
	v := mustParse(t, `[{"k": "a\"b\\c\n", "u": "é<>&"}, [], {}, null, true, 1e3]`)
	assert.Equal(t, `[{"k": "a\"b\\c\n", "u": "é<>&"}, [], {}, null, true, 1e3]`, v.JSON())
	assert.Equal(t, `[1, 2, 3]`, ArrayValue(IntValue(1), IntValue(2), IntValue(3)).JSON())
	assert.Equal(t, `"\u0001"`, StringValue("\x01").JSON())
}

func TestValueInterface(t *testing.T) {
	v := mustParse(t, `{"i": 3, "f": 2.5, "s": "x", "b": false, "n": null, "l": [1]}`)
	m, ok := v.Interface().(map[string]any)
	require.True(t, ok)
	assert.Equal(t, int64(3), m["i"])
	assert.Equal(t, 2.5, m["f"])
	assert.Equal(t, "x", m["s"])
	assert.Equal(t, false, m["b"])
	assert.Nil(t, m["n"])
	assert.Equal(t, []any{int64(1)}, m["l"])
}
