package workflow

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestMergeJSON(t *testing.T) {
	tests := []struct {
		name string
		p, r string
		want string
	}{
		{name: "disjoint", p: `{"a":1}`, r: `{"b":2}`, want: `{"a":1,"b":2}`},
		{name: "resume wins", p: `{"a":1}`, r: `{"a":2}`, want: `{"a":2}`},
		{name: "nested", p: `{"a":{"x":1,"y":2}}`, r: `{"a":{"y":3}}`, want: `{"a":{"x":1,"y":3}}`},
		{name: "array replaces", p: `{"a":[1,2]}`, r: `{"a":[3]}`, want: `{"a":[3]}`},
		{name: "scalar replaces object", p: `{"a":1}`, r: `5`, want: `5`},
		{name: "empty resume", p: `{"a":1}`, r: ``, want: `{"a":1}`},
		{name: "empty partial", p: ``, r: `{"b":1}`, want: `{"b":1}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := MergeJSON(json.RawMessage(tt.p), json.RawMessage(tt.r))
			require.NoError(t, err)
			assert.JSONEq(t, tt.want, string(got))
		})
	}

	_, err := MergeJSON(json.RawMessage(`{"a":1}`), json.RawMessage(`{`))
	assert.Error(t, err)
}

func genObject(depth int) *rapid.Generator[map[string]any] {
	return rapid.Custom(func(t *rapid.T) map[string]any {
		m := make(map[string]any)
		n := rapid.IntRange(0, 4).Draw(t, "n")
		for i := 0; i < n; i++ {
			key := rapid.SampledFrom([]string{"a", "b", "c", "d"}).Draw(t, "key")
			if depth > 0 && rapid.Bool().Draw(t, "nested") {
				m[key] = genObject(depth - 1).Draw(t, "child")
			} else {
				m[key] = float64(rapid.IntRange(-100, 100).Draw(t, "value"))
			}
		}
		return m
	})
}

func decodeObject(t *rapid.T, data json.RawMessage) map[string]any {
	var m map[string]any
	require.NoError(t, json.Unmarshal(data, &m))
	return m
}

// 合并结果包含 R 的全部叶子值，且 R 为空对象时结果等于 P。
func TestProperty_MergeJSON(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		p := genObject(2).Draw(rt, "p")
		r := genObject(2).Draw(rt, "r")
		pj, _ := json.Marshal(p)
		rj, _ := json.Marshal(r)

		merged, err := MergeJSON(pj, rj)
		require.NoError(rt, err)
		out := decodeObject(rt, merged)

		var checkLeaves func(path string, want map[string]any, got map[string]any)
		checkLeaves = func(path string, want, got map[string]any) {
			for k, v := range want {
				if child, ok := v.(map[string]any); ok {
					gotChild, ok := got[k].(map[string]any)
					require.True(rt, ok, "%s.%s should stay an object", path, k)
					checkLeaves(path+"."+k, child, gotChild)
					continue
				}
				assert.Equal(rt, v, got[k], "%s.%s", path, k)
			}
		}
		checkLeaves("", r, out)

		for k := range p {
			_, ok := out[k]
			assert.True(rt, ok, "key %s of P must survive", k)
		}

		same, err := MergeJSON(pj, json.RawMessage(`{}`))
		require.NoError(rt, err)
		assert.JSONEq(rt, string(pj), string(same))
	})
}
