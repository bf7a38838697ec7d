package canonicaljson_test

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/taler-go/walletd/pkg/canonicaljson"
)

func TestCanonicalize(t *testing.T) {
	tests := []struct {
		name     string
		in       string
		expected string
	}{
		{"sorted_keys", `{"b":1,"a":2}`, `{"a":2,"b":1}`},
		{"nested", `{"z":{"y":[3,{"b":true,"a":null}]},"a":"x"}`, `{"a":"x","z":{"y":[3,{"a":null,"b":true}]}}`},
		{"whitespace", "{ \"a\" :\n 1 }", `{"a":1}`},
		{"no_html_escape", `{"a":"<b>&"}`, `{"a":"<b>&"}`},
		{"big_number", `{"a":12345678901234567890}`, `{"a":12345678901234567890}`},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			out, err := canonicaljson.Canonicalize([]byte(tt.in))
			require.NoError(t, err)
			require.Equal(t, tt.expected, string(out))
		})
	}
}

func TestMarshalIsDeterministic(t *testing.T) {
	v := map[string]interface{}{
		"k3": []int{1, 2},
		"k1": "v",
		"k2": map[string]int{"y": 1, "x": 2},
	}
	first, err := canonicaljson.Marshal(v)
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		again, err := canonicaljson.Marshal(v)
		require.NoError(t, err)
		require.Equal(t, first, again)
	}
}

func TestCanonicalizeInvalid(t *testing.T) {
	_, err := canonicaljson.Canonicalize([]byte(`{"a":`))
	require.Error(t, err)
}
