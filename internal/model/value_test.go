package model

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValueKeepsNumberKind(t *testing.T) {
	tests := []struct {
		name string
		in   Value
		wire string
	}{
		{"integral float", Float(2), "2.0"},
		{"fractional float", Float(2.5), "2.5"},
		{"large float", Float(1e21), "1e+21"},
		{"int", Int(2), "2"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, err := json.Marshal(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.wire, string(b))

			var out Value
			require.NoError(t, json.Unmarshal(b, &out))
			assert.Equal(t, tt.in.Kind(), out.Kind())
			assert.True(t, tt.in.Equal(out))
		})
	}
}

func TestValueNestedFloatSurvivesRoundTrip(t *testing.T) {
	in := Map(map[string]Value{"ratio": Float(3), "list": List(Float(0), Int(1))})
	b, err := json.Marshal(in)
	require.NoError(t, err)
	assert.Equal(t, `{"list":[0.0,1],"ratio":3.0}`, string(b))

	var out Value
	require.NoError(t, json.Unmarshal(b, &out))
	assert.Equal(t, KindFloat, out.Get("ratio").Kind())
}
