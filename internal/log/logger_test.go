// SPDX-License-Identifier: MIT

package log

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigureAndComponent(t *testing.T) {
	var buf bytes.Buffer
	Configure(Config{Level: "debug", Output: &buf, Service: "reelcore-test", Version: "0.0.0"})

	l := WithComponent("executor")
	l.Info().Str("op_id", "01ARZ3NDEKTSV4RRFFQ69G5FAV").Msg("command applied")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "reelcore-test", entry["service"])
	assert.Equal(t, "executor", entry["component"])
	assert.Equal(t, "command applied", entry["message"])
}

func TestRedact(t *testing.T) {
	tests := []struct {
		name  string
		in    string
		want  string
		leaks bool
	}{
		{name: "empty", in: "", want: ""},
		{name: "short fully masked", in: "sk-short", want: "********"},
		{name: "eleven chars masked", in: "abcdefghijk", want: "***********"},
		{name: "twelve chars previewed", in: "sk-abcdefghi", want: "sk-a...fghi"},
		{name: "long key", in: "sk-ant-REDACTED", want: "sk-a...alue"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Redact(tt.in)
			assert.Equal(t, tt.want, got)
			if len(tt.in) >= 12 {
				// The middle of the secret must never survive.
				assert.NotContains(t, got, tt.in[4:len(tt.in)-4])
			}
		})
	}
}
