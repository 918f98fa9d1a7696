package buildinfo

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestContextVersion(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		ctx  *Context
		want string
	}{
		{"nil context", nil, UnknownValue},
		{"valid version", NewContext("1.0.0", "2024-01-01"), "1.0.0"},
		{"pre-release tag", NewContext("1.0.0-beta.1", ""), "1.0.0-beta.1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, tt.ctx.Version())
		})
	}
}

func TestContextBuildDate(t *testing.T) {
	t.Parallel()

	assert.Equal(t, UnknownValue, (*Context)(nil).BuildDate())
	assert.Equal(t, UnknownValue, NewContext("1.0.0", "").BuildDate())
	assert.Equal(t, "2024-01-01", NewContext("1.0.0", "2024-01-01").BuildDate())
}
