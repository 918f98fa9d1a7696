package secrets

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExpandString(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		env     map[string]string
		want    string
		wantErr bool
	}{
		{name: "empty", input: "", want: ""},
		{name: "literal", input: "pk.abc", want: "pk.abc"},
		{name: "bare dollar untouched", input: "pa$$word$HOME", want: "pa$$word$HOME"},
		{name: "reference", input: "${FW_TOKEN}", env: map[string]string{"FW_TOKEN": "s3cret"}, want: "s3cret"},
		{name: "embedded", input: "user:${FW_PASS}@db", env: map[string]string{"FW_PASS": "pw"}, want: "user:pw@db"},
		{name: "default used", input: "${FW_UNSET:-fallback}", want: "fallback"},
		{name: "empty default", input: "${FW_UNSET:-}", want: ""},
		{name: "missing", input: "${FW_UNSET}", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("FW_UNSET", "")
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			got, err := ExpandString(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), "FW_UNSET")
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestReadFile(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	good := filepath.Join(dir, "token")
	require.NoError(t, os.WriteFile(good, []byte("abc123\n"), 0o600))
	empty := filepath.Join(dir, "empty")
	require.NoError(t, os.WriteFile(empty, []byte("\n"), 0o600))
	large := filepath.Join(dir, "large")
	require.NoError(t, os.WriteFile(large, make([]byte, maxSecretFileSize+1), 0o600))

	got, err := ReadFile(good)
	require.NoError(t, err)
	assert.Equal(t, "abc123", got)

	for _, path := range []string{"", empty, large, dir, filepath.Join(dir, "missing")} {
		_, err := ReadFile(path)
		assert.Error(t, err, "path %q", path)
	}
}

func TestResolvePrefersFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "key")
	require.NoError(t, os.WriteFile(path, []byte("from-file"), 0o400))
	t.Setenv("FW_KEY", "from-env")

	got, err := Resolve(path, "${FW_KEY}")
	require.NoError(t, err)
	assert.Equal(t, "from-file", got)

	got, err = Resolve("", "${FW_KEY}")
	require.NoError(t, err)
	assert.Equal(t, "from-env", got)

	got, err = Resolve("", "")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestFieldErrorNamesSetting(t *testing.T) {
	t.Parallel()

	err := FieldError("imagery.remote.api_key", assert.AnError)
	assert.Contains(t, err.Error(), "imagery.remote.api_key")
	assert.ErrorIs(t, err, assert.AnError)
}
