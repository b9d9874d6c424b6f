package flags

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEnvFileArg(t *testing.T) {
	tests := []struct {
		name         string
		args         []string
		wantPath     string
		wantExplicit bool
	}{
		{name: "default", args: []string{"treasuryctl", "list"}, wantPath: ".env"},
		{name: "separate value", args: []string{"treasuryctl", "--env-file", "/etc/treasury.env", "list"}, wantPath: "/etc/treasury.env", wantExplicit: true},
		{name: "equals form", args: []string{"treasuryctl", "--env-file=prod.env"}, wantPath: "prod.env", wantExplicit: true},
		{name: "after terminator", args: []string{"treasuryctl", "--", "--env-file", "x"}, wantPath: ".env"},
		{name: "missing value", args: []string{"treasuryctl", "--env-file"}, wantPath: ".env"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path, explicit := envFileArg(tt.args)
			require.Equal(t, tt.wantPath, path)
			require.Equal(t, tt.wantExplicit, explicit)
		})
	}
}

func TestLoadEnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.env")
	require.NoError(t, os.WriteFile(path, []byte("TREASURY_TEST_LOADED=yes\nTREASURY_TEST_PRESET=file\n"), 0o600))

	t.Setenv("TREASURY_TEST_PRESET", "env")
	t.Cleanup(func() { os.Unsetenv("TREASURY_TEST_LOADED") })

	require.NoError(t, LoadEnvFile([]string{"treasuryctl", "--env-file", path}))
	require.Equal(t, "yes", os.Getenv("TREASURY_TEST_LOADED"))
	require.Equal(t, "env", os.Getenv("TREASURY_TEST_PRESET"))

	require.Error(t, LoadEnvFile([]string{"treasuryctl", "--env-file", filepath.Join(t.TempDir(), "missing.env")}))
}
