package config_test

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/invoice-engine/config"
)

func TestConfig_SaveAndLoad(t *testing.T) {
	// GIVEN: A populated configuration
	// WHEN: Saving and re-loading it
	// THEN: Every field round-trips

	path := filepath.Join(t.TempDir(), "config.yaml")
	original := config.Config{
		KimaiURL:      "https://kimai.example.org/api",
		KimaiUsername: "alice",
		KimaiToken:    "token-123",
		KimaiUserID:   4,
		VATRate:       0.2,
		Template:      "facture.xlsx",
		OutputDir:     "out",
	}

	require.NoError(t, config.Save(path, original))

	loaded, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, original, loaded)
}

func TestConfig_Save_OwnerOnlyPermissions(t *testing.T) {
	// The file carries an API token.
	if runtime.GOOS == "windows" {
		t.Skip("unix permissions")
	}

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, config.Save(path, config.Config{KimaiToken: "secret"}))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestConfig_Load_MissingFile_ZeroConfig(t *testing.T) {
	// A first run has no config yet; that is not an error.
	loaded, err := config.Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, config.Config{}, loaded)
}

func TestConfig_Load_Garbage_Fatal(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("{{{not yaml"), 0o600))

	_, err := config.Load(path)
	assert.Error(t, err)
}
