package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultPassesValidate(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestLoadAppliesDefaultsWithNoFile(t *testing.T) {
	dir := t.TempDir()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	defer os.Chdir(wd)

	cfg, err := Load(viper.New())
	require.NoError(t, err)
	assert.Equal(t, "root", cfg.Name)
	assert.Equal(t, "/tmp", cfg.Namespace)
	assert.False(t, cfg.CacheEnabled())
	assert.Equal(t, time.Second, cfg.CacheDefaultDuration)
}

func TestLoadBareSecondsValueFromFile(t *testing.T) {
	dir := t.TempDir()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	defer os.Chdir(wd)

	yaml := "name: sensor1\nenable_cache: 30\ndefault_duration: 5\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "propd.yaml"), []byte(yaml), 0o644))

	cfg, err := Load(viper.New())
	require.NoError(t, err)
	assert.Equal(t, "sensor1", cfg.Name)
	assert.True(t, cfg.CacheEnabled())
	assert.Equal(t, 30*time.Second, cfg.CacheInterval)
	assert.Equal(t, 5*time.Second, cfg.CacheDefaultDuration)
}

func TestLoadEnvOverride(t *testing.T) {
	dir := t.TempDir()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	defer os.Chdir(wd)

	t.Setenv("PROPD_NAME", "from-env")
	cfg, err := Load(viper.New())
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Name)
}

func TestValidateRejectsEmptyName(t *testing.T) {
	cfg := Default()
	cfg.Name = ""
	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsUnknownBackendKind(t *testing.T) {
	cfg := Default()
	cfg.Backends = []BackendSpec{{Kind: "memory", Name: "reg"}}
	assert.Error(t, cfg.Validate())
}

func TestParseFileSpec(t *testing.T) {
	spec, err := ParseFileSpec("/var/propd/sensors,sensor1,sensor1.*,sensor1.meta.*")
	require.NoError(t, err)
	assert.Equal(t, "file", spec.Kind)
	assert.Equal(t, "/var/propd/sensors", spec.Dir)
	assert.Equal(t, "sensor1", spec.Name)
	assert.Equal(t, []string{"sensor1.*", "sensor1.meta.*"}, spec.Prefixes)
}

func TestParseFileSpecTooFewArgs(t *testing.T) {
	_, err := ParseFileSpec("onlydir")
	assert.Error(t, err)
}

func TestParseUnixSpec(t *testing.T) {
	spec, err := ParseUnixSpec("weather,weather.*")
	require.NoError(t, err)
	assert.Equal(t, "unix", spec.Kind)
	assert.Equal(t, "weather", spec.Name)
	assert.Equal(t, "weather", spec.Target)
	assert.Equal(t, []string{"weather.*"}, spec.Prefixes)
}
