package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromFileEmptyPathUsesDefaults(t *testing.T) {
	conf, err := FromFile("")
	require.NoError(t, err)
	assert.Equal(t, DefaultConf(), conf)
}

func TestFromFileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	data := `
[Indexer]
Name = "treasury"
BatchSize = 50
PollInterval = "250ms"

[Indexer.Tags]
VoteCast = "0x7::multisig_account::Vote"

[Lens]
Kind = "vector"
Path = "/var/captures/mainnet.json"
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))

	conf, err := FromFile(path)
	require.NoError(t, err)

	assert.Equal(t, "treasury", conf.Indexer.Name)
	assert.Equal(t, uint64(50), conf.Indexer.BatchSize)
	assert.Equal(t, 250*time.Millisecond, time.Duration(conf.Indexer.PollInterval))
	assert.Equal(t, "0x7::multisig_account::Vote", conf.Indexer.Tags.VoteCast)
	assert.Empty(t, conf.Indexer.Tags.TransactionProposed)
	assert.Equal(t, "/var/captures/mainnet.json", conf.Lens.Path)

	// Sections absent from the file keep their defaults.
	assert.Equal(t, 4, conf.Indexer.Fetchers)
	require.Contains(t, conf.Storage.Postgresql, "Database1")
	assert.Equal(t, "PROCESSOR_DB", conf.Storage.Postgresql["Database1"].URLEnv)
}

func TestFromFileRejectsBadToml(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("Indexer = ["), 0o644))

	_, err := FromFile(path)
	require.Error(t, err)
}

func TestPgStorageConfResolve(t *testing.T) {
	c := PgStorageConf{URLEnv: "PROCESSOR_TEST_URL_UNSET", URL: "postgres://fallback"}
	assert.Equal(t, "postgres://fallback", c.Resolve())

	t.Setenv("PROCESSOR_TEST_URL", "postgres://from-env")
	c = PgStorageConf{URLEnv: "PROCESSOR_TEST_URL", URL: "postgres://fallback"}
	assert.Equal(t, "postgres://from-env", c.Resolve())
}

func TestEnsureExistsRoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, EnsureExists(path))

	conf, err := FromFile(path)
	require.NoError(t, err)
	assert.Equal(t, DefaultConf(), conf)

	// A second call leaves an existing file alone.
	require.NoError(t, os.WriteFile(path, []byte(`[Indexer]`+"\n"+`Name = "keep"`), 0o644))
	require.NoError(t, EnsureExists(path))
	conf, err = FromFile(path)
	require.NoError(t, err)
	assert.Equal(t, "keep", conf.Indexer.Name)
}

func TestDurationText(t *testing.T) {
	var d Duration
	require.NoError(t, d.UnmarshalText([]byte("1m30s")))
	assert.Equal(t, 90*time.Second, time.Duration(d))

	text, err := Duration(2 * time.Second).MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "2s", string(text))

	require.Error(t, d.UnmarshalText([]byte("soon")))
}
