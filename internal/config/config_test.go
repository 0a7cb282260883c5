package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func parse(t *testing.T, args ...string) *Options {
	t.Helper()
	o := Default()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	BindFlags(fs, o)
	require.NoError(t, fs.Parse(args))
	return o
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	o := parse(t, "--config", "")
	require.NoError(t, Load(o))

	assert.Equal(t, "http://localhost:8080/api", o.APIURL)
	assert.Equal(t, 10*time.Second, o.Timeout.Std())
	assert.Equal(t, DriverFile, o.StorageDriver)
	assert.Equal(t, filepath.Join(o.DataDir, "secure.key"), o.SecureKeyFile())
}

func TestLoad_Flags(t *testing.T) {
	o := parse(t, "--config", "", "--api-url", "https://shop.example/api", "--timeout", "3s", "--storage", "memory")
	require.NoError(t, Load(o))

	assert.Equal(t, "https://shop.example/api", o.APIURL)
	assert.Equal(t, 3*time.Second, o.Timeout.Std())
	assert.Equal(t, DriverMemory, o.StorageDriver)
}

func TestLoad_JSONFile(t *testing.T) {
	path := writeFile(t, "config.json", `{"api_url":"https://json.example/api","timeout":"7s","page_size":5}`)
	o := parse(t, "-c", path)
	require.NoError(t, Load(o))

	assert.Equal(t, "https://json.example/api", o.APIURL)
	assert.Equal(t, 7*time.Second, o.Timeout.Std())
	assert.Equal(t, 5, o.PageSize)
}

func TestLoad_YAMLFileAndSeconds(t *testing.T) {
	path := writeFile(t, "config.yaml", "api_url: https://yaml.example/api\ntimeout: 15\nstorage_driver: redis\nstorage_dsn: redis://localhost:6379/0\n")
	o := parse(t, "--config", path)
	require.NoError(t, Load(o))

	assert.Equal(t, "https://yaml.example/api", o.APIURL)
	assert.Equal(t, 15*time.Second, o.Timeout.Std())
	assert.Equal(t, DriverRedis, o.StorageDriver)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeFile(t, "other.json", `{"api_url":"https://file.example/api"}`)
	t.Setenv("CONFIG", path)
	t.Setenv("FRESHTRIO_API_URL", "https://env.example/api")
	t.Setenv("FRESHTRIO_TIMEOUT", "2m")
	t.Setenv("FRESHTRIO_PAGE_SIZE", "50")

	o := parse(t)
	require.NoError(t, Load(o))

	assert.Equal(t, path, o.Config)
	assert.Equal(t, "https://env.example/api", o.APIURL)
	assert.Equal(t, 2*time.Minute, o.Timeout.Std())
	assert.Equal(t, 50, o.PageSize)
}

func TestLoad_Errors(t *testing.T) {
	t.Run("bad file", func(t *testing.T) {
		o := parse(t, "--config", writeFile(t, "bad.json", "{"))
		assert.ErrorContains(t, Load(o), "error while parsing config file")
	})
	t.Run("bad env timeout", func(t *testing.T) {
		t.Setenv("FRESHTRIO_TIMEOUT", "soon")
		o := parse(t, "--config", "")
		assert.ErrorContains(t, Load(o), "FRESHTRIO_TIMEOUT")
	})
	t.Run("unknown driver", func(t *testing.T) {
		o := parse(t, "--config", "", "--storage", "mongo")
		assert.ErrorContains(t, Load(o), "unknown storage driver")
	})
	t.Run("postgres needs dsn", func(t *testing.T) {
		o := parse(t, "--config", "", "--storage", "postgres")
		assert.ErrorContains(t, Load(o), "requires a DSN")
	})
}

func TestSQLiteDSN(t *testing.T) {
	o := Default()
	o.DataDir = "/tmp/ft"
	assert.Equal(t, filepath.Join("/tmp/ft", "freshtrio.db"), o.SQLiteDSN())
	o.StorageDSN = "/var/lib/ft.db"
	assert.Equal(t, "/var/lib/ft.db", o.SQLiteDSN())
}
