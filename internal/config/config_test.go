package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/bank-interest/bank"
)

func writeConfig(t *testing.T, body string) *viper.Viper {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	v := viper.New()
	v.SetConfigFile(path)
	return v
}

func TestLoad_Defaults(t *testing.T) {
	// GIVEN: no config file
	v := viper.New()
	v.AddConfigPath(t.TempDir())
	v.SetConfigName("config")

	// WHEN: loading
	c, err := load(v)

	// THEN: built-in defaults apply
	require.NoError(t, err)
	assert.Equal(t, 8080, c.HTTP.Port)
	assert.Equal(t, "bank.db", c.Database.Path)
	assert.Equal(t, 5*time.Minute, c.Presence.TTL)
	assert.Equal(t, "bank", c.Payout.Namespace)
	assert.Empty(t, c.Interest)
}

func TestLoad_FileAndEnv(t *testing.T) {
	v := writeConfig(t, `
logger:
  output: json
http:
  port: 9000
presence:
  ttl: 90s
interest:
  interest_rate:
    value: "0.02"
  payout-times:
    value: "09:00, 18:30"
    overridable: false
`)
	t.Setenv("BANK_DATABASE_PATH", ":memory:")
	t.Setenv("BANK_HTTP_PORT", "9100")

	c, err := load(v)
	require.NoError(t, err)

	// environment wins over the file
	assert.Equal(t, 9100, c.HTTP.Port)
	assert.Equal(t, ":memory:", c.Database.Path)
	assert.Equal(t, "json", c.Logger.Output)
	assert.Equal(t, 90*time.Second, c.Presence.TTL)

	// the interest section feeds the global defaults
	d, err := bank.NewDefaults(c.Interest)
	require.NoError(t, err)
	assert.Equal(t, "0.02", bank.Format(bank.FieldInterestRate, d.Default(bank.FieldInterestRate)))
	assert.False(t, d.IsOverridable(bank.FieldPayoutTimes))
	assert.True(t, d.IsOverridable(bank.FieldInterestRate))
}

func TestLoad_Invalid(t *testing.T) {
	_, err := load(writeConfig(t, "http:\n  port: 0\n"))
	assert.Error(t, err)

	_, err = load(writeConfig(t, "presence:\n  ttl: -1s\n"))
	assert.Error(t, err)

	_, err = load(writeConfig(t, "http: [not, a, map"))
	assert.Error(t, err)
}
