package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleYAML = `
bot:
  token: "123:abc"
  admin_ids: [42]
servers:
  - id: eu1
    name: Europe
    location: Amsterdam
    ip: 10.0.0.1
    domain: eu1.example.com
    reality_port: 443
    vless_port: 8443
    xray:
      config_path: /etc/xray/eu1.json
      reality:
        server_names: ["www.microsoft.com"]
  - id: us1
    name: USA
    ip: 10.0.0.2
payments:
  enabled: true
  crypto_bot_token: "cb-token"
  auto_generate_keys: false
subscription_plans:
  - days: 30
    price: 5
    price_stars: 50
    title: "1 месяц"
trial:
  enabled: true
reconcile:
  interval: 15s
`

func TestParseDefaults(t *testing.T) {
	cfg, err := Parse([]byte(sampleYAML))
	require.NoError(t, err)

	assert.Equal(t, "123:abc", cfg.BotToken)
	assert.Equal(t, int64(42), cfg.AdminTelegramID)
	assert.Len(t, cfg.Servers, 2)
	assert.Equal(t, 8443, cfg.Servers[0].VlessPort)
	assert.Equal(t, []string{"www.microsoft.com"}, cfg.Servers[0].Xray.Reality.ServerNames)
	assert.False(t, cfg.AutoGenerateKeys())
	assert.Equal(t, 3, cfg.Trial.Days)
	assert.Equal(t, 15*time.Second, cfg.Reconcile.Interval)
	assert.Equal(t, 10*time.Second, cfg.Reconcile.FirstDelay)
	assert.Equal(t, 30*time.Second, cfg.Reconcile.FirstMax)
	assert.Equal(t, time.Hour, cfg.Payments.InvoiceTTL)
	assert.Equal(t, float64(80), cfg.Payments.RubRate)

	plan, ok := cfg.PlanByDays(30)
	require.True(t, ok)
	assert.Equal(t, 5.0, plan.Price)
	_, ok = cfg.PlanByDays(7)
	assert.False(t, ok)
}

func TestValidate(t *testing.T) {
	cfg, err := Parse([]byte(sampleYAML))
	require.NoError(t, err)
	assert.Error(t, cfg.Validate(), "DATABASE_URL is required")

	cfg.DatabaseURL = "sqlite:data/users.db"
	assert.NoError(t, cfg.Validate())
}

func TestLegacyServer(t *testing.T) {
	cfg, err := Parse([]byte(`
server:
  ip: 1.2.3.4
  reality_port: 443
xray:
  config_path: /usr/local/etc/xray/config.json
  reality:
    private_key: your_private_key_here
`))
	require.NoError(t, err)

	s := cfg.LegacyServer()
	assert.Equal(t, "default", s.ID)
	assert.Equal(t, "1.2.3.4", s.IP)
	assert.Equal(t, "/usr/local/etc/xray/config.json", s.Xray.ConfigPath)
	assert.Equal(t, PlaceholderPrivateKey, s.Xray.Reality.PrivateKey)
	assert.True(t, cfg.AutoGenerateKeys())
}
