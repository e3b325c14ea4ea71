package payments

import (
	"fmt"
	"sort"

	"go.uber.org/zap"

	"VPN-Subscription-bot/config"
)

// порядок вывода провайдеров пользователю
var providerOrder = []string{ProviderCryptoBot, ProviderUSDT, ProviderYooMoney, ProviderYooKassa, ProviderTelegramStars}

type Manager struct {
	providers map[string]Provider
}

// NewManager подключает только провайдеров с заданными реквизитами. При payments.enabled=false список пуст.
func NewManager(cfg config.PaymentsConfig, opts Options, log *zap.Logger) *Manager {
	m := &Manager{providers: map[string]Provider{}}
	if !cfg.Enabled {
		log.Info("payments are disabled in configuration")
		return m
	}
	opts.InvoiceTTL = cfg.InvoiceTTL
	if cfg.CryptoBotToken != "" {
		m.add(NewCryptoBot(cfg.CryptoBotToken, opts))
		m.add(NewUSDT(cfg.CryptoBotToken, opts))
	}
	if cfg.YooMoneyToken != "" {
		m.add(NewYooMoney(cfg.YooMoneyToken, cfg.YooMoneyAccessToken, cfg.RubRate, opts))
	}
	if cfg.YooKassa.ShopID != "" && cfg.YooKassa.SecretKey != "" {
		m.add(NewYooKassa(cfg.YooKassa.ShopID, cfg.YooKassa.SecretKey, cfg.YooKassa.ReturnURL, cfg.RubRate, opts))
	}
	if cfg.TelegramStarsEnabled {
		m.add(NewTelegramStars(opts))
	}
	if len(m.providers) == 0 {
		log.Warn("no payment providers configured")
	}
	for _, name := range m.Names() {
		log.Info("payment provider initialized", zap.String("provider", name))
	}
	return m
}

func NewManagerFrom(providers ...Provider) *Manager {
	m := &Manager{providers: map[string]Provider{}}
	for _, p := range providers {
		m.add(p)
	}
	return m
}

func (m *Manager) add(p Provider) {
	m.providers[p.Name()] = p
}

func (m *Manager) Get(name string) (Provider, error) {
	p, ok := m.providers[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrProviderNotConfigured, name)
	}
	return p, nil
}

// Names имена подключённых провайдеров в фиксированном порядке
func (m *Manager) Names() []string {
	var out []string
	seen := map[string]bool{}
	for _, name := range providerOrder {
		if _, ok := m.providers[name]; ok {
			out = append(out, name)
			seen[name] = true
		}
	}
	var extra []string
	for name := range m.providers {
		if !seen[name] {
			extra = append(extra, name)
		}
	}
	sort.Strings(extra)
	return append(out, extra...)
}
