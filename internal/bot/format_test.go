package bot

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"VPN-Subscription-bot/config"
	"VPN-Subscription-bot/internal/db"
	"VPN-Subscription-bot/internal/payments"
	"VPN-Subscription-bot/internal/servers"
	"VPN-Subscription-bot/internal/services"
)

func TestFormatBytes(t *testing.T) {
	cases := []struct {
		in   int64
		want string
	}{
		{0, "0 B"},
		{1023, "1023 B"},
		{1024, "1.00 KB"},
		{1536, "1.50 KB"},
		{5 << 20, "5.00 MB"},
		{3 << 30, "3.00 GB"},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, formatBytes(c.in), "bytes %d", c.in)
	}
}

func TestUserError(t *testing.T) {
	assert.Contains(t, userError(fmt.Errorf("wrap: %w", services.ErrUserBanned)), "заблокирован")
	assert.Contains(t, userError(services.ErrNoServers), "нет доступных серверов")
	assert.Contains(t, userError(payments.ErrProviderTransport), "недоступна")
	assert.Contains(t, userError(payments.ErrProviderRejected), "недоступна")
	assert.Equal(t, "Платёж не найден", userError(services.ErrPaymentNotFound))
	assert.Equal(t, "Произошла ошибка, попробуйте позже.", userError(fmt.Errorf("boom")))
}

func callbackData(m [][]string) []string {
	var out []string
	for _, row := range m {
		out = append(out, row...)
	}
	return out
}

func TestKeyboards(t *testing.T) {
	plans := plansKeyboard([]config.Plan{{Days: 30, Price: 5, Title: "1 месяц"}, {Days: 90, Price: 12}})
	assert.Equal(t, "1 месяц - $5.00", plans.InlineKeyboard[0][0].Text)
	assert.Equal(t, "90 дн. - $12.00", plans.InlineKeyboard[1][0].Text)
	assert.Equal(t, "plan:90", *plans.InlineKeyboard[1][0].CallbackData)

	srv := serversKeyboard("srv:30", []servers.Summary{{ID: "eu1", Name: "Europe", Location: "NL"}})
	assert.Equal(t, "Europe (NL)", srv.InlineKeyboard[0][0].Text)
	assert.Equal(t, "srv:30:eu1", *srv.InlineKeyboard[0][0].CallbackData)

	prov := providersKeyboard(30, "eu1", []string{payments.ProviderTelegramStars, "custom"})
	assert.Equal(t, "Telegram Stars", prov.InlineKeyboard[0][0].Text)
	assert.Equal(t, "pay:30:eu1:telegram_stars", *prov.InlineKeyboard[0][0].CallbackData)
	assert.Equal(t, "custom", prov.InlineKeyboard[1][0].Text)

	sub := db.Subscription{ID: "s1"}
	withWS := subscriptionKeyboard(sub, true)
	assert.Len(t, withWS.InlineKeyboard[0], 2)
	assert.Equal(t, "link:s1:ws", *withWS.InlineKeyboard[0][1].CallbackData)
	assert.Equal(t, "traffic:s1", *withWS.InlineKeyboard[1][0].CallbackData)
	assert.Len(t, subscriptionKeyboard(sub, false).InlineKeyboard[0], 1)
}

func TestReplyKeyboard(t *testing.T) {
	texts := func(k [][]string) string { return strings.Join(callbackData(k), " ") }
	rows := func(trial, admin bool) [][]string {
		kb := replyKeyboard(admin, trial)
		var out [][]string
		for _, r := range kb.Keyboard {
			var row []string
			for _, b := range r {
				row = append(row, b.Text)
			}
			out = append(out, row)
		}
		return out
	}
	assert.NotContains(t, texts(rows(false, false)), "/trial")
	assert.Contains(t, texts(rows(true, false)), "/trial")
	assert.NotContains(t, texts(rows(false, false)), "/admin_stats")
	assert.Contains(t, texts(rows(false, true)), "/admin_stats")
}
