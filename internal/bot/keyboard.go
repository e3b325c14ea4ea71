package bot

import (
	"fmt"
	"strconv"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"VPN-Subscription-bot/config"
	"VPN-Subscription-bot/internal/db"
	"VPN-Subscription-bot/internal/payments"
	"VPN-Subscription-bot/internal/servers"
	"VPN-Subscription-bot/internal/xray"
)

var providerTitles = map[string]string{
	payments.ProviderCryptoBot:     "CryptoBot (USD)",
	payments.ProviderUSDT:          "USDT",
	payments.ProviderYooMoney:      "ЮMoney",
	payments.ProviderYooKassa:      "Банковская карта (ЮKassa)",
	payments.ProviderTelegramStars: "Telegram Stars",
}

func providerTitle(name string) string {
	if t, ok := providerTitles[name]; ok {
		return t
	}
	return name
}

func replyKeyboard(isAdmin, trial bool) tgbotapi.ReplyKeyboardMarkup {
	first := tgbotapi.NewKeyboardButtonRow(
		tgbotapi.NewKeyboardButton("/buy"),
		tgbotapi.NewKeyboardButton("/subscriptions"),
	)
	if trial {
		first = append(first, tgbotapi.NewKeyboardButton("/trial"))
	}
	rows := [][]tgbotapi.KeyboardButton{first, tgbotapi.NewKeyboardButtonRow(
		tgbotapi.NewKeyboardButton("/payments"),
		tgbotapi.NewKeyboardButton("/help"),
	)}
	if isAdmin {
		rows = append(rows, tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButton("/admin_stats"),
			tgbotapi.NewKeyboardButton("/admin_servers"),
			tgbotapi.NewKeyboardButton("/admin_payments"),
		))
	}
	return tgbotapi.NewReplyKeyboard(rows...)
}

func plansKeyboard(plans []config.Plan) tgbotapi.InlineKeyboardMarkup {
	var rows [][]tgbotapi.InlineKeyboardButton
	for _, p := range plans {
		title := p.Title
		if title == "" {
			title = strconv.Itoa(p.Days) + " дн."
		}
		label := fmt.Sprintf("%s - $%.2f", title, p.Price)
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(label, "plan:"+strconv.Itoa(p.Days)),
		))
	}
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

// serversKeyboard prefix "srv:<days>" для покупки или "trial" для пробного периода
func serversKeyboard(prefix string, list []servers.Summary) tgbotapi.InlineKeyboardMarkup {
	var rows [][]tgbotapi.InlineKeyboardButton
	for _, s := range list {
		label := s.Name
		if s.Location != "" {
			label += " (" + s.Location + ")"
		}
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(label, prefix+":"+s.ID),
		))
	}
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

func providersKeyboard(days int, serverID string, names []string) tgbotapi.InlineKeyboardMarkup {
	var rows [][]tgbotapi.InlineKeyboardButton
	for _, name := range names {
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(providerTitle(name), fmt.Sprintf("pay:%d:%s:%s", days, serverID, name)),
		))
	}
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

func invoiceKeyboard(url, paymentID string) tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonURL("Оплатить", url)),
		tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData("Проверить оплату", "check:"+paymentID)),
	)
}

func subscriptionKeyboard(sub db.Subscription, wsAvailable bool) tgbotapi.InlineKeyboardMarkup {
	row := tgbotapi.NewInlineKeyboardRow(
		tgbotapi.NewInlineKeyboardButtonData("Ссылка (Reality)", "link:"+sub.ID+":"+string(xray.TransportReality)),
	)
	if wsAvailable {
		row = append(row, tgbotapi.NewInlineKeyboardButtonData("Ссылка (WS)", "link:"+sub.ID+":"+string(xray.TransportWS)))
	}
	return tgbotapi.NewInlineKeyboardMarkup(row, tgbotapi.NewInlineKeyboardRow(
		tgbotapi.NewInlineKeyboardButtonData("Трафик", "traffic:"+sub.ID),
	))
}
