package bot

import (
	"context"
	"fmt"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"VPN-Subscription-bot/internal/db"
	"VPN-Subscription-bot/internal/services"
	"VPN-Subscription-bot/internal/xray"
)

// Notifier отправляет пользователю уведомления о платежах и подписках
type Notifier struct {
	api API
	log *zap.Logger
}

var _ services.Notifier = (*Notifier)(nil)

func NewNotifier(api API, log *zap.Logger) *Notifier {
	return &Notifier{api: api, log: log.Named("notifier")}
}

func (n *Notifier) send(c tgbotapi.Chattable) error {
	_, err := n.api.Send(c)
	if err != nil {
		n.log.Warn("notify user failed", zap.Error(err))
	}
	return err
}

func (n *Notifier) PaymentSucceeded(_ context.Context, p *db.Payment, sub *db.Subscription) {
	msg := tgbotapi.NewMessage(p.UserID, fmt.Sprintf("Оплата получена! Подписка активна до %s.", sub.ExpiresAt.Local().Format("2006-01-02 15:04")))
	msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(tgbotapi.NewInlineKeyboardRow(
		tgbotapi.NewInlineKeyboardButtonData("Получить ссылку", "link:"+sub.ID+":"+string(xray.TransportReality)),
	))
	_ = n.send(msg)
}

func (n *Notifier) PaymentExpired(_ context.Context, p *db.Payment) {
	_ = n.send(tgbotapi.NewMessage(p.UserID, "Счёт на оплату истёк. Создать новый: /buy"))
}

func (n *Notifier) ProvisioningFailed(_ context.Context, p *db.Payment, _ error) {
	_ = n.send(tgbotapi.NewMessage(p.UserID, "Оплата получена, но создать подключение не удалось. Мы уже разбираемся, ссылка появится в /subscriptions."))
}

func (n *Notifier) SubscriptionExpired(_ context.Context, sub *db.Subscription) {
	_ = n.send(tgbotapi.NewMessage(sub.UserID, "Ваша подписка завершена, для продления воспользуйтесь /buy"))
}

func (n *Notifier) SubscriptionExpiring(_ context.Context, sub *db.Subscription) error {
	left := time.Until(sub.ExpiresAt).Round(time.Hour)
	days := int(left.Hours() / 24)
	if days < 1 {
		days = 1
	}
	return n.send(tgbotapi.NewMessage(sub.UserID, fmt.Sprintf("Ваша подписка истекает через %d дн. Продлить: /buy", days)))
}
