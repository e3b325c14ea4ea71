package logger

import (
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
)

// Sender то, что умеет отправлять сообщения в Telegram (*tgbotapi.BotAPI)
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// AdminNotifier отправляет критические уведомления админу
type AdminNotifier struct {
	sender  Sender
	adminID int64
	log     *zap.Logger
}

func NewAdminNotifier(sender Sender, adminID int64, log *zap.Logger) *AdminNotifier {
	return &AdminNotifier{sender: sender, adminID: adminID, log: log}
}

// NotifyAdmin отправляет сообщение с префиксом [ALERT]. Без бота или админа ничего не делает.
func (n *AdminNotifier) NotifyAdmin(msg string) {
	if n == nil || n.sender == nil || n.adminID == 0 {
		return
	}
	if _, err := n.sender.Send(tgbotapi.NewMessage(n.adminID, "[ALERT] "+msg)); err != nil {
		n.log.Warn("admin notify failed", zap.Error(err))
	}
}

// NotifyOnPanic ловит панику, логирует и уведомляет. Вызывать через defer.
func (n *AdminNotifier) NotifyOnPanic(where string) {
	if r := recover(); r != nil {
		n.log.Error("panic recovered", zap.String("where", where), zap.Any("panic", r))
		n.NotifyAdmin("Panic in " + where + ": " + fmt.Sprint(r))
	}
}
