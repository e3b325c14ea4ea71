package bot

import (
	"context"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"VPN-Subscription-bot/internal/admin"
	"VPN-Subscription-bot/internal/logger"
	"VPN-Subscription-bot/internal/services"
)

// API часть *tgbotapi.BotAPI, которой пользуется бот
type API interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
}

type Bot struct {
	api     API
	svc     *services.VPNService
	admin   *admin.Handler
	limiter *RateLimiter
	alert   *logger.AdminNotifier
	log     *zap.Logger
}

func New(api API, svc *services.VPNService, adminHandler *admin.Handler, alert *logger.AdminNotifier, log *zap.Logger) *Bot {
	isAdmin := func(int64) bool { return false }
	if adminHandler != nil {
		isAdmin = adminHandler.IsAdmin
	}
	return &Bot{
		api:     api,
		svc:     svc,
		admin:   adminHandler,
		limiter: NewRateLimiter(isAdmin),
		alert:   alert,
		log:     log.Named("bot"),
	}
}

// Run обрабатывает обновления до закрытия канала или отмены ctx
func (b *Bot) Run(ctx context.Context, updates tgbotapi.UpdatesChannel) {
	for {
		select {
		case <-ctx.Done():
			return
		case u, ok := <-updates:
			if !ok {
				return
			}
			go func(u tgbotapi.Update) {
				defer b.alert.NotifyOnPanic("HandleUpdate")
				b.HandleUpdate(ctx, u)
			}(u)
		}
	}
}

func (b *Bot) send(c tgbotapi.Chattable) {
	if _, err := b.api.Send(c); err != nil {
		b.log.Warn("send failed", zap.Error(err))
	}
}

func (b *Bot) answer(callbackID, text string) {
	if _, err := b.api.Request(tgbotapi.NewCallback(callbackID, text)); err != nil {
		b.log.Debug("callback answer failed", zap.Error(err))
	}
}
