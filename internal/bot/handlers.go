package bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"VPN-Subscription-bot/internal/db"
	"VPN-Subscription-bot/internal/payments"
	"VPN-Subscription-bot/internal/services"
	"VPN-Subscription-bot/internal/xray"
)

const helpText = `Доступные команды:
/buy - Купить VPN
/subscriptions - Мои подписки и ссылки подключения
/trial - Пробный период
/payments - История платежей
/support - Связаться с поддержкой
/help - Показать эту справку

Покупка: /buy → выберите тариф, сервер и способ оплаты → оплатите по ссылке.
После оплаты бот автоматически выдаст ссылку подключения.`

func (b *Bot) HandleUpdate(ctx context.Context, update tgbotapi.Update) {
	switch {
	case update.PreCheckoutQuery != nil:
		b.handlePreCheckout(ctx, update.PreCheckoutQuery)
	case update.CallbackQuery != nil:
		b.register(ctx, update.CallbackQuery.From)
		b.handleCallback(ctx, update.CallbackQuery)
	case update.Message != nil && update.Message.From != nil:
		b.register(ctx, update.Message.From)
		b.handleMessage(ctx, update.Message)
	}
}

// register добавляет или обновляет пользователя при любом апдейте
func (b *Bot) register(ctx context.Context, from *tgbotapi.User) {
	if from == nil {
		return
	}
	_, err := b.svc.RegisterUser(ctx, db.UserInfo{
		TelegramID: from.ID,
		Username:   from.UserName,
		FirstName:  from.FirstName,
		LastName:   from.LastName,
	})
	if err != nil {
		b.log.Warn("register user failed", zap.Int64("user_id", from.ID), zap.Error(err))
	}
}

func (b *Bot) isAdmin(userID int64) bool {
	return b.admin != nil && b.admin.IsAdmin(userID)
}

func (b *Bot) reply(chatID, userID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ReplyMarkup = replyKeyboard(b.isAdmin(userID), b.svc.TrialEnabled())
	b.send(msg)
}

func (b *Bot) handleMessage(ctx context.Context, m *tgbotapi.Message) {
	userID, chatID := m.From.ID, m.Chat.ID
	if m.SuccessfulPayment != nil {
		b.handleSuccessfulPayment(ctx, m)
		return
	}
	if !m.IsCommand() {
		b.reply(chatID, userID, "Неизвестная команда. Используйте /help для списка всех возможностей.")
		return
	}
	if b.admin != nil && b.admin.Handle(ctx, m) {
		return
	}
	cmd := m.Command()
	if b.limiter.IsLimited(userID, cmd) {
		b.reply(chatID, userID, "Пожалуйста, не так быстро! Подождите пару секунд...")
		return
	}

	switch cmd {
	case "start":
		b.reply(chatID, userID, "Добро пожаловать! Для покупки VPN используйте /buy")
	case "help":
		b.reply(chatID, userID, helpText)
	case "support":
		b.reply(chatID, userID, "Поддержка: напишите вашему администратору.")
	case "buy":
		b.handleBuy(chatID, userID)
	case "subscriptions":
		b.handleSubscriptions(ctx, chatID, userID)
	case "payments":
		b.handlePayments(ctx, chatID, userID)
	case "trial":
		b.handleTrial(ctx, chatID, userID, "")
	default:
		b.reply(chatID, userID, "Неизвестная команда. Используйте /help для списка всех возможностей.")
	}
}

func (b *Bot) handleBuy(chatID, userID int64) {
	plans := b.svc.Plans()
	if len(plans) == 0 || len(b.svc.PaymentProviders()) == 0 {
		b.reply(chatID, userID, "Извините, сейчас покупка недоступна. Попробуйте позже или напишите /support.")
		return
	}
	msg := tgbotapi.NewMessage(chatID, "Выберите срок подписки:")
	msg.ReplyMarkup = plansKeyboard(plans)
	b.send(msg)
}

func (b *Bot) handleSubscriptions(ctx context.Context, chatID, userID int64) {
	subs, err := b.svc.GetActiveSubscriptions(ctx, userID, "")
	if err != nil {
		b.log.Error("list subscriptions failed", zap.Int64("user_id", userID), zap.Error(err))
		b.reply(chatID, userID, "Ошибка получения подписок, попробуйте позже.")
		return
	}
	if len(subs) == 0 {
		b.reply(chatID, userID, "У вас нет активных подписок. Для покупки используйте /buy.")
		return
	}
	for _, s := range subs {
		text := fmt.Sprintf("Подписка на сервере %s\nДействует до: %s", s.ServerID, s.ExpiresAt.Local().Format("2006-01-02 15:04"))
		if s.IsTrial {
			text += "\nПробный период"
		}
		msg := tgbotapi.NewMessage(chatID, text)
		ws := false
		if srv, err := b.svc.Server(s.ServerID); err == nil {
			ws = srv.Domain != ""
		}
		msg.ReplyMarkup = subscriptionKeyboard(s, ws)
		b.send(msg)
	}
}

func (b *Bot) handlePayments(ctx context.Context, chatID, userID int64) {
	ps, err := b.svc.ListPayments(ctx, userID)
	if err != nil {
		b.reply(chatID, userID, "Ошибка получения платежей, попробуйте позже.")
		return
	}
	if len(ps) == 0 {
		b.reply(chatID, userID, "Платежей пока нет.")
		return
	}
	var sb strings.Builder
	sb.WriteString("Ваши платежи:\n")
	for i, p := range ps {
		if i == 10 {
			break
		}
		fmt.Fprintf(&sb, "%s: %.2f %s, %d дн., %s\n", p.CreatedAt.Local().Format("02.01.2006"), p.Amount, p.Currency, p.SubscriptionDays, statusTitle(p.Status))
	}
	b.reply(chatID, userID, sb.String())
}

func statusTitle(s db.PaymentStatus) string {
	switch s {
	case db.StatusPaid:
		return "оплачен"
	case db.StatusExpired:
		return "истёк"
	case db.StatusError:
		return "ошибка"
	}
	return "ожидает оплаты"
}

func (b *Bot) handleTrial(ctx context.Context, chatID, userID int64, serverID string) {
	sub, err := b.svc.ActivateTrial(ctx, userID, serverID)
	switch {
	case errors.Is(err, services.ErrServerChoiceRequired):
		msg := tgbotapi.NewMessage(chatID, "Выберите сервер для пробного периода:")
		msg.ReplyMarkup = serversKeyboard("trial", b.svc.Servers())
		b.send(msg)
		return
	case errors.Is(err, services.ErrTrialDisabled):
		b.reply(chatID, userID, "Пробный период сейчас недоступен.")
		return
	case errors.Is(err, services.ErrTrialUsed):
		b.reply(chatID, userID, "Вы уже использовали пробный период. Для покупки используйте /buy.")
		return
	case errors.Is(err, services.ErrActiveSubscription):
		b.reply(chatID, userID, "У вас уже есть активная подписка: /subscriptions")
		return
	case errors.Is(err, services.ErrAccountSetupFailed):
		b.reply(chatID, userID, "Пробный период активирован, но ссылку пока создать не удалось. Попробуйте получить её позже в /subscriptions.")
		return
	case err != nil:
		b.log.Error("activate trial failed", zap.Int64("user_id", userID), zap.Error(err))
		b.reply(chatID, userID, userError(err))
		return
	}
	b.sendLink(ctx, chatID, userID, sub.ID, xray.TransportReality,
		fmt.Sprintf("Пробный период активирован до %s.", sub.ExpiresAt.Local().Format("2006-01-02 15:04")))
}

func (b *Bot) handleCallback(ctx context.Context, q *tgbotapi.CallbackQuery) {
	if q.Message == nil || q.From == nil {
		return
	}
	userID, chatID := q.From.ID, q.Message.Chat.ID
	parts := strings.Split(q.Data, ":")
	if b.limiter.IsLimited(userID, parts[0]) {
		b.answer(q.ID, "Подождите пару секунд...")
		return
	}

	switch parts[0] {
	case "plan":
		days, err := strconv.Atoi(arg(parts, 1))
		if err != nil {
			b.answer(q.ID, "Ошибка выбора тарифа")
			return
		}
		b.answer(q.ID, "")
		b.choosePlan(chatID, userID, days, "")
	case "srv":
		days, err := strconv.Atoi(arg(parts, 1))
		if err != nil {
			b.answer(q.ID, "Ошибка выбора сервера")
			return
		}
		b.answer(q.ID, "Сервер выбран")
		b.choosePlan(chatID, userID, days, arg(parts, 2))
	case "pay":
		days, err := strconv.Atoi(arg(parts, 1))
		if err != nil || len(parts) != 4 {
			b.answer(q.ID, "Ошибка выбора способа оплаты")
			return
		}
		b.answer(q.ID, "Создаю счёт...")
		b.requestPayment(ctx, chatID, userID, parts[3], days, parts[2])
	case "check":
		b.checkPayment(ctx, q, arg(parts, 1))
	case "trial":
		b.answer(q.ID, "")
		b.handleTrial(ctx, chatID, userID, arg(parts, 1))
	case "link":
		b.answer(q.ID, "")
		b.sendLink(ctx, chatID, userID, arg(parts, 1), xray.Transport(arg(parts, 2)), "")
	case "traffic":
		b.answer(q.ID, "")
		b.sendTraffic(ctx, chatID, userID, arg(parts, 1))
	default:
		b.answer(q.ID, "Неизвестное действие")
	}
}

func arg(parts []string, i int) string {
	if i < len(parts) {
		return parts[i]
	}
	return ""
}

func (b *Bot) choosePlan(chatID, userID int64, days int, serverID string) {
	sel, err := b.svc.SelectPlanAndServer(days, serverID)
	if err != nil {
		b.reply(chatID, userID, userError(err))
		return
	}
	if sel.NeedServerChoice {
		msg := tgbotapi.NewMessage(chatID, "Выберите сервер:")
		msg.ReplyMarkup = serversKeyboard("srv:"+strconv.Itoa(days), sel.Servers)
		b.send(msg)
		return
	}
	msg := tgbotapi.NewMessage(chatID, fmt.Sprintf("Тариф: %d дн., $%.2f\nСервер: %s\nВыберите способ оплаты:", sel.Plan.Days, sel.Plan.Price, sel.Server.Name))
	msg.ReplyMarkup = providersKeyboard(days, sel.Server.ID, b.svc.PaymentProviders())
	b.send(msg)
}

func (b *Bot) requestPayment(ctx context.Context, chatID, userID int64, provider string, days int, serverID string) {
	inv, p, err := b.svc.RequestPayment(ctx, userID, provider, days, serverID)
	if err != nil {
		b.log.Warn("request payment failed", zap.Int64("user_id", userID), zap.String("provider", provider), zap.Error(err))
		b.reply(chatID, userID, userError(err))
		return
	}
	if strings.HasPrefix(inv.URL, payments.StarsURLPrefix) {
		b.sendStarsInvoice(chatID, inv, p)
		return
	}
	msg := tgbotapi.NewMessage(chatID, fmt.Sprintf(
		"Счёт на %.2f %s создан.\nОплатите по ссылке, подписка активируется автоматически. Счёт действует до %s.",
		inv.Amount, inv.Currency, inv.ExpiresAt.Local().Format("15:04")))
	msg.ReplyMarkup = invoiceKeyboard(inv.URL, p.ID)
	b.send(msg)
}

func (b *Bot) sendStarsInvoice(chatID int64, inv *payments.Invoice, p *db.Payment) {
	title := fmt.Sprintf("VPN на %d дней", inv.Days)
	invoice := tgbotapi.NewInvoice(chatID, title, "Подписка на VPN", p.ID, "", "", "XTR",
		[]tgbotapi.LabeledPrice{{Label: title, Amount: inv.AmountStars}})
	invoice.SuggestedTipAmounts = []int{}
	b.send(invoice)
}

func (b *Bot) checkPayment(ctx context.Context, q *tgbotapi.CallbackQuery, paymentID string) {
	userID, chatID := q.From.ID, q.Message.Chat.ID
	res, err := b.svc.ManualCheckPayment(ctx, userID, paymentID)
	switch {
	case errors.Is(err, services.ErrAccountSetupFailed):
		b.answer(q.ID, "Оплата получена")
		return
	case errors.Is(err, payments.ErrProviderTransport):
		b.answer(q.ID, "Платёжная система недоступна, попробуйте позже")
		return
	case err != nil:
		b.answer(q.ID, userError(err))
		return
	}
	switch res.Status {
	case db.StatusPaid:
		b.answer(q.ID, "Оплата получена")
		if !res.Changed && res.Subscription != nil {
			b.sendLink(ctx, chatID, userID, res.Subscription.ID, xray.TransportReality, "Оплата уже зачислена.")
		}
	case db.StatusExpired:
		b.answer(q.ID, "Счёт истёк, создайте новый через /buy")
	default:
		b.answer(q.ID, "Оплата пока не поступила")
	}
}

func (b *Bot) handlePreCheckout(ctx context.Context, q *tgbotapi.PreCheckoutQuery) {
	cfg := tgbotapi.PreCheckoutConfig{PreCheckoutQueryID: q.ID, OK: true}
	if q.From == nil {
		cfg.OK, cfg.ErrorMessage = false, "Платёж не найден"
	} else if err := b.svc.ValidatePendingPayment(ctx, q.From.ID, q.InvoicePayload); err != nil {
		b.log.Warn("pre-checkout rejected", zap.String("payment", q.InvoicePayload), zap.Error(err))
		cfg.OK, cfg.ErrorMessage = false, "Счёт недействителен, создайте новый через /buy"
	}
	if _, err := b.api.Request(cfg); err != nil {
		b.log.Error("answer pre-checkout failed", zap.Error(err))
	}
}

func (b *Bot) handleSuccessfulPayment(ctx context.Context, m *tgbotapi.Message) {
	paymentID := m.SuccessfulPayment.InvoicePayload
	_, err := b.svc.ConfirmExternalPayment(ctx, m.From.ID, paymentID)
	if err != nil && !errors.Is(err, services.ErrAccountSetupFailed) {
		b.log.Error("confirm stars payment failed", zap.String("payment", paymentID), zap.Error(err))
		b.reply(m.Chat.ID, m.From.ID, "Оплата получена, но возникла ошибка. Напишите в /support.")
	}
}

func (b *Bot) sendLink(ctx context.Context, chatID, userID int64, subID string, transport xray.Transport, prefix string) {
	link, err := b.svc.GetConnectionDescriptor(ctx, userID, subID, transport)
	if err != nil {
		b.log.Warn("connection descriptor failed", zap.String("subscription", subID), zap.Error(err))
		b.reply(chatID, userID, strings.TrimSpace(prefix+"\n"+userError(err)))
		return
	}
	text := "Ваша ссылка подключения:\n" + link
	if prefix != "" {
		text = prefix + "\n\n" + text
	}
	b.reply(chatID, userID, text)
}

func (b *Bot) sendTraffic(ctx context.Context, chatID, userID int64, subID string) {
	st, err := b.svc.GetTrafficStats(ctx, userID, subID)
	if err != nil {
		b.reply(chatID, userID, userError(err))
		return
	}
	b.reply(chatID, userID, fmt.Sprintf("Трафик:\n↑ %s ↓ %s с последней проверки\nВсего: %s",
		formatBytes(st.Uplink), formatBytes(st.Downlink), formatBytes(st.Used)))
}

func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.2f %cB", float64(n)/float64(div), "KMGTPE"[exp])
}

// userError текст ошибки для пользователя
func userError(err error) string {
	switch {
	case errors.Is(err, services.ErrUserBanned):
		return "Ваш аккаунт заблокирован. Напишите в /support."
	case errors.Is(err, services.ErrNoServers):
		return "Извините, сейчас нет доступных серверов. Попробуйте позже или напишите /support."
	case errors.Is(err, services.ErrPlanNotFound):
		return "Тариф не найден, выберите заново: /buy"
	case errors.Is(err, payments.ErrProviderNotConfigured):
		return "Этот способ оплаты недоступен."
	case errors.Is(err, payments.ErrProviderTransport), errors.Is(err, payments.ErrProviderRejected):
		return "Платёжная система недоступна, попробуйте позже или выберите другой способ."
	case errors.Is(err, services.ErrPaymentNotFound):
		return "Платёж не найден"
	case errors.Is(err, services.ErrSubscriptionNotFound):
		return "Подписка не найдена"
	case errors.Is(err, services.ErrSubscriptionInactive):
		return "Подписка истекла, продлите через /buy"
	case errors.Is(err, services.ErrAccountSetupFailed):
		return "Не удалось создать ссылку подключения, попробуйте позже."
	}
	return "Произошла ошибка, попробуйте позже."
}
