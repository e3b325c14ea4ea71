package admin

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"VPN-Subscription-bot/internal/db"
	"VPN-Subscription-bot/internal/logger"
	"VPN-Subscription-bot/internal/servers"
)

// Store то, что админке нужно от базы (*db.GormLedger)
type Store interface {
	GetUser(ctx context.Context, telegramID int64) (*db.User, error)
	ListUsers(ctx context.Context) ([]db.User, error)
	ListSubscriptions(ctx context.Context, userID int64) ([]db.Subscription, error)
	SetBanned(ctx context.Context, telegramID int64, banned bool) error
	Stats(ctx context.Context, since time.Time) (*db.Stats, error)
	ListPaymentsBetween(ctx context.Context, from, to time.Time) ([]db.Payment, error)
}

type Gateway interface {
	Reload(ctx context.Context, serverID string) bool
}

type StatusSource interface {
	Statuses() []servers.Status
}

type TaskCounter interface {
	Tasks() int
}

type Deps struct {
	Sender   logger.Sender
	AdminID  int64
	Store    Store
	Registry *servers.Registry
	Gateway  Gateway
	Statuses StatusSource
	Tasks    TaskCounter
	Backups  *Backups
	Log      *zap.Logger
}

// Handler команды /admin_*
type Handler struct {
	Deps
}

func NewHandler(d Deps) *Handler {
	d.Log = d.Log.Named("admin")
	return &Handler{Deps: d}
}

func (h *Handler) IsAdmin(userID int64) bool {
	return h.AdminID != 0 && userID == h.AdminID
}

func (h *Handler) reply(chatID int64, text string) {
	if _, err := h.Sender.Send(tgbotapi.NewMessage(chatID, text)); err != nil {
		h.Log.Warn("admin reply failed", zap.Error(err))
	}
}

// Handle выполняет админ-команду. false, если сообщение не от админа или команда не админская.
func (h *Handler) Handle(ctx context.Context, msg *tgbotapi.Message) bool {
	if msg == nil || msg.From == nil || !h.IsAdmin(msg.From.ID) {
		return false
	}
	cmd := msg.Command()
	if !strings.HasPrefix(cmd, "admin_") {
		return false
	}
	args := strings.Fields(msg.CommandArguments())
	chatID := msg.Chat.ID
	switch cmd {
	case "admin_stats":
		h.handleStats(ctx, chatID)
	case "admin_servers":
		h.handleServers(chatID)
	case "admin_reload":
		h.handleReload(ctx, chatID, args)
	case "admin_payments":
		h.handlePayments(ctx, chatID, args)
	case "admin_user":
		h.handleUser(ctx, chatID, args)
	case "admin_ban":
		h.handleBan(ctx, chatID, args, true)
	case "admin_unban":
		h.handleBan(ctx, chatID, args, false)
	case "admin_broadcast":
		h.handleBroadcast(ctx, chatID, msg.CommandArguments())
	case "admin_backup":
		h.handleBackup(ctx, chatID)
	case "admin_restore":
		h.handleRestore(ctx, chatID, args)
	default:
		h.reply(chatID, "Неизвестная админ-команда")
	}
	logger.LogAdminAction(h.Log, msg.From.ID, cmd, msg.Text)
	return true
}

func (h *Handler) handleStats(ctx context.Context, chatID int64) {
	st, err := h.Store.Stats(ctx, time.Now().AddDate(0, 0, -30))
	if err != nil {
		h.reply(chatID, "Ошибка получения статистики: "+err.Error())
		return
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "Пользователей: %d\nАктивных подписок: %d\nОжидают оплаты: %d\n", st.Users, st.ActiveSubscriptions, st.PendingPayments)
	if h.Tasks != nil {
		fmt.Fprintf(&sb, "Задач проверки платежей: %d\n", h.Tasks.Tasks())
	}
	sb.WriteString("Оплачено за 30 дней:")
	if len(st.PaidByCurrency) == 0 {
		sb.WriteString(" 0")
	}
	currencies := make([]string, 0, len(st.PaidByCurrency))
	for c := range st.PaidByCurrency {
		currencies = append(currencies, c)
	}
	sort.Strings(currencies)
	for _, c := range currencies {
		fmt.Fprintf(&sb, " %.2f %s", st.PaidByCurrency[c], c)
	}
	h.reply(chatID, sb.String())
}

func (h *Handler) handleServers(chatID int64) {
	if h.Statuses == nil {
		h.reply(chatID, "Мониторинг серверов отключён")
		return
	}
	statuses := h.Statuses.Statuses()
	if len(statuses) == 0 {
		h.reply(chatID, "Проверок ещё не было")
		return
	}
	var sb strings.Builder
	sb.WriteString("Статус серверов:\n")
	for _, s := range statuses {
		state := "online"
		if !s.Online {
			state = "OFFLINE"
		}
		fmt.Fprintf(&sb, "%s (%s): %s, последняя проверка: %s\n", s.Name, s.IP, state, s.LastChecked.Format("02.01 15:04"))
	}
	h.reply(chatID, sb.String())
}

// /admin_reload [server_id] без аргумента перезапускает все серверы
func (h *Handler) handleReload(ctx context.Context, chatID int64, args []string) {
	var ids []string
	if len(args) > 0 {
		ids = args[:1]
	} else {
		for _, s := range h.Registry.ListAvailable() {
			ids = append(ids, s.ID)
		}
	}
	var sb strings.Builder
	for _, id := range ids {
		if h.Gateway.Reload(ctx, id) {
			fmt.Fprintf(&sb, "%s: перезапущен\n", id)
		} else {
			fmt.Fprintf(&sb, "%s: ошибка перезапуска\n", id)
		}
	}
	h.reply(chatID, sb.String())
}

// /admin_payments 2024-01-01 2024-01-31, по умолчанию последние 30 дней
func (h *Handler) handlePayments(ctx context.Context, chatID int64, args []string) {
	to := time.Now()
	from := to.AddDate(0, 0, -30)
	if len(args) == 2 {
		var err error
		if from, err = time.Parse("2006-01-02", args[0]); err != nil {
			h.reply(chatID, "Неверный формат даты (from)")
			return
		}
		if to, err = time.Parse("2006-01-02", args[1]); err != nil {
			h.reply(chatID, "Неверный формат даты (to)")
			return
		}
		to = to.AddDate(0, 0, 1)
	}
	ps, err := h.Store.ListPaymentsBetween(ctx, from, to)
	if err != nil {
		h.reply(chatID, "Ошибка: "+err.Error())
		return
	}
	if len(ps) == 0 {
		h.reply(chatID, "Платежей нет")
		return
	}
	var sb strings.Builder
	for i, p := range ps {
		if i == 30 {
			fmt.Fprintf(&sb, "... и ещё %d", len(ps)-i)
			break
		}
		fmt.Fprintf(&sb, "%s | %d | %.2f %s | %s | %s\n", p.ID, p.UserID, p.Amount, p.Currency, p.Provider, p.Status)
	}
	h.reply(chatID, sb.String())
}

func parseUserID(args []string) (int64, bool) {
	if len(args) < 1 {
		return 0, false
	}
	id, err := strconv.ParseInt(args[0], 10, 64)
	return id, err == nil
}

func (h *Handler) handleUser(ctx context.Context, chatID int64, args []string) {
	id, ok := parseUserID(args)
	if !ok {
		h.reply(chatID, "Укажите Telegram ID пользователя")
		return
	}
	u, err := h.Store.GetUser(ctx, id)
	if err != nil {
		h.reply(chatID, "Пользователь не найден")
		return
	}
	subs, err := h.Store.ListSubscriptions(ctx, id)
	if err != nil {
		h.reply(chatID, "Ошибка: "+err.Error())
		return
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "User %d @%s\nЗаблокирован: %v\nПробный период использован: %v\nПодписок: %d\n", u.TelegramID, u.Username, u.IsBanned, u.TrialUsed, len(subs))
	for _, s := range subs {
		fmt.Fprintf(&sb, "%s | %s | до %s | активна: %v\n", s.ID, s.ServerID, s.ExpiresAt.Format("2006-01-02"), s.Active(time.Now()))
	}
	h.reply(chatID, sb.String())
}

func (h *Handler) handleBan(ctx context.Context, chatID int64, args []string, banned bool) {
	id, ok := parseUserID(args)
	if !ok {
		h.reply(chatID, "Укажите Telegram ID пользователя")
		return
	}
	if err := h.Store.SetBanned(ctx, id, banned); err != nil {
		h.reply(chatID, "Ошибка: "+err.Error())
		return
	}
	if banned {
		h.reply(chatID, fmt.Sprintf("Пользователь %d заблокирован", id))
	} else {
		h.reply(chatID, fmt.Sprintf("Пользователь %d разблокирован", id))
	}
}

func (h *Handler) handleBroadcast(ctx context.Context, chatID int64, text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		h.reply(chatID, "Использование: /admin_broadcast <текст>")
		return
	}
	users, err := h.Store.ListUsers(ctx)
	if err != nil {
		h.reply(chatID, "Ошибка: "+err.Error())
		return
	}
	sent := 0
	for _, u := range users {
		if u.IsBanned {
			continue
		}
		if _, err := h.Sender.Send(tgbotapi.NewMessage(u.TelegramID, text)); err != nil {
			h.Log.Warn("broadcast send failed", zap.Int64("user_id", u.TelegramID), zap.Error(err))
			continue
		}
		sent++
	}
	h.reply(chatID, fmt.Sprintf("Рассылка завершена: %d из %d", sent, len(users)))
}

func (h *Handler) handleBackup(ctx context.Context, chatID int64) {
	if h.Backups == nil {
		h.reply(chatID, "Резервное копирование не настроено")
		return
	}
	filename, err := h.Backups.Create(ctx)
	if err != nil {
		h.reply(chatID, "Ошибка резервного копирования: "+err.Error())
		return
	}
	file := tgbotapi.NewDocument(chatID, tgbotapi.FilePath(filename))
	file.Caption = "Резервная копия БД успешно создана"
	if _, err := h.Sender.Send(file); err != nil {
		h.Log.Warn("send backup failed", zap.Error(err))
	}
}

func (h *Handler) handleRestore(ctx context.Context, chatID int64, args []string) {
	if h.Backups == nil {
		h.reply(chatID, "Резервное копирование не настроено")
		return
	}
	if len(args) < 1 {
		h.reply(chatID, "Укажите имя файла для восстановления")
		return
	}
	if err := h.Backups.Restore(ctx, args[0]); err != nil {
		h.reply(chatID, "Ошибка восстановления: "+err.Error())
		return
	}
	h.reply(chatID, "Восстановление успешно завершено из файла: "+args[0])
}
