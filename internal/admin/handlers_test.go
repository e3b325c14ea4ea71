package admin

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"VPN-Subscription-bot/internal/db"
	"VPN-Subscription-bot/internal/servers"
)

const adminID = 42

type fakeSender struct {
	mu   sync.Mutex
	sent []tgbotapi.Chattable
}

func (s *fakeSender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, c)
	return tgbotapi.Message{}, nil
}

func (s *fakeSender) texts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, c := range s.sent {
		if m, ok := c.(tgbotapi.MessageConfig); ok {
			out = append(out, m.Text)
		}
	}
	return out
}

func (s *fakeSender) last() string {
	t := s.texts()
	if len(t) == 0 {
		return ""
	}
	return t[len(t)-1]
}

type fakeGateway struct {
	reloaded []string
}

func (g *fakeGateway) Reload(_ context.Context, id string) bool {
	g.reloaded = append(g.reloaded, id)
	return id != "bad"
}

type fixedTasks int

func (n fixedTasks) Tasks() int { return int(n) }

func command(from int64, text string) *tgbotapi.Message {
	cmdLen := len(text)
	for i, r := range text {
		if r == ' ' {
			cmdLen = i
			break
		}
	}
	return &tgbotapi.Message{
		Text:     text,
		From:     &tgbotapi.User{ID: from},
		Chat:     &tgbotapi.Chat{ID: from},
		Entities: []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: cmdLen}},
	}
}

func newTestHandler(t *testing.T) (*Handler, *fakeSender, *db.GormLedger, *fakeGateway) {
	t.Helper()
	l, err := db.Open("sqlite:"+filepath.Join(t.TempDir(), "admin.db"), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })

	s1 := &servers.Server{ID: "eu1", Name: "Europe", IP: "10.0.0.1"}
	s2 := &servers.Server{ID: "us1", Name: "USA", IP: "10.0.0.2"}
	sender := &fakeSender{}
	gw := &fakeGateway{}
	h := NewHandler(Deps{
		Sender:   sender,
		AdminID:  adminID,
		Store:    l,
		Registry: servers.NewRegistryFromServers(s1, s2),
		Gateway:  gw,
		Tasks:    fixedTasks(3),
		Log:      zap.NewNop(),
	})
	return h, sender, l, gw
}

func TestHandleIgnoresNonAdmin(t *testing.T) {
	h, sender, _, _ := newTestHandler(t)
	assert.False(t, h.Handle(context.Background(), command(7, "/admin_stats")))
	assert.False(t, h.Handle(context.Background(), command(adminID, "/start")))
	assert.Empty(t, sender.texts())
}

func TestStatsCommand(t *testing.T) {
	h, sender, l, _ := newTestHandler(t)
	ctx := context.Background()
	_, err := l.AddOrUpdateUser(ctx, db.UserInfo{TelegramID: 1})
	require.NoError(t, err)

	require.True(t, h.Handle(ctx, command(adminID, "/admin_stats")))
	out := sender.last()
	assert.Contains(t, out, "Пользователей: 1")
	assert.Contains(t, out, "Задач проверки платежей: 3")
}

func TestBanAndUserCommands(t *testing.T) {
	h, sender, l, _ := newTestHandler(t)
	ctx := context.Background()
	_, err := l.AddOrUpdateUser(ctx, db.UserInfo{TelegramID: 5, Username: "bob"})
	require.NoError(t, err)

	h.Handle(ctx, command(adminID, "/admin_ban 5"))
	assert.Equal(t, "Пользователь 5 заблокирован", sender.last())
	u, err := l.GetUser(ctx, 5)
	require.NoError(t, err)
	assert.True(t, u.IsBanned)

	h.Handle(ctx, command(adminID, "/admin_user 5"))
	assert.Contains(t, sender.last(), "@bob")
	assert.Contains(t, sender.last(), "Заблокирован: true")

	h.Handle(ctx, command(adminID, "/admin_unban 5"))
	u, err = l.GetUser(ctx, 5)
	require.NoError(t, err)
	assert.False(t, u.IsBanned)

	h.Handle(ctx, command(adminID, "/admin_ban abc"))
	assert.Equal(t, "Укажите Telegram ID пользователя", sender.last())
}

func TestReloadCommand(t *testing.T) {
	h, sender, _, gw := newTestHandler(t)
	h.Handle(context.Background(), command(adminID, "/admin_reload"))
	assert.Equal(t, []string{"eu1", "us1"}, gw.reloaded)
	assert.Contains(t, sender.last(), "us1: перезапущен")

	h.Handle(context.Background(), command(adminID, "/admin_reload bad"))
	assert.Contains(t, sender.last(), "bad: ошибка перезапуска")
}

func TestPaymentsCommand(t *testing.T) {
	h, sender, l, _ := newTestHandler(t)
	ctx := context.Background()
	_, err := l.RecordPayment(ctx, &db.Payment{ID: "inv-1", UserID: 1, Amount: 5, Currency: "USD", Provider: "cryptobot", SubscriptionDays: 30})
	require.NoError(t, err)

	h.Handle(ctx, command(adminID, "/admin_payments"))
	assert.Contains(t, sender.last(), "inv-1")

	day := time.Now().AddDate(0, 0, -100).Format("2006-01-02")
	h.Handle(ctx, command(adminID, "/admin_payments "+day+" "+day))
	assert.Equal(t, "Платежей нет", sender.last())

	h.Handle(ctx, command(adminID, "/admin_payments x y"))
	assert.Equal(t, "Неверный формат даты (from)", sender.last())
}

func TestBroadcastSkipsBanned(t *testing.T) {
	h, sender, l, _ := newTestHandler(t)
	ctx := context.Background()
	for _, id := range []int64{1, 2, 3} {
		_, err := l.AddOrUpdateUser(ctx, db.UserInfo{TelegramID: id})
		require.NoError(t, err)
	}
	require.NoError(t, l.SetBanned(ctx, 2, true))

	h.Handle(ctx, command(adminID, "/admin_broadcast Техработы в 23:00"))
	texts := sender.texts()
	require.Len(t, texts, 3)
	assert.Equal(t, "Техработы в 23:00", texts[0])
	assert.Equal(t, "Рассылка завершена: 2 из 3", texts[2])
}

func TestBackupsSQLite(t *testing.T) {
	dir := t.TempDir()
	dsn := "sqlite:" + filepath.Join(dir, "data.db")
	l, err := db.Open(dsn, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })

	b := NewBackups(dsn, filepath.Join(dir, "backups"), nil, zap.NewNop())
	b.Auto(context.Background())

	files, err := filepath.Glob(filepath.Join(dir, "backups", "autobackup_*.db"))
	require.NoError(t, err)
	assert.Len(t, files, 1)
}
