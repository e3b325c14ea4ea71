package db

import "time"

type User struct {
	TelegramID    int64 `gorm:"primaryKey;autoIncrement:false"`
	Username      string
	FirstName     string
	LastName      string
	IsBanned      bool `gorm:"default:false"`
	TrialUsed     bool `gorm:"default:false"`
	CreatedAt     time.Time
	UpdatedAt     time.Time
	Subscriptions []Subscription `gorm:"foreignKey:UserID;references:TelegramID"`
}

// UserInfo данные пользователя из Telegram
type UserInfo struct {
	TelegramID int64
	Username   string
	FirstName  string
	LastName   string
}

type Subscription struct {
	ID        string  `gorm:"primaryKey;size:36"`
	UserID    int64   `gorm:"index"`
	ServerID  string  `gorm:"index;size:64"`
	PaymentID *string `gorm:"uniqueIndex;size:128"` // не больше одной подписки на платёж
	CreatedAt time.Time
	ExpiresAt time.Time `gorm:"index"`
	IsActive  bool      `gorm:"index"`
	IsTrial   bool

	// учётка на шлюзе, пусто пока не создана
	IdentityID string `gorm:"size:36"`
	Label      string `gorm:"size:128"`
	Transport  string `gorm:"size:16"`

	TrafficUsed      int64
	LastReset        time.Time
	NotifiedExpiring bool `gorm:"default:false"`
}

// Active действует ли подписка на момент now
func (s Subscription) Active(now time.Time) bool {
	return s.IsActive && s.ExpiresAt.After(now)
}

func (s Subscription) HasIdentity() bool {
	return s.IdentityID != ""
}

type PaymentStatus string

const (
	StatusPending PaymentStatus = "pending"
	StatusPaid    PaymentStatus = "paid"
	StatusExpired PaymentStatus = "expired"
	StatusError   PaymentStatus = "error"
)

// Terminal из терминального статуса переходов нет
func (s PaymentStatus) Terminal() bool {
	return s == StatusPaid || s == StatusExpired || s == StatusError
}

func (s PaymentStatus) Valid() bool {
	return s == StatusPending || s.Terminal()
}

type Payment struct {
	ID               string `gorm:"primaryKey;size:128"`
	UserID           int64  `gorm:"index"`
	Amount           float64
	Currency         string        `gorm:"size:16"`
	Provider         string        `gorm:"size:32"`
	Status           PaymentStatus `gorm:"index;size:16"`
	SubscriptionDays int
	ServerID         string `gorm:"size:64"`
	URL              string
	ExpiresAt        time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}
