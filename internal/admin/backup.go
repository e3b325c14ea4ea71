package admin

import (
	"context"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"VPN-Subscription-bot/internal/db"
)

type Alerter interface {
	NotifyAdmin(msg string)
}

// Backups резервные копии базы в каталоге dir
type Backups struct {
	dsn    string
	dir    string
	maxAge time.Duration
	alert  Alerter
	log    *zap.Logger
}

func NewBackups(dsn, dir string, alert Alerter, log *zap.Logger) *Backups {
	if dir == "" {
		dir = "backups"
	}
	return &Backups{dsn: dsn, dir: dir, maxAge: 31 * 24 * time.Hour, alert: alert, log: log.Named("backup")}
}

func (b *Backups) Create(ctx context.Context) (string, error) {
	return db.Backup(ctx, b.dsn, b.dir)
}

// Restore имя файла берётся только из каталога бэкапов
func (b *Backups) Restore(ctx context.Context, name string) error {
	return db.RestoreDatabase(ctx, filepath.Join(b.dir, filepath.Base(name)), b.dsn)
}

// Auto плановый бэкап с чисткой старых копий
func (b *Backups) Auto(ctx context.Context) {
	filename, err := b.Create(ctx)
	if err != nil {
		b.log.Error("auto backup failed", zap.Error(err))
		if b.alert != nil {
			b.alert.NotifyAdmin("Ошибка резервного копирования: " + err.Error())
		}
		return
	}
	removed, err := db.CleanOldBackups(b.dir, b.maxAge)
	if err != nil {
		b.log.Warn("clean old backups failed", zap.Error(err))
	}
	b.log.Info("auto backup created", zap.String("file", filename), zap.Int("removed", removed))
}
