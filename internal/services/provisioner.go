package services

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"VPN-Subscription-bot/internal/db"
	"VPN-Subscription-bot/internal/xray"
)

// Gateway операции шлюза, нужные сервисам (*xray.Manager)
type Gateway interface {
	AddUser(ctx context.Context, serverID, label string, transport xray.Transport) (xray.Identity, error)
	RemoveUser(ctx context.Context, serverID, label string) (bool, error)
	CollectTraffic(ctx context.Context, serverID, label string) (xray.Traffic, error)
}

// Label имя клиента на шлюзе для подписки
func Label(userID int64, subscriptionID string) string {
	return fmt.Sprintf("user_%d_%s", userID, subscriptionID)
}

// Provisioner связывает подписку из базы с учёткой на шлюзе
type Provisioner struct {
	ledger  db.Ledger
	gateway Gateway
	log     *zap.Logger
}

func NewProvisioner(ledger db.Ledger, gateway Gateway, log *zap.Logger) *Provisioner {
	return &Provisioner{ledger: ledger, gateway: gateway, log: log.Named("provisioner")}
}

// Provision создаёт (или находит) учётку на сервере подписки и записывает её в подписку.
// sub обновляется на месте.
func (p *Provisioner) Provision(ctx context.Context, sub *db.Subscription, transport xray.Transport) (xray.Identity, error) {
	label := Label(sub.UserID, sub.ID)
	id, err := p.gateway.AddUser(ctx, sub.ServerID, label, transport)
	if err != nil {
		p.log.Error("add xray user failed", zap.String("subscription", sub.ID), zap.String("server", sub.ServerID), zap.Error(err))
		return xray.Identity{}, err
	}
	if err := p.ledger.AttachIdentity(ctx, sub.ID, id.ID, label, string(transport)); err != nil {
		return xray.Identity{}, fmt.Errorf("attach identity: %w", err)
	}
	sub.IdentityID, sub.Label, sub.Transport = id.ID, label, string(transport)
	return id, nil
}

// Deprovision удаляет учётку со шлюза. Ошибки только логируются.
func (p *Provisioner) Deprovision(ctx context.Context, sub *db.Subscription) {
	if sub.Label == "" {
		return
	}
	if _, err := p.gateway.RemoveUser(ctx, sub.ServerID, sub.Label); err != nil {
		p.log.Warn("remove xray user failed", zap.String("subscription", sub.ID), zap.String("server", sub.ServerID), zap.Error(err))
	}
}
