package servers

import (
	"context"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"
)

type Status struct {
	ID          string
	Name        string
	IP          string
	Online      bool
	LastChecked time.Time
}

// Alerter уведомление админа (logger.AdminNotifier)
type Alerter interface {
	NotifyAdmin(msg string)
}

// StatusChecker проверяет доступность серверов TCP-подключением к порту Reality
type StatusChecker struct {
	registry *Registry
	alert    Alerter
	log      *zap.Logger
	timeout  time.Duration
	dial     func(ctx context.Context, network, addr string) (net.Conn, error)

	mu   sync.RWMutex
	last []Status
}

func NewStatusChecker(registry *Registry, alert Alerter, log *zap.Logger) *StatusChecker {
	d := &net.Dialer{}
	return &StatusChecker{
		registry: registry,
		alert:    alert,
		log:      log,
		timeout:  2 * time.Second,
		dial:     d.DialContext,
	}
}

// Statuses результаты последней проверки
func (p *StatusChecker) Statuses() []Status {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]Status, len(p.last))
	copy(out, p.last)
	return out
}

func (p *StatusChecker) Update(ctx context.Context) {
	var statuses []Status
	for _, srv := range p.registry.All() {
		st := Status{ID: srv.ID, Name: srv.Name, IP: srv.IP}
		dctx, cancel := context.WithTimeout(ctx, p.timeout)
		conn, err := p.dial(dctx, "tcp", srv.dialAddr())
		cancel()
		if err != nil {
			p.log.Warn("server unreachable", zap.String("server", srv.ID), zap.Error(err))
			if p.alert != nil {
				p.alert.NotifyAdmin("Сервер " + srv.Name + " (" + srv.IP + ") недоступен!")
			}
		} else {
			st.Online = true
			conn.Close()
		}
		st.LastChecked = time.Now()
		statuses = append(statuses, st)
	}
	p.mu.Lock()
	p.last = statuses
	p.mu.Unlock()
}
