package xray

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"VPN-Subscription-bot/internal/servers"
)

type Traffic struct {
	Uplink   int64
	Downlink int64
	Total    int64
}

// statValue xray отдаёт value то строкой, то числом
type statValue int64

func (v *statValue) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		*v = 0
		return nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return err
	}
	*v = statValue(n)
	return nil
}

type statsResponse struct {
	Stat []struct {
		Name  string    `json:"name"`
		Value statValue `json:"value"`
	} `json:"stat"`
}

func statName(label, direction string) string {
	return "user>>>" + label + ">>>traffic>>>" + direction
}

func parseCounter(out []byte, name string) (int64, error) {
	out = bytes.TrimSpace(out)
	if len(out) == 0 {
		return 0, nil
	}
	var resp statsResponse
	if err := json.Unmarshal(out, &resp); err != nil {
		return 0, err
	}
	var total int64
	for _, s := range resp.Stat {
		if s.Name == name {
			total += int64(s.Value)
		}
	}
	return total, nil
}

func (m *Manager) counter(ctx context.Context, srv *servers.Server, label, direction string, reset bool) (int64, error) {
	name := statName(label, direction)
	out, err := m.control.QueryStats(ctx, srv, name, reset)
	if err != nil {
		return 0, err
	}
	return parseCounter(out, name)
}

// QueryTraffic счётчики клиента. Любая ошибка даёт нули и пишется в лог.
func (m *Manager) QueryTraffic(ctx context.Context, serverID, label string) Traffic {
	n, err := m.node(serverID)
	if err != nil {
		m.log.Warn("traffic query: unknown server", zap.String("server", serverID), zap.Error(err))
		return Traffic{}
	}
	up, err := m.counter(ctx, n.srv, label, "uplink", false)
	if err != nil {
		m.log.Warn("traffic query failed", zap.String("server", n.srv.ID), zap.String("label", label), zap.Error(err))
		return Traffic{}
	}
	down, err := m.counter(ctx, n.srv, label, "downlink", false)
	if err != nil {
		m.log.Warn("traffic query failed", zap.String("server", n.srv.ID), zap.String("label", label), zap.Error(err))
		return Traffic{}
	}
	return Traffic{Uplink: up, Downlink: down, Total: up + down}
}

// CollectTraffic снимает счётчики клиента с обнулением и возвращает ровно снятое.
// При ошибке возвращается то, что успели снять до неё.
func (m *Manager) CollectTraffic(ctx context.Context, serverID, label string) (Traffic, error) {
	n, err := m.node(serverID)
	if err != nil {
		return Traffic{}, err
	}
	n.stats.Lock()
	defer n.stats.Unlock()

	var tr Traffic
	up, err := m.counter(ctx, n.srv, label, "uplink", true)
	if err != nil {
		return tr, fmt.Errorf("collect uplink of %s on %s: %w", label, n.srv.ID, err)
	}
	tr.Uplink, tr.Total = up, up
	down, err := m.counter(ctx, n.srv, label, "downlink", true)
	if err != nil {
		return tr, fmt.Errorf("collect downlink of %s on %s: %w", label, n.srv.ID, err)
	}
	tr.Downlink = down
	tr.Total += down
	return tr, nil
}

// ResetTraffic обнуляет счётчики клиента, снятые значения отбрасываются
func (m *Manager) ResetTraffic(ctx context.Context, serverID, label string) bool {
	if _, err := m.CollectTraffic(ctx, serverID, label); err != nil {
		m.log.Warn("traffic reset failed", zap.String("server", serverID), zap.String("label", label), zap.Error(err))
		return false
	}
	return true
}
