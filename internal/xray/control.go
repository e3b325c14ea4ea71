package xray

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"VPN-Subscription-bot/internal/servers"
)

// Control управление процессом xray на сервере
type Control interface {
	Reload(ctx context.Context, srv *servers.Server) error
	QueryStats(ctx context.Context, srv *servers.Server, pattern string, reset bool) ([]byte, error)
}

// CommandControl systemctl и `xray api statsquery`, локально или по ssh
type CommandControl struct {
	XrayBin string
	run     Runner
	log     *zap.Logger
}

func NewCommandControl(log *zap.Logger) *CommandControl {
	return &CommandControl{XrayBin: "xray", run: execRunner, log: log}
}

func (c *CommandControl) Reload(ctx context.Context, srv *servers.Server) error {
	if srv.SSH != nil {
		c.log.Info("restarting xray via ssh", zap.String("server", srv.ID), zap.String("host", srv.SSH.Host))
		_, err := c.run(ctx, "ssh", sshArgs(srv.SSH, "systemctl restart xray")...)
		return err
	}
	c.log.Info("restarting xray", zap.String("server", srv.ID))
	_, err := c.run(ctx, "systemctl", "restart", "xray")
	return err
}

func (c *CommandControl) QueryStats(ctx context.Context, srv *servers.Server, pattern string, reset bool) ([]byte, error) {
	args := []string{"api", "statsquery", "--server=" + srv.APIAddress, "--pattern=" + pattern}
	if reset {
		args = append(args, "--reset")
	}
	if srv.SSH == nil {
		return c.run(ctx, c.XrayBin, args...)
	}
	quoted := make([]string, 0, len(args)+1)
	quoted = append(quoted, c.XrayBin)
	for _, a := range args {
		quoted = append(quoted, shellQuote(a))
	}
	return c.run(ctx, "ssh", sshArgs(srv.SSH, strings.Join(quoted, " "))...)
}
