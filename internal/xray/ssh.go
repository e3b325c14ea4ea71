package xray

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"

	"VPN-Subscription-bot/internal/servers"
)

// Runner запускает внешнюю команду и возвращает stdout
type Runner func(ctx context.Context, name string, args ...string) ([]byte, error)

func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		return out, fmt.Errorf("%s: %w: %s", name, err, strings.TrimSpace(stderr.String()))
	}
	return out, nil
}

func sshTarget(s *servers.SSH) string {
	if s.User == "" {
		return s.Host
	}
	return s.User + "@" + s.Host
}

func sshArgs(s *servers.SSH, remoteCmd string) []string {
	args := []string{"-o", "StrictHostKeyChecking=no", "-p", s.Port}
	if s.KeyPath != "" {
		args = append(args, "-i", s.KeyPath)
	}
	return append(args, sshTarget(s), remoteCmd)
}

func scpArgs(s *servers.SSH, from, to string) []string {
	args := []string{"-o", "StrictHostKeyChecking=no", "-P", s.Port}
	if s.KeyPath != "" {
		args = append(args, "-i", s.KeyPath)
	}
	return append(args, from, to)
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
