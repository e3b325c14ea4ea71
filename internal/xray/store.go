package xray

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"VPN-Subscription-bot/internal/servers"
)

var ErrDocumentNotFound = errors.New("xray config not found")

// Store хранилище config.json одного сервера
type Store interface {
	Load(ctx context.Context) ([]byte, error)
	Save(ctx context.Context, data []byte) error
}

// FileStore локальный файл. Запись атомарная: временный файл, fsync, rename.
type FileStore struct {
	Path string
}

func (s FileStore) Load(_ context.Context) ([]byte, error) {
	data, err := os.ReadFile(s.Path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrDocumentNotFound
	}
	return data, err
}

func (s FileStore) Save(_ context.Context, data []byte) error {
	dir := filepath.Dir(s.Path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".config-*.json")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmp.Name(), 0644); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), s.Path)
}

// SCPStore config.json на удалённом сервере: скачивание и заливка через scp
type SCPStore struct {
	SSH        *servers.SSH
	RemotePath string
	run        Runner
	log        *zap.Logger
}

func NewSCPStore(ssh *servers.SSH, remotePath string, log *zap.Logger) *SCPStore {
	return &SCPStore{SSH: ssh, RemotePath: remotePath, run: execRunner, log: log}
}

func (s *SCPStore) remote(path string) string {
	return sshTarget(s.SSH) + ":" + path
}

func (s *SCPStore) Load(ctx context.Context) ([]byte, error) {
	tmp, err := os.CreateTemp("", "xray-config-*.json")
	if err != nil {
		return nil, err
	}
	tmp.Close()
	defer os.Remove(tmp.Name())

	s.log.Debug("downloading config.json", zap.String("host", s.SSH.Host), zap.String("path", s.RemotePath))
	if _, err := s.run(ctx, "scp", scpArgs(s.SSH, s.remote(s.RemotePath), tmp.Name())...); err != nil {
		if strings.Contains(err.Error(), "No such file") {
			return nil, ErrDocumentNotFound
		}
		return nil, fmt.Errorf("scp download failed: %w", err)
	}
	return os.ReadFile(tmp.Name())
}

// Save заливает во временный файл рядом с конфигом и переименовывает его на сервере
func (s *SCPStore) Save(ctx context.Context, data []byte) error {
	tmp, err := os.CreateTemp("", "xray-config-*.json")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	remoteTmp := s.RemotePath + ".tmp"
	s.log.Debug("uploading config.json", zap.String("host", s.SSH.Host), zap.String("path", s.RemotePath))
	if _, err := s.run(ctx, "scp", scpArgs(s.SSH, tmp.Name(), s.remote(remoteTmp))...); err != nil {
		return fmt.Errorf("scp upload failed: %w", err)
	}
	mv := "mv -f " + shellQuote(remoteTmp) + " " + shellQuote(s.RemotePath)
	if _, err := s.run(ctx, "ssh", sshArgs(s.SSH, mv)...); err != nil {
		return fmt.Errorf("remote rename failed: %w", err)
	}
	return nil
}
