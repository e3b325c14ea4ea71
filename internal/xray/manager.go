package xray

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"VPN-Subscription-bot/internal/metrics"
	"VPN-Subscription-bot/internal/servers"
)

var ErrUserNotFound = errors.New("xray user not found")

type node struct {
	srv   *servers.Server
	store Store
	mu    sync.Mutex
	// stats снятие счётчиков с обнулением
	stats sync.Mutex
}

// Manager управляет клиентами xray на всех серверах реестра.
// Чтение-изменение-запись config.json одного сервера идёт под его мьютексом.
type Manager struct {
	registry *servers.Registry
	control  Control
	keygen   KeyGenerator
	newStore func(*servers.Server) Store
	newID    func() string
	log      *zap.Logger

	nodes map[string]*node
}

type Option func(*Manager)

func WithControl(c Control) Option {
	return func(m *Manager) { m.control = c }
}

func WithKeyGenerator(g KeyGenerator) Option {
	return func(m *Manager) { m.keygen = g }
}

func WithStoreFactory(f func(*servers.Server) Store) Option {
	return func(m *Manager) { m.newStore = f }
}

func WithIDGenerator(f func() string) Option {
	return func(m *Manager) { m.newID = f }
}

func NewManager(registry *servers.Registry, log *zap.Logger, opts ...Option) *Manager {
	m := &Manager{
		registry: registry,
		keygen:   X25519{},
		newID:    uuid.NewString,
		log:      log.Named("xray"),
	}
	m.control = NewCommandControl(m.log)
	m.newStore = func(srv *servers.Server) Store {
		if srv.SSH != nil {
			return NewSCPStore(srv.SSH, srv.ConfigPath, m.log)
		}
		return FileStore{Path: srv.ConfigPath}
	}
	for _, opt := range opts {
		opt(m)
	}
	m.nodes = make(map[string]*node)
	for _, srv := range registry.All() {
		m.nodes[srv.ID] = &node{srv: srv, store: m.newStore(srv)}
	}
	return m
}

func (m *Manager) node(serverID string) (*node, error) {
	srv, err := m.registry.Resolve(serverID)
	if err != nil {
		return nil, err
	}
	n, ok := m.nodes[srv.ID]
	if !ok {
		return nil, fmt.Errorf("%w: %q", servers.ErrServerNotFound, serverID)
	}
	return n, nil
}

// load читает документ; отсутствующий config.json заменяется конфигом по умолчанию
func (m *Manager) load(ctx context.Context, n *node) (*Document, bool, error) {
	data, err := n.store.Load(ctx)
	if errors.Is(err, ErrDocumentNotFound) {
		m.log.Warn("xray config not found, using default", zap.String("server", n.srv.ID))
		return DefaultDocument(n.srv), false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("load xray config %s: %w", n.srv.ID, err)
	}
	doc, err := ParseDocument(data)
	if err != nil {
		return nil, false, fmt.Errorf("xray config %s: %w", n.srv.ID, err)
	}
	return doc, true, nil
}

func (m *Manager) save(ctx context.Context, n *node, doc *Document) error {
	data, err := doc.Marshal()
	if err != nil {
		return fmt.Errorf("marshal config failed: %w", err)
	}
	if err := n.store.Save(ctx, data); err != nil {
		return fmt.Errorf("save xray config %s: %w", n.srv.ID, err)
	}
	return nil
}

// EnsureKeyMaterial генерирует ключи Reality, если их нет или стоит заглушка.
// При ошибке ключи остаются пустыми, сервер работает без Reality-ссылок.
func (m *Manager) EnsureKeyMaterial(ctx context.Context, srv *servers.Server) bool {
	keys := srv.KeyMaterial()
	if !srv.NeedsKeys() {
		if keys.PublicKey == "" {
			pub, err := PublicKeyFromPrivate(keys.PrivateKey)
			if err != nil {
				m.log.Error("cannot derive reality public key", zap.String("server", srv.ID), zap.Error(err))
				return false
			}
			keys.PublicKey = pub
			srv.SetKeys(keys)
		}
		return true
	}

	priv, pub, err := m.keygen.GenerateKeyPair()
	if err != nil {
		m.log.Error("reality key generation failed", zap.String("server", srv.ID), zap.Error(err))
		srv.SetKeys(servers.KeyMaterial{})
		return false
	}
	sid := keys.ShortID
	if sid == "" {
		if sid, err = NewShortID(nil); err != nil {
			m.log.Error("short id generation failed", zap.String("server", srv.ID), zap.Error(err))
			srv.SetKeys(servers.KeyMaterial{})
			return false
		}
	}
	srv.SetKeys(servers.KeyMaterial{PrivateKey: priv, PublicKey: pub, ShortID: sid})
	m.log.Info("generated reality keys", zap.String("server", srv.ID), zap.String("public_key", pub), zap.String("short_id", sid))

	n, ok := m.nodes[srv.ID]
	if !ok {
		return true
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	doc, existed, err := m.load(ctx, n)
	if err != nil || !existed {
		if err != nil {
			m.log.Warn("cannot write keys into xray config", zap.String("server", srv.ID), zap.Error(err))
		}
		return true
	}
	updated, err := doc.SetRealityKeys(priv, sid)
	if err != nil || !updated {
		return true
	}
	if err := m.save(ctx, n, doc); err != nil {
		m.log.Warn("cannot write keys into xray config", zap.String("server", srv.ID), zap.Error(err))
		return true
	}
	m.reload(ctx, n)
	return true
}

// EnsureAllKeys вызывается при старте для каждого сервера
func (m *Manager) EnsureAllKeys(ctx context.Context) {
	for _, srv := range m.registry.All() {
		m.EnsureKeyMaterial(ctx, srv)
	}
}

// AddUser создаёт клиента label на inbound транспорта. Повторный вызов возвращает тот же id.
func (m *Manager) AddUser(ctx context.Context, serverID, label string, transport Transport) (Identity, error) {
	n, err := m.node(serverID)
	if err != nil {
		return Identity{}, err
	}
	n.mu.Lock()
	defer n.mu.Unlock()

	doc, _, err := m.load(ctx, n)
	if err != nil {
		return Identity{}, err
	}
	client, changed, err := doc.Upsert(transport.Tag(), label, transport.Flow(), m.newID)
	if err != nil {
		return Identity{}, err
	}
	id := Identity{ID: client.ID, Label: label, Transport: transport}
	if !changed {
		return id, nil
	}
	if err := m.save(ctx, n, doc); err != nil {
		return Identity{}, err
	}
	m.log.Info("xray user added", zap.String("server", n.srv.ID), zap.String("label", label), zap.String("transport", string(transport)))
	m.reload(ctx, n)
	return id, nil
}

// RemoveUser удаляет label со всех inbound. false, если удалять было нечего.
func (m *Manager) RemoveUser(ctx context.Context, serverID, label string) (bool, error) {
	n, err := m.node(serverID)
	if err != nil {
		return false, err
	}
	n.mu.Lock()
	defer n.mu.Unlock()

	doc, existed, err := m.load(ctx, n)
	if err != nil {
		return false, err
	}
	if !existed || !doc.Remove(label) {
		return false, nil
	}
	if err := m.save(ctx, n, doc); err != nil {
		return false, err
	}
	m.log.Info("xray user removed", zap.String("server", n.srv.ID), zap.String("label", label))
	m.reload(ctx, n)
	return true, nil
}

func (m *Manager) GetUser(ctx context.Context, serverID, label string) (Identity, error) {
	n, err := m.node(serverID)
	if err != nil {
		return Identity{}, err
	}
	n.mu.Lock()
	defer n.mu.Unlock()

	doc, _, err := m.load(ctx, n)
	if err != nil {
		return Identity{}, err
	}
	id, ok := doc.Find(label)
	if !ok {
		return Identity{}, fmt.Errorf("%w: %s", ErrUserNotFound, label)
	}
	return id, nil
}

func (m *Manager) ListUsers(ctx context.Context, serverID string) ([]Identity, error) {
	n, err := m.node(serverID)
	if err != nil {
		return nil, err
	}
	n.mu.Lock()
	defer n.mu.Unlock()

	doc, _, err := m.load(ctx, n)
	if err != nil {
		return nil, err
	}
	return doc.Identities(), nil
}

// Reload перезапускает xray. Ошибка логируется, повторов нет.
func (m *Manager) Reload(ctx context.Context, serverID string) bool {
	n, err := m.node(serverID)
	if err != nil {
		m.log.Error("reload: unknown server", zap.String("server", serverID), zap.Error(err))
		return false
	}
	return m.reload(ctx, n)
}

func (m *Manager) reload(ctx context.Context, n *node) bool {
	err := m.control.Reload(ctx, n.srv)
	metrics.IncGatewayReload(n.srv.ID, err == nil)
	if err != nil {
		m.log.Error("restart xray failed", zap.String("server", n.srv.ID), zap.Error(err))
		return false
	}
	return true
}
