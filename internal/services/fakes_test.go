package services

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"VPN-Subscription-bot/config"
	"VPN-Subscription-bot/internal/db"
	"VPN-Subscription-bot/internal/lock"
	"VPN-Subscription-bot/internal/payments"
	"VPN-Subscription-bot/internal/servers"
	"VPN-Subscription-bot/internal/xray"
)

var errBoom = errors.New("boom")

// fakeProvider провайдер со статусами, заданными в тесте
type fakeProvider struct {
	name string

	mu       sync.Mutex
	statuses map[string]payments.Status
	checks   int
	err      error
}

func newFakeProvider(name string) *fakeProvider {
	return &fakeProvider{name: name, statuses: map[string]payments.Status{}}
}

func (p *fakeProvider) Name() string { return p.name }

func (p *fakeProvider) CreateInvoice(_ context.Context, amount float64, days int, _ string, _ int64) (*payments.Invoice, error) {
	id := uuid.NewString()
	p.mu.Lock()
	p.statuses[id] = payments.StatusPending
	p.mu.Unlock()
	return &payments.Invoice{
		Provider:  p.name,
		PaymentID: id,
		Amount:    amount,
		Currency:  "USD",
		Days:      days,
		URL:       "https://pay.example.com/" + id,
		ExpiresAt: time.Now().Add(time.Hour),
	}, nil
}

func (p *fakeProvider) CheckStatus(_ context.Context, id string) (payments.Status, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.checks++
	if p.err != nil {
		return "", p.err
	}
	return p.statuses[id], nil
}

func (p *fakeProvider) set(id string, st payments.Status) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.statuses[id] = st
}

func (p *fakeProvider) setErr(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.err = err
}

func (p *fakeProvider) checkCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.checks
}

type fakeControl struct {
	mu      sync.Mutex
	reloads int
	stats   map[string]string
	err     error
}

func (c *fakeControl) Reload(context.Context, *servers.Server) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reloads++
	return nil
}

func (c *fakeControl) QueryStats(_ context.Context, _ *servers.Server, pattern string, reset bool) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return nil, c.err
	}
	out := c.stats[pattern]
	if reset {
		delete(c.stats, pattern)
	}
	return []byte(out), nil
}

func (c *fakeControl) setTraffic(label string, up, down int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for dir, v := range map[string]int64{"uplink": up, "downlink": down} {
		name := "user>>>" + label + ">>>traffic>>>" + dir
		c.stats[name] = fmt.Sprintf(`{"stat":[{"name":%q,"value":"%d"}]}`, name, v)
	}
}

// failingGateway шлюз, который не может создать учётку
type failingGateway struct {
	Gateway
}

func (failingGateway) AddUser(context.Context, string, string, xray.Transport) (xray.Identity, error) {
	return xray.Identity{}, errBoom
}

type event struct {
	kind    string
	payment string
	sub     string
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []event
}

func (n *recordingNotifier) add(e event) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, e)
}

func (n *recordingNotifier) PaymentSucceeded(_ context.Context, p *db.Payment, sub *db.Subscription) {
	n.add(event{kind: "paid", payment: p.ID, sub: sub.ID})
}

func (n *recordingNotifier) PaymentExpired(_ context.Context, p *db.Payment) {
	n.add(event{kind: "expired", payment: p.ID})
}

func (n *recordingNotifier) ProvisioningFailed(_ context.Context, p *db.Payment, _ error) {
	n.add(event{kind: "setup_failed", payment: p.ID})
}

func (n *recordingNotifier) SubscriptionExpired(_ context.Context, sub *db.Subscription) {
	n.add(event{kind: "sub_expired", sub: sub.ID})
}

func (n *recordingNotifier) SubscriptionExpiring(_ context.Context, sub *db.Subscription) error {
	n.add(event{kind: "sub_expiring", sub: sub.ID})
	return nil
}

func (n *recordingNotifier) count(kind string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	c := 0
	for _, e := range n.events {
		if e.kind == kind {
			c++
		}
	}
	return c
}

type alerts struct {
	mu   sync.Mutex
	msgs []string
}

func (a *alerts) NotifyAdmin(msg string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.msgs = append(a.msgs, msg)
}

func (a *alerts) all() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.msgs...)
}

// noLock пропускает всех, проверка остаётся только на compare-and-set в базе
type noLock struct{}

func (noLock) Lock(context.Context, string) (func(), error) { return func() {}, nil }

func testServer(id string) *servers.Server {
	s := &servers.Server{
		ID:          id,
		Name:        id,
		IP:          "10.0.0.1",
		Domain:      id + ".example.com",
		RealityPort: 443,
		WSPort:      8443,
		ServerNames: []string{"www.microsoft.com"},
		Dest:        "www.google.com:443",
	}
	s.SetKeys(servers.KeyMaterial{PrivateKey: "priv-" + id, PublicKey: "pub-" + id, ShortID: "0123abcd"})
	return s
}

type env struct {
	t           *testing.T
	dir         string
	ledger      *db.GormLedger
	registry    *servers.Registry
	gateway     *xray.Manager
	control     *fakeControl
	provider    *fakeProvider
	notifier    *recordingNotifier
	provisioner *Provisioner
	reconciler  *Reconciler
	svc         *VPNService
}

type envOption func(*envConfig)

type envConfig struct {
	servers []*servers.Server
	locker  lock.Locker
	gateway Gateway
	trial   bool
	rc      ReconcilerConfig
}

func withServers(ids ...string) envOption {
	return func(c *envConfig) {
		c.servers = nil
		for _, id := range ids {
			c.servers = append(c.servers, testServer(id))
		}
	}
}

func withLocker(l lock.Locker) envOption {
	return func(c *envConfig) { c.locker = l }
}

func withGateway(g Gateway) envOption {
	return func(c *envConfig) { c.gateway = g }
}

func withTrial() envOption {
	return func(c *envConfig) { c.trial = true }
}

func withReconcile(rc ReconcilerConfig) envOption {
	return func(c *envConfig) { c.rc = rc }
}

func newEnv(t *testing.T, opts ...envOption) *env {
	t.Helper()
	cfg := envConfig{
		servers: []*servers.Server{testServer("eu1")},
		locker:  lock.NewMemory(),
		rc:      ReconcilerConfig{Interval: time.Hour, FirstMin: time.Hour, FirstMax: time.Hour},
	}
	for _, o := range opts {
		o(&cfg)
	}

	e := &env{t: t, dir: t.TempDir()}
	l, err := db.Open("sqlite:"+filepath.Join(e.dir, "test.db"), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })
	e.ledger = l

	e.registry = servers.NewRegistryFromServers(cfg.servers...)
	e.control = &fakeControl{stats: map[string]string{}}
	e.gateway = xray.NewManager(e.registry, zap.NewNop(),
		xray.WithControl(e.control),
		xray.WithStoreFactory(func(s *servers.Server) xray.Store {
			return xray.FileStore{Path: e.configPath(s.ID)}
		}),
	)
	var gw Gateway = e.gateway
	if cfg.gateway != nil {
		gw = cfg.gateway
	}

	e.provider = newFakeProvider("fake")
	e.notifier = &recordingNotifier{}
	e.provisioner = NewProvisioner(l, gw, zap.NewNop())
	e.reconciler = NewReconciler(l, payments.NewManagerFrom(e.provider), e.provisioner, cfg.locker, e.notifier, cfg.rc, zap.NewNop())
	t.Cleanup(e.reconciler.Stop)
	e.svc = NewVPNService(l, e.registry, gw, payments.NewManagerFrom(e.provider), e.reconciler, e.provisioner, VPNOptions{
		Plans: []config.Plan{{Days: 30, Price: 5, PriceStars: 50, Title: "1 месяц"}, {Days: 90, Price: 12}},
		Trial: config.TrialConfig{Enabled: cfg.trial, Days: 3},
	}, zap.NewNop())
	return e
}

func (e *env) configPath(serverID string) string {
	return filepath.Join(e.dir, "xray", serverID+".json")
}

func (e *env) configExists(serverID string) bool {
	_, err := os.Stat(e.configPath(serverID))
	return err == nil
}

func (e *env) user(id int64) {
	e.t.Helper()
	_, err := e.svc.RegisterUser(context.Background(), db.UserInfo{TelegramID: id, Username: fmt.Sprintf("u%d", id)})
	require.NoError(e.t, err)
}

// pay выставляет счёт на 30 дней
func (e *env) pay(userID int64, serverID string) *db.Payment {
	e.t.Helper()
	_, p, err := e.svc.RequestPayment(context.Background(), userID, "fake", 30, serverID)
	require.NoError(e.t, err)
	return p
}
