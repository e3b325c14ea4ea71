package xray

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"VPN-Subscription-bot/internal/servers"
)

type memStore struct {
	mu    sync.Mutex
	data  []byte
	saves int
	err   error
}

func (s *memStore) Load(context.Context) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	if s.data == nil {
		return nil, ErrDocumentNotFound
	}
	return append([]byte(nil), s.data...), nil
}

func (s *memStore) Save(_ context.Context, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.data = append([]byte(nil), data...)
	s.saves++
	return nil
}

type fakeControl struct {
	mu      sync.Mutex
	reloads map[string]int
	stats   map[string]string
	queries []string
	err     error
	// errOn ошибка только для этого счётчика
	errOn string
}

func newFakeControl() *fakeControl {
	return &fakeControl{reloads: map[string]int{}, stats: map[string]string{}}
}

func (c *fakeControl) Reload(_ context.Context, srv *servers.Server) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reloads[srv.ID]++
	return c.err
}

func (c *fakeControl) QueryStats(_ context.Context, srv *servers.Server, pattern string, reset bool) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.queries = append(c.queries, fmt.Sprintf("%s|%s|%v", srv.ID, pattern, reset))
	if c.err != nil {
		return nil, c.err
	}
	if c.errOn == pattern {
		return nil, errBoom
	}
	out := c.stats[pattern]
	if reset {
		delete(c.stats, pattern)
	}
	return []byte(out), nil
}

type fixedKeys struct {
	priv, pub string
	err       error
}

func (k fixedKeys) GenerateKeyPair() (string, string, error) {
	if k.err != nil {
		return "", "", k.err
	}
	return k.priv, k.pub, nil
}

type harness struct {
	mgr     *Manager
	stores  map[string]*memStore
	control *fakeControl
	reg     *servers.Registry
}

func newHarness(list ...*servers.Server) *harness {
	h := &harness{stores: map[string]*memStore{}, control: newFakeControl()}
	for _, s := range list {
		h.stores[s.ID] = &memStore{}
	}
	h.reg = servers.NewRegistryFromServers(list...)
	seq := 0
	var mu sync.Mutex
	h.mgr = NewManager(h.reg, zap.NewNop(),
		WithControl(h.control),
		WithKeyGenerator(fixedKeys{priv: "PRIV", pub: "PUB"}),
		WithStoreFactory(func(s *servers.Server) Store { return h.stores[s.ID] }),
		WithIDGenerator(func() string {
			mu.Lock()
			defer mu.Unlock()
			seq++
			return fmt.Sprintf("00000000-0000-4000-8000-%012d", seq)
		}),
	)
	return h
}

func testServer(id string) *servers.Server {
	s := &servers.Server{
		ID:          id,
		Name:        id,
		IP:          "10.0.0.1",
		Domain:      id + ".example.com",
		RealityPort: 443,
		WSPort:      8443,
		ConfigPath:  "/etc/xray/" + id + ".json",
		APIAddress:  "127.0.0.1:10085",
		ServerNames: []string{"www.microsoft.com"},
		Dest:        "www.google.com:443",
	}
	s.SetKeys(servers.KeyMaterial{PrivateKey: "priv-" + id, PublicKey: "pub-" + id, ShortID: "0123abcd"})
	return s
}

var errBoom = errors.New("boom")
