package servers

import (
	"errors"
	"fmt"

	"VPN-Subscription-bot/config"
)

var ErrServerNotFound = errors.New("server not found")

type Summary struct {
	ID          string
	Name        string
	Location    string
	Description string
}

// Registry список серверов в порядке конфигурации
type Registry struct {
	servers []*Server
	byID    map[string]*Server
}

// NewRegistry строит реестр из servers. Если список пуст, единственным сервером
// становится "default" из корневых секций server/xray.
func NewRegistry(cfg *config.AppConfig) (*Registry, error) {
	list := cfg.Servers
	if len(list) == 0 {
		list = []config.ServerConfig{cfg.LegacyServer()}
	}
	r := &Registry{byID: make(map[string]*Server, len(list))}
	for i, sc := range list {
		if sc.ID == "" {
			return nil, fmt.Errorf("servers[%d]: id is empty", i)
		}
		if _, dup := r.byID[sc.ID]; dup {
			return nil, fmt.Errorf("servers[%d]: duplicate id %q", i, sc.ID)
		}
		s := fromConfig(sc)
		r.servers = append(r.servers, s)
		r.byID[s.ID] = s
	}
	return r, nil
}

// NewRegistryFromServers для тестов и ручной сборки
func NewRegistryFromServers(list ...*Server) *Registry {
	r := &Registry{byID: make(map[string]*Server, len(list))}
	for _, s := range list {
		r.servers = append(r.servers, s)
		r.byID[s.ID] = s
	}
	return r
}

func (r *Registry) Get(id string) (*Server, error) {
	s, ok := r.byID[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrServerNotFound, id)
	}
	return s, nil
}

// Resolve пустой id означает сервер по умолчанию (первый в списке)
func (r *Registry) Resolve(id string) (*Server, error) {
	if id == "" {
		if len(r.servers) == 0 {
			return nil, ErrServerNotFound
		}
		return r.servers[0], nil
	}
	return r.Get(id)
}

func (r *Registry) ListAvailable() []Summary {
	out := make([]Summary, 0, len(r.servers))
	for _, s := range r.servers {
		out = append(out, Summary{ID: s.ID, Name: s.Name, Location: s.Location, Description: s.Description})
	}
	return out
}

func (r *Registry) All() []*Server {
	out := make([]*Server, len(r.servers))
	copy(out, r.servers)
	return out
}

func (r *Registry) Len() int {
	return len(r.servers)
}
