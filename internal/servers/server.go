package servers

import (
	"net"
	"strconv"
	"sync"

	"VPN-Subscription-bot/config"
)

const (
	DefaultConfigPath = "/etc/xray/config.json"
	DefaultAPIAddress = "127.0.0.1:10085"
	DefaultDest       = "www.google.com:443"
)

var DefaultServerNames = []string{"www.microsoft.com", "www.amazon.com", "www.cloudflare.com"}

type SSH struct {
	User    string
	Host    string
	Port    string
	KeyPath string
}

// KeyMaterial ключи Reality сервера
type KeyMaterial struct {
	PrivateKey string
	PublicKey  string
	ShortID    string
}

// Server шлюз xray. После загрузки неизменяем, кроме ключей (KeyMaterial/SetKeys).
type Server struct {
	ID          string
	Name        string
	Location    string
	Description string
	IP          string
	Domain      string
	RealityPort int
	WSPort      int
	ConfigPath  string
	APIAddress  string
	ServerNames []string
	Dest        string
	SSH         *SSH

	keysMu sync.RWMutex
	keys   KeyMaterial
}

func fromConfig(c config.ServerConfig) *Server {
	s := &Server{
		ID:          c.ID,
		Name:        c.Name,
		Location:    c.Location,
		Description: c.Description,
		IP:          c.IP,
		Domain:      c.Domain,
		RealityPort: c.RealityPort,
		WSPort:      c.VlessPort,
		ConfigPath:  c.Xray.ConfigPath,
		APIAddress:  c.Xray.APIAddress,
		ServerNames: c.Xray.Reality.ServerNames,
		Dest:        c.Xray.Reality.Dest,
		keys: KeyMaterial{
			PrivateKey: c.Xray.Reality.PrivateKey,
			PublicKey:  c.Xray.Reality.PublicKey,
			ShortID:    c.Xray.Reality.ShortID,
		},
	}
	if s.Name == "" {
		s.Name = s.ID
	}
	if s.RealityPort == 0 {
		s.RealityPort = 443
	}
	if s.WSPort == 0 {
		s.WSPort = 443
	}
	if s.ConfigPath == "" {
		s.ConfigPath = DefaultConfigPath
	}
	if s.APIAddress == "" {
		s.APIAddress = DefaultAPIAddress
	}
	if len(s.ServerNames) == 0 {
		s.ServerNames = DefaultServerNames
	}
	if s.Dest == "" {
		s.Dest = DefaultDest
	}
	if c.SSH != nil {
		s.SSH = &SSH{User: c.SSH.User, Host: c.SSH.Host, Port: c.SSH.Port, KeyPath: c.SSH.KeyPath}
		if s.SSH.Host == "" {
			s.SSH.Host = s.IP
		}
		if s.SSH.Port == "" {
			s.SSH.Port = "22"
		}
	}
	return s
}

func (s *Server) KeyMaterial() KeyMaterial {
	s.keysMu.RLock()
	defer s.keysMu.RUnlock()
	return s.keys
}

func (s *Server) SetKeys(k KeyMaterial) {
	s.keysMu.Lock()
	s.keys = k
	s.keysMu.Unlock()
}

// NeedsKeys true, если приватного ключа нет или в конфиге осталась заглушка
func (s *Server) NeedsKeys() bool {
	pk := s.KeyMaterial().PrivateKey
	return pk == "" || pk == config.PlaceholderPrivateKey
}

// Address домен, если задан, иначе IP
func (s *Server) Address() string {
	if s.Domain != "" {
		return s.Domain
	}
	return s.IP
}

// SNI первое имя из serverNames
func (s *Server) SNI() string {
	if len(s.ServerNames) == 0 {
		return ""
	}
	return s.ServerNames[0]
}

func (s *Server) dialAddr() string {
	return net.JoinHostPort(s.IP, strconv.Itoa(s.RealityPort))
}
