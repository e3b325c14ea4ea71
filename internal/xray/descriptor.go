package xray

import (
	"errors"
	"fmt"
	"net"
	"strconv"

	"VPN-Subscription-bot/internal/servers"
)

var (
	ErrDomainRequired  = errors.New("websocket transport requires a server domain")
	ErrAddressRequired = errors.New("server has neither domain nor ip")
)

// Identity учётная запись клиента на шлюзе
type Identity struct {
	ID        string
	Label     string
	Transport Transport
}

// BuildConnectionDescriptor собирает vless:// ссылку. Без I/O, порядок параметров фиксирован.
func BuildConnectionDescriptor(identityID, label string, transport Transport, srv *servers.Server) (string, error) {
	switch transport {
	case TransportReality, "":
		addr := srv.Address()
		if addr == "" {
			return "", ErrAddressRequired
		}
		keys := srv.KeyMaterial()
		return fmt.Sprintf(
			"vless://%s@%s?security=reality&encryption=none&flow=%s&type=tcp&sni=%s&fp=chrome&pbk=%s&sid=%s#%s",
			identityID, net.JoinHostPort(addr, strconv.Itoa(srv.RealityPort)),
			FlowVision, srv.SNI(), keys.PublicKey, keys.ShortID, label,
		), nil
	case TransportWS:
		if srv.Domain == "" {
			return "", ErrDomainRequired
		}
		return fmt.Sprintf(
			"vless://%s@%s?security=tls&encryption=none&type=ws&path=/ws&host=%s&sni=%s#%s",
			identityID, net.JoinHostPort(srv.Domain, strconv.Itoa(srv.WSPort)),
			srv.Domain, srv.Domain, label,
		), nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownTransport, transport)
}
