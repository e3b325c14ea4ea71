package xray

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"VPN-Subscription-bot/internal/servers"
)

type Transport string

const (
	TransportReality Transport = "reality"
	TransportWS      Transport = "ws"

	TagReality = "vless-reality"
	TagWS      = "vless-ws"
	TagAPI     = "api"

	FlowVision = "xtls-rprx-vision"
)

var (
	ErrUnknownTransport = errors.New("unknown transport")
	ErrInboundNotFound  = errors.New("inbound not found")
)

// ParseTransport пустая строка означает reality
func ParseTransport(s string) (Transport, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "reality", "tcp":
		return TransportReality, nil
	case "ws", "websocket":
		return TransportWS, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownTransport, s)
}

func (t Transport) Tag() string {
	if t == TransportWS {
		return TagWS
	}
	return TagReality
}

func (t Transport) Flow() string {
	if t == TransportWS {
		return ""
	}
	return FlowVision
}

func transportForTag(tag string) Transport {
	if tag == TagWS {
		return TransportWS
	}
	return TransportReality
}

type Client struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Level int    `json:"level,omitempty"`
	Flow  string `json:"flow,omitempty"`
}

// Inbound разобранный inbound. Всё, кроме clients, хранится как есть.
type Inbound struct {
	Tag      string
	Protocol string
	Clients  []Client

	fields   map[string]json.RawMessage
	settings map[string]json.RawMessage
}

// Document конфиг xray (config.json). Неизвестные секции переживают чтение и запись без изменений.
type Document struct {
	Inbounds []*Inbound

	fields map[string]json.RawMessage
}

func ParseDocument(data []byte) (*Document, error) {
	d := &Document{}
	if err := json.Unmarshal(data, &d.fields); err != nil {
		return nil, fmt.Errorf("unmarshal config failed: %w", err)
	}
	if d.fields == nil {
		d.fields = map[string]json.RawMessage{}
	}
	raw, ok := d.fields["inbounds"]
	if !ok {
		return d, nil
	}
	var list []map[string]json.RawMessage
	if err := json.Unmarshal(raw, &list); err != nil {
		return nil, fmt.Errorf("unmarshal inbounds failed: %w", err)
	}
	for i, f := range list {
		if f == nil {
			f = map[string]json.RawMessage{}
		}
		in := &Inbound{fields: f}
		in.Tag = rawString(f["tag"])
		in.Protocol = rawString(f["protocol"])
		if s, ok := f["settings"]; ok {
			if err := json.Unmarshal(s, &in.settings); err != nil {
				return nil, fmt.Errorf("inbound %d settings: %w", i, err)
			}
			if c, ok := in.settings["clients"]; ok {
				if err := json.Unmarshal(c, &in.Clients); err != nil {
					return nil, fmt.Errorf("inbound %d clients: %w", i, err)
				}
			}
		}
		d.Inbounds = append(d.Inbounds, in)
	}
	return d, nil
}

func rawString(raw json.RawMessage) string {
	var s string
	if len(raw) == 0 || json.Unmarshal(raw, &s) != nil {
		return ""
	}
	return s
}

func (d *Document) Marshal() ([]byte, error) {
	out := make(map[string]json.RawMessage, len(d.fields)+1)
	for k, v := range d.fields {
		out[k] = v
	}
	list := make([]map[string]json.RawMessage, 0, len(d.Inbounds))
	for _, in := range d.Inbounds {
		f, err := in.encode()
		if err != nil {
			return nil, err
		}
		list = append(list, f)
	}
	raw, err := json.Marshal(list)
	if err != nil {
		return nil, err
	}
	out["inbounds"] = raw
	return json.MarshalIndent(out, "", "  ")
}

func (in *Inbound) encode() (map[string]json.RawMessage, error) {
	f := make(map[string]json.RawMessage, len(in.fields)+1)
	for k, v := range in.fields {
		f[k] = v
	}
	if in.settings == nil && len(in.Clients) == 0 {
		return f, nil
	}
	settings := make(map[string]json.RawMessage, len(in.settings)+1)
	for k, v := range in.settings {
		settings[k] = v
	}
	clients := in.Clients
	if clients == nil {
		clients = []Client{}
	}
	raw, err := json.Marshal(clients)
	if err != nil {
		return nil, err
	}
	settings["clients"] = raw
	if f["settings"], err = json.Marshal(settings); err != nil {
		return nil, err
	}
	return f, nil
}

func (d *Document) Inbound(tag string) *Inbound {
	for _, in := range d.Inbounds {
		if in.Tag == tag {
			return in
		}
	}
	return nil
}

func (in *Inbound) client(label string) (Client, bool) {
	for _, c := range in.Clients {
		if c.Email == label {
			return c, true
		}
	}
	return Client{}, false
}

// removeClient убирает все записи с этим email, keepFirst оставляет первую
func (in *Inbound) removeClient(label string, keepFirst bool) bool {
	kept := in.Clients[:0]
	removed, seen := false, false
	for _, c := range in.Clients {
		if c.Email == label {
			if keepFirst && !seen {
				seen = true
				kept = append(kept, c)
				continue
			}
			removed = true
			continue
		}
		kept = append(kept, c)
	}
	in.Clients = kept
	return removed
}

// Upsert гарантирует ровно одну запись label на inbound tag.
// Существующая запись сохраняет свой id, записи на других inbound удаляются.
func (d *Document) Upsert(tag, label, flow string, newID func() string) (Client, bool, error) {
	target := d.Inbound(tag)
	if target == nil {
		return Client{}, false, fmt.Errorf("%w: %s", ErrInboundNotFound, tag)
	}
	changed := false
	for _, in := range d.Inbounds {
		if in.removeClient(label, in == target) {
			changed = true
		}
	}
	if c, ok := target.client(label); ok {
		return c, changed, nil
	}
	c := Client{ID: newID(), Email: label, Flow: flow}
	target.Clients = append(target.Clients, c)
	return c, true, nil
}

func (d *Document) Remove(label string) bool {
	removed := false
	for _, in := range d.Inbounds {
		if in.removeClient(label, false) {
			removed = true
		}
	}
	return removed
}

func (d *Document) Find(label string) (Identity, bool) {
	for _, in := range d.Inbounds {
		if c, ok := in.client(label); ok {
			return Identity{ID: c.ID, Label: c.Email, Transport: transportForTag(in.Tag)}, true
		}
	}
	return Identity{}, false
}

// Identities все клиенты vless-inbound'ов
func (d *Document) Identities() []Identity {
	var out []Identity
	for _, in := range d.Inbounds {
		if in.Tag != TagReality && in.Tag != TagWS {
			continue
		}
		for _, c := range in.Clients {
			out = append(out, Identity{ID: c.ID, Label: c.Email, Transport: transportForTag(in.Tag)})
		}
	}
	return out
}

// SetRealityKeys прописывает privateKey и shortIds в realitySettings
func (d *Document) SetRealityKeys(privateKey, shortID string) (bool, error) {
	in := d.Inbound(TagReality)
	if in == nil {
		return false, nil
	}
	stream := map[string]json.RawMessage{}
	if raw, ok := in.fields["streamSettings"]; ok {
		if err := json.Unmarshal(raw, &stream); err != nil {
			return false, fmt.Errorf("streamSettings: %w", err)
		}
	}
	reality := map[string]json.RawMessage{}
	if raw, ok := stream["realitySettings"]; ok {
		if err := json.Unmarshal(raw, &reality); err != nil {
			return false, fmt.Errorf("realitySettings: %w", err)
		}
	}
	var err error
	if reality["privateKey"], err = json.Marshal(privateKey); err != nil {
		return false, err
	}
	if reality["shortIds"], err = json.Marshal([]string{shortID}); err != nil {
		return false, err
	}
	if stream["realitySettings"], err = json.Marshal(reality); err != nil {
		return false, err
	}
	if in.fields["streamSettings"], err = json.Marshal(stream); err != nil {
		return false, err
	}
	return true, nil
}

// DefaultDocument конфиг для сервера, у которого config.json ещё нет
func DefaultDocument(srv *servers.Server) *Document {
	keys := srv.KeyMaterial()
	sniffing := map[string]any{"enabled": true, "destOverride": []string{"http", "tls"}}
	doc := map[string]any{
		"log": map[string]any{
			"loglevel": "warning",
			"access":   "/var/log/xray/access.log",
			"error":    "/var/log/xray/error.log",
		},
		"inbounds": []any{
			map[string]any{
				"port":     srv.RealityPort,
				"protocol": "vless",
				"tag":      TagReality,
				"settings": map[string]any{"clients": []Client{}, "decryption": "none"},
				"streamSettings": map[string]any{
					"network":  "tcp",
					"security": "reality",
					"realitySettings": map[string]any{
						"show":        false,
						"dest":        srv.Dest,
						"serverNames": srv.ServerNames,
						"privateKey":  keys.PrivateKey,
						"shortIds":    []string{keys.ShortID},
					},
				},
				"sniffing": sniffing,
			},
			map[string]any{
				"port":     srv.WSPort,
				"protocol": "vless",
				"tag":      TagWS,
				"settings": map[string]any{"clients": []Client{}, "decryption": "none"},
				"streamSettings": map[string]any{
					"network":  "ws",
					"security": "tls",
					"tlsSettings": map[string]any{
						"alpn": []string{"http/1.1"},
						"certificates": []any{map[string]any{
							"certificateFile": "/etc/xray/fullchain.pem",
							"keyFile":         "/etc/xray/privkey.pem",
						}},
					},
					"wsSettings": map[string]any{"path": "/ws"},
				},
				"sniffing": sniffing,
			},
			map[string]any{
				"listen":   "127.0.0.1",
				"port":     10085,
				"protocol": "dokodemo-door",
				"settings": map[string]any{"address": "127.0.0.1"},
				"tag":      TagAPI,
			},
		},
		"outbounds": []any{
			map[string]any{"protocol": "freedom", "tag": "direct"},
			map[string]any{"protocol": "blackhole", "tag": "blocked"},
		},
		"policy": map[string]any{
			"levels": map[string]any{"0": map[string]any{"statsUserUplink": true, "statsUserDownlink": true}},
			"system": map[string]any{"statsInboundUplink": true, "statsInboundDownlink": true},
		},
		"routing": map[string]any{
			"domainStrategy": "AsIs",
			"rules": []any{
				map[string]any{"type": "field", "inboundTag": []string{TagAPI}, "outboundTag": TagAPI},
				map[string]any{"type": "field", "outboundTag": "blocked", "ip": []string{"geoip:private"}},
				map[string]any{"type": "field", "outboundTag": "blocked", "protocol": []string{"bittorrent"}},
			},
		},
		"stats": map[string]any{},
		"api":   map[string]any{"tag": TagAPI, "services": []string{"StatsService"}},
	}
	data, err := json.Marshal(doc)
	if err != nil {
		panic(err)
	}
	d, err := ParseDocument(data)
	if err != nil {
		panic(err)
	}
	return d
}
