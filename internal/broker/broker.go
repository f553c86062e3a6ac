// Package broker provozuje vestavěný MQTT broker (mochi-mqtt) s autentizací
// proti registru uživatelů brokeru.
package broker

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"os"
	"sync/atomic"

	mqtt "github.com/mochi-mqtt/server/v2"
	"github.com/mochi-mqtt/server/v2/listeners"
	"github.com/mochi-mqtt/server/v2/packets"
	"gopkg.in/yaml.v3"

	"github.com/jola2802/iot-gateway-sub000/internal/model"
	"github.com/jola2802/iot-gateway-sub000/internal/store"
)

// AdminUsername je uživatel, kterým se ke brokeru připojuje konzole i služby brány.
const AdminUsername = "admin"

// ListenerConfig je jeden listener v YAML souboru.
type ListenerConfig struct {
	ID      string `yaml:"id"`
	Type    string `yaml:"type"` // tcp | websocket | http
	Address string `yaml:"address"`
	TLS     bool   `yaml:"tls"`
}

type listenersFile struct {
	Listeners []ListenerConfig `yaml:"listeners"`
}

// DefaultListeners se použijí, pokud soubor s listenery není zadaný.
func DefaultListeners() []ListenerConfig {
	return []ListenerConfig{
		{ID: "tcp", Type: "tcp", Address: ":1883"},
		{ID: "ws", Type: "websocket", Address: ":5101", TLS: true},
	}
}

// Endpoint je adresa websocket listeneru, na kterou se připojuje prohlížeč konzole.
type Endpoint struct {
	Scheme string // ws | wss
	Port   string
}

// URL vrací adresu brokeru pro daný host.
func (e Endpoint) URL(host string) string {
	return fmt.Sprintf("%s://%s/", e.Scheme, net.JoinHostPort(host, e.Port))
}

// WebsocketEndpoint vrací adresu prvního websocket listeneru.
// ok je false, pokud žádný websocket listener není nastavený.
func WebsocketEndpoint(ls []ListenerConfig) (Endpoint, bool) {
	for _, l := range ls {
		if l.Type != "websocket" {
			continue
		}
		_, port, err := net.SplitHostPort(l.Address)
		if err != nil || port == "" {
			continue
		}
		scheme := "ws"
		if l.TLS {
			scheme = "wss"
		}
		return Endpoint{Scheme: scheme, Port: port}, true
	}
	return Endpoint{}, false
}

// LoadListeners načte listenery z YAML. Prázdná cesta vrací výchozí sadu.
func LoadListeners(path string) ([]ListenerConfig, error) {
	if path == "" {
		return DefaultListeners(), nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("nelze číst %s: %w", path, err)
	}
	var f listenersFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("neplatný YAML %s: %w", path, err)
	}
	if len(f.Listeners) == 0 {
		return nil, fmt.Errorf("%s neobsahuje žádný listener", path)
	}
	for i, l := range f.Listeners {
		switch l.Type {
		case "tcp", "websocket", "http":
		default:
			return nil, fmt.Errorf("listener %q: neznámý typ %q", l.ID, l.Type)
		}
		if l.Address == "" {
			return nil, fmt.Errorf("listener %q: chybí adresa", l.ID)
		}
		if l.ID == "" {
			f.Listeners[i].ID = fmt.Sprintf("%s-%d", l.Type, i)
		}
	}
	return f.Listeners, nil
}

// Config je nastavení brokeru.
type Config struct {
	Listeners []ListenerConfig
	// CertFile a KeyFile jsou volitelné. Bez nich TLS listenery dostanou self-signed certifikát.
	CertFile string
	KeyFile  string
}

// Stats jsou čítače brokeru pro dashboard.
type Stats struct {
	Uptime           int64
	MessagesReceived int64
	ClientsConnected int64
}

// MessageHandler dostává zprávy z inline odběru.
type MessageHandler = func(topic string, payload []byte)

// Broker obaluje mochi server.
type Broker struct {
	server *mqtt.Server
	auth   *AuthHook
	logger *slog.Logger
	subID  atomic.Int32
}

// New vytvoří broker, zaregistruje auth hook a listenery. Uživatele načte z registru.
func New(ctx context.Context, cfg Config, users store.BrokerUsers, logger *slog.Logger) (*Broker, error) {
	server := mqtt.New(&mqtt.Options{
		InlineClient: true,
		Logger:       logger.With("component", "mqtt-broker"),
	})

	auth := NewAuthHook(users, logger)
	if err := auth.Reload(ctx); err != nil {
		return nil, err
	}
	if err := server.AddHook(auth, nil); err != nil {
		return nil, fmt.Errorf("nelze přidat auth hook: %w", err)
	}

	var tlsConfig *tls.Config
	for _, l := range cfg.Listeners {
		if !l.TLS {
			continue
		}
		cert, err := loadOrGenerateCert(cfg.CertFile, cfg.KeyFile)
		if err != nil {
			return nil, err
		}
		tlsConfig = &tls.Config{Certificates: []tls.Certificate{cert}, MinVersion: tls.VersionTLS12}
		break
	}

	for _, l := range cfg.Listeners {
		lc := listeners.Config{ID: l.ID, Address: l.Address}
		if l.TLS {
			lc.TLSConfig = tlsConfig
		}
		var listener listeners.Listener
		switch l.Type {
		case "tcp":
			listener = listeners.NewTCP(lc)
		case "websocket":
			listener = listeners.NewWebsocket(lc)
		case "http":
			listener = listeners.NewHTTPStats(lc, server.Info)
		default:
			logger.Warn("Neznámý typ listeneru", "type", l.Type)
			continue
		}
		if err := server.AddListener(listener); err != nil {
			return nil, fmt.Errorf("nelze přidat listener %s: %w", l.ID, err)
		}
	}

	return &Broker{server: server, auth: auth, logger: logger}, nil
}

// Run spustí listenery a blokuje do zrušení ctx, pak broker zavře.
func (b *Broker) Run(ctx context.Context) error {
	if err := b.server.Serve(); err != nil {
		return fmt.Errorf("broker nelze spustit: %w", err)
	}
	b.logger.Info("MQTT broker běží")
	<-ctx.Done()
	return b.Close()
}

// Close zastaví broker.
func (b *Broker) Close() error {
	return b.server.Close()
}

// Reload znovu načte uživatele brokeru. Volá se po každé změně registru.
func (b *Broker) Reload(ctx context.Context) error {
	return b.auth.Reload(ctx)
}

// Publish odešle zprávu přes inline klienta (QoS 0, bez retain).
func (b *Broker) Publish(topic string, payload []byte) error {
	return b.server.Publish(topic, payload, false, 0)
}

// PublishRetained odešle zprávu s příznakem retain.
func (b *Broker) PublishRetained(topic string, payload []byte) error {
	return b.server.Publish(topic, payload, true, 0)
}

// Subscribe přihlásí inline odběr a vrací funkci pro jeho zrušení.
func (b *Broker) Subscribe(filter string, handler MessageHandler) (func() error, error) {
	id := int(b.subID.Add(1))
	err := b.server.Subscribe(filter, id, func(cl *mqtt.Client, sub packets.Subscription, pk packets.Packet) {
		handler(pk.TopicName, pk.Payload)
	})
	if err != nil {
		return nil, fmt.Errorf("inline subscribe %s selhal: %w", filter, err)
	}
	return func() error {
		return b.server.Unsubscribe(filter, id)
	}, nil
}

// Stats vrací kopii čítačů brokeru.
func (b *Broker) Stats() Stats {
	info := b.server.Info.Clone()
	return Stats{
		Uptime:           info.Uptime,
		MessagesReceived: info.MessagesReceived,
		ClientsConnected: info.ClientsConnected,
	}
}

// EnsureAdmin založí nebo aktualizuje uživatele admin s plným přístupem.
func EnsureAdmin(ctx context.Context, users store.BrokerUsers, password string) error {
	u, err := users.GetBrokerUser(ctx, AdminUsername)
	if err == nil && u.Password == password && len(u.ACLs) == 0 {
		return nil
	}
	return users.SaveBrokerUser(ctx, model.BrokerUser{Username: AdminUsername, Password: password})
}
