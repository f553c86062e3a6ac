package broker

import (
	"bytes"
	"context"
	"crypto/subtle"
	"fmt"
	"log/slog"
	"sync/atomic"

	mqtt "github.com/mochi-mqtt/server/v2"
	"github.com/mochi-mqtt/server/v2/packets"

	"github.com/jola2802/iot-gateway-sub000/internal/model"
	"github.com/jola2802/iot-gateway-sub000/internal/store"
)

// AuthHook ověřuje připojení a ACL proti snímku registru uživatelů brokeru.
// Snímek se po každé změně uživatelů vymění celý (Reload).
type AuthHook struct {
	mqtt.HookBase
	users  store.BrokerUsers
	logger *slog.Logger
	snap   atomic.Pointer[map[string]model.BrokerUser]
}

// NewAuthHook vytvoří hook s prázdným snímkem. Před startem je nutné zavolat Reload.
func NewAuthHook(users store.BrokerUsers, logger *slog.Logger) *AuthHook {
	h := &AuthHook{users: users, logger: logger}
	empty := map[string]model.BrokerUser{}
	h.snap.Store(&empty)
	return h
}

func (h *AuthHook) ID() string {
	return "gateway-auth"
}

func (h *AuthHook) Provides(b byte) bool {
	return bytes.Contains([]byte{
		mqtt.OnConnectAuthenticate,
		mqtt.OnACLCheck,
	}, []byte{b})
}

// Reload načte uživatele z registru a atomicky vymění snímek.
func (h *AuthHook) Reload(ctx context.Context) error {
	list, err := h.users.ListBrokerUsers(ctx)
	if err != nil {
		return fmt.Errorf("nelze načíst uživatele brokeru: %w", err)
	}
	next := make(map[string]model.BrokerUser, len(list))
	for _, u := range list {
		next[u.Username] = u
	}
	h.snap.Store(&next)
	h.logger.Info("Uživatelé brokeru načteni", "count", len(next))
	return nil
}

func (h *AuthHook) lookup(username string) (model.BrokerUser, bool) {
	u, ok := (*h.snap.Load())[username]
	return u, ok
}

// Authenticate porovná jméno a heslo se snímkem.
func (h *AuthHook) Authenticate(username, password string) bool {
	u, ok := h.lookup(username)
	if !ok {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(u.Password), []byte(password)) == 1
}

// Check vyhodnotí ACL pro uživatele.
func (h *AuthHook) Check(username, topic string, write bool) bool {
	u, ok := h.lookup(username)
	if !ok {
		return false
	}
	return Allowed(u.ACLs, topic, write)
}

func (h *AuthHook) OnConnectAuthenticate(cl *mqtt.Client, pk packets.Packet) bool {
	ok := h.Authenticate(string(pk.Connect.Username), string(pk.Connect.Password))
	if !ok {
		h.logger.Warn("Odmítnuté přihlášení k brokeru", "username", string(pk.Connect.Username), "remote", cl.Net.Remote)
	}
	return ok
}

func (h *AuthHook) OnACLCheck(cl *mqtt.Client, topic string, write bool) bool {
	if cl.Net.Inline {
		return true
	}
	return h.Check(string(cl.Properties.Username), topic, write)
}
