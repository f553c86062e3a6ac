package broker

import (
	"strings"

	"github.com/jola2802/iot-gateway-sub000/internal/model"
)

// MatchTopic ověří, zda topic odpovídá MQTT filtru.
// Topicy začínající '$' nesedí na filtry začínající zástupným znakem.
func MatchTopic(filter, topic string) bool {
	if filter == "" || topic == "" {
		return false
	}
	if strings.HasPrefix(topic, "$") && (strings.HasPrefix(filter, "#") || strings.HasPrefix(filter, "+")) {
		return false
	}
	fl := strings.Split(filter, "/")
	tl := strings.Split(topic, "/")
	for i, f := range fl {
		if f == "#" {
			return i == len(fl)-1
		}
		if i >= len(tl) {
			return false
		}
		if f != "+" && f != tl[i] {
			return false
		}
	}
	return len(fl) == len(tl)
}

// specificity slouží k porovnání filtrů: víc pevných úrovní vyhrává,
// pak méně '+', pak filtr bez '#'.
type specificity struct {
	literal int
	plus    int
	hash    bool
}

func specificityOf(filter string) specificity {
	var s specificity
	for _, lvl := range strings.Split(filter, "/") {
		switch lvl {
		case "#":
			s.hash = true
		case "+":
			s.plus++
		default:
			s.literal++
		}
	}
	return s
}

func (s specificity) moreThan(o specificity) bool {
	if s.literal != o.literal {
		return s.literal > o.literal
	}
	if s.plus != o.plus {
		return s.plus < o.plus
	}
	return !s.hash && o.hash
}

// Allowed rozhodne o přístupu k topicu podle ACL uživatele.
// Uživatel bez ACL smí vše. Jinak rozhoduje nejkonkrétnější odpovídající filtr
// a pokud žádný neodpovídá, přístup je zamítnut.
func Allowed(acls []model.AclEntry, topic string, write bool) bool {
	if len(acls) == 0 {
		return true
	}
	found := false
	var best specificity
	var perm model.Permission
	for _, acl := range acls {
		if !MatchTopic(acl.Topic, topic) {
			continue
		}
		s := specificityOf(acl.Topic)
		if !found || s.moreThan(best) {
			found = true
			best = s
			perm = acl.Permission
		}
	}
	if !found {
		return false
	}
	if write {
		return perm.CanWrite()
	}
	return perm.CanRead()
}

// DeviceUser sestaví uživatele brokeru pro MQTT zařízení: smí jen publikovat
// a číst pod data/mqtt/<id>/, vše ostatní je zakázané.
func DeviceUser(d model.Device) model.BrokerUser {
	return model.BrokerUser{
		Username: d.Name,
		Password: d.Password,
		ACLs: []model.AclEntry{
			{Topic: "#", Permission: model.PermNone},
			{Topic: model.DeviceDataTopic(d), Permission: model.PermReadWrite},
		},
	}
}
