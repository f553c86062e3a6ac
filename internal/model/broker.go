package model

import (
	"encoding/json"
	"strings"
)

// Permission je úroveň přístupu k MQTT topicu.
type Permission int

const (
	PermNone      Permission = 0
	PermRead      Permission = 1
	PermWrite     Permission = 2
	PermReadWrite Permission = 3
)

// Valid vrací true jen pro hodnoty 0 až 3.
func (p Permission) Valid() bool {
	return p >= PermNone && p <= PermReadWrite
}

// CanRead a CanWrite odpovídají bitům R a W.
func (p Permission) CanRead() bool  { return p == PermRead || p == PermReadWrite }
func (p Permission) CanWrite() bool { return p == PermWrite || p == PermReadWrite }

func (p Permission) String() string {
	switch p {
	case PermNone:
		return "NA"
	case PermRead:
		return "R"
	case PermWrite:
		return "W"
	case PermReadWrite:
		return "R/W"
	}
	return "?"
}

// UnmarshalJSON přijímá číslo i číslo v řetězci ("3"), jak ho posílají formuláře.
func (p *Permission) UnmarshalJSON(b []byte) error {
	var n int
	if err := json.Unmarshal(b, &n); err != nil {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return invalidf("permission musí být číslo")
		}
		if err := json.Unmarshal([]byte(strings.TrimSpace(s)), &n); err != nil {
			return invalidf("permission musí být číslo")
		}
	}
	*p = Permission(n)
	return nil
}

// AclEntry přiřazuje MQTT topic filtru úroveň přístupu.
type AclEntry struct {
	Topic      string     `json:"topic"`
	Permission Permission `json:"permission"`
}

// BrokerUser je uživatel interního MQTT brokeru.
type BrokerUser struct {
	Username string     `json:"username"`
	Password string     `json:"password"`
	ACLs     []AclEntry `json:"acls"`
}

// Validate kontroluje jméno, heslo a všechna ACL pravidla.
func (u *BrokerUser) Validate() error {
	u.Username = strings.TrimSpace(u.Username)
	if u.Username == "" {
		return invalidf("chybí uživatelské jméno")
	}
	if u.Password == "" {
		return invalidf("chybí heslo")
	}
	for _, acl := range u.ACLs {
		if !acl.Permission.Valid() {
			return invalidf("permission %d pro topic %q mimo rozsah 0-3", acl.Permission, acl.Topic)
		}
		if !ValidTopicFilter(acl.Topic) {
			return invalidf("neplatný topic filtr %q", acl.Topic)
		}
	}
	return nil
}

// ValidTopicFilter kontroluje MQTT filtr: '#' jen jako poslední úroveň, '+' jen jako celá úroveň.
func ValidTopicFilter(filter string) bool {
	if filter == "" {
		return false
	}
	levels := strings.Split(filter, "/")
	for i, lvl := range levels {
		if strings.Contains(lvl, "#") && (lvl != "#" || i != len(levels)-1) {
			return false
		}
		if strings.Contains(lvl, "+") && lvl != "+" {
			return false
		}
	}
	return true
}
