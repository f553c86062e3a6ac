package model

import (
	"net/mail"
	"strings"
)

// MinPasswordLength je minimální délka hesla do konzole.
const MinPasswordLength = 8

// Profile jsou údaje přihlášeného uživatele konzole.
type Profile struct {
	Username string `json:"username"`
	Name     string `json:"name"`
	Email    string `json:"email"`
	Company  string `json:"company"`
	Address  string `json:"address"`
	City     string `json:"city"`
	Country  string `json:"country"`
}

// ProfileUpdate mění osobní údaje.
type ProfileUpdate struct {
	Name    string `json:"name"`
	Email   string `json:"email"`
	Company string `json:"company"`
}

// Validate kontroluje e-mail, pokud je vyplněný.
func (u *ProfileUpdate) Validate() error {
	u.Name = strings.TrimSpace(u.Name)
	u.Email = strings.TrimSpace(u.Email)
	if u.Email != "" {
		if _, err := mail.ParseAddress(u.Email); err != nil {
			return invalidf("neplatný e-mail %q", u.Email)
		}
	}
	return nil
}

// ContactUpdate mění adresu.
type ContactUpdate struct {
	Address string `json:"address"`
	City    string `json:"city"`
	Country string `json:"country"`
}

// PasswordChange je požadavek na změnu hesla.
type PasswordChange struct {
	CurrentPassword string `json:"currentPassword"`
	NewPassword     string `json:"newPassword"`
}

// Validate kontroluje délku nového hesla.
func (c PasswordChange) Validate() error {
	if c.CurrentPassword == "" {
		return invalidf("chybí současné heslo")
	}
	if len(c.NewPassword) < MinPasswordLength {
		return invalidf("nové heslo musí mít alespoň %d znaků", MinPasswordLength)
	}
	return nil
}
