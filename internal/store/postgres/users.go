package postgres

import (
	"context"
	"fmt"

	"github.com/jola2802/iot-gateway-sub000/internal/model"
)

func (s *Store) GetProfile(ctx context.Context, username string) (model.Profile, error) {
	p := model.Profile{Username: username}
	err := s.db.QueryRow(ctx, `
		SELECT name, email, company, address, city, country
		FROM console_users WHERE username = $1`, username,
	).Scan(&p.Name, &p.Email, &p.Company, &p.Address, &p.City, &p.Country)
	if err != nil {
		return model.Profile{}, mapErr(err, fmt.Sprintf("uživatel %q", username))
	}
	return p, nil
}

func (s *Store) UpdateProfile(ctx context.Context, username string, u model.ProfileUpdate) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE console_users SET name = $2, email = $3, company = $4 WHERE username = $1`,
		username, u.Name, u.Email, u.Company)
	if err != nil {
		return fmt.Errorf("nelze uložit profil: %w", err)
	}
	return notFoundIfNone(tag, fmt.Sprintf("uživatel %q", username))
}

func (s *Store) UpdateContact(ctx context.Context, username string, c model.ContactUpdate) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE console_users SET address = $2, city = $3, country = $4 WHERE username = $1`,
		username, c.Address, c.City, c.Country)
	if err != nil {
		return fmt.Errorf("nelze uložit kontakt: %w", err)
	}
	return notFoundIfNone(tag, fmt.Sprintf("uživatel %q", username))
}

func (s *Store) PasswordHash(ctx context.Context, username string) ([]byte, error) {
	var hash []byte
	err := s.db.QueryRow(ctx, `SELECT password_hash FROM console_users WHERE username = $1`, username).Scan(&hash)
	if err != nil {
		return nil, mapErr(err, fmt.Sprintf("uživatel %q", username))
	}
	return hash, nil
}

func (s *Store) SetPasswordHash(ctx context.Context, username string, hash []byte) error {
	tag, err := s.db.Exec(ctx, `UPDATE console_users SET password_hash = $2 WHERE username = $1`, username, hash)
	if err != nil {
		return fmt.Errorf("nelze uložit heslo: %w", err)
	}
	return notFoundIfNone(tag, fmt.Sprintf("uživatel %q", username))
}

func (s *Store) EnsureUser(ctx context.Context, username string, hash []byte) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO console_users (username, password_hash) VALUES ($1, $2)
		ON CONFLICT (username) DO NOTHING`, username, hash)
	if err != nil {
		return fmt.Errorf("nelze založit uživatele %q: %w", username, err)
	}
	return nil
}
