package console

import (
	"context"

	"github.com/jola2802/iot-gateway-sub000/internal/auth"
	"github.com/jola2802/iot-gateway-sub000/internal/history"
	"github.com/jola2802/iot-gateway-sub000/internal/model"
)

// --- účet konzole ---

// Login ověří jméno a heslo.
func (s *Service) Login(ctx context.Context, username, password string) error {
	return auth.Verify(ctx, s.store, username, password)
}

func (s *Service) Profile(ctx context.Context, username string) (model.Profile, error) {
	return s.store.GetProfile(ctx, username)
}

func (s *Service) UpdateProfile(ctx context.Context, username string, u model.ProfileUpdate) error {
	if err := u.Validate(); err != nil {
		return err
	}
	return s.store.UpdateProfile(ctx, username, u)
}

func (s *Service) UpdateContact(ctx context.Context, username string, c model.ContactUpdate) error {
	return s.store.UpdateContact(ctx, username, c)
}

func (s *Service) ChangePassword(ctx context.Context, username string, c model.PasswordChange) error {
	if err := auth.ChangePassword(ctx, s.store, username, c); err != nil {
		return err
	}
	s.logger.Info("Heslo změněno", "username", username)
	return nil
}

// IssueWSToken vydá krátkodobý token pro WebSocket endpointy.
func (s *Service) IssueWSToken(ctx context.Context) (string, error) {
	return s.cache.IssueToken(ctx, WSTokenTTL)
}

// --- historie ---

// QueryData vrací body grafu jednoho měření.
func (s *Service) QueryData(ctx context.Context, req history.Request) ([]model.Sample, error) {
	if s.history == nil {
		return nil, ErrUnavailable
	}
	q, err := history.ParseRequest(req, s.loc, s.now())
	if err != nil {
		return nil, err
	}
	return s.history.Query(ctx, q)
}

// Measurements vrací názvy měření zařízení za posledních 30 dní.
func (s *Service) Measurements(ctx context.Context, deviceID string) ([]string, error) {
	if s.history == nil {
		return nil, ErrUnavailable
	}
	return s.history.Measurements(ctx, deviceID)
}
