package capture

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/jola2802/iot-gateway-sub000/internal/model"
	"github.com/jola2802/iot-gateway-sub000/internal/retry"
)

// upload pošle PNG metodou POST na upload_url procesu.
// Chyby 5xx a 429 se opakují, ostatní stavy mimo 2xx jsou trvalé.
func (m *Manager) upload(ctx context.Context, p model.ImageProcess, data []byte, at time.Time) error {
	return m.policy.Do(ctx, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.UploadURL, bytes.NewReader(data))
		if err != nil {
			return retry.Permanent(fmt.Errorf("nelze sestavit požadavek: %w", err))
		}
		req.Header.Set("Content-Type", contentType)
		for name, value := range p.UploadHeaders {
			req.Header.Set(name, value)
		}
		if p.TimestampHeaderName != "" {
			req.Header.Set(p.TimestampHeaderName, at.UTC().Format(TimestampLayout))
		}

		resp, err := m.client.Do(req)
		if err != nil {
			return fmt.Errorf("chyba odeslání snímku: %w", err)
		}
		defer resp.Body.Close()
		_, _ = io.Copy(io.Discard, resp.Body)

		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			return nil
		case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
			return fmt.Errorf("server uploadu vrátil HTTP %d", resp.StatusCode)
		default:
			return retry.Permanent(fmt.Errorf("server uploadu vrátil HTTP %d", resp.StatusCode))
		}
	})
}
