package forwarding

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/jola2802/iot-gateway-sub000/internal/model"
	"github.com/jola2802/iot-gateway-sub000/internal/retry"
)

// RESTSink posílá dávku jako JSON pole metodou POST.
type RESTSink struct {
	client  *http.Client
	url     string
	headers []model.Header
	policy  retry.Policy
}

// NewRESTSink vytvoří REST cíl.
func NewRESTSink(client *http.Client, url string, headers []model.Header, policy retry.Policy) *RESTSink {
	return &RESTSink{client: client, url: url, headers: headers, policy: policy}
}

func (s *RESTSink) Send(ctx context.Context, readings []model.Reading) error {
	body, err := EncodeWire(readings)
	if err != nil {
		return fmt.Errorf("chyba serializace dat: %w", err)
	}
	return s.policy.Do(ctx, func() error {
		return s.post(ctx, body)
	})
}

func (s *RESTSink) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return retry.Permanent(fmt.Errorf("nelze sestavit požadavek: %w", err))
	}
	for _, h := range s.headers {
		req.Header.Add(h.Name, h.Value)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("chyba odeslání požadavku: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	switch {
	case resp.StatusCode == http.StatusOK, resp.StatusCode == http.StatusCreated, resp.StatusCode == http.StatusAccepted:
		return nil
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("cíl vrátil HTTP %d", resp.StatusCode)
	default:
		return retry.Permanent(fmt.Errorf("cíl vrátil HTTP %d", resp.StatusCode))
	}
}

func (s *RESTSink) Close() error { return nil }
