package analytics

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"
)

const DefaultEndpoint = "https://www.google-analytics.com/mp/collect"

type Event struct {
	Name   string         `json:"name"`
	Params map[string]any `json:"params,omitempty"`
}

type Payload struct {
	ClientID string  `json:"client_id"`
	UserID   string  `json:"user_id,omitempty"`
	Events   []Event `json:"events"`
}

type Config struct {
	MeasurementID string
	APISecret     string
	Endpoint      string
	Timeout       time.Duration
}

// Forwarder relays events to the GA4 Measurement Protocol.
type Forwarder struct {
	cfg    Config
	client *http.Client
	logger *slog.Logger
}

func NewForwarder(cfg Config, logger *slog.Logger) *Forwarder {
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultEndpoint
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Forwarder{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logger,
	}
}

func (f *Forwarder) IsConfigured() bool {
	return f != nil && f.cfg.MeasurementID != "" && f.cfg.APISecret != ""
}

func (f *Forwarder) Forward(ctx context.Context, p Payload) error {
	if !f.IsConfigured() {
		return nil
	}
	if p.ClientID == "" {
		return fmt.Errorf("client id is required")
	}
	if len(p.Events) == 0 {
		return nil
	}
	body, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}

	q := url.Values{}
	q.Set("measurement_id", f.cfg.MeasurementID)
	q.Set("api_secret", f.cfg.APISecret)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.cfg.Endpoint+"?"+q.Encode(), bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return fmt.Errorf("forward analytics: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode >= 300 {
		return fmt.Errorf("forward analytics: status %d", resp.StatusCode)
	}
	return nil
}
