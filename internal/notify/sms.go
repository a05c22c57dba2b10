package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"talep/internal/config"
)

// SMSGateway posts messages to an HTTP SMS provider with basic auth.
type SMSGateway struct {
	url        string
	username   string
	password   string
	sender     string
	httpClient *http.Client
}

type smsRequest struct {
	From string `json:"from,omitempty"`
	To   string `json:"to"`
	Text string `json:"text"`
}

func NewSMSGateway(cfg config.SMSConfig, timeout time.Duration) *SMSGateway {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &SMSGateway{
		url:        cfg.URL,
		username:   cfg.Username,
		password:   cfg.Password,
		sender:     cfg.Sender,
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (g *SMSGateway) Send(ctx context.Context, phone, body string) error {
	data, err := json.Marshal(smsRequest{From: g.sender, To: phone, Text: body})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.url, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if g.username != "" {
		req.SetBasicAuth(g.username, g.password)
	}

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return fmt.Errorf("sms gateway http %d: %s", resp.StatusCode, bytes.TrimSpace(snippet))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
