package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// DefaultExpoURL: публичный endpoint Expo push.
const DefaultExpoURL = "https://exp.host/--/api/v2/push/send"

type expoPayload struct {
	To    string            `json:"to"`
	Title string            `json:"title"`
	Body  string            `json:"body"`
	Data  map[string]string `json:"data"`
}

type expoResponse struct {
	Data struct {
		Status  string `json:"status"`
		Message string `json:"message"`
	} `json:"data"`
}

// ExpoGateway отправляет уведомления через Expo push API.
type ExpoGateway struct {
	url        string
	httpClient *http.Client
}

// NewExpoGateway создаёт шлюз Expo.
func NewExpoGateway(url string, timeout time.Duration) *ExpoGateway {
	if url == "" {
		url = DefaultExpoURL
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &ExpoGateway{
		url:        url,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Push отправляет сообщение на Expo push token.
func (g *ExpoGateway) Push(ctx context.Context, token string, msg Message) error {
	data := msg.Data
	if data == nil {
		data = map[string]string{}
	}
	body, err := json.Marshal(expoPayload{To: token, Title: msg.Title, Body: msg.Body, Data: data})
	if err != nil {
		return fmt.Errorf("encode expo payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("expo push: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected expo status: %d", resp.StatusCode)
	}

	var out expoResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return fmt.Errorf("decode expo response: %w", err)
	}
	if out.Data.Status == "error" {
		return fmt.Errorf("expo rejected push: %s", out.Data.Message)
	}
	return nil
}
