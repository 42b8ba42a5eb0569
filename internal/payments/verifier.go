// Package payments проверяет мобильные платежи через API банка.
package payments

import (
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// Status: результат проверки платежа.
type Status string

const (
	StatusConfirmed Status = "confirmed"
	StatusPending   Status = "pending"
	StatusFailed    Status = "failed"
)

var ErrNotConfigured = errors.New("payments: bank api not configured")

const (
	p2pPath      = "v1/pagos/p2p"
	p2pChannel   = "23"
	bankDayShape = "20060102"
)

// PaymentRecord: данные платежа для поиска в выписке банка.
type PaymentRecord struct {
	Reference string
	Phone     string
	From      time.Time
	To        time.Time
}

// Verifier проверяет платёж во внешней системе.
type Verifier interface {
	Verify(ctx context.Context, rec PaymentRecord) (Status, error)
}

type p2pResponse struct {
	Payments []struct {
		Reference string `json:"referencia"`
	} `json:"pagos"`
}

// BankVerifier ищет платёж в выписке P2P банка. Запросы подписываются HMAC-SHA384.
type BankVerifier struct {
	baseURL    string
	merchantID string
	apiKey     string
	apiSecret  string
	httpClient *http.Client
	now        func() time.Time
}

// NewBankVerifier создаёт клиента банка.
func NewBankVerifier(baseURL, merchantID, apiKey, apiSecret string, timeout time.Duration) *BankVerifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &BankVerifier{
		baseURL:    baseURL,
		merchantID: merchantID,
		apiKey:     apiKey,
		apiSecret:  apiSecret,
		httpClient: &http.Client{Timeout: timeout},
		now:        time.Now,
	}
}

// Sign возвращает подпись запроса к path с одноразовым nonce.
func Sign(secret, path, nonce string) string {
	mac := hmac.New(sha512.New384, []byte(secret))
	mac.Write([]byte("/" + path + nonce))
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify ищет ссылку платежа в выписке за период rec.From..rec.To.
// Найденный платёж подтверждён, отсутствующий пока в ожидании,
// отказ банка в запросе считается неуспешной проверкой.
func (v *BankVerifier) Verify(ctx context.Context, rec PaymentRecord) (Status, error) {
	if v.baseURL == "" || v.apiKey == "" {
		return "", ErrNotConfigured
	}

	u, err := url.Parse(v.baseURL)
	if err != nil {
		return "", fmt.Errorf("invalid bank base url: %w", err)
	}
	u.Path = fmt.Sprintf("%s/%s/%s", u.Path, p2pPath, v.merchantID)
	q := url.Values{}
	q.Set("canal", p2pChannel)
	q.Set("fi", rec.From.Format(bankDayShape))
	q.Set("ff", rec.To.Format(bankDayShape))
	q.Set("tlf", rec.Phone)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}

	nonce := strconv.FormatInt(v.now().UnixMilli(), 10)
	req.Header.Set("api-key", v.apiKey)
	req.Header.Set("api-signature", Sign(v.apiSecret, p2pPath, nonce))
	req.Header.Set("nonce", nonce)

	resp, err := v.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("bank request: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return StatusFailed, nil
	default:
		return "", fmt.Errorf("unexpected bank status: %d", resp.StatusCode)
	}

	var payload p2pResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", fmt.Errorf("decode bank response: %w", err)
	}
	for _, p := range payload.Payments {
		if p.Reference == rec.Reference {
			return StatusConfirmed, nil
		}
	}
	return StatusPending, nil
}
