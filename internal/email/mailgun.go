package email

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const defaultMailgunBaseURL = "https://api.mailgun.net/v3"

// MailgunProvider implements the Provider interface for Mailgun
type MailgunProvider struct {
	apiKey  string
	from    string
	domain  string
	baseURL string
	client  *http.Client
}

// MailgunResponse represents the Mailgun API response
type MailgunResponse struct {
	Message string `json:"message"`
	ID      string `json:"id"`
}

// NewMailgunProvider creates a new Mailgun provider with default base URL
func NewMailgunProvider(apiKey, domain, from string) *MailgunProvider {
	return NewMailgunProviderWithClient(apiKey, domain, from, defaultMailgunBaseURL, nil)
}

// NewMailgunProviderWithClient lets callers point at another base URL (EU
// region, tests) and supply the HTTP client.
func NewMailgunProviderWithClient(apiKey, domain, from, baseURL string, client *http.Client) *MailgunProvider {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &MailgunProvider{
		apiKey:  apiKey,
		domain:  domain,
		from:    from,
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  client,
	}
}

// SendEmail sends an email via the Mailgun API
func (m *MailgunProvider) SendEmail(ctx context.Context, email *Email) error {
	if email == nil {
		return fmt.Errorf("email is required")
	}

	data := url.Values{}
	data.Set("from", m.from)
	data.Set("to", email.To)
	data.Set("subject", email.Subject)
	if email.Text != "" {
		data.Set("text", email.Text)
	}
	if email.HTML != "" {
		data.Set("html", email.HTML)
	}
	if name := email.Tags["template"]; name != "" {
		data.Add("o:tag", name)
	}
	for key, value := range email.Tags {
		data.Set("v:"+key, value)
	}

	apiURL := fmt.Sprintf("%s/%s/messages", m.baseURL, m.domain)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, apiURL, strings.NewReader(data.Encode()))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth("api", m.apiKey)

	status, body, err := m.do(req)
	if err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}
	var resp MailgunResponse
	decoded := json.Unmarshal(body, &resp) == nil
	if status != http.StatusOK {
		if decoded && resp.Message != "" {
			return fmt.Errorf("mailgun error: %s", resp.Message)
		}
		return fmt.Errorf("mailgun API returned status %d: %s", status, string(body))
	}
	if decoded {
		email.ProviderID = resp.ID
	}
	return nil
}

// ValidateAPIKey checks if the API key is valid by making a test request
func (m *MailgunProvider) ValidateAPIKey(ctx context.Context) error {
	apiURL := fmt.Sprintf("%s/%s/domains", m.baseURL, m.domain)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, apiURL, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.SetBasicAuth("api", m.apiKey)

	status, body, err := m.do(req)
	if err != nil {
		return fmt.Errorf("failed to validate API key: %w", err)
	}
	if status != http.StatusOK {
		if len(body) > 0 {
			return fmt.Errorf("invalid API key: received status %d: %s", status, string(body))
		}
		return fmt.Errorf("invalid API key: received status %d", status)
	}
	return nil
}

func (m *MailgunProvider) do(req *http.Request) (int, []byte, error) {
	resp, err := m.client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	body, readErr := io.ReadAll(resp.Body)
	closeErr := resp.Body.Close()
	if readErr != nil {
		return 0, nil, fmt.Errorf("failed to read mailgun response: %w", readErr)
	}
	if closeErr != nil {
		return 0, nil, fmt.Errorf("failed to close mailgun response body: %w", closeErr)
	}
	return resp.StatusCode, body, nil
}
