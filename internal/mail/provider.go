package mail

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"

	"golang.org/x/time/rate"

	"github.com/meridianedu/go-admissions-backend/internal/domain"
)

// Provider sends messages through the institution's template mail API.
// Outbound calls are paced with a token-bucket limiter so bursts of
// submissions cannot trip the provider's own rate limits.
type Provider struct {
	url     string
	apiKey  string
	client  *http.Client
	limiter *rate.Limiter
}

// NewProvider builds a Provider. rps <= 0 disables pacing.
func NewProvider(url, apiKey string, rps float64, client *http.Client) *Provider {
	if client == nil {
		client = http.DefaultClient
	}
	limiter := rate.NewLimiter(rate.Inf, 1)
	if rps > 0 {
		limiter = rate.NewLimiter(rate.Limit(rps), 1)
	}
	return &Provider{url: url, apiKey: apiKey, client: client, limiter: limiter}
}

func (p *Provider) Name() string { return "provider" }

type providerAttachment struct {
	Name    string `json:"name"`
	Type    string `json:"type"`
	Content string `json:"content"` // base64
}

type providerRequest struct {
	From        string               `json:"from"`
	To          string               `json:"to"`
	ReplyTo     string               `json:"reply_to,omitempty"`
	Template    string               `json:"template"`
	Data        map[string]string    `json:"data,omitempty"`
	Attachments []providerAttachment `json:"attachments,omitempty"`
}

type providerResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

// Send posts the templated message to the provider API. Any non-2xx status
// or success=false body counts as a transport failure.
func (p *Provider) Send(ctx context.Context, msg *Message) error {
	if err := p.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("wait for send slot: %w", err)
	}

	payload, err := p.buildRequest(msg)
	if err != nil {
		return err
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode provider request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build provider request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("call mail provider: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read provider response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("mail provider returned status %d", resp.StatusCode)
	}

	var out providerResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return fmt.Errorf("decode provider response: %w", err)
	}
	if !out.Success {
		return fmt.Errorf("mail provider rejected message: %s", out.Error)
	}
	return nil
}

func (p *Provider) buildRequest(msg *Message) (*providerRequest, error) {
	req := &providerRequest{
		From:     msg.From,
		To:       msg.To,
		ReplyTo:  msg.ReplyTo,
		Template: msg.Template,
		Data:     msg.Data,
	}
	for _, f := range msg.Attachments {
		content, err := readAttachment(f)
		if err != nil {
			return nil, err
		}
		req.Attachments = append(req.Attachments, providerAttachment{
			Name:    f.SanitizedName,
			Type:    f.DeclaredMime,
			Content: base64.StdEncoding.EncodeToString(content),
		})
	}
	return req, nil
}

func readAttachment(f domain.UploadedFile) ([]byte, error) {
	content, err := os.ReadFile(f.DiskPath)
	if err != nil {
		return nil, fmt.Errorf("read attachment %s: %w", f.SanitizedName, err)
	}
	return content, nil
}
