// Package verify calls the human-verification provider for contact
// submissions. The checker fails open: when no secret is configured or the
// provider is unreachable, submissions are treated as verified so that a
// provider outage never takes the intake form down with it.
package verify

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Result reports the outcome of a verification check.
type Result struct {
	Passed bool    // whether the submission should proceed
	Score  float64 // provider trust score in [0,1]
	Open   bool    // true when the result comes from the fail-open path
}

// Checker verifies submission tokens against a reCAPTCHA-style endpoint.
type Checker struct {
	Secret   string
	URL      string
	MinScore float64
	Timeout  time.Duration

	// HTTPClient overrides the client used for provider calls. Nil means
	// http.DefaultClient with Timeout applied per call.
	HTTPClient *http.Client
}

type siteVerifyResponse struct {
	Success    bool     `json:"success"`
	Score      float64  `json:"score"`
	Action     string   `json:"action"`
	Hostname   string   `json:"hostname"`
	ErrorCodes []string `json:"error-codes"`
}

// Check validates token for the request coming from remoteIP. It returns a
// failed Result only when the provider answered authoritatively below the
// score threshold; transport and provider errors fail open.
func (c *Checker) Check(ctx context.Context, token, remoteIP string) Result {
	log := zerolog.Ctx(ctx)

	if strings.TrimSpace(c.Secret) == "" {
		log.Debug().Msg("verification secret not configured, failing open")
		return Result{Passed: true, Score: c.MinScore, Open: true}
	}

	resp, err := c.call(ctx, token, remoteIP)
	if err != nil {
		log.Warn().Err(err).Msg("verification provider unreachable, failing open")
		return Result{Passed: true, Score: c.MinScore, Open: true}
	}

	if !resp.Success {
		log.Info().Strs("error_codes", resp.ErrorCodes).Msg("verification rejected by provider")
		return Result{Passed: false, Score: resp.Score}
	}
	if resp.Score < c.MinScore {
		log.Info().Float64("score", resp.Score).Float64("min_score", c.MinScore).Msg("verification score below threshold")
		return Result{Passed: false, Score: resp.Score}
	}
	return Result{Passed: true, Score: resp.Score}
}

func (c *Checker) call(ctx context.Context, token, remoteIP string) (*siteVerifyResponse, error) {
	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}

	form := url.Values{}
	form.Set("secret", c.Secret)
	form.Set("response", token)
	if remoteIP != "" {
		form.Set("remoteip", remoteIP)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.URL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("build verification request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	client := c.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	httpResp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call verification provider: %w", err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("verification provider returned status %d", httpResp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(httpResp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read verification response: %w", err)
	}
	var out siteVerifyResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("decode verification response: %w", err)
	}
	return &out, nil
}
