package verification

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/dmitrijs2005/gophauth/internal/server/autherr"
	"github.com/dmitrijs2005/gophauth/internal/server/models"
	"github.com/hashicorp/go-cleanhttp"
)

const (
	DefaultTwilioBaseURL = "https://verify.twilio.com"
	DefaultTimeout       = 10 * time.Second

	channelSMS = "sms"

	// maxBodySize caps how much of a provider response is read.
	maxBodySize = 1 << 20
)

// ErrMissingCredentials is returned by NewTwilioGateway when a credential is empty.
var ErrMissingCredentials = errors.New("verification provider credentials are not configured")

// ProviderError describes a non-2xx answer from the provider.
type ProviderError struct {
	StatusCode int
	Code       int    `json:"code"`
	Message    string `json:"message"`
	MoreInfo   string `json:"more_info"`
}

func (e *ProviderError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("provider returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("provider returned status %d: code %d: %s", e.StatusCode, e.Code, e.Message)
}

// TwilioConfig holds the Verify service credentials.
type TwilioConfig struct {
	AccountSID string
	AuthToken  string
	ServiceSID string

	// BaseURL defaults to DefaultTwilioBaseURL.
	BaseURL string
	// Timeout bounds every call. Defaults to DefaultTimeout.
	Timeout time.Duration
	// HTTPClient defaults to a pooled go-cleanhttp client.
	HTTPClient *http.Client
}

// TwilioGateway talks to the Twilio Verify v2 REST API. No call is retried.
type TwilioGateway struct {
	cfg    TwilioConfig
	client *http.Client
}

var _ Gateway = (*TwilioGateway)(nil)

// NewTwilioGateway validates cfg and builds a gateway.
func NewTwilioGateway(cfg TwilioConfig) (*TwilioGateway, error) {
	if cfg.AccountSID == "" || cfg.AuthToken == "" || cfg.ServiceSID == "" {
		return nil, ErrMissingCredentials
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultTwilioBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	client := cfg.HTTPClient
	if client == nil {
		client = cleanhttp.DefaultPooledClient()
	}
	return &TwilioGateway{cfg: cfg, client: client}, nil
}

// SendCode starts an SMS verification for phoneNumber.
func (g *TwilioGateway) SendCode(ctx context.Context, phoneNumber string) (*models.VerificationReceipt, error) {
	const op = "verification.SendCode"

	form := url.Values{}
	form.Set("To", phoneNumber)
	form.Set("Channel", channelSMS)

	var receipt models.VerificationReceipt
	if err := g.post(ctx, "Verifications", form, &receipt); err != nil {
		return nil, autherr.E(autherr.KindVerificationUnavailable, op, err)
	}
	return &receipt, nil
}

// CheckCode checks code against the pending verification for phoneNumber.
// A wrong code is not an error: the result carries the provider status.
func (g *TwilioGateway) CheckCode(ctx context.Context, phoneNumber, code string) (*models.VerificationResult, error) {
	const op = "verification.CheckCode"

	form := url.Values{}
	form.Set("To", phoneNumber)
	form.Set("Code", code)

	var result models.VerificationResult
	if err := g.post(ctx, "VerificationCheck", form, &result); err != nil {
		return nil, autherr.E(autherr.KindVerificationUnavailable, op, err)
	}
	return &result, nil
}

func (g *TwilioGateway) endpoint(resource string) string {
	return g.cfg.BaseURL + "/v2/Services/" + url.PathEscape(g.cfg.ServiceSID) + "/" + resource
}

func (g *TwilioGateway) post(ctx context.Context, resource string, form url.Values, out any) error {
	ctx, cancel := context.WithTimeout(ctx, g.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.endpoint(resource), strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("error building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	req.SetBasicAuth(g.cfg.AccountSID, g.cfg.AuthToken)

	resp, err := g.client.Do(req)
	if err != nil {
		return fmt.Errorf("error calling provider: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return fmt.Errorf("error reading provider response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		perr := &ProviderError{}
		_ = json.Unmarshal(body, perr)
		perr.StatusCode = resp.StatusCode
		return perr
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("error decoding provider response: %w", err)
	}
	return nil
}
