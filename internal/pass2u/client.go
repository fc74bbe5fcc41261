// Package pass2u provisions wallet passes through the Pass2U API.
//
// A pass is created per subject under a pre-designed model; the response
// yields a resolvable download link either directly (under one of several
// key names the API has used over time) or derived from the returned pass id.
package pass2u

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// DefaultBaseURL is the production Pass2U API origin.
const DefaultBaseURL = "https://api.pass2u.net"

// ErrNotConfigured is returned by CreatePass when the API key or model id is
// missing. The provisioning capability reports the failure explicitly instead
// of aborting the delivery flow.
var ErrNotConfigured = errors.New("pass2u: api key or model id not configured")

// APIError is an HTTP-level failure (status >= 400) from the Pass2U API.
type APIError struct {
	StatusCode int
	Body       string
}

// Error implements the error interface.
func (e *APIError) Error() string {
	return fmt.Sprintf("pass2u: create pass failed with status %d: %s", e.StatusCode, e.Body)
}

// ClientConfig carries the credentials and knobs for a Client.
type ClientConfig struct {
	BaseURL    string // defaults to DefaultBaseURL
	APIKey     string
	AuthHeader string // defaults to "Authorization"
	AuthScheme string // defaults to "Bearer"
	ModelID    string // pass model to issue from
	UTMSource  string // attribution tag appended to the create call
	Timeout    time.Duration
}

// Client issues passes against one Pass2U model. Safe for concurrent use.
type Client struct {
	cfg  ClientConfig
	http *http.Client
	log  zerolog.Logger
}

// NewClient constructs a Client with sane defaults (15s timeout, Bearer auth).
func NewClient(cfg ClientConfig, log zerolog.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.AuthHeader == "" {
		cfg.AuthHeader = "Authorization"
	}
	if cfg.AuthScheme == "" {
		cfg.AuthScheme = "Bearer"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	return &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.Timeout},
		log:  log.With().Str("component", "pass2u").Logger(),
	}
}

// Pass is the provisioning outcome: the extracted (or derived) download link
// plus the metadata fields persisted alongside the assignment.
type Pass struct {
	Link           string
	PassID         string
	ModelID        string
	BarcodeMessage string
	ExpirationDate string
	CreatedTime    string
	Raw            json.RawMessage // full vendor response, kept for audit
}

// createResponse mirrors the fields this service cares about. The link has
// appeared under different key names across API revisions; linkCandidates
// lists them in preference order.
type createResponse struct {
	Link           string          `json:"link"`
	URL            string          `json:"url"`
	DownloadURL    string          `json:"downloadUrl"`
	PassURL        string          `json:"passUrl"`
	PassID         string          `json:"passId"`
	ModelID        json.RawMessage `json:"modelId"` // number or string depending on API version
	BarcodeMessage string          `json:"barcodeMessage"`
	ExpirationDate string          `json:"expirationDate"`
	CreatedTime    string          `json:"createdTime"`
}

// link returns the first populated link field, or "" when none is present.
func (r *createResponse) link() string {
	for _, v := range []string{r.Link, r.URL, r.DownloadURL, r.PassURL} {
		if v != "" {
			return v
		}
	}
	return ""
}

// CreatePass issues a pass for subjectID carrying the given opaque metadata.
// The subject id doubles as the barcode message so scans resolve back to the
// member. When the response carries no link but a pass id, a deterministic
// download path is derived from it.
func (c *Client) CreatePass(ctx context.Context, subjectID string, metadata map[string]string) (*Pass, error) {
	if c.cfg.APIKey == "" || c.cfg.ModelID == "" {
		return nil, ErrNotConfigured
	}

	payload := map[string]any{
		"fields": []map[string]string{
			{"key": "externalId", "value": subjectID},
		},
		"barcode": map[string]string{
			"message": subjectID,
			"altText": subjectID,
		},
		"metadata": metadata,
	}
	buf, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	u := fmt.Sprintf("%s/v2/models/%s/passes", c.cfg.BaseURL, url.PathEscape(c.cfg.ModelID))
	if c.cfg.UTMSource != "" {
		u += "?utm_source=" + url.QueryEscape(c.cfg.UTMSource)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(buf))
	if err != nil {
		return nil, err
	}
	req.Header.Set(c.cfg.AuthHeader, c.cfg.AuthScheme+" "+c.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("pass2u: create pass: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("pass2u: read response: %w", err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return nil, &APIError{StatusCode: resp.StatusCode, Body: string(raw)}
	}

	var body createResponse
	if err := json.Unmarshal(raw, &body); err != nil {
		return nil, fmt.Errorf("pass2u: decode response: %w", err)
	}

	pass := &Pass{
		Link:           body.link(),
		PassID:         body.PassID,
		ModelID:        rawString(body.ModelID),
		BarcodeMessage: body.BarcodeMessage,
		ExpirationDate: body.ExpirationDate,
		CreatedTime:    body.CreatedTime,
		Raw:            json.RawMessage(raw),
	}
	if pass.Link == "" && pass.PassID != "" {
		pass.Link = fmt.Sprintf("%s/v2/passes/%s/download", c.cfg.BaseURL, url.PathEscape(pass.PassID))
	}
	c.log.Debug().Str("pass_id", pass.PassID).Bool("has_link", pass.Link != "").Msg("pass created")
	return pass, nil
}

// rawString renders a raw JSON scalar (string or number) as its plain text.
func rawString(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return strings.Trim(string(raw), `"`)
}
