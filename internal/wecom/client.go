// WeCom JSON API client.
//
// Every endpoint answers a JSON document with an errcode/errmsg pair; an
// errcode of zero (or an absent errcode) means success. Transport failures
// and non-zero errcodes both surface as *APIError so callers can branch on a
// single error type. The access token is fetched lazily and cached with a
// fixed TTL; concurrent callers during a refresh are not coordinated, which
// at worst costs one duplicate gettoken round trip.
package wecom

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"
	"github.com/rs/zerolog"
)

// DefaultBaseURL is the production WeCom API origin.
const DefaultBaseURL = "https://qyapi.weixin.qq.com"

const tokenCacheKey = "access_token"

var (
	// ErrKFNotConfigured is returned by KF operations when no open_kfid is
	// configured. The capability degrades; it does not abort the caller.
	ErrKFNotConfigured = errors.New("wecom: open_kfid not configured")

	// ErrTemplateNotConfigured is returned by SendGroupWelcome when neither
	// an explicit nor a configured welcome template id is available.
	ErrTemplateNotConfigured = errors.New("wecom: welcome template id not configured")
)

// APIError is a non-success errcode (or transport failure) from the WeCom API.
type APIError struct {
	Endpoint string
	Code     int
	Msg      string
}

// Error implements the error interface.
func (e *APIError) Error() string {
	return fmt.Sprintf("wecom %s: errcode=%d errmsg=%q", e.Endpoint, e.Code, e.Msg)
}

// ClientConfig carries the credentials and knobs for a Client.
type ClientConfig struct {
	BaseURL           string        // defaults to DefaultBaseURL
	CorpID            string
	CorpSecret        string
	OpenKFID          string        // KF account used for private messages
	WelcomeTemplateID string        // default group welcome template
	Timeout           time.Duration // per-call HTTP timeout
	TokenTTL          time.Duration // access-token cache lifetime
}

// Client talks to the WeCom API on behalf of one corp. Safe for concurrent use.
type Client struct {
	cfg    ClientConfig
	http   *http.Client
	tokens *cache.Cache
	log    zerolog.Logger
}

// NewClient constructs a Client with sane defaults (10s timeout, 110-minute
// token TTL, production base URL).
func NewClient(cfg ClientConfig, log zerolog.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = 110 * time.Minute
	}
	return &Client{
		cfg:    cfg,
		http:   &http.Client{Timeout: cfg.Timeout},
		tokens: cache.New(cfg.TokenTTL, 10*time.Minute),
		log:    log.With().Str("component", "wecom").Logger(),
	}
}

// WelcomeTemplateID returns the configured default group welcome template id
// (empty when the fallback broadcast is disabled).
func (c *Client) WelcomeTemplateID() string { return c.cfg.WelcomeTemplateID }

// apiResponse is the common errcode envelope. ErrCode is a pointer because
// some endpoints omit it entirely on success.
type apiResponse struct {
	ErrCode *int   `json:"errcode"`
	ErrMsg  string `json:"errmsg"`
}

// ok reports whether the envelope signals success (errcode zero or absent).
func (r *apiResponse) ok() bool { return r.ErrCode == nil || *r.ErrCode == 0 }

// err converts a non-success envelope into an *APIError.
func (r *apiResponse) err(endpoint string) error {
	if r.ok() {
		return nil
	}
	return &APIError{Endpoint: endpoint, Code: *r.ErrCode, Msg: r.ErrMsg}
}

// AccessToken returns the cached bearer credential, refreshing it from the
// gettoken endpoint when expired. Expiry is a fixed duration from issuance;
// there is no early-refresh jitter.
func (c *Client) AccessToken(ctx context.Context) (string, error) {
	if tok, found := c.tokens.Get(tokenCacheKey); found {
		return tok.(string), nil
	}
	tok, err := c.fetchToken(ctx)
	if err != nil {
		return "", err
	}
	c.tokens.Set(tokenCacheKey, tok, cache.DefaultExpiration)
	c.log.Debug().Dur("ttl", c.cfg.TokenTTL).Msg("access token refreshed")
	return tok, nil
}

// fetchToken performs the gettoken call.
func (c *Client) fetchToken(ctx context.Context) (string, error) {
	u := fmt.Sprintf("%s/cgi-bin/gettoken?corpid=%s&corpsecret=%s",
		c.cfg.BaseURL, url.QueryEscape(c.cfg.CorpID), url.QueryEscape(c.cfg.CorpSecret))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return "", err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("wecom gettoken: %w", err)
	}
	defer resp.Body.Close()

	var body struct {
		apiResponse
		AccessToken string `json:"access_token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("wecom gettoken: decode response: %w", err)
	}
	if err := body.err("gettoken"); err != nil {
		return "", err
	}
	return body.AccessToken, nil
}

// postJSON sends payload to endpoint (a /cgi-bin/... path) with the access
// token appended, decoding the response into out. out must embed apiResponse
// or at least carry the errcode fields.
func (c *Client) postJSON(ctx context.Context, endpoint string, payload, out any) error {
	token, err := c.AccessToken(ctx)
	if err != nil {
		return err
	}

	buf, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	u := fmt.Sprintf("%s%s?access_token=%s", c.cfg.BaseURL, endpoint, url.QueryEscape(token))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(buf))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("wecom %s: %w", endpoint, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("wecom %s: read response: %w", endpoint, err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		// Gateways occasionally answer HTML on auth failures; keep a slice
		// of the body around for diagnosis.
		snippet := raw
		if len(snippet) > 200 {
			snippet = snippet[:200]
		}
		return fmt.Errorf("wecom %s: non-JSON response (status=%d body=%q): %w",
			endpoint, resp.StatusCode, snippet, err)
	}
	return nil
}

// SendKFText delivers a private text message to externalUserID through the
// configured KF account. Each call carries a fresh client-generated msgid.
func (c *Client) SendKFText(ctx context.Context, externalUserID, content string) error {
	if c.cfg.OpenKFID == "" {
		return ErrKFNotConfigured
	}
	payload := map[string]any{
		"touser":    externalUserID,
		"open_kfid": c.cfg.OpenKFID,
		"msgid":     uuid.NewString(),
		"msgtype":   "text",
		"text":      map[string]string{"content": content},
	}
	var out apiResponse
	if err := c.postJSON(ctx, "/cgi-bin/kf/send_msg", payload, &out); err != nil {
		return err
	}
	return out.err("kf/send_msg")
}

// KFAddContactURL generates a "start a private conversation" link for
// externalUserID, tagged with scene for attribution.
func (c *Client) KFAddContactURL(ctx context.Context, externalUserID, scene string) (string, error) {
	if c.cfg.OpenKFID == "" {
		return "", ErrKFNotConfigured
	}
	payload := map[string]string{
		"open_kfid":       c.cfg.OpenKFID,
		"external_userid": externalUserID,
		"scene":           scene,
	}
	var out struct {
		apiResponse
		URL string `json:"url"`
	}
	if err := c.postJSON(ctx, "/cgi-bin/kf/add_contact", payload, &out); err != nil {
		return "", err
	}
	if err := out.err("kf/add_contact"); err != nil {
		return "", err
	}
	return out.URL, nil
}

// WelcomeLink is the optional link card attached to a welcome template.
type WelcomeLink struct {
	Title  string `json:"title"`
	URL    string `json:"url"`
	Desc   string `json:"desc,omitempty"`
	PicURL string `json:"picurl,omitempty"`
}

// CreateGroupWelcomeTemplate registers a fixed group welcome template and
// returns its id. At least one of text or link must be provided.
func (c *Client) CreateGroupWelcomeTemplate(ctx context.Context, text string, link *WelcomeLink) (string, error) {
	payload := map[string]any{}
	if text != "" {
		payload["text"] = map[string]string{"content": text}
	}
	if link != nil {
		payload["link"] = link
	}
	if len(payload) == 0 {
		return "", errors.New("wecom: welcome template needs text or link")
	}
	var out struct {
		apiResponse
		TemplateID string `json:"template_id"`
	}
	if err := c.postJSON(ctx, "/cgi-bin/externalcontact/group_welcome_template/add", payload, &out); err != nil {
		return "", err
	}
	if err := out.err("group_welcome_template/add"); err != nil {
		return "", err
	}
	return out.TemplateID, nil
}

// ListGroupWelcomeTemplates returns the raw template listing for the given
// window. The shape varies between API versions, so the body is passed
// through undecoded for the CLI to print.
func (c *Client) ListGroupWelcomeTemplates(ctx context.Context, offset, limit int) (json.RawMessage, error) {
	payload := map[string]int{"offset": offset, "limit": limit}
	var out json.RawMessage
	if err := c.postJSON(ctx, "/cgi-bin/externalcontact/group_welcome_template/get", payload, &out); err != nil {
		return nil, err
	}
	var env apiResponse
	if err := json.Unmarshal(out, &env); err != nil {
		return nil, err
	}
	if err := env.err("group_welcome_template/get"); err != nil {
		return nil, err
	}
	return out, nil
}

// DeleteGroupWelcomeTemplate removes a previously registered template.
func (c *Client) DeleteGroupWelcomeTemplate(ctx context.Context, templateID string) error {
	payload := map[string]string{"template_id": templateID}
	var out apiResponse
	if err := c.postJSON(ctx, "/cgi-bin/externalcontact/group_welcome_template/del", payload, &out); err != nil {
		return err
	}
	return out.err("group_welcome_template/del")
}

// SendGroupWelcome broadcasts the fixed welcome template to externalUserID in
// chatID. templateID falls back to the configured default when empty.
func (c *Client) SendGroupWelcome(ctx context.Context, chatID, externalUserID, templateID string) error {
	if templateID == "" {
		templateID = c.cfg.WelcomeTemplateID
	}
	if templateID == "" {
		return ErrTemplateNotConfigured
	}
	payload := map[string]string{
		"template_id":     templateID,
		"chat_id":         chatID,
		"external_userid": externalUserID,
	}
	var out apiResponse
	if err := c.postJSON(ctx, "/cgi-bin/externalcontact/group_welcome_template/send", payload, &out); err != nil {
		return err
	}
	return out.err("group_welcome_template/send")
}
