// Package provision talks to an external account-management panel to create
// and remove time-boxed, traffic-capped access credentials ("artifacts").
//
// Credentials are never cached: every operation starts with a fresh bearer
// token exchange against the source's token endpoint.
package provision

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/segmentio/ksuid"

	"happbot/pkg/logx"
)

// Source is a resolved provisioning endpoint: either the shared pooled
// source or one of the owner's named panels.
type Source struct {
	URL      string
	Username string
	Password string
	Prefix   string
}

// Artifact is a provisioned credential ready for distribution.
type Artifact struct {
	ID      string
	Content string
}

type Client struct {
	http *http.Client
	log  logx.Logger
}

func NewClient(timeout time.Duration, log logx.Logger) *Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Client{http: &http.Client{Timeout: timeout}, log: log}
}

// endpoint resolves an API path against the source's host. Panel URLs are
// often dashboard deep links; only scheme+host matter here.
func endpoint(src Source, path string) (string, error) {
	u, err := url.Parse(src.URL)
	if err != nil {
		return "", fmt.Errorf("source url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("source url %q: missing scheme or host", src.URL)
	}
	return u.ResolveReference(&url.URL{Path: path}).String(), nil
}

// token performs the credential exchange. A failure here is terminal for the
// whole operation: no artifact, no side effects attempted.
func (c *Client) token(ctx context.Context, src Source) (string, error) {
	ep, err := endpoint(src, "/api/admin/token")
	if err != nil {
		return "", err
	}
	form := url.Values{"username": {src.Username}, "password": {src.Password}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ep, strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return "", fmt.Errorf("token exchange: http %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	var out struct {
		AccessToken string `json:"access_token"`
	}
	if err := sonic.Unmarshal(body, &out); err != nil {
		return "", fmt.Errorf("token exchange: decode: %w", err)
	}
	if out.AccessToken == "" {
		return "", fmt.Errorf("token exchange: empty access_token")
	}
	return out.AccessToken, nil
}

// Provision creates a fresh artifact with the requested traffic quota and
// unlimited expiry, then exports its content. Any failure after the token
// exchange aborts the whole operation; a partially provisioned artifact is
// never returned.
func (c *Client) Provision(ctx context.Context, src Source, quotaGB int) (*Artifact, error) {
	tok, err := c.token(ctx, src)
	if err != nil {
		return nil, err
	}

	id := src.Prefix + ksuid.New().String()

	// Clean any leftover record under that identifier; absence is fine.
	_ = c.remove(ctx, src, tok, id)

	payload := map[string]any{
		"username":   id,
		"data_limit": int64(quotaGB) * 1024 * 1024 * 1024,
		"expire":     nil,
		"status":     "active",
	}
	if err := c.create(ctx, src, tok, id, payload); err != nil {
		return nil, err
	}

	content, err := c.export(ctx, src, tok, id)
	if err != nil {
		return nil, err
	}
	return &Artifact{ID: id, Content: content}, nil
}

func (c *Client) create(ctx context.Context, src Source, tok, id string, payload map[string]any) error {
	ep, err := endpoint(src, "/api/user")
	if err != nil {
		return err
	}
	resp, err := c.doJSON(ctx, http.MethodPost, ep, tok, payload)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusConflict {
		return c.replaceExisting(ctx, src, tok, id, payload)
	}
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("artifact create: http %d", resp.StatusCode)
	}
	return nil
}

// replaceExisting handles the create conflict path: fetch the existing
// record, merge the request fields into it, strip server-managed fields and
// replace the record.
func (c *Client) replaceExisting(ctx context.Context, src Source, tok, id string, payload map[string]any) error {
	ep, err := endpoint(src, "/api/user/"+url.PathEscape(id))
	if err != nil {
		return err
	}
	resp, err := c.doJSON(ctx, http.MethodGet, ep, tok, nil)
	if err != nil {
		return err
	}
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return err
	}
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("artifact fetch after conflict: http %d", resp.StatusCode)
	}

	var existing map[string]any
	if err := sonic.Unmarshal(body, &existing); err != nil {
		return fmt.Errorf("artifact fetch after conflict: decode: %w", err)
	}
	for k, v := range payload {
		existing[k] = v
	}
	for _, k := range []string{"on_hold", "used_traffic", "created_at"} {
		delete(existing, k)
	}

	resp2, err := c.doJSON(ctx, http.MethodPut, ep, tok, existing)
	if err != nil {
		return err
	}
	defer resp2.Body.Close()
	if resp2.StatusCode/100 != 2 {
		return fmt.Errorf("artifact replace: http %d", resp2.StatusCode)
	}
	return nil
}

func (c *Client) export(ctx context.Context, src Source, tok, id string) (string, error) {
	ep, err := endpoint(src, "/api/user/"+url.PathEscape(id)+"/ovpn")
	if err != nil {
		return "", err
	}
	resp, err := c.doJSON(ctx, http.MethodGet, ep, tok, nil)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return "", fmt.Errorf("artifact export: http %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if len(body) == 0 {
		return "", fmt.Errorf("artifact export: empty body")
	}
	return string(body), nil
}

// Deprovision removes an artifact. Absence counts as success so repeated
// cleanup of the same identifier is idempotent.
func (c *Client) Deprovision(ctx context.Context, src Source, id string) bool {
	tok, err := c.token(ctx, src)
	if err != nil {
		c.log.Warn("deprovision token exchange failed", logx.String("artifact", id), logx.Err(err))
		return false
	}
	if err := c.remove(ctx, src, tok, id); err != nil {
		c.log.Warn("deprovision failed", logx.String("artifact", id), logx.Err(err))
		return false
	}
	return true
}

func (c *Client) remove(ctx context.Context, src Source, tok, id string) error {
	ep, err := endpoint(src, "/api/user/"+url.PathEscape(id))
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, ep, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+tok)

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return nil
	}
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("artifact delete: http %d", resp.StatusCode)
	}
	return nil
}

func (c *Client) doJSON(ctx context.Context, method, ep, tok string, payload any) (*http.Response, error) {
	var body io.Reader
	if payload != nil {
		b, err := sonic.Marshal(payload)
		if err != nil {
			return nil, err
		}
		body = strings.NewReader(string(b))
	}
	req, err := http.NewRequestWithContext(ctx, method, ep, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+tok)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.http.Do(req)
}
