package crm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// HTTPClient talks to the tenant's CRM over its REST API.
type HTTPClient struct {
	base   string
	apiKey string
	client *http.Client
}

// NewHTTPClient builds a client for the CRM at base. The api key is sent as a
// bearer token on every call.
func NewHTTPClient(base, apiKey string) *HTTPClient {
	return &HTTPClient{
		base:   strings.TrimRight(base, "/"),
		apiKey: apiKey,
		client: &http.Client{Timeout: 15 * time.Second},
	}
}

var _ Client = (*HTTPClient)(nil)

func (c *HTTPClient) ListLeads(ctx context.Context, tenant string, filter LeadFilter) ([]Lead, error) {
	q := url.Values{}
	if filter.Tag != "" {
		q.Set("tag", filter.Tag)
	}
	if filter.InactiveDays > 0 {
		q.Set("inactive_days", strconv.Itoa(filter.InactiveDays))
	}
	if filter.Limit > 0 {
		q.Set("limit", strconv.Itoa(filter.Limit))
	}
	var out struct {
		Items []Lead `json:"items"`
	}
	path := "/v1/leads"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	if err := c.doJSON(ctx, http.MethodGet, tenant, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Items, nil
}

func (c *HTTPClient) TagLeads(ctx context.Context, tenant string, leadIDs []string, tag string) (int, error) {
	in := map[string]any{"lead_ids": leadIDs, "tag": tag}
	var out struct {
		Updated int `json:"updated"`
	}
	if err := c.doJSON(ctx, http.MethodPost, tenant, "/v1/leads/tags", in, &out); err != nil {
		return 0, err
	}
	return out.Updated, nil
}

func (c *HTTPClient) DeleteTag(ctx context.Context, tenant, tag string) ([]string, error) {
	var out struct {
		LeadIDs []string `json:"lead_ids"`
	}
	path := "/v1/tags/" + url.PathEscape(tag)
	if err := c.doJSON(ctx, http.MethodDelete, tenant, path, nil, &out); err != nil {
		return nil, err
	}
	return out.LeadIDs, nil
}

func (c *HTTPClient) SendFollowUp(ctx context.Context, tenant, leadID, template string) error {
	in := map[string]any{"template": template}
	path := "/v1/leads/" + url.PathEscape(leadID) + "/followup"
	return c.doJSON(ctx, http.MethodPost, tenant, path, in, nil)
}

func (c *HTTPClient) CreateCustomField(ctx context.Context, tenant string, field CustomField) (string, error) {
	var out struct {
		FieldID string `json:"field_id"`
	}
	if err := c.doJSON(ctx, http.MethodPost, tenant, "/v1/fields", field, &out); err != nil {
		return "", err
	}
	return out.FieldID, nil
}

func (c *HTTPClient) doJSON(ctx context.Context, method, tenant, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("crm: encode request: %w", err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return fmt.Errorf("crm: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Tenant", tenant)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return ErrNotFound
	case resp.StatusCode >= 500:
		return fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	case resp.StatusCode >= 400:
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("crm: status %d: %s", resp.StatusCode, strings.TrimSpace(string(payload)))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("crm: decode response: %w", err)
	}
	return nil
}
