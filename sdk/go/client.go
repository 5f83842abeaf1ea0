package sitelinesdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Siteline HTTP API client.
type Client struct {
	BaseURL     string
	TenantID    string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL, tenantID string) *Client {
	return &Client{
		BaseURL:  baseURL,
		TenantID: tenantID,
		Timeout:  10 * time.Second,
	}
}

// Unit represents the API unit model (partial).
type Unit struct {
	ID            string `json:"id"`
	TenantID      string `json:"tenant_id"`
	DevelopmentID string `json:"development_id"`
	UnitNumber    string `json:"unit_number"`
	Address       string `json:"address,omitempty"`
	HouseType     string `json:"house_type,omitempty"`
	Bedrooms      int    `json:"bedrooms"`
}

// Pipeline is the annotated pipeline view for a unit.
type Pipeline struct {
	Record    map[string]any `json:"record"`
	Stage     string         `json:"stage"`
	EnteredAt string         `json:"entered_at,omitempty"`
	DwellDays int            `json:"dwell_days"`
	Health    string         `json:"health"`
}

// AttentionItem is one entry from the attention feed.
type AttentionItem struct {
	Category        string `json:"category"`
	Severity        string `json:"severity"`
	DevelopmentID   string `json:"development_id"`
	DevelopmentName string `json:"development_name"`
	Count           int    `json:"count"`
	Summary         string `json:"summary"`
}

// ChaseMessage is a drafted chase email. The API never sends it.
type ChaseMessage struct {
	To          string `json:"to"`
	CC          string `json:"cc,omitempty"`
	Subject     string `json:"subject"`
	Body        string `json:"body"`
	Stage       string `json:"stage"`
	DaysPending int    `json:"days_pending"`
}

// Event represents a log entry.
type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts"`
	Type       string `json:"type"`
	TenantID   string `json:"tenant_id"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

// SnagItem represents a snag list defect.
type SnagItem struct {
	ID            string `json:"id"`
	TenantID      string `json:"tenant_id"`
	DevelopmentID string `json:"development_id"`
	UnitID        string `json:"unit_id"`
	Description   string `json:"description"`
	Location      string `json:"location,omitempty"`
	Status        string `json:"status"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// CreateUnit creates a unit within a development.
func (c *Client) CreateUnit(ctx context.Context, developmentID, unitNumber string, bedrooms int) (Unit, error) {
	body := map[string]any{
		"development_id": developmentID,
		"unit_number":    unitNumber,
		"bedrooms":       bedrooms,
	}
	var resp Unit
	err := c.do(ctx, http.MethodPost, "v0/units", body, &resp)
	return resp, err
}

// RecordMilestone sets a milestone date on a unit's pipeline. An empty value
// stamps the current time.
func (c *Client) RecordMilestone(ctx context.Context, unitID, field, value string) (Pipeline, error) {
	body := map[string]any{
		"field": field,
		"value": value,
	}
	var resp Pipeline
	endpoint := fmt.Sprintf("v0/units/%s/pipeline/milestones", url.PathEscape(unitID))
	err := c.do(ctx, http.MethodPatch, endpoint, body, &resp)
	return resp, err
}

// GetPipeline returns a unit's pipeline with derived stage and dwell.
func (c *Client) GetPipeline(ctx context.Context, unitID string) (Pipeline, error) {
	var resp Pipeline
	endpoint := fmt.Sprintf("v0/units/%s/pipeline", url.PathEscape(unitID))
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// Attention returns the tenant-wide attention feed, most severe first.
func (c *Client) Attention(ctx context.Context) ([]AttentionItem, error) {
	var resp []AttentionItem
	err := c.do(ctx, http.MethodGet, "v0/attention", nil, &resp)
	return resp, err
}

// Chase drafts a chase email for a stalled stage on a unit.
func (c *Client) Chase(ctx context.Context, unitID, stage string) (ChaseMessage, error) {
	body := map[string]any{"stage": stage}
	var resp ChaseMessage
	endpoint := fmt.Sprintf("v0/units/%s/chase", url.PathEscape(unitID))
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp, err
}

// CreateSnag raises a snag against a unit.
func (c *Client) CreateSnag(ctx context.Context, unitID, description, location string) (SnagItem, error) {
	body := map[string]any{
		"description": description,
		"location":    location,
	}
	var resp SnagItem
	endpoint := fmt.Sprintf("v0/units/%s/snags", url.PathEscape(unitID))
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp, err
}

// Events returns recent events, newest first.
func (c *Client) Events(ctx context.Context, limit int) ([]Event, error) {
	endpoint := "v0/events"
	if limit > 0 {
		endpoint = fmt.Sprintf("%s?limit=%d", endpoint, limit)
	}
	var resp []Event
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.TenantID != "" {
		req.Header.Set("X-Tenant-Id", c.TenantID)
	}
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
