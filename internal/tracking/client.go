// Package tracking is an Azure DevOps work item client.
package tracking

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/tidwall/gjson"

	"github.com/starford/wigen/internal/apperr"
	"github.com/starford/wigen/internal/models"
)

const (
	apiVersion       = "7.0"
	jsonPatch        = "application/json-patch+json"
	defaultTaskField = "GTSKanban.TASK"
)

// Config configures a Client.
type Config struct {
	// OrganizationURL is e.g. https://dev.azure.com/contoso.
	OrganizationURL string
	Token           string
	// TaskField is the reference name of the custom task tag field.
	TaskField string
	// MaxRetryElapsed bounds retries of transient failures. Zero disables retries.
	MaxRetryElapsed time.Duration
	// RetryInitial is the first retry delay.
	RetryInitial time.Duration
	HTTPClient   *http.Client
	Logger       *slog.Logger
}

// StatusError is a non-retryable HTTP failure.
type StatusError struct {
	Method string
	URL    string
	Code   int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("tracking: %s %s: status %d: %s", e.Method, e.URL, e.Code, e.Body)
}

// Client talks to the work item tracking REST API.
type Client struct {
	base      string
	token     string
	taskField string
	http      *http.Client
	cfg       Config
	logger    *slog.Logger
}

// New returns a Client.
func New(cfg Config) (*Client, error) {
	u, err := url.Parse(cfg.OrganizationURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("tracking: invalid organization url %q", cfg.OrganizationURL)
	}
	if cfg.TaskField == "" {
		cfg.TaskField = defaultTaskField
	}
	if cfg.RetryInitial <= 0 {
		cfg.RetryInitial = 500 * time.Millisecond
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: 30 * time.Second}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		base:      strings.TrimRight(cfg.OrganizationURL, "/"),
		token:     cfg.Token,
		taskField: cfg.TaskField,
		http:      hc,
		cfg:       cfg,
		logger:    logger,
	}, nil
}

// GetItem fetches one work item. It returns apperr.ErrNotFound when the ID
// does not exist.
func (c *Client) GetItem(ctx context.Context, id int, withRelations bool) (*models.Item, error) {
	q := url.Values{"api-version": {apiVersion}}
	if withRelations {
		q.Set("$expand", "relations")
	}
	u := c.base + "/_apis/wit/workitems/" + strconv.Itoa(id) + "?" + q.Encode()

	body, err := c.do(ctx, http.MethodGet, u, "", nil)
	if err != nil {
		return nil, fmt.Errorf("tracking: get item %d: %w", id, err)
	}
	return c.parseItem(body)
}

// CreateItem creates a work item of payload.TypeName in project.
func (c *Client) CreateItem(ctx context.Context, project string, payload models.Payload) (*models.Item, error) {
	if payload.TypeName == "" {
		return nil, errors.New("tracking: create item: empty type")
	}
	doc, err := json.Marshal(payload.Operations)
	if err != nil {
		return nil, fmt.Errorf("tracking: encode patch: %w", err)
	}
	u := c.base + "/" + url.PathEscape(project) + "/_apis/wit/workitems/" +
		url.PathEscape("$"+payload.TypeName) + "?api-version=" + apiVersion

	body, err := c.do(ctx, http.MethodPost, u, jsonPatch, doc)
	if err != nil {
		return nil, fmt.Errorf("tracking: create %s: %w", payload.TypeName, err)
	}
	return c.parseItem(body)
}

// AddHierarchicalLink adds a parent relation from the child to the parent.
func (c *Client) AddHierarchicalLink(ctx context.Context, childID, parentID int, comment string) error {
	ops := []map[string]any{{
		"op":   "add",
		"path": "/relations/-",
		"value": map[string]any{
			"rel":        models.ParentRelation,
			"url":        c.itemURL(parentID),
			"attributes": map[string]string{"comment": comment},
		},
	}}
	doc, err := json.Marshal(ops)
	if err != nil {
		return fmt.Errorf("tracking: encode link: %w", err)
	}
	u := c.base + "/_apis/wit/workitems/" + strconv.Itoa(childID) + "?api-version=" + apiVersion
	if _, err := c.do(ctx, http.MethodPatch, u, jsonPatch, doc); err != nil {
		return fmt.Errorf("tracking: link %d under %d: %w", childID, parentID, err)
	}
	return nil
}

func (c *Client) itemURL(id int) string {
	return c.base + "/_apis/wit/workItems/" + strconv.Itoa(id)
}

func (c *Client) parseItem(body []byte) (*models.Item, error) {
	if !gjson.ValidBytes(body) {
		return nil, errors.New("tracking: malformed response")
	}
	res := gjson.ParseBytes(body)
	item := &models.Item{
		ID:    int(res.Get("id").Int()),
		Type:  res.Get(fieldPath("System.WorkItemType")).String(),
		Title: res.Get(fieldPath("System.Title")).String(),
	}
	if tag := res.Get(fieldPath(c.taskField)); tag.Exists() && tag.Type != gjson.Null {
		item.TaskTag, item.HasTaskTag = tag.String(), true
	}
	res.Get("relations").ForEach(func(_, r gjson.Result) bool {
		rel := models.Relation{Rel: r.Get("rel").String(), URL: r.Get("url").String()}
		rel.TargetID = trailingID(rel.URL)
		item.Relations = append(item.Relations, rel)
		return true
	})
	return item, nil
}

// fieldPath escapes the dots in a field reference name for gjson.
func fieldPath(ref string) string {
	return "fields." + strings.ReplaceAll(ref, ".", `\.`)
}

func trailingID(u string) int {
	i := strings.LastIndexByte(u, '/')
	if i < 0 {
		return 0
	}
	n, _ := strconv.Atoi(u[i+1:])
	return n
}

// do sends one request, retrying transport errors, 429 and 5xx responses.
func (c *Client) do(ctx context.Context, method, u, contentType string, body []byte) ([]byte, error) {
	var out []byte
	op := func() error {
		var rd io.Reader
		if body != nil {
			rd = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, u, rd)
		if err != nil {
			return backoff.Permanent(err)
		}
		req.SetBasicAuth("", c.token)
		req.Header.Set("Accept", "application/json")
		if contentType != "" {
			req.Header.Set("Content-Type", contentType)
		}

		resp, err := c.http.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(err)
			}
			return err
		}
		defer resp.Body.Close()
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return err
		}

		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			out = data
			return nil
		case resp.StatusCode == http.StatusNotFound:
			return backoff.Permanent(apperr.ErrNotFound)
		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
			c.logger.Warn("tracking: transient failure",
				slog.String("method", method),
				slog.Int("status", resp.StatusCode))
			return &StatusError{Method: method, URL: u, Code: resp.StatusCode, Body: snippet(data)}
		default:
			return backoff.Permanent(&StatusError{Method: method, URL: u, Code: resp.StatusCode, Body: snippet(data)})
		}
	}

	if err := backoff.Retry(op, backoff.WithContext(c.newBackOff(), ctx)); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) newBackOff() backoff.BackOff {
	if c.cfg.MaxRetryElapsed <= 0 {
		return &backoff.StopBackOff{}
	}
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.cfg.RetryInitial
	bo.MaxElapsedTime = c.cfg.MaxRetryElapsed
	return bo
}

func snippet(b []byte) string {
	const limit = 256
	s := strings.TrimSpace(string(b))
	if len(s) > limit {
		s = s[:limit] + "..."
	}
	return s
}
