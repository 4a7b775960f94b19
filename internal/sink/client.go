// Package sink implements the REST client that delivers rows to the
// mirror target. The dialect is PostgREST as served by Supabase:
// requests go to <base>/rest/v1/<table>, the service key travels as
// both apikey and bearer token, and upserts use on_conflict plus the
// merge-duplicates preference.
package sink

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

	"github.com/johndauphine/pg-rest-mirror/internal/config"
)

const (
	restPath = "/rest/v1/"

	// keyPageSize is the page size for key listings during reconciliation.
	keyPageSize = 1000

	// maxErrorBody caps how much of an error response is kept for messages.
	maxErrorBody = 4096
)

// Filter is one column predicate for a delete. A nil Value matches SQL
// NULL (PostgREST is.null), anything else is an equality match.
type Filter struct {
	Column string
	Value  any
}

// Client is a PostgREST sink client. Methods return RejectedError or
// UnavailableError so callers can decide whether to retry.
type Client struct {
	baseURL    string
	key        string
	schema     string
	httpClient *http.Client
}

// New creates a sink client. timeout bounds every request.
func New(cfg *config.SinkConfig, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(cfg.URL, "/"),
		key:     cfg.Key,
		schema:  cfg.Schema,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Upsert delivers a JSON array of row objects to a table. With conflict
// keys the sink merges duplicates in place; without them the request
// degrades to a plain insert.
func (c *Client) Upsert(ctx context.Context, table string, conflictKeys []string, payload []byte) error {
	u := c.tableURL(table)
	if len(conflictKeys) > 0 {
		u += "?on_conflict=" + url.QueryEscape(strings.Join(conflictKeys, ","))
	}

	req, err := c.newRequest(ctx, http.MethodPost, u, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if len(conflictKeys) > 0 {
		req.Header.Set("Prefer", "resolution=merge-duplicates,return=minimal")
	} else {
		req.Header.Set("Prefer", "return=minimal")
	}

	return c.do(req)
}

// SelectKeys fetches only the given columns for every row of a table,
// paged via Range headers. Numbers are decoded as json.Number so integer
// keys survive the round trip.
func (c *Client) SelectKeys(ctx context.Context, table string, keyCols []string) ([]map[string]any, error) {
	params := url.Values{}
	params.Set("select", strings.Join(keyCols, ","))
	// Stable ordering keeps offset pages consistent
	order := make([]string, len(keyCols))
	for i, col := range keyCols {
		order[i] = col + ".asc"
	}
	params.Set("order", strings.Join(order, ","))

	base := c.tableURL(table) + "?" + params.Encode()

	var all []map[string]any
	for from := 0; ; from += keyPageSize {
		page, done, err := c.selectKeyPage(ctx, base, from)
		if err != nil {
			return nil, err
		}
		all = append(all, page...)
		if done {
			return all, nil
		}
	}
}

func (c *Client) selectKeyPage(ctx context.Context, rawURL string, from int) ([]map[string]any, bool, error) {
	req, err := c.newRequest(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, false, err
	}
	req.Header.Set("Range-Unit", "items")
	req.Header.Set("Range", fmt.Sprintf("%d-%d", from, from+keyPageSize-1))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, false, &UnavailableError{Err: err}
	}
	defer resp.Body.Close()

	// Requesting past the end of the table yields 416
	if resp.StatusCode == http.StatusRequestedRangeNotSatisfiable {
		return nil, true, nil
	}
	if err := classifyStatus(resp.StatusCode, readErrorBody(resp.Body)); err != nil {
		return nil, false, err
	}

	var page []map[string]any
	dec := json.NewDecoder(resp.Body)
	dec.UseNumber()
	if err := dec.Decode(&page); err != nil {
		return nil, false, fmt.Errorf("decoding key listing: %w", err)
	}

	return page, len(page) < keyPageSize, nil
}

// DeleteMatching deletes the rows matching every filter. All key columns
// of a row participate, so a composite key is only matched whole.
func (c *Client) DeleteMatching(ctx context.Context, table string, filters []Filter) error {
	params := url.Values{}
	for _, f := range filters {
		if f.Value == nil {
			params.Add(f.Column, "is.null")
		} else {
			params.Add(f.Column, "eq."+filterLiteral(f.Value))
		}
	}

	req, err := c.newRequest(ctx, http.MethodDelete, c.tableURL(table)+"?"+params.Encode(), nil)
	if err != nil {
		return err
	}
	req.Header.Set("Prefer", "return=minimal")

	return c.do(req)
}

// CountRows returns the exact number of rows in a table, taken from the
// Content-Range header of a HEAD request.
func (c *Client) CountRows(ctx context.Context, table string) (int64, error) {
	req, err := c.newRequest(ctx, http.MethodHead, c.tableURL(table)+"?select=*", nil)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Prefer", "count=exact")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, &UnavailableError{Err: err}
	}
	defer resp.Body.Close()

	if err := classifyStatus(resp.StatusCode, ""); err != nil {
		return 0, err
	}

	return parseContentRangeTotal(resp.Header.Get("Content-Range"))
}

// Ping verifies the sink endpoint is reachable and the key is accepted.
func (c *Client) Ping(ctx context.Context) error {
	req, err := c.newRequest(ctx, http.MethodGet, c.baseURL+restPath, nil)
	if err != nil {
		return err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &UnavailableError{Err: err}
	}
	defer resp.Body.Close()

	return classifyStatus(resp.StatusCode, readErrorBody(resp.Body))
}

func (c *Client) tableURL(table string) string {
	return c.baseURL + restPath + url.PathEscape(table)
}

func (c *Client) newRequest(ctx context.Context, method, rawURL string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, rawURL, body)
	if err != nil {
		return nil, fmt.Errorf("building sink request: %w", err)
	}

	req.Header.Set("apikey", c.key)
	req.Header.Set("Authorization", "Bearer "+c.key)
	if c.schema != "" {
		switch method {
		case http.MethodGet, http.MethodHead:
			req.Header.Set("Accept-Profile", c.schema)
		default:
			req.Header.Set("Content-Profile", c.schema)
		}
	}
	return req, nil
}

// do executes a request whose response body is only interesting on error.
func (c *Client) do(req *http.Request) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &UnavailableError{Err: err}
	}
	defer resp.Body.Close()

	return classifyStatus(resp.StatusCode, readErrorBody(resp.Body))
}

func readErrorBody(r io.Reader) string {
	data, err := io.ReadAll(io.LimitReader(r, maxErrorBody))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

// parseContentRangeTotal extracts the total from a Content-Range header
// such as "0-24/3573" or "*/3573".
func parseContentRangeTotal(header string) (int64, error) {
	idx := strings.LastIndex(header, "/")
	if idx < 0 || idx == len(header)-1 {
		return 0, fmt.Errorf("sink returned unparseable Content-Range %q", header)
	}
	total := header[idx+1:]
	if total == "*" {
		return 0, fmt.Errorf("sink returned no exact count in Content-Range %q", header)
	}
	n, err := strconv.ParseInt(total, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("sink returned unparseable Content-Range %q", header)
	}
	return n, nil
}

// filterLiteral renders a key value as a PostgREST filter literal.
func filterLiteral(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case json.Number:
		return t.String()
	case bool:
		return strconv.FormatBool(t)
	case time.Time:
		return t.UTC().Format(time.RFC3339Nano)
	default:
		return fmt.Sprintf("%v", t)
	}
}
