package remote

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

	"github.com/sethvargo/go-retry"
	"github.com/shelfwise/shelfsync/internal/schema"
)

// RESTConfig configures the PostgREST-style adapter.
type RESTConfig struct {
	// BaseURL is the REST root, e.g. https://project.supabase.co/rest/v1.
	BaseURL string

	// APIKey is sent as both the apikey header and the bearer token.
	APIKey string

	// PageSize bounds each pull page. Default 1000.
	PageSize int

	// Timeout applies to each HTTP call. Default 10s.
	Timeout time.Duration

	// MaxRetries bounds backoff retries on transient failures. Default 3.
	MaxRetries uint64

	// HTTPClient overrides the default client, mainly for tests.
	HTTPClient *http.Client
}

// RESTAdapter talks to a hosted relational backend over a PostgREST-style
// HTTP API, the protocol the original remote store speaks.
type RESTAdapter struct {
	baseURL    string
	apiKey     string
	pageSize   int
	timeout    time.Duration
	maxRetries uint64
	client     *http.Client
}

// NewREST creates a REST adapter.
func NewREST(cfg RESTConfig) (*RESTAdapter, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("rest adapter requires a base URL")
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = 1000
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{}
	}
	return &RESTAdapter{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		pageSize:   cfg.PageSize,
		timeout:    cfg.Timeout,
		maxRetries: cfg.MaxRetries,
		client:     cfg.HTTPClient,
	}, nil
}

// FetchChangedSince implements Adapter. Pages through the table ordered by
// updated_at ascending until a short page signals the end.
func (a *RESTAdapter) FetchChangedSince(ctx context.Context, table string, since time.Time, _ string) (*PullResult, error) {
	result := &PullResult{}
	offset := 0

	for {
		endpoint := fmt.Sprintf("%s/%s?select=*&order=updated_at.asc&limit=%d&offset=%d",
			a.baseURL, table, a.pageSize, offset)
		if !since.IsZero() {
			endpoint += "&updated_at=gt." + url.QueryEscape(since.UTC().Format(time.RFC3339Nano))
		}

		body, header, err := a.do(ctx, "fetch", table, http.MethodGet, endpoint, nil)
		if err != nil {
			return nil, err
		}

		var rows []json.RawMessage
		if err := json.Unmarshal(body, &rows); err != nil {
			return nil, &Error{Kind: KindPermanent, Op: "fetch", Table: table,
				Err: fmt.Errorf("malformed response: %w", err)}
		}

		for _, row := range rows {
			rec, err := schema.DecodeRecord(table, row)
			if err != nil {
				return nil, &Error{Kind: KindPermanent, Op: "fetch", Table: table, Err: err}
			}
			result.Records = append(result.Records, rec)
		}

		// Every response carries the server's clock in the Date header;
		// the cursor advances to it rather than the local clock.
		if t, err := http.ParseTime(header.Get("Date")); err == nil {
			result.ServerTime = t
		}

		if len(rows) < a.pageSize {
			break
		}
		offset += a.pageSize
	}

	if result.ServerTime.IsZero() && len(result.Records) > 0 {
		result.ServerTime = result.Records[len(result.Records)-1].UpdatedAt
	}
	return result, nil
}

// Upsert implements Adapter using a merge-duplicates POST.
func (a *RESTAdapter) Upsert(ctx context.Context, table string, rec schema.Record) error {
	wire, err := schema.EncodeRecord(rec)
	if err != nil {
		return &Error{Kind: KindPermanent, Op: "upsert", Table: table, Err: err}
	}
	payload := "[" + string(wire) + "]"

	_, _, err = a.do(ctx, "upsert", table, http.MethodPost, a.baseURL+"/"+table, []byte(payload))
	return err
}

// Delete implements Adapter by patching the remote row's deleted flag; the
// remote store never hard-deletes either. The tombstone gets a fresh
// updated_at so other clients' incremental pulls pick it up.
func (a *RESTAdapter) Delete(ctx context.Context, table, id string) error {
	endpoint := fmt.Sprintf("%s/%s?id=eq.%s", a.baseURL, table, url.QueryEscape(id))
	body, err := json.Marshal(map[string]any{
		"deleted":    true,
		"updated_at": time.Now().UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return &Error{Kind: KindPermanent, Op: "delete", Table: table, Err: err}
	}
	_, _, err = a.do(ctx, "delete", table, http.MethodPatch, endpoint, body)
	return err
}

// Ping implements Adapter. Any HTTP response, even an error status, proves
// the endpoint is reachable.
func (a *RESTAdapter) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL+"/", nil)
	if err != nil {
		return &Error{Kind: KindPermanent, Op: "ping", Table: "", Err: err}
	}
	a.setHeaders(req)

	resp, err := a.client.Do(req)
	if err != nil {
		return &Error{Kind: KindTransient, Op: "ping", Table: "", Err: err}
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// do performs one HTTP call with per-call timeout and capped exponential
// backoff on transient failures.
func (a *RESTAdapter) do(ctx context.Context, op, table, method, endpoint string, body []byte) ([]byte, http.Header, error) {
	var (
		respBody   []byte
		respHeader http.Header
	)

	backoff := retry.WithMaxRetries(a.maxRetries, retry.NewExponential(250*time.Millisecond))
	backoff = retry.WithCappedDuration(5*time.Second, backoff)

	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		callCtx, cancel := context.WithTimeout(ctx, a.timeout)
		defer cancel()

		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(callCtx, method, endpoint, reader)
		if err != nil {
			return &Error{Kind: KindPermanent, Op: op, Table: table, Err: err}
		}
		a.setHeaders(req)
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if method == http.MethodPost {
			req.Header.Set("Prefer", "resolution=merge-duplicates,return=minimal")
		}
		if method == http.MethodPatch {
			req.Header.Set("Prefer", "return=minimal")
		}

		resp, err := a.client.Do(req)
		if err != nil {
			// Network-level failure: connection refused, timeout, DNS.
			return retry.RetryableError(&Error{Kind: KindTransient, Op: op, Table: table, Err: err})
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return retry.RetryableError(&Error{Kind: KindTransient, Op: op, Table: table, Err: err})
		}

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			respBody = data
			respHeader = resp.Header
			return nil
		}

		statusErr := fmt.Errorf("HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
		if transientStatus(resp.StatusCode) {
			return retry.RetryableError(&Error{Kind: KindTransient, Op: op, Table: table, Err: statusErr})
		}
		return &Error{Kind: KindPermanent, Op: op, Table: table, Err: statusErr}
	})
	if err != nil {
		return nil, nil, err
	}
	return respBody, respHeader, nil
}

func (a *RESTAdapter) setHeaders(req *http.Request) {
	if a.apiKey != "" {
		req.Header.Set("apikey", a.apiKey)
		req.Header.Set("Authorization", "Bearer "+a.apiKey)
	}
}

// transientStatus reports whether an HTTP status is worth retrying.
func transientStatus(code int) bool {
	switch code {
	case http.StatusRequestTimeout, http.StatusTooEarly, http.StatusTooManyRequests:
		return true
	}
	return code >= 500
}
