// Package httpstore implements progress.Store against the workbook HTTP API.
package httpstore

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

	"github.com/cenkalti/backoff/v4"

	"github.com/yungbote/workbook-backend/internal/platform/logger"
	"github.com/yungbote/workbook-backend/internal/progress"
)

const (
	defaultTimeout         = 15 * time.Second
	defaultRetryMaxElapsed = 10 * time.Second
	maxErrorBody           = 4 << 10
)

type Config struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
	Log        *logger.Logger
	// RetryMaxElapsed bounds retries of reads. Zero uses the default; negative
	// disables retries.
	RetryMaxElapsed time.Duration
}

// Client talks to one server as the user the token belongs to. Reads are retried
// with exponential backoff; upserts are not, since the SaveController owns save
// retries.
type Client struct {
	base       *url.URL
	token      string
	hc         *http.Client
	log        *logger.Logger
	maxElapsed time.Duration
}

var _ progress.Store = (*Client)(nil)

// StatusError is a non-2xx response.
type StatusError struct {
	Status  int
	Code    string
	Message string
}

func (e *StatusError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("http %d %s: %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("http %d", e.Status)
}

func New(cfg Config) (*Client, error) {
	raw := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if raw == "" {
		return nil, errors.New("base url required")
	}
	base, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("base url %q: scheme must be http or https", raw)
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: defaultTimeout}
	}
	log := cfg.Log
	if log == nil {
		log = logger.Nop()
	}
	maxElapsed := cfg.RetryMaxElapsed
	if maxElapsed == 0 {
		maxElapsed = defaultRetryMaxElapsed
	}
	return &Client{
		base:       base,
		token:      strings.TrimSpace(cfg.Token),
		hc:         hc,
		log:        log.With("component", "HTTPProgressStore"),
		maxElapsed: maxElapsed,
	}, nil
}

type upsertRequest struct {
	Data      progress.Document `json:"data"`
	Completed *bool             `json:"completed,omitempty"`
}

type recordResponse struct {
	Record *progress.WorksheetProgress `json:"record"`
}

type recordsResponse struct {
	Records []progress.WorksheetProgress `json:"records"`
}

type errorEnvelope struct {
	Error struct {
		Message string `json:"message"`
		Code    string `json:"code"`
	} `json:"error"`
}

func (c *Client) Upsert(ctx context.Context, key progress.Key, data progress.Document, completed *bool) error {
	if err := key.Validate(); err != nil {
		return err
	}
	if data == nil {
		data = progress.Document{}
	}
	body, err := json.Marshal(upsertRequest{Data: data, Completed: completed})
	if err != nil {
		return fmt.Errorf("encode upsert: %w", err)
	}
	return mapError("upsert", c.do(ctx, http.MethodPut, worksheetPath(key), body, nil))
}

func (c *Client) FetchOne(ctx context.Context, key progress.Key) (*progress.WorksheetProgress, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}
	var out recordResponse
	if err := c.read(ctx, worksheetPath(key), &out); err != nil {
		return nil, mapError("fetch worksheet", err)
	}
	return out.Record, nil
}

func (c *Client) FetchByPhase(ctx context.Context, phase int) ([]progress.WorksheetProgress, error) {
	if err := progress.ValidatePhase(phase); err != nil {
		return nil, err
	}
	var out recordsResponse
	if err := c.read(ctx, fmt.Sprintf("/api/workbook/phases/%d/worksheets", phase), &out); err != nil {
		return nil, mapError("fetch phase", err)
	}
	if out.Records == nil {
		out.Records = []progress.WorksheetProgress{}
	}
	return out.Records, nil
}

func worksheetPath(key progress.Key) string {
	return fmt.Sprintf("/api/workbook/phases/%d/worksheets/%s", key.PhaseNumber, url.PathEscape(key.WorksheetID))
}

func (c *Client) read(ctx context.Context, path string, out any) error {
	if c.maxElapsed < 0 {
		return c.do(ctx, http.MethodGet, path, nil, out)
	}
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 200 * time.Millisecond
	bo.MaxElapsedTime = c.maxElapsed
	attempt := 0
	return backoff.Retry(func() error {
		attempt++
		err := c.do(ctx, http.MethodGet, path, nil, out)
		if err == nil {
			return nil
		}
		if !retryable(err) {
			return backoff.Permanent(err)
		}
		c.log.Debug("Retrying progress read", "path", path, "attempt", attempt, "error", err)
		return err
	}, backoff.WithContext(bo, ctx))
}

func (c *Client) do(ctx context.Context, method, path string, body []byte, out any) error {
	u := c.base.JoinPath(path)
	var rdr io.Reader
	if body != nil {
		rdr = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), rdr)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		se := &StatusError{Status: resp.StatusCode}
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		var env errorEnvelope
		if json.Unmarshal(raw, &env) == nil {
			se.Code = env.Error.Code
			se.Message = env.Error.Message
		}
		return se
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}

// retryable covers transport failures and responses a later attempt could get past.
func retryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Status >= 500 || se.Status == http.StatusTooManyRequests || se.Status == http.StatusRequestTimeout
	}
	return true
}

func mapError(op string, err error) error {
	if err == nil {
		return nil
	}
	var se *StatusError
	if errors.As(err, &se) && (se.Status == http.StatusBadRequest || se.Status == http.StatusNotFound) {
		return fmt.Errorf("%s: %w: %w", op, progress.ErrInvalidKey, err)
	}
	return progress.Unavailable(op, err)
}
