package source

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/teranos/trellis/errors"
)

// HTTPClient talks to a JSON table API over HTTP. Every call carries a
// timeout, flows through a rate limiter, and is guarded by a circuit
// breaker so a flapping upstream degrades to fast retryable failures
// instead of piling up blocked goroutines.
type HTTPClient struct {
	baseURL string
	token   string
	timeout time.Duration
	client  *http.Client
	breaker *gobreaker.CircuitBreaker
	limiter *rate.Limiter
	logger  *zap.SugaredLogger
}

// HTTPClientConfig configures the upstream table-store client.
type HTTPClientConfig struct {
	BaseURL           string
	Token             string
	Timeout           time.Duration
	RequestsPerMinute int
}

// NewHTTPClient creates a table-store client for the given base URL.
func NewHTTPClient(cfg HTTPClientConfig, logger *zap.SugaredLogger) *HTTPClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	rpm := cfg.RequestsPerMinute
	if rpm <= 0 {
		rpm = 120
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "table-store",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			if logger != nil {
				logger.Warnw("Upstream circuit breaker state change",
					"breaker", name,
					"from", from.String(),
					"to", to.String(),
				)
			}
		},
	})

	return &HTTPClient{
		baseURL: cfg.BaseURL,
		token:   cfg.Token,
		timeout: timeout,
		client:  &http.Client{Timeout: timeout},
		breaker: breaker,
		limiter: rate.NewLimiter(rate.Limit(float64(rpm)/60.0), rpm/10+1),
		logger:  logger,
	}
}

// Record returns the current field values of a single record.
func (c *HTTPClient) Record(ctx context.Context, tableID, recordID string) (map[string]string, error) {
	path := fmt.Sprintf("/tables/%s/records/%s", url.PathEscape(tableID), url.PathEscape(recordID))

	var out struct {
		Fields map[string]string `json:"fields"`
	}
	if err := c.getJSON(ctx, path, nil, &out); err != nil {
		return nil, errors.Wrapf(err, "fetch record %s/%s", tableID, recordID)
	}
	return out.Fields, nil
}

// ChangedSince returns records modified after sinceMs, oldest first.
func (c *HTTPClient) ChangedSince(ctx context.Context, tableID string, sinceMs int64, limit int) ([]ChangedRecord, error) {
	path := fmt.Sprintf("/tables/%s/records", url.PathEscape(tableID))
	query := url.Values{}
	query.Set("modified_since", strconv.FormatInt(sinceMs, 10))
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}

	var out struct {
		Records []struct {
			RecordID   string            `json:"record_id"`
			Fields     map[string]string `json:"fields"`
			ModifiedMs int64             `json:"modified_ms"`
			Deleted    bool              `json:"deleted"`
		} `json:"records"`
	}
	if err := c.getJSON(ctx, path, query, &out); err != nil {
		return nil, errors.Wrapf(err, "scan table %s since %d", tableID, sinceMs)
	}

	records := make([]ChangedRecord, 0, len(out.Records))
	for _, r := range out.Records {
		records = append(records, ChangedRecord{
			RecordID:   r.RecordID,
			Fields:     r.Fields,
			ModifiedAt: time.UnixMilli(r.ModifiedMs),
			Deleted:    r.Deleted,
		})
	}
	return records, nil
}

// Schema returns the table's field schema as name -> type.
func (c *HTTPClient) Schema(ctx context.Context, tableID string) (map[string]string, error) {
	path := fmt.Sprintf("/tables/%s/schema", url.PathEscape(tableID))

	var out struct {
		Fields map[string]string `json:"fields"`
	}
	if err := c.getJSON(ctx, path, nil, &out); err != nil {
		return nil, errors.Wrapf(err, "fetch schema for table %s", tableID)
	}
	return out.Fields, nil
}

// UpdateRecord writes field values back to the upstream record.
func (c *HTTPClient) UpdateRecord(ctx context.Context, tableID, recordID string, fields map[string]string) error {
	path := fmt.Sprintf("/tables/%s/records/%s", url.PathEscape(tableID), url.PathEscape(recordID))

	body, err := json.Marshal(map[string]interface{}{"fields": fields})
	if err != nil {
		return errors.Wrap(err, "marshal record update")
	}

	if err := c.do(ctx, http.MethodPatch, path, nil, body, nil); err != nil {
		return errors.Wrapf(err, "update record %s/%s", tableID, recordID)
	}
	return nil
}

func (c *HTTPClient) getJSON(ctx context.Context, path string, query url.Values, out interface{}) error {
	return c.do(ctx, http.MethodGet, path, query, nil, out)
}

func (c *HTTPClient) do(ctx context.Context, method, path string, query url.Values, body []byte, out interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return errors.Wrap(errors.ErrTimeout, err.Error())
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	_, err := c.breaker.Execute(func() (interface{}, error) {
		reqURL := c.baseURL + path
		if len(query) > 0 {
			reqURL += "?" + query.Encode()
		}

		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, reqURL, reader)
		if err != nil {
			return nil, errors.Wrap(err, "build request")
		}
		if c.token != "" {
			req.Header.Set("Authorization", "Bearer "+c.token)
		}
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, errors.Wrap(errors.ErrTimeout, err.Error())
			}
			return nil, errors.Wrap(errors.ErrServiceUnavailable, err.Error())
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusNotFound:
			return nil, errors.NewNotFoundError("%s %s returned 404", method, path)
		case resp.StatusCode >= 500:
			return nil, errors.Wrapf(errors.ErrServiceUnavailable, "%s %s returned %d", method, path, resp.StatusCode)
		case resp.StatusCode >= 400:
			return nil, errors.NewInvalidRequestError("%s %s returned %d", method, path, resp.StatusCode)
		}

		if out != nil {
			if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
				return nil, errors.Wrap(err, "decode response")
			}
		}
		return nil, nil
	})

	// An open breaker is a transient upstream condition, report it the
	// same way as unavailability so callers retry on the next tick.
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return errors.Wrap(errors.ErrServiceUnavailable, err.Error())
	}
	return err
}
