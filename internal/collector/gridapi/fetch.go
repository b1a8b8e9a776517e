package gridapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gridfeed/elecdata/internal/collector"
	"github.com/gridfeed/elecdata/internal/interval"
	"github.com/gridfeed/elecdata/internal/model"
)

// APIError represents an error response from the grid-data API.
type APIError struct {
	StatusCode int
	Message    string
	Body       []byte
}

func (e *APIError) Error() string {
	return fmt.Sprintf("gridapi error %d: %s", e.StatusCode, e.Message)
}

// IsRetryable reports whether the error should be treated as transient.
func (e *APIError) IsRetryable() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests
}

// wireRow is the JSON row shape of the upstream API.
type wireRow struct {
	LocalTime    string  `json:"local_time"`
	UTCOffsetSec *int    `json:"utc_offset_sec,omitempty"`
	Occurrence   int     `json:"occurrence,omitempty"`
	Value        float64 `json:"value"`
	Unit         string  `json:"unit,omitempty"`
	Label        string  `json:"label,omitempty"`
	CounterParty string  `json:"counterparty,omitempty"`
	VolumeMWh    float64 `json:"volume_mwh,omitempty"`
}

type wireResponse struct {
	Rows []wireRow `json:"rows"`
}

// Source implements collector.Collector.
func (c *Client) Source(marketID string) string {
	return "gridapi_" + strings.ToLower(marketID)
}

// Markets implements collector.Collector.
func (c *Client) Markets() []string {
	out := make([]string, len(c.markets))
	copy(out, c.markets)
	return out
}

// Fetch implements collector.Collector. Failures are classified into
// transient (retryable by the backfill coordinator) and permanent.
func (c *Client) Fetch(ctx context.Context, marketID string, dt model.DataType, window interval.Interval) ([]collector.RawRow, error) {
	query := url.Values{}
	query.Set("market", marketID)
	query.Set("start", window.Start.Format(time.RFC3339))
	query.Set("end", window.End.Format(time.RFC3339))

	body, err := c.doRequest(ctx, "/v1/"+string(dt), query)
	if err != nil {
		return nil, classify(err)
	}

	var resp wireResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, &collector.FetchError{Transient: false, Err: fmt.Errorf("unmarshal response: %w", err)}
	}

	rows := make([]collector.RawRow, len(resp.Rows))
	for i, w := range resp.Rows {
		rows[i] = collector.RawRow{
			LocalTime:    w.LocalTime,
			UTCOffsetSec: w.UTCOffsetSec,
			Occurrence:   w.Occurrence,
			Value:        w.Value,
			Unit:         w.Unit,
			Label:        w.Label,
			CounterParty: w.CounterParty,
			VolumeMWh:    w.VolumeMWh,
		}
	}

	c.logger.Debug("fetched raw rows",
		"market", marketID,
		"data_type", dt,
		"window", window.String(),
		"rows", len(rows),
	)

	return rows, nil
}

// doRequest performs a GET against the API.
func (c *Client) doRequest(ctx context.Context, path string, query url.Values) ([]byte, error) {
	fullURL := c.baseURL + path
	if len(query) > 0 {
		fullURL += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		return nil, &APIError{
			StatusCode: resp.StatusCode,
			Message:    http.StatusText(resp.StatusCode),
			Body:       body,
		}
	}

	return body, nil
}

// classify wraps a request failure into the collector error taxonomy.
// Network-level failures count as transient; HTTP statuses follow
// APIError.IsRetryable.
func classify(err error) error {
	if apiErr, ok := err.(*APIError); ok {
		return &collector.FetchError{Transient: apiErr.IsRetryable(), Err: apiErr}
	}
	return &collector.FetchError{Transient: true, Err: err}
}
