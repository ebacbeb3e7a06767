package influx

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
)

// chunkSize is the number of rows InfluxDB streams per chunk on paginated
// reads. Large windows never buffer fully in memory on either side.
const chunkSize = 10000

// Config holds the connection settings for one InfluxDB 1.x endpoint.
type Config struct {
	URL        string
	Username   string
	Password   string
	VerifySSL  bool
	Timeout    time.Duration
	Retries    int
	RetryDelay time.Duration
}

// Client is an HTTP client for a single InfluxDB 1.x endpoint. It is
// stateless between calls and safe for concurrent use by workers.
type Client struct {
	baseURL    string
	username   string
	password   string
	httpClient *http.Client
	retries    int
	retryDelay time.Duration
	logger     *zap.Logger
}

// NewClient creates a client for one endpoint.
func NewClient(cfg *Config, logger *zap.Logger) *Client {
	retries := cfg.Retries
	if retries < 1 {
		retries = 1
	}

	transport := &http.Transport{
		TLSClientConfig: &tls.Config{InsecureSkipVerify: !cfg.VerifySSL},
	}

	return &Client{
		baseURL:  strings.TrimRight(cfg.URL, "/"),
		username: cfg.Username,
		password: cfg.Password,
		httpClient: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: transport,
		},
		retries:    retries,
		retryDelay: cfg.RetryDelay,
		logger:     logger,
	}
}

// quoteIdent double-quotes an identifier for InfluxQL.
func quoteIdent(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `\"`) + `"`
}

// queryResponse is the JSON body of a /query response (or one chunk of it).
type queryResponse struct {
	Results []queryResult `json:"results"`
	Err     string        `json:"error"`
}

type queryResult struct {
	Series []series `json:"series"`
	Err    string   `json:"error"`
}

type series struct {
	Name    string            `json:"name"`
	Tags    map[string]string `json:"tags"`
	Columns []string          `json:"columns"`
	Values  [][]interface{}   `json:"values"`
	Partial bool              `json:"partial"`
}

func (r *queryResponse) firstError() error {
	if r.Err != "" {
		return fmt.Errorf("influxdb query error: %s", r.Err)
	}
	for _, result := range r.Results {
		if result.Err != "" {
			return fmt.Errorf("influxdb query error: %s", result.Err)
		}
	}
	return nil
}

// withRetry runs fn up to the configured number of attempts with a fixed
// delay between them, stopping early on permanent errors.
func (c *Client) withRetry(ctx context.Context, op string, fn func() error) error {
	var lastErr error

	for attempt := 1; attempt <= c.retries; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if !IsRetriable(lastErr) {
			return lastErr
		}
		if attempt == c.retries {
			break
		}

		c.logger.Warn("Retrying influxdb operation",
			zap.String("op", op),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", c.retries),
			zap.Duration("retry_delay", c.retryDelay),
			zap.Error(lastErr))

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.retryDelay):
		}
	}

	return fmt.Errorf("%s failed after %d attempts: %w", op, c.retries, lastErr)
}

func (c *Client) setAuth(req *http.Request) {
	if c.username != "" && c.password != "" {
		req.SetBasicAuth(c.username, c.password)
	}
}

// Ping checks endpoint reachability via /ping.
func (c *Client) Ping(ctx context.Context) error {
	return c.withRetry(ctx, "ping", func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/ping", nil)
		if err != nil {
			return err
		}
		c.setAuth(req)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusOK {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			return &ServerError{StatusCode: resp.StatusCode, Op: "ping", Body: string(body)}
		}
		return nil
	})
}

// query executes an InfluxQL statement and decodes the full response body.
func (c *Client) query(ctx context.Context, q, db, epoch string) (*queryResponse, error) {
	var decoded queryResponse

	err := c.withRetry(ctx, "query", func() error {
		params := url.Values{}
		params.Set("q", q)
		if db != "" {
			params.Set("db", db)
		}
		if epoch != "" {
			params.Set("epoch", epoch)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet,
			c.baseURL+"/query?"+params.Encode(), nil)
		if err != nil {
			return err
		}
		c.setAuth(req)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
			return &ServerError{StatusCode: resp.StatusCode, Op: "query", Body: string(body)}
		}

		decoded = queryResponse{}
		dec := json.NewDecoder(resp.Body)
		dec.UseNumber()
		if err := dec.Decode(&decoded); err != nil {
			return fmt.Errorf("invalid query response: %w", err)
		}
		return decoded.firstError()
	})
	if err != nil {
		return nil, err
	}
	return &decoded, nil
}

// firstColumn extracts column 0 of the first series of a response.
func firstColumn(resp *queryResponse) []string {
	var out []string
	if len(resp.Results) == 0 || len(resp.Results[0].Series) == 0 {
		return out
	}
	for _, row := range resp.Results[0].Series[0].Values {
		if len(row) > 0 {
			if s, ok := row[0].(string); ok {
				out = append(out, s)
			}
		}
	}
	return out
}

// Databases lists user databases, excluding InfluxDB system databases.
func (c *Client) Databases(ctx context.Context) ([]string, error) {
	resp, err := c.query(ctx, "SHOW DATABASES", "", "")
	if err != nil {
		return nil, err
	}

	var dbs []string
	for _, name := range firstColumn(resp) {
		if !strings.HasPrefix(name, "_") {
			dbs = append(dbs, name)
		}
	}
	return dbs, nil
}

// EnsureDatabase creates a database if it does not exist. CREATE DATABASE is
// idempotent on InfluxDB 1.x.
func (c *Client) EnsureDatabase(ctx context.Context, name string) error {
	return c.withRetry(ctx, "create database", func() error {
		params := url.Values{}
		params.Set("q", "CREATE DATABASE "+quoteIdent(name))

		req, err := http.NewRequestWithContext(ctx, http.MethodPost,
			c.baseURL+"/query", strings.NewReader(params.Encode()))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		c.setAuth(req)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
			return &ServerError{StatusCode: resp.StatusCode, Op: "create database", Body: string(body)}
		}

		var decoded queryResponse
		dec := json.NewDecoder(resp.Body)
		dec.UseNumber()
		if err := dec.Decode(&decoded); err != nil {
			return fmt.Errorf("invalid create database response: %w", err)
		}
		return decoded.firstError()
	})
}

// Measurements lists the measurements of a database.
func (c *Client) Measurements(ctx context.Context, db string) ([]string, error) {
	resp, err := c.query(ctx, "SHOW MEASUREMENTS", db, "")
	if err != nil {
		return nil, err
	}
	return firstColumn(resp), nil
}

// FieldKeys lists the fields of a measurement with their collapsed types.
func (c *Client) FieldKeys(ctx context.Context, db, measurement string) ([]FieldKey, error) {
	resp, err := c.query(ctx, "SHOW FIELD KEYS FROM "+quoteIdent(measurement), db, "")
	if err != nil {
		return nil, err
	}

	var keys []FieldKey
	if len(resp.Results) > 0 && len(resp.Results[0].Series) > 0 {
		for _, row := range resp.Results[0].Series[0].Values {
			if len(row) < 2 {
				continue
			}
			name, ok := row[0].(string)
			if !ok {
				continue
			}
			rawType, _ := row[1].(string)
			native := NativeType(rawType)
			keys = append(keys, FieldKey{Field: name, Type: native.Collapsed(), Native: native})
		}
	}
	return keys, nil
}

// TagKeys lists the tag keys of a measurement.
func (c *Client) TagKeys(ctx context.Context, db, measurement string) ([]string, error) {
	resp, err := c.query(ctx, "SHOW TAG KEYS FROM "+quoteIdent(measurement), db, "")
	if err != nil {
		return nil, err
	}
	return firstColumn(resp), nil
}

// fieldEdgeTime runs a LAST or FIRST selector for one field. The IS NOT NULL
// predicate keeps rows where only other fields are populated from being
// mistaken for this field's edge, which is what isolates each field's
// watermark from its neighbors.
func (c *Client) fieldEdgeTime(ctx context.Context, db, measurement, field, selector string) (int64, bool, error) {
	q := fmt.Sprintf("SELECT %s(%s) FROM %s WHERE %s IS NOT NULL",
		selector, quoteIdent(field), quoteIdent(measurement), quoteIdent(field))

	resp, err := c.query(ctx, q, db, "ns")
	if err != nil {
		return 0, false, err
	}

	if len(resp.Results) == 0 || len(resp.Results[0].Series) == 0 {
		return 0, false, nil
	}
	values := resp.Results[0].Series[0].Values
	if len(values) == 0 || len(values[0]) == 0 {
		return 0, false, nil
	}

	num, ok := values[0][0].(json.Number)
	if !ok {
		return 0, false, fmt.Errorf("unexpected timestamp type in %s response", selector)
	}
	ts, err := num.Int64()
	if err != nil {
		return 0, false, fmt.Errorf("invalid timestamp in %s response: %w", selector, err)
	}
	return ts, true, nil
}

// LastFieldWriteTime returns the timestamp of the newest row where the field
// is non-null, or false when the field has no data.
func (c *Client) LastFieldWriteTime(ctx context.Context, db, measurement, field string) (int64, bool, error) {
	return c.fieldEdgeTime(ctx, db, measurement, field, "LAST")
}

// FirstFieldWriteTime returns the timestamp of the oldest row where the field
// is non-null, or false when the field has no data.
func (c *Client) FirstFieldWriteTime(ctx context.Context, db, measurement, field string) (int64, bool, error) {
	return c.fieldEdgeTime(ctx, db, measurement, field, "FIRST")
}

// timePredicate renders the window bounds of a WHERE clause.
func timePredicate(w Window) string {
	lower := ">="
	if w.StartExclusive {
		lower = ">"
	}
	return fmt.Sprintf("time %s %d AND time < %d", lower, w.Start, w.End)
}

// CountFieldRange counts non-null values of a field inside a window.
func (c *Client) CountFieldRange(ctx context.Context, db, measurement, field string, w Window) (int64, error) {
	q := fmt.Sprintf("SELECT COUNT(%s) FROM %s WHERE %s AND %s IS NOT NULL",
		quoteIdent(field), quoteIdent(measurement), timePredicate(w), quoteIdent(field))

	resp, err := c.query(ctx, q, db, "ns")
	if err != nil {
		return 0, err
	}

	if len(resp.Results) == 0 || len(resp.Results[0].Series) == 0 {
		return 0, nil
	}
	values := resp.Results[0].Series[0].Values
	if len(values) == 0 || len(values[0]) < 2 {
		return 0, nil
	}
	num, ok := values[0][1].(json.Number)
	if !ok {
		return 0, nil
	}
	count, err := num.Int64()
	if err != nil {
		return 0, fmt.Errorf("invalid count value: %w", err)
	}
	return count, nil
}

// QueryFieldWindow streams the points of one field inside a window, in
// ascending time order. Rows where the field is null are discarded server
// side by the IS NOT NULL predicate. The HTTP response is chunked so large
// windows never buffer fully; fn is invoked once per point and may abort the
// stream by returning an error.
func (c *Client) QueryFieldWindow(ctx context.Context, db, measurement, field string, native NativeType,
	tags []string, w Window, groupBy string, fn func(Point) error) error {

	selectCols := make([]string, 0, len(tags)+1)
	selectCols = append(selectCols, quoteIdent(field))
	sorted := append([]string(nil), tags...)
	sort.Strings(sorted)
	for _, tag := range sorted {
		selectCols = append(selectCols, quoteIdent(tag)+"::tag")
	}

	q := fmt.Sprintf("SELECT %s FROM %s WHERE %s AND %s IS NOT NULL",
		strings.Join(selectCols, ", "), quoteIdent(measurement),
		timePredicate(w), quoteIdent(field))
	if groupBy != "" {
		q += " GROUP BY " + groupBy
	}
	q += " ORDER BY time ASC"

	params := url.Values{}
	params.Set("q", q)
	params.Set("db", db)
	params.Set("epoch", "ns")
	params.Set("chunked", "true")
	params.Set("chunk_size", fmt.Sprintf("%d", chunkSize))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"/query?"+params.Encode(), nil)
	if err != nil {
		return err
	}
	c.setAuth(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return &ServerError{StatusCode: resp.StatusCode, Op: "query", Body: string(body)}
	}

	// Chunked responses are a stream of JSON objects, one per chunk.
	dec := json.NewDecoder(resp.Body)
	dec.UseNumber()

	for dec.More() {
		var chunk queryResponse
		if err := dec.Decode(&chunk); err != nil {
			return fmt.Errorf("invalid chunked query response: %w", err)
		}
		if err := chunk.firstError(); err != nil {
			return err
		}

		for _, result := range chunk.Results {
			for _, s := range result.Series {
				if err := emitSeries(s, field, native, fn); err != nil {
					return err
				}
			}
		}
	}

	return nil
}

// emitSeries converts the rows of one series into Points and feeds them to
// fn. Field values are coerced by the declared native type.
func emitSeries(s series, field string, native NativeType, fn func(Point) error) error {
	fieldIdx := -1
	tagIdx := make(map[int]string)
	timeIdx := -1

	for i, col := range s.Columns {
		switch col {
		case "time":
			timeIdx = i
		case field:
			fieldIdx = i
		default:
			tagIdx[i] = col
		}
	}
	if timeIdx < 0 || fieldIdx < 0 {
		return fmt.Errorf("query response missing time or field column for %q", field)
	}

	for _, row := range s.Values {
		if fieldIdx >= len(row) || timeIdx >= len(row) {
			continue
		}

		value, ok := valueFromJSON(row[fieldIdx], native)
		if !ok {
			continue
		}

		num, ok := row[timeIdx].(json.Number)
		if !ok {
			return fmt.Errorf("unexpected timestamp type in query response")
		}
		ts, err := num.Int64()
		if err != nil {
			return fmt.Errorf("invalid timestamp in query response: %w", err)
		}

		pointTags := make(map[string]string, len(tagIdx)+len(s.Tags))
		// GROUP BY tags arrive on the series, selected tags as columns.
		for k, v := range s.Tags {
			if v != "" {
				pointTags[k] = v
			}
		}
		for i, name := range tagIdx {
			if i >= len(row) {
				continue
			}
			if tagVal, ok := row[i].(string); ok && tagVal != "" {
				pointTags[name] = tagVal
			}
		}

		if err := fn(Point{Timestamp: ts, Tags: pointTags, Field: field, Value: value}); err != nil {
			return err
		}
	}
	return nil
}

// WriteBatch writes a batch of points to a measurement using line protocol
// with nanosecond precision.
func (c *Client) WriteBatch(ctx context.Context, db, measurement string, points []Point) error {
	if len(points) == 0 {
		return nil
	}
	payload := EncodeBatch(measurement, points)

	return c.withRetry(ctx, "write", func() error {
		params := url.Values{}
		params.Set("db", db)
		params.Set("precision", "ns")

		req, err := http.NewRequestWithContext(ctx, http.MethodPost,
			c.baseURL+"/write?"+params.Encode(), strings.NewReader(string(payload)))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/octet-stream")
		c.setAuth(req)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusNoContent {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
			return &ServerError{StatusCode: resp.StatusCode, Op: "write", Body: string(body)}
		}
		return nil
	})
}
