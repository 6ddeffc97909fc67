// Package oracle talks to the external face recognition service over HTTP.
package oracle

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/celerix-dev/celerix-presence/internal/photo"
	"github.com/celerix-dev/celerix-presence/internal/scan"
	"github.com/celerix-dev/celerix-presence/pkg/schema"
	"github.com/kaptinlin/jsonschema"
)

const maxResponseBytes = 1 << 20

// responseSchema is the reply contract. matchedName may be null.
const responseSchema = `{
  "type": "object",
  "properties": {
    "matchedPersonId": {"type": "string"},
    "matchedName": {"type": ["string", "null"]},
    "confidence": {"type": "number", "minimum": 0, "maximum": 1}
  },
  "required": ["matchedPersonId", "confidence"]
}`

// Config configures a Client.
type Config struct {
	URL     string
	APIKey  string
	Timeout time.Duration
	// HTTPClient overrides the default client, mainly for tests.
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Client implements scan.Oracle.
type Client struct {
	url    string
	apiKey string
	http   *http.Client
	schema *jsonschema.Schema
	logger *slog.Logger
}

type candidate struct {
	ID             string `json:"id"`
	DisplayName    string `json:"displayName"`
	ReferenceImage []byte `json:"referenceImage"`
}

type request struct {
	Probe  []byte      `json:"probe"`
	Roster []candidate `json:"roster"`
}

type response struct {
	MatchedPersonID string  `json:"matchedPersonId"`
	MatchedName     *string `json:"matchedName"`
	Confidence      float64 `json:"confidence"`
}

// NewClient compiles the reply schema and returns a ready client.
func NewClient(cfg Config) (*Client, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("oracle url is required")
	}
	compiler := jsonschema.NewCompiler()
	schema, err := compiler.Compile([]byte(responseSchema))
	if err != nil {
		return nil, fmt.Errorf("compile oracle schema: %w", err)
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 15 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		url:    cfg.URL,
		apiKey: cfg.APIKey,
		http:   httpClient,
		schema: schema,
		logger: logger.With("component", "oracle"),
	}, nil
}

// Identify sends the probe and the roster's reference images and returns the
// service's best match. The threshold is applied by the caller.
func (c *Client) Identify(ctx context.Context, probe []byte, roster []schema.Person) (scan.Match, error) {
	body := request{Probe: photo.NormalizeOrRaw(probe), Roster: make([]candidate, 0, len(roster))}
	for _, p := range roster {
		body.Roster = append(body.Roster, candidate{
			ID:             p.ID,
			DisplayName:    p.DisplayName,
			ReferenceImage: p.ReferenceImage,
		})
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return scan.Match{}, fmt.Errorf("encode oracle request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return scan.Match{}, fmt.Errorf("%w: %v", scan.ErrOracleUnavailable, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	started := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return scan.Match{}, fmt.Errorf("%w: %v", scan.ErrOracleUnavailable, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return scan.Match{}, fmt.Errorf("%w: read body: %v", scan.ErrOracleUnavailable, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return scan.Match{}, fmt.Errorf("%w: status %d", scan.ErrOracleUnavailable, resp.StatusCode)
	}
	c.logger.Debug("oracle_replied", "candidates", len(roster), "elapsed", time.Since(started).String())
	return c.parse(data)
}

func (c *Client) parse(data []byte) (scan.Match, error) {
	if !json.Valid(data) {
		return scan.Match{}, fmt.Errorf("%w: not json", scan.ErrOracleMalformedResponse)
	}
	result := c.schema.ValidateJSON(data)
	if !result.IsValid() {
		return scan.Match{}, fmt.Errorf("%w: %v", scan.ErrOracleMalformedResponse, result.Errors)
	}
	var r response
	if err := json.Unmarshal(data, &r); err != nil {
		return scan.Match{}, fmt.Errorf("%w: %v", scan.ErrOracleMalformedResponse, err)
	}
	m := scan.Match{PersonID: r.MatchedPersonID, Confidence: r.Confidence}
	if r.MatchedName != nil {
		m.Name = *r.MatchedName
	}
	return m, nil
}
