package datagov

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/cliffchew84/sghousing/internal/model"
	"github.com/go-playground/validator/v10"
	json "github.com/goccy/go-json"
	"github.com/rs/zerolog/log"
)

var (
	// ErrInvalidConfig indicates that the provided Config contains invalid values.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrUpstreamStatus indicates a non-200 response from the datastore.
	ErrUpstreamStatus = errors.New("unexpected upstream status")

	// ErrMalformedEnvelope indicates a response body that does not match the
	// datastore_search envelope contract.
	ErrMalformedEnvelope = errors.New("malformed response envelope")
)

// defaultConfig provides sensible default configuration values for the
// public data.gov.sg datastore and the HDB resale transaction resource.
var defaultConfig = Config{
	BaseURL:    "https://data.gov.sg",
	ResourceID: "d_8b84c4ee58e3cfc0ece0d773c8ca6abc",
	PageLimit:  10000,
	Timeout:    15 * time.Second,
}

// Config provides configuration parameters for the datastore client.
type Config struct {
	// BaseURL is the scheme and host of the datastore API.
	BaseURL string

	// ResourceID identifies the dataset to query.
	ResourceID string

	// PageLimit is the row-count limit sent with each request. One page at
	// this limit covers a full month of transactions.
	PageLimit int

	// Timeout bounds each period request so one stalled period cannot stall
	// the whole refresh.
	Timeout time.Duration
}

// Client fetches raw resale transaction records from the data.gov.sg
// datastore_search endpoint, one calendar-month period per request.
//
// The client converts the upstream JSON envelope into a model.Batch carrying
// the raw rows and the observed column signature. Any transport failure,
// non-200 status or malformed envelope is returned as an error; callers
// decide whether that degrades to an empty batch.
type Client struct {
	cfg      Config              // Configuration parameters for the client
	hc       *http.Client        // Underlying HTTP client with request timeout
	validate *validator.Validate // Validator instance for envelope validation
}

// envelope is the outer wrapper of a datastore_search response.
//
// Example:
//
//	{
//		"success": true,
//		"result": {
//			"records": [ {"month": "2024-06", "town": "BEDOK", ...} ],
//			"total": 2371
//		}
//	}
type envelope struct {
	Success bool            `json:"success"`
	Result  json.RawMessage `json:"result" validate:"required"`
}

// result is the inner payload containing the record list for one period.
type result struct {
	Records []model.RawRecord `json:"records"`
	Total   int               `json:"total" validate:"gte=0"`
}

// NewClient creates a datastore client with the specified configuration.
//
// If no configuration is provided (cfg is nil), the client uses default
// values pointing at the public resale transaction resource. The
// configuration is merged against the defaults so partial overrides are
// valid.
func NewClient(cfg *Config) (*Client, error) {
	if cfg == nil {
		cfg = &defaultConfig
	}

	if err := validateConfig(cfg, &defaultConfig); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	return &Client{
		cfg:      *cfg,
		hc:       &http.Client{Timeout: cfg.Timeout},
		validate: validator.New(),
	}, nil
}

// validateConfig ensures all required configuration fields are present and
// valid, applying defaults for optional fields when possible.
func validateConfig(cfg *Config, defaultCfg *Config) error {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultCfg.BaseURL
	}

	if cfg.ResourceID == "" {
		cfg.ResourceID = defaultCfg.ResourceID
	}

	if cfg.PageLimit <= 0 {
		cfg.PageLimit = defaultCfg.PageLimit
	}

	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultCfg.Timeout
	}

	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return fmt.Errorf("invalid base URL %q: %v", cfg.BaseURL, err)
	}

	return nil
}

// FetchPeriod retrieves the raw records for one calendar-month period.
//
// The request asks the datastore for the fixed raw field list, filtered
// server-side by month equality, bounded by the configured page limit. The
// returned batch carries the observed column signature so the merger can
// detect schema drift between sibling periods.
func (c *Client) FetchPeriod(ctx context.Context, period string) (model.Batch, error) {
	if err := ValidatePeriod(period); err != nil {
		return model.Batch{Period: period}, err
	}

	reqURL, err := c.buildSearchURL(period)
	if err != nil {
		return model.Batch{Period: period}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return model.Batch{Period: period}, err
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		log.Warn().Err(err).Str("period", period).Msg("period fetch transport failure")
		return model.Batch{Period: period}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return model.Batch{Period: period},
			fmt.Errorf("%w: %d for period %s", ErrUpstreamStatus, resp.StatusCode, period)
	}

	// decode the outer wrapper
	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return model.Batch{Period: period}, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}

	if err := c.validate.Struct(&env); err != nil {
		return model.Batch{Period: period}, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}

	if !env.Success {
		return model.Batch{Period: period}, fmt.Errorf("%w: success=false", ErrMalformedEnvelope)
	}

	// decode the record payload
	var res result
	if err := json.Unmarshal(env.Result, &res); err != nil {
		return model.Batch{Period: period}, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}

	batch := model.Batch{
		Period:  period,
		Fields:  fieldSignature(res.Records),
		Records: res.Records,
	}

	log.Debug().Str("period", period).Int("rows", len(batch.Records)).Msg("period fetched")
	return batch, nil
}

// buildSearchURL constructs the datastore_search request URL for one period.
//
// The datastore accepts the filter as a JSON object in the "filters" query
// parameter, e.g. filters={"month":"2024-06"}.
func (c *Client) buildSearchURL(period string) (string, error) {
	filters, err := json.Marshal(map[string]string{model.RawFieldMonth: period})
	if err != nil {
		return "", err
	}

	q := url.Values{}
	q.Set("resource_id", c.cfg.ResourceID)
	q.Set("fields", strings.Join(model.RawFields, ","))
	q.Set("filters", string(filters))
	q.Set("limit", strconv.Itoa(c.cfg.PageLimit))

	return fmt.Sprintf("%s/api/action/datastore_search?%s", c.cfg.BaseURL, q.Encode()), nil
}

// fieldSignature derives the sorted column signature of a batch from its
// first record. An empty batch has no signature.
func fieldSignature(records []model.RawRecord) []string {
	if len(records) == 0 {
		return nil
	}

	fields := make([]string, 0, len(records[0]))
	for k := range records[0] {
		fields = append(fields, k)
	}
	sort.Strings(fields)
	return fields
}
