package sparql

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/tidwall/gjson"
	"golang.org/x/time/rate"

	"github.com/mu-semtech/delta-notifier/delta"
	"github.com/mu-semtech/delta-notifier/errors"
	"github.com/mu-semtech/delta-notifier/match"
	"github.com/mu-semtech/delta-notifier/rule"
)

// ResultsContentType is requested from the endpoint.
const ResultsContentType = "application/sparql-results+json"

// Config configures the query endpoint.
type Config struct {
	Endpoint string
	Timeout  time.Duration
	// Headers are sent with every query, e.g. mu-auth-sudo.
	Headers map[string]string
	// MaxQPS caps queries per second across all rules; 0 means unlimited.
	MaxQPS float64
	// Burst is the number of queries allowed above MaxQPS at once.
	Burst int
}

// Client runs CONSTRUCT queries for conjunctive matching.
type Client struct {
	http     *resty.Client
	endpoint string
	limiter  *rate.Limiter
	logger   *slog.Logger
}

var _ match.QueryService = (*Client)(nil)

// NewClient creates a client for cfg.Endpoint.
func NewClient(cfg Config, logger *slog.Logger) (*Client, error) {
	if cfg.Endpoint == "" {
		return nil, errors.WrapFatal(errors.ErrMissingConfig, "sparql", "NewClient", "endpoint")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}

	client := resty.New().
		SetTimeout(cfg.Timeout).
		SetHeader("Accept", ResultsContentType).
		SetHeaders(cfg.Headers)

	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.MaxQPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.MaxQPS), max(cfg.Burst, 1))
	}

	return &Client{
		http:     client,
		endpoint: cfg.Endpoint,
		limiter:  limiter,
		logger:   logger.With("component", "sparql"),
	}, nil
}

// Construct implements match.QueryService.
func (c *Client) Construct(ctx context.Context, patterns []rule.Pattern, bindings match.Solution) ([]delta.Triple, error) {
	query, err := BuildConstruct(patterns, bindings)
	if err != nil {
		return nil, err
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, errors.WrapTransient(fmt.Errorf("%w: %w", errors.ErrQueryFailed, err), "sparql", "Construct", "wait for rate limit")
	}
	c.logger.Debug("Running construct query", "query", query)

	resp, err := c.http.R().
		SetContext(ctx).
		SetFormData(map[string]string{"query": query}).
		Post(c.endpoint)
	if err != nil {
		return nil, errors.WrapTransient(fmt.Errorf("%w: %w", errors.ErrQueryFailed, err), "sparql", "Construct", "post query")
	}
	if resp.IsError() {
		err := fmt.Errorf("%w: status %d", errors.ErrQueryFailed, resp.StatusCode())
		if resp.StatusCode() >= 500 {
			return nil, errors.WrapTransient(err, "sparql", "Construct", "post query")
		}
		return nil, errors.WrapInvalid(err, "sparql", "Construct", "post query")
	}

	return ParseTriples(resp.Body())
}

// ParseTriples reads s/p/o bindings from a SPARQL JSON results document.
func ParseTriples(body []byte) ([]delta.Triple, error) {
	if !gjson.ValidBytes(body) {
		return nil, errors.WrapInvalid(fmt.Errorf("%w: response is not json", errors.ErrQueryFailed), "sparql", "ParseTriples", "parse results")
	}
	bindings := gjson.GetBytes(body, "results.bindings")
	if !bindings.IsArray() {
		return nil, errors.WrapInvalid(fmt.Errorf("%w: no results.bindings", errors.ErrQueryFailed), "sparql", "ParseTriples", "parse results")
	}

	var out []delta.Triple
	var parseErr error
	bindings.ForEach(func(_, b gjson.Result) bool {
		s, sok := termOf(b.Get("s"))
		p, pok := termOf(b.Get("p"))
		o, ook := termOf(b.Get("o"))
		if !sok || !pok || !ook {
			parseErr = errors.WrapInvalid(fmt.Errorf("%w: incomplete binding %s", errors.ErrQueryFailed, b.Raw), "sparql", "ParseTriples", "parse binding")
			return false
		}
		t := delta.NewTriple(s, p, o)
		if err := t.Validate(); err != nil {
			parseErr = errors.WrapInvalid(err, "sparql", "ParseTriples", "validate binding")
			return false
		}
		out = append(out, t)
		return true
	})
	if parseErr != nil {
		return nil, parseErr
	}
	return out, nil
}

func termOf(r gjson.Result) (delta.Term, bool) {
	if !r.Exists() {
		return delta.Term{}, false
	}
	return delta.Term{
		Type:     delta.TermType(r.Get("type").String()),
		Value:    r.Get("value").String(),
		Datatype: r.Get("datatype").String(),
		Lang:     r.Get("xml:lang").String(),
	}, true
}
