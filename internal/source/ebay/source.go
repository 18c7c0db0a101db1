package ebay

import (
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"listing_sync/internal/domain"
)

const (
	SourceID   = "ebay"
	SourceName = "eBay Trading API"

	callName           = "GetSellerList"
	defaultCompatLevel = "1193"
	maxResponseBytes   = 16 << 20
)

// Config holds eBay source configuration.
type Config struct {
	TradingURL         string
	SiteID             string
	CompatibilityLevel string
	Timeout            time.Duration
	RequestsPerSecond  float64
	Burst              int
	// EndTimeFrom/EndTimeTo window, relative to now.
	Lookback  time.Duration
	Lookahead time.Duration
}

// Source fetches seller listings from the Trading API, one page per call.
// It never retries; the caller owns retry policy.
type Source struct {
	httpClient  *http.Client
	tradingURL  string
	siteID      string
	compatLevel string
	lookback    time.Duration
	lookahead   time.Duration
	limit       rate.Limit
	burst       int
	mu          sync.Mutex
	limiters    map[string]*rate.Limiter // per account
	now         func() time.Time
	logger      *slog.Logger
}

// New creates a new eBay source.
func New(cfg Config, logger *slog.Logger) *Source {
	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	burst := cfg.Burst
	if burst < 1 {
		burst = 1
	}
	compat := cfg.CompatibilityLevel
	if compat == "" {
		compat = defaultCompatLevel
	}

	return &Source{
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		tradingURL:  cfg.TradingURL,
		siteID:      cfg.SiteID,
		compatLevel: compat,
		lookback:    cfg.Lookback,
		lookahead:   cfg.Lookahead,
		limit:       limit,
		burst:       burst,
		limiters:    make(map[string]*rate.Limiter),
		now:         time.Now,
		logger:      logger.With("source", SourceID),
	}
}

// ID returns the source identifier.
func (s *Source) ID() string {
	return SourceID
}

// Name returns human-readable name.
func (s *Source) Name() string {
	return SourceName
}

// FetchPage requests one page of the seller's listings. pageNumber starts
// at 1. An empty result is not an error; an unparseable one is a FetchError
// with reason MALFORMED_RESPONSE.
func (s *Source) FetchPage(ctx context.Context, token domain.AccessToken, pageNumber, pageSize int) (*domain.Page, error) {
	if err := s.limiterFor(token.AccountID).Wait(ctx); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		// the limiter refuses up front when the wait would outlast the deadline
		return nil, fmt.Errorf("wait for rate limit: %w", domain.ErrOutOfTime)
	}

	body, err := s.doRequest(ctx, token, pageNumber, pageSize)
	if err != nil {
		return nil, err
	}

	switch parsed := parsePage(body, pageNumber).(type) {
	case PageOK:
		s.logger.Debug("fetched page",
			"account_id", token.AccountID,
			"page", pageNumber,
			"listings", len(parsed.Listings),
			"total_entries", parsed.TotalEntries,
			"has_more", parsed.HasMoreItems,
		)
		return &domain.Page{
			Number:       pageNumber,
			Listings:     parsed.Listings,
			TotalEntries: parsed.TotalEntries,
			TotalPages:   parsed.TotalPages,
			HasMoreItems: parsed.HasMoreItems,
		}, nil
	case PageRejected:
		reason := domain.FetchAPIError
		if authErrorCodes[parsed.Code] {
			reason = domain.FetchUnauthorized
		}
		return nil, &domain.FetchError{
			Page:   pageNumber,
			Reason: reason,
			Code:   parsed.Code,
			Err:    errors.New(parsed.Message),
		}
	case PageMalformed:
		s.logger.Warn("malformed page",
			"account_id", token.AccountID,
			"page", pageNumber,
			"reason", parsed.Reason,
		)
		return nil, &domain.FetchError{
			Page:   pageNumber,
			Reason: domain.FetchMalformed,
			Err:    &domain.MalformedResponseError{Reason: parsed.Reason, Raw: parsed.Raw},
		}
	default:
		return nil, fmt.Errorf("unhandled parse result %T", parsed)
	}
}

// limiterFor returns the request limiter of one account. The Trading API
// call limit applies per credential, so accounts do not throttle each other.
func (s *Source) limiterFor(accountID string) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.limiters[accountID]
	if !ok {
		l = rate.NewLimiter(s.limit, s.burst)
		s.limiters[accountID] = l
	}
	return l
}

func (s *Source) buildRequest(pageNumber, pageSize int) ([]byte, error) {
	now := s.now().UTC().Truncate(time.Second)
	req := GetSellerListRequest{
		GranularityLevel: "Coarse",
		EndTimeFrom:      now.Add(-s.lookback),
		EndTimeTo:        now.Add(s.lookahead),
		Pagination: Pagination{
			EntriesPerPage: pageSize,
			PageNumber:     pageNumber,
		},
	}

	out, err := xml.Marshal(req)
	if err != nil {
		return nil, err
	}
	return append([]byte(xml.Header), out...), nil
}

func (s *Source) doRequest(ctx context.Context, token domain.AccessToken, pageNumber, pageSize int) ([]byte, error) {
	payload, err := s.buildRequest(pageNumber, pageSize)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.tradingURL, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Content-Type", "text/xml")
	req.Header.Set("User-Agent", "ListingSync/1.0")
	req.Header.Set("X-EBAY-API-CALL-NAME", callName)
	req.Header.Set("X-EBAY-API-SITEID", s.siteID)
	req.Header.Set("X-EBAY-API-COMPATIBILITY-LEVEL", s.compatLevel)
	req.Header.Set("X-EBAY-API-IAF-TOKEN", token.Value)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &domain.FetchError{Page: pageNumber, Reason: domain.FetchTransport, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, &domain.FetchError{Page: pageNumber, Reason: domain.FetchTransport, Err: fmt.Errorf("read body: %w", err)}
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return nil, &domain.FetchError{Page: pageNumber, Reason: domain.FetchUnauthorized, Status: resp.StatusCode}
	case resp.StatusCode != http.StatusOK:
		return nil, &domain.FetchError{
			Page:   pageNumber,
			Reason: domain.FetchHTTPStatus,
			Status: resp.StatusCode,
			Err:    errors.New("unexpected status: " + strconv.Itoa(resp.StatusCode)),
		}
	}

	return body, nil
}
