package polymarket

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/alanyoungcy/dutchbook/internal/domain"
)

// marketDuration is the lifetime of one up/down market slot.
const marketDuration = 15 * time.Minute

// GammaClient is the REST client for the Polymarket Gamma API. It implements
// domain.MarketDirectory for the recurring 15-minute up/down markets, whose
// slugs are derived from the slot start timestamp.
type GammaClient struct {
	baseURL    string
	httpClient *http.Client
	now        func() time.Time
}

// NewGammaClient creates a new Gamma API client.
//
// baseURL is the Gamma API root, e.g. "https://gamma-api.polymarket.com".
func NewGammaClient(baseURL string) *GammaClient {
	return &GammaClient{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		now: func() time.Time { return time.Now().UTC() },
	}
}

// SetClock overrides the client's time source. Test hook.
func (g *GammaClient) SetClock(now func() time.Time) { g.now = now }

// ComputeSlug returns the slug of the up/down market whose slot contains t,
// e.g. "btc-updown-15m-1765548000".
func ComputeSlug(symbol string, t time.Time) string {
	slot := t.Unix() - t.Unix()%int64(marketDuration.Seconds())
	return fmt.Sprintf("%s-updown-15m-%d", strings.ToLower(symbol), slot)
}

// SlotStart parses the slot start time out of an up/down market slug. It
// fails on slugs that do not follow the updown naming scheme.
func SlotStart(slug string) (time.Time, error) {
	idx := strings.LastIndex(slug, "-")
	if idx < 0 || idx == len(slug)-1 {
		return time.Time{}, fmt.Errorf("polymarket/gamma: malformed slug %q", slug)
	}
	unix, err := strconv.ParseInt(slug[idx+1:], 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("polymarket/gamma: malformed slug %q: %w", slug, err)
	}
	return time.Unix(unix, 0).UTC(), nil
}

// Current returns the currently tradeable up/down market for a symbol.
func (g *GammaClient) Current(ctx context.Context, symbol string) (domain.Market, error) {
	return g.bySlug(ctx, symbol, ComputeSlug(symbol, g.now()))
}

// Lookup returns a market by its ID. Market IDs are slugs, so the symbol is
// recovered from the leading slug segment.
func (g *GammaClient) Lookup(ctx context.Context, marketID string) (domain.Market, error) {
	symbol := strings.ToUpper(strings.SplitN(marketID, "-", 2)[0])
	return g.bySlug(ctx, symbol, marketID)
}

var _ domain.MarketDirectory = (*GammaClient)(nil)

func (g *GammaClient) bySlug(ctx context.Context, symbol, slug string) (domain.Market, error) {
	start, err := SlotStart(slug)
	if err != nil {
		return domain.Market{}, err
	}

	params := url.Values{}
	params.Set("slug", slug)
	body, err := g.doGet(ctx, "/markets?"+params.Encode())
	if err != nil {
		return domain.Market{}, fmt.Errorf("polymarket/gamma: get market %s: %w", slug, err)
	}

	var apiMarkets []APIMarket
	if err := json.Unmarshal(body, &apiMarkets); err != nil {
		return domain.Market{}, fmt.Errorf("polymarket/gamma: decode markets: %w", err)
	}
	if len(apiMarkets) == 0 {
		return domain.Market{}, fmt.Errorf("polymarket/gamma: slug %s: %w", slug, domain.ErrUnknownMarket)
	}

	m := &apiMarkets[0]
	yesToken, noToken := m.tokenIDs()
	if yesToken == "" || noToken == "" {
		return domain.Market{}, fmt.Errorf("polymarket/gamma: slug %s has no clob tokens: %w", slug, domain.ErrUnknownMarket)
	}

	return domain.Market{
		ID:                 slug,
		Symbol:             symbol,
		YesTokenID:         yesToken,
		NoTokenID:          noToken,
		StartTime:          start,
		ResolutionDeadline: start.Add(marketDuration),
		Resolution:         m.resolution(),
	}, nil
}

// doGet sends an unauthenticated GET request to the Gamma API.
func (g *GammaClient) doGet(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if err := checkHTTPStatus(resp.StatusCode, body); err != nil {
		return nil, err
	}

	return body, nil
}
