package venue

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

	"golang.org/x/time/rate"

	"github.com/updownhft/updownbot/internal/domain"
)

// Client is the REST client for the venue metadata API. It handles market
// discovery for the short-duration Up/Down series and resolution lookups.
// All requests pass through a token-bucket rate limiter so bursts of
// discovery calls never trip the venue's request ceiling.
type Client struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewClient creates a metadata API client. rps and burst bound the request
// rate; zero values disable limiting.
func NewClient(baseURL string, rps float64, burst int) *Client {
	var limiter *rate.Limiter
	if rps > 0 {
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		limiter: limiter,
	}
}

// DiscoverInstruments pages through active markets and returns the binary
// Up/Down instruments whose underlying is in symbols. An empty symbols list
// accepts every underlying.
func (c *Client) DiscoverInstruments(ctx context.Context, symbols []string) ([]domain.Instrument, error) {
	want := make(map[string]bool, len(symbols))
	for _, s := range symbols {
		want[strings.ToUpper(s)] = true
	}

	const pageSize = 100
	var out []domain.Instrument
	for offset := 0; ; offset += pageSize {
		markets, err := c.listMarkets(ctx, pageSize, offset)
		if err != nil {
			return nil, err
		}
		for i := range markets {
			inst, ok := markets[i].toInstrument()
			if !ok || !inst.Active {
				continue
			}
			if len(want) > 0 && !want[inst.Symbol] {
				continue
			}
			out = append(out, inst)
		}
		if len(markets) < pageSize {
			break
		}
	}
	return out, nil
}

// GetInstrument returns a single instrument by market ID.
func (c *Client) GetInstrument(ctx context.Context, id string) (domain.Instrument, error) {
	body, err := c.doGet(ctx, "/markets/"+url.PathEscape(id))
	if err != nil {
		return domain.Instrument{}, fmt.Errorf("venue: get market %s: %w", id, err)
	}

	var m apiMarket
	if err := json.Unmarshal(body, &m); err != nil {
		return domain.Instrument{}, fmt.Errorf("venue: decode market: %w", err)
	}
	inst, ok := m.toInstrument()
	if !ok {
		return domain.Instrument{}, fmt.Errorf("venue: market %s: %w", id, domain.ErrNotFound)
	}
	return inst, nil
}

// Resolution holds a market's settlement state.
type Resolution struct {
	Closed bool
	Winner domain.TickSide // meaningful only when Closed
}

// GetResolution reports whether a market has settled and which side won.
func (c *Client) GetResolution(ctx context.Context, id string) (Resolution, error) {
	body, err := c.doGet(ctx, "/markets/"+url.PathEscape(id))
	if err != nil {
		return Resolution{}, fmt.Errorf("venue: get resolution %s: %w", id, err)
	}

	var m apiMarket
	if err := json.Unmarshal(body, &m); err != nil {
		return Resolution{}, fmt.Errorf("venue: decode resolution: %w", err)
	}

	res := Resolution{Closed: m.Closed}
	if winner, ok := m.winnerSide(); ok {
		res.Winner = winner
	}
	return res, nil
}

// listMarkets returns one page of active markets.
func (c *Client) listMarkets(ctx context.Context, limit, offset int) ([]apiMarket, error) {
	params := url.Values{}
	params.Set("limit", strconv.Itoa(limit))
	params.Set("offset", strconv.Itoa(offset))
	params.Set("active", "true")
	params.Set("closed", "false")

	body, err := c.doGet(ctx, "/markets?"+params.Encode())
	if err != nil {
		return nil, fmt.Errorf("venue: list markets: %w", err)
	}

	var markets []apiMarket
	if err := json.Unmarshal(body, &markets); err != nil {
		return nil, fmt.Errorf("venue: decode markets: %w", err)
	}
	return markets, nil
}

// doGet sends an unauthenticated GET request through the rate limiter.
func (c *Client) doGet(ctx context.Context, path string) ([]byte, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limit wait: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := string(body)
		if len(msg) > 200 {
			msg = msg[:200]
		}
		return nil, fmt.Errorf("http %d: %s", resp.StatusCode, msg)
	}

	return body, nil
}
