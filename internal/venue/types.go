package venue

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/updownhft/updownbot/internal/domain"
)

// flexBool unmarshals from JSON bool or string ("true"/"false") so metadata
// responses work whether "active" is sent as bool or string.
type flexBool bool

func (f *flexBool) UnmarshalJSON(data []byte) error {
	var b bool
	if err := json.Unmarshal(data, &b); err == nil {
		*f = flexBool(b)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*f = flexBool(strings.EqualFold(s, "true") || s == "1")
	return nil
}

// apiMarket is a binary market as returned by the venue metadata API.
type apiMarket struct {
	ID            string     `json:"id"`
	ConditionID   string     `json:"condition_id"`
	Question      string     `json:"question"`
	Slug          string     `json:"slug"`
	Active        flexBool   `json:"active"`
	Closed        bool       `json:"closed"`
	Outcomes      string     `json:"outcomes"`        // JSON-encoded, e.g. "[\"Up\",\"Down\"]"
	ClobTokenIDs  string     `json:"clob_token_ids"`  // JSON-encoded, e.g. "[\"123\",\"456\"]"
	Tokens        []apiToken `json:"tokens"`
	Volume        string     `json:"volume"`
	MinTickSize   string     `json:"minimum_tick_size"`
	EndDateISO    string     `json:"end_date_iso"`
	EnableBook    bool       `json:"enable_order_book"`
	AcceptingOrds flexBool   `json:"accepting_orders"`
}

// apiToken is a token entry inside the metadata market response.
type apiToken struct {
	TokenID string `json:"token_id"`
	Outcome string `json:"outcome"`
	Winner  bool   `json:"winner"`
}

// upOutcomes are the outcome labels recognized as the Yes/Up side.
var upOutcomes = map[string]bool{"up": true, "yes": true}

// downOutcomes are the outcome labels recognized as the No/Down side.
var downOutcomes = map[string]bool{"down": true, "no": true}

// toInstrument converts a metadata market into a domain instrument. The
// second return is false when the market is not a two-outcome Up/Down pair.
func (m *apiMarket) toInstrument() (domain.Instrument, bool) {
	inst := domain.Instrument{
		ID:       m.marketID(),
		Symbol:   underlyingSymbol(m.Question, m.Slug),
		Question: m.Question,
		TickSize: 0.01,
		Active:   bool(m.Active) && !m.Closed && m.EnableBook,
	}

	if ts, err := strconv.ParseFloat(m.MinTickSize, 64); err == nil && ts > 0 {
		inst.TickSize = ts
	}
	if v, err := strconv.ParseFloat(m.Volume, 64); err == nil {
		inst.Volume24h = v
	}
	if t, err := time.Parse(time.RFC3339, m.EndDateISO); err == nil {
		inst.Expiry = t.UTC()
	} else {
		return domain.Instrument{}, false
	}

	yes, no, ok := m.tokenPair()
	if !ok {
		return domain.Instrument{}, false
	}
	inst.TokenYes = yes
	inst.TokenNo = no
	return inst, true
}

func (m *apiMarket) marketID() string {
	if m.ConditionID != "" {
		return m.ConditionID
	}
	return m.ID
}

// tokenPair extracts the Up/Yes and Down/No token IDs. It prefers the typed
// tokens array and falls back to zipping the JSON-encoded outcome and token
// ID lists, which some endpoints send instead.
func (m *apiMarket) tokenPair() (yes, no string, ok bool) {
	for _, t := range m.Tokens {
		switch {
		case upOutcomes[strings.ToLower(t.Outcome)]:
			yes = t.TokenID
		case downOutcomes[strings.ToLower(t.Outcome)]:
			no = t.TokenID
		}
	}
	if yes != "" && no != "" {
		return yes, no, true
	}

	var outcomes, tokenIDs []string
	if err := json.Unmarshal([]byte(m.Outcomes), &outcomes); err != nil {
		return "", "", false
	}
	if err := json.Unmarshal([]byte(m.ClobTokenIDs), &tokenIDs); err != nil {
		return "", "", false
	}
	if len(outcomes) != 2 || len(tokenIDs) != 2 {
		return "", "", false
	}
	for i, o := range outcomes {
		switch {
		case upOutcomes[strings.ToLower(o)]:
			yes = tokenIDs[i]
		case downOutcomes[strings.ToLower(o)]:
			no = tokenIDs[i]
		}
	}
	return yes, no, yes != "" && no != ""
}

// winnerSide returns which outcome won a closed market.
func (m *apiMarket) winnerSide() (domain.TickSide, bool) {
	for _, t := range m.Tokens {
		if !t.Winner {
			continue
		}
		if upOutcomes[strings.ToLower(t.Outcome)] {
			return domain.TickSideYes, true
		}
		if downOutcomes[strings.ToLower(t.Outcome)] {
			return domain.TickSideNo, true
		}
	}
	return "", false
}

// underlyingSymbol extracts the spot symbol from the market question or slug,
// e.g. "Bitcoin Up or Down - June 5, 3PM ET" -> "BTC".
func underlyingSymbol(question, slug string) string {
	text := strings.ToLower(question + " " + slug)
	switch {
	case strings.Contains(text, "bitcoin"), strings.Contains(text, "btc"):
		return "BTC"
	case strings.Contains(text, "ethereum"), strings.Contains(text, "eth"):
		return "ETH"
	case strings.Contains(text, "solana"), strings.Contains(text, "sol"):
		return "SOL"
	case strings.Contains(text, "xrp"):
		return "XRP"
	}
	fields := strings.Fields(question)
	if len(fields) > 0 {
		return strings.ToUpper(fields[0])
	}
	return ""
}

// --------------------------------------------------------------------------
// WebSocket DTOs
// --------------------------------------------------------------------------

// bookMessage is a full orderbook snapshot delivered over WebSocket.
type bookMessage struct {
	AssetID   string       `json:"asset_id"`
	Market    string       `json:"market"`
	Bids      []priceLevel `json:"bids"`
	Asks      []priceLevel `json:"asks"`
	Timestamp string       `json:"timestamp"`
	Hash      string       `json:"hash"`
}

// priceLevel is a single bid/ask level in the WebSocket orderbook data.
type priceLevel struct {
	Price string `json:"price"`
	Size  string `json:"size"`
}

// wsCommand is the JSON payload sent to the WebSocket to subscribe or
// unsubscribe.
type wsCommand struct {
	Type    string   `json:"type"` // "subscribe" or "unsubscribe"
	Channel string   `json:"channel,omitempty"`
	Assets  []string `json:"assets_ids,omitempty"`
}

// toTick collapses a book snapshot into a best bid/ask tick for the token.
// Venue books list bids ascending and asks descending, so the best level of
// each side sits at the end of its array; scan both ways to be safe.
func (b *bookMessage) toTick(instrumentID string, side domain.TickSide) (domain.Tick, bool) {
	tick := domain.Tick{
		InstrumentID: instrumentID,
		Side:         side,
		Source:       domain.TickSourceVenue,
		Timestamp:    time.Now().UTC(),
	}
	if ms, err := strconv.ParseInt(b.Timestamp, 10, 64); err == nil && ms > 0 {
		tick.Timestamp = time.UnixMilli(ms).UTC()
	}

	for _, lvl := range b.Bids {
		p, err := strconv.ParseFloat(lvl.Price, 64)
		if err != nil {
			continue
		}
		if p > tick.BestBid {
			tick.BestBid = p
			tick.Size, _ = strconv.ParseFloat(lvl.Size, 64)
		}
	}
	bestAsk := 0.0
	for _, lvl := range b.Asks {
		p, err := strconv.ParseFloat(lvl.Price, 64)
		if err != nil {
			continue
		}
		if bestAsk == 0 || p < bestAsk {
			bestAsk = p
		}
	}
	tick.BestAsk = bestAsk

	return tick, tick.BestBid > 0 && tick.BestAsk > 0
}
