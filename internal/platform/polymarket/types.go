package polymarket

import (
	"encoding/json"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/alanyoungcy/dutchbook/internal/domain"
)

// flexBool unmarshals from JSON bool or string ("true"/"false") so Gamma API
// responses work whether "closed" is sent as bool or string.
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

// --------------------------------------------------------------------------
// Gamma API DTOs
// --------------------------------------------------------------------------

// APIMarket represents a market as returned by the Polymarket Gamma API.
// Array-valued fields arrive as JSON-encoded strings.
type APIMarket struct {
	ID            string   `json:"id"`
	Question      string   `json:"question"`
	ConditionID   string   `json:"conditionId"`
	Slug          string   `json:"slug"`
	Active        flexBool `json:"active"`
	Closed        flexBool `json:"closed"`
	Outcomes      string   `json:"outcomes"`      // e.g. "[\"Up\",\"Down\"]"
	OutcomePrices string   `json:"outcomePrices"` // e.g. "[\"1\",\"0\"]" once settled
	ClobTokenIDs  string   `json:"clobTokenIds"`  // e.g. "[\"123\",\"456\"]"
	StartDate     string   `json:"startDate"`
	EndDate       string   `json:"endDate"`
}

// tokenIDs decodes the JSON-encoded CLOB token ID array. The first entry is
// the YES (Up) token, the second the NO (Down) token.
func (m *APIMarket) tokenIDs() (yes, no string) {
	var ids []string
	if err := json.Unmarshal([]byte(m.ClobTokenIDs), &ids); err != nil {
		return "", ""
	}
	if len(ids) > 0 {
		yes = ids[0]
	}
	if len(ids) > 1 {
		no = ids[1]
	}
	return yes, no
}

// resolution derives the terminal outcome from the settled outcome prices.
// An open market, or one whose prices have not collapsed to 1/0 yet, is
// still pending.
func (m *APIMarket) resolution() domain.Resolution {
	if !bool(m.Closed) {
		return domain.ResolutionPending
	}
	var prices []string
	if err := json.Unmarshal([]byte(m.OutcomePrices), &prices); err != nil || len(prices) < 2 {
		return domain.ResolutionPending
	}
	yes, _ := strconv.ParseFloat(prices[0], 64)
	no, _ := strconv.ParseFloat(prices[1], 64)
	switch {
	case yes >= 0.999 && no <= 0.001:
		return domain.ResolutionYes
	case no >= 0.999 && yes <= 0.001:
		return domain.ResolutionNo
	default:
		return domain.ResolutionPending
	}
}

// --------------------------------------------------------------------------
// CLOB API DTOs
// --------------------------------------------------------------------------

// APIOrderResult is the response from placing an order via the CLOB API.
type APIOrderResult struct {
	Success      bool   `json:"success"`
	ErrorMsg     string `json:"errorMsg,omitempty"`
	OrderID      string `json:"orderID,omitempty"`
	Status       string `json:"status,omitempty"`
	MakingAmount string `json:"makingAmount,omitempty"`
	TakingAmount string `json:"takingAmount,omitempty"`
}

// APIOpenOrder represents an order as returned by the CLOB order query API.
type APIOpenOrder struct {
	ID           string `json:"id"`
	Status       string `json:"status"`
	AssetID      string `json:"asset_id"`
	Side         string `json:"side"`
	OriginalSize string `json:"original_size"`
	SizeMatched  string `json:"size_matched"`
	Price        string `json:"price"`
}

// --------------------------------------------------------------------------
// WebSocket DTOs
// --------------------------------------------------------------------------

// BookMessage represents a full orderbook snapshot delivered over WebSocket.
type BookMessage struct {
	EventType string         `json:"event_type"`
	AssetID   string         `json:"asset_id"`
	Market    string         `json:"market"`
	Bids      []WSPriceLevel `json:"bids"`
	Asks      []WSPriceLevel `json:"asks"`
	Timestamp string         `json:"timestamp"`
	Hash      string         `json:"hash"`
}

// WSPriceLevel is a single bid/ask level in the WebSocket orderbook data.
type WSPriceLevel struct {
	Price string `json:"price"`
	Size  string `json:"size"`
}

// WSCommand is the JSON payload sent to the WebSocket to subscribe or
// unsubscribe.
type WSCommand struct {
	Type    string   `json:"type"` // "subscribe" or "unsubscribe"
	Channel string   `json:"channel,omitempty"`
	Assets  []string `json:"assets_ids,omitempty"`
}

// --------------------------------------------------------------------------
// Conversion helpers: API types -> domain types
// --------------------------------------------------------------------------

// BookToDomainUpdate converts a BookMessage to a domain.BookUpdate. Levels
// with unparseable numbers are dropped, and ladders are re-sorted touch-first
// since the feed lists both sides away from the touch.
func BookToDomainUpdate(b *BookMessage) domain.BookUpdate {
	upd := domain.BookUpdate{TokenID: b.AssetID}

	upd.Bids = wsLevels(b.Bids)
	upd.Asks = wsLevels(b.Asks)
	sort.Slice(upd.Bids, func(i, j int) bool { return upd.Bids[i].Price > upd.Bids[j].Price })
	sort.Slice(upd.Asks, func(i, j int) bool { return upd.Asks[i].Price < upd.Asks[j].Price })

	if ts, err := strconv.ParseInt(b.Timestamp, 10, 64); err == nil {
		// The feed stamps in epoch milliseconds.
		upd.Timestamp = time.UnixMilli(ts)
	} else if t, err := time.Parse(time.RFC3339, b.Timestamp); err == nil {
		upd.Timestamp = t
	} else {
		upd.Timestamp = time.Now().UTC()
	}

	return upd
}

func wsLevels(in []WSPriceLevel) domain.OrderBookSide {
	out := make(domain.OrderBookSide, 0, len(in))
	for _, lvl := range in {
		p, perr := strconv.ParseFloat(lvl.Price, 64)
		s, serr := strconv.ParseFloat(lvl.Size, 64)
		if perr != nil || serr != nil {
			continue
		}
		out = append(out, domain.BookLevel{Price: p, Size: s})
	}
	return out
}
