package polymarket

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/dutchbook/internal/crypto"
	"github.com/alanyoungcy/dutchbook/internal/domain"
)

func jsonUnmarshal(s string, v any) error {
	return json.Unmarshal([]byte(s), v)
}

// newUnauthedGateway builds a gateway with a throwaway dev key and no HMAC
// credentials, enough to exercise payload construction.
func newUnauthedGateway(t *testing.T) *ClobGateway {
	t.Helper()
	signer, err := crypto.NewSigner(
		"ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80", 137)
	require.NoError(t, err)
	return NewClobGateway("http://localhost", signer, nil)
}

func TestComputeSlug_FloorsToSlot(t *testing.T) {
	// 1765548000 is a slot boundary; seven minutes in still maps to it.
	at := time.Unix(1765548000+7*60, 0).UTC()
	assert.Equal(t, "btc-updown-15m-1765548000", ComputeSlug("BTC", at))
	assert.Equal(t, "eth-updown-15m-1765548000", ComputeSlug("eth", at))

	// The boundary itself starts a new slot.
	next := time.Unix(1765548900, 0).UTC()
	assert.Equal(t, "btc-updown-15m-1765548900", ComputeSlug("BTC", next))
}

func TestSlotStart(t *testing.T) {
	start, err := SlotStart("btc-updown-15m-1765548000")
	require.NoError(t, err)
	assert.Equal(t, time.Unix(1765548000, 0).UTC(), start)

	_, err = SlotStart("btc-updown-15m-")
	assert.Error(t, err)
	_, err = SlotStart("nonsense")
	assert.Error(t, err)
}

func TestAPIMarket_TokenIDs(t *testing.T) {
	m := &APIMarket{ClobTokenIDs: `["111","222"]`}
	yes, no := m.tokenIDs()
	assert.Equal(t, "111", yes)
	assert.Equal(t, "222", no)

	m = &APIMarket{ClobTokenIDs: `not json`}
	yes, no = m.tokenIDs()
	assert.Empty(t, yes)
	assert.Empty(t, no)
}

func TestAPIMarket_Resolution(t *testing.T) {
	open := &APIMarket{Closed: false, OutcomePrices: `["0.52","0.48"]`}
	assert.Equal(t, domain.ResolutionPending, open.resolution())

	// Closed but prices not yet collapsed.
	settling := &APIMarket{Closed: true, OutcomePrices: `["0.98","0.02"]`}
	assert.Equal(t, domain.ResolutionPending, settling.resolution())

	up := &APIMarket{Closed: true, OutcomePrices: `["1","0"]`}
	assert.Equal(t, domain.ResolutionYes, up.resolution())

	down := &APIMarket{Closed: true, OutcomePrices: `["0","1"]`}
	assert.Equal(t, domain.ResolutionNo, down.resolution())
}

func TestFlexBool(t *testing.T) {
	var m APIMarket
	require.NoError(t, jsonUnmarshal(`{"closed":true}`, &m))
	assert.True(t, bool(m.Closed))
	require.NoError(t, jsonUnmarshal(`{"closed":"false"}`, &m))
	assert.False(t, bool(m.Closed))
	require.NoError(t, jsonUnmarshal(`{"closed":"True"}`, &m))
	assert.True(t, bool(m.Closed))
}

func TestBookToDomainUpdate_SortsTouchFirst(t *testing.T) {
	msg := &BookMessage{
		EventType: "book",
		AssetID:   "tok-1",
		Bids: []WSPriceLevel{
			{Price: "0.30", Size: "100"},
			{Price: "0.38", Size: "50"},
			{Price: "bad", Size: "1"},
		},
		Asks: []WSPriceLevel{
			{Price: "0.50", Size: "20"},
			{Price: "0.42", Size: "80"},
		},
		Timestamp: "1765548000123",
	}

	upd := BookToDomainUpdate(msg)
	assert.Equal(t, "tok-1", upd.TokenID)

	require.Len(t, upd.Bids, 2)
	assert.Equal(t, 0.38, upd.Bids[0].Price)
	require.Len(t, upd.Asks, 2)
	assert.Equal(t, 0.42, upd.Asks[0].Price)

	assert.Equal(t, time.UnixMilli(1765548000123), upd.Timestamp)
}

func TestFillFromResult(t *testing.T) {
	intent := domain.OrderIntent{
		ID:        "i-1",
		TokenID:   "tok-1",
		Direction: domain.DirectionBuy,
		Price:     0.42,
		Shares:    55,
	}

	t.Run("matched", func(t *testing.T) {
		res := fillFromResult(intent, APIOrderResult{
			Success:      true,
			OrderID:      "o-1",
			Status:       "matched",
			MakingAmount: "23100000", // 23.10 USDC
			TakingAmount: "55000000", // 55 shares
		})
		assert.Equal(t, domain.FillStatusFilled, res.Status)
		assert.Equal(t, int64(55), res.FilledShares)
		assert.InDelta(t, 0.42, res.AvgPrice, 1e-9)
		assert.Equal(t, "o-1", res.OrderID)
	})

	t.Run("partial match", func(t *testing.T) {
		res := fillFromResult(intent, APIOrderResult{
			Success:      true,
			Status:       "matched",
			MakingAmount: "16800000",
			TakingAmount: "40000000",
		})
		assert.Equal(t, domain.FillStatusPartiallyFilled, res.Status)
		assert.Equal(t, int64(40), res.FilledShares)
	})

	t.Run("resting", func(t *testing.T) {
		res := fillFromResult(intent, APIOrderResult{Success: true, OrderID: "o-2", Status: "live"})
		assert.Equal(t, domain.FillStatusUnfilled, res.Status)
		assert.Zero(t, res.FilledShares)
		assert.Equal(t, "o-2", res.OrderID)
	})

	t.Run("rejected", func(t *testing.T) {
		res := fillFromResult(intent, APIOrderResult{Success: false, ErrorMsg: "not enough balance"})
		assert.Equal(t, domain.FillStatusFailed, res.Status)
		assert.Equal(t, "not enough balance", res.Message)
	})

	t.Run("sell sides inverted", func(t *testing.T) {
		sell := intent
		sell.Direction = domain.DirectionSell
		sell.Price = 0.38
		res := fillFromResult(sell, APIOrderResult{
			Success:      true,
			Status:       "matched",
			MakingAmount: "55000000", // 55 shares handed over
			TakingAmount: "20900000", // 20.90 USDC received
		})
		assert.Equal(t, int64(55), res.FilledShares)
		assert.InDelta(t, 0.38, res.AvgPrice, 1e-9)
	})
}

func TestOrderPayload_Amounts(t *testing.T) {
	gw := newUnauthedGateway(t)

	buy, err := gw.orderPayload(domain.OrderIntent{
		TokenID: "123", Direction: domain.DirectionBuy, Price: 0.42, Shares: 55,
	})
	require.NoError(t, err)
	assert.Equal(t, "23100000", buy.MakerAmount)
	assert.Equal(t, "55000000", buy.TakerAmount)
	assert.Equal(t, 0, buy.Side)

	sell, err := gw.orderPayload(domain.OrderIntent{
		TokenID: "123", Direction: domain.DirectionSell, Price: 0.38, Shares: 55,
	})
	require.NoError(t, err)
	assert.Equal(t, "55000000", sell.MakerAmount)
	assert.Equal(t, "20900000", sell.TakerAmount)
	assert.Equal(t, 1, sell.Side)

	_, err = gw.orderPayload(domain.OrderIntent{TokenID: "123", Price: 0.42, Shares: 0})
	assert.Error(t, err)
	_, err = gw.orderPayload(domain.OrderIntent{TokenID: "123", Price: 1.5, Shares: 10})
	assert.Error(t, err)
}

func TestOrderPayload_Identity(t *testing.T) {
	intent := domain.OrderIntent{
		TokenID: "123", Direction: domain.DirectionBuy, Price: 0.42, Shares: 55,
	}

	gw := newUnauthedGateway(t)
	signerAddr := gw.signer.Address().Hex()

	// Direct EOA trading: maker and signer are the same wallet.
	p, err := gw.orderPayload(intent)
	require.NoError(t, err)
	assert.Equal(t, signerAddr, p.Maker)
	assert.Equal(t, signerAddr, p.Signer)
	assert.Equal(t, 0, p.SignatureType)

	// Proxy wallet: the funder makes the order, the EOA only signs it.
	funder := "0x91E0c21c2422296Ec6Dd15bC2Ca62009AbA64338"
	gw.SetOrderIdentity(1, funder)

	p, err = gw.orderPayload(intent)
	require.NoError(t, err)
	assert.Equal(t, funder, p.Maker)
	assert.Equal(t, signerAddr, p.Signer)
	assert.Equal(t, 1, p.SignatureType)
}
