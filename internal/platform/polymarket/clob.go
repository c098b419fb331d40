package polymarket

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/alanyoungcy/dutchbook/internal/crypto"
	"github.com/alanyoungcy/dutchbook/internal/domain"
)

// usdcScale converts human-readable amounts to the 6-decimal fixed-point
// representation the CLOB expects.
const usdcScale = 1_000_000

const zeroAddress = "0x0000000000000000000000000000000000000000"

// ClobGateway is the REST client for the Polymarket CLOB (Central Limit
// Order Book) API. It signs, submits, and cancels limit orders, implementing
// domain.OrderGateway.
type ClobGateway struct {
	baseURL    string
	httpClient *http.Client
	signer     *crypto.Signer
	hmacAuth   *crypto.HMACAuth

	// Order identity. For proxy wallets the maker is the funder address while
	// the signer stays the EOA; zero values mean direct EOA trading.
	signatureType int
	funder        string
}

// NewClobGateway creates a new CLOB REST client.
//
// baseURL is the CLOB API root, e.g. "https://clob.polymarket.com".
// signer is the EIP-712 signer for order signatures and auth messages.
// hmac is the HMAC authenticator for L2 requests; pass nil and call
// DeriveAPIKey to obtain credentials via the L1 auth flow.
func NewClobGateway(baseURL string, signer *crypto.Signer, hmac *crypto.HMACAuth) *ClobGateway {
	return &ClobGateway{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		signer:   signer,
		hmacAuth: hmac,
	}
}

var _ domain.OrderGateway = (*ClobGateway)(nil)

// SetOrderIdentity configures how orders identify the funding wallet.
// sigType follows the venue's signatureType field: 0 EOA, 1 Polymarket proxy,
// 2 Gnosis safe. funder is the address holding the USDC and positions; when
// empty, orders are made directly by the signing address.
func (c *ClobGateway) SetOrderIdentity(sigType int, funder string) {
	c.signatureType = sigType
	c.funder = funder
}

// Submit signs and posts a GTC limit order for one leg. Venue rejections come
// back as FillStatusFailed results; the error return is reserved for
// transport and encoding failures.
func (c *ClobGateway) Submit(ctx context.Context, intent domain.OrderIntent) (domain.FillResult, error) {
	res := domain.FillResult{IntentID: intent.ID, Status: domain.FillStatusFailed}

	payload, err := c.orderPayload(intent)
	if err != nil {
		return res, fmt.Errorf("polymarket/clob: build order: %w", err)
	}

	sig, err := c.signer.SignOrder(payload)
	if err != nil {
		return res, fmt.Errorf("polymarket/clob: sign order: %w", err)
	}

	side := "BUY"
	if intent.Direction == domain.DirectionSell {
		side = "SELL"
	}

	body := map[string]any{
		"order": map[string]any{
			"salt":          payload.Salt,
			"maker":         payload.Maker,
			"signer":        payload.Signer,
			"taker":         payload.Taker,
			"tokenId":       payload.TokenID,
			"makerAmount":   payload.MakerAmount,
			"takerAmount":   payload.TakerAmount,
			"expiration":    payload.Expiration,
			"nonce":         payload.Nonce,
			"feeRateBps":    payload.FeeRateBps,
			"side":          side,
			"signatureType": payload.SignatureType,
			"signature":     sig,
		},
		"owner":     c.hmacKey(),
		"orderType": "GTC",
	}

	respBody, err := c.doAuthenticatedRequest(ctx, http.MethodPost, "/order", body)
	if err != nil {
		return res, fmt.Errorf("polymarket/clob: post order: %w", err)
	}

	var apiResult APIOrderResult
	if err := json.Unmarshal(respBody, &apiResult); err != nil {
		return res, fmt.Errorf("polymarket/clob: decode order result: %w", err)
	}

	return fillFromResult(intent, apiResult), nil
}

// Cancel cancels a resting order by its venue ID.
func (c *ClobGateway) Cancel(ctx context.Context, orderID string) error {
	body := map[string]any{
		"orderID": orderID,
	}

	respBody, err := c.doAuthenticatedRequest(ctx, http.MethodDelete, "/order", body)
	if err != nil {
		return fmt.Errorf("polymarket/clob: cancel order %s: %w", orderID, err)
	}

	var result struct {
		Success  bool   `json:"success"`
		ErrorMsg string `json:"errorMsg"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return fmt.Errorf("polymarket/clob: decode cancel response: %w", err)
	}
	if !result.Success {
		return fmt.Errorf("polymarket/clob: cancel failed: %s", result.ErrorMsg)
	}

	return nil
}

// CancelAll cancels all open orders for the authenticated wallet.
func (c *ClobGateway) CancelAll(ctx context.Context) error {
	respBody, err := c.doAuthenticatedRequest(ctx, http.MethodDelete, "/cancel-all", nil)
	if err != nil {
		return fmt.Errorf("polymarket/clob: cancel all: %w", err)
	}

	var result struct {
		Success  bool   `json:"success"`
		ErrorMsg string `json:"errorMsg"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return fmt.Errorf("polymarket/clob: decode cancel-all response: %w", err)
	}
	if !result.Success {
		return fmt.Errorf("polymarket/clob: cancel-all failed: %s", result.ErrorMsg)
	}

	return nil
}

// OpenOrders returns all open orders for the authenticated wallet.
func (c *ClobGateway) OpenOrders(ctx context.Context) ([]APIOpenOrder, error) {
	respBody, err := c.doAuthenticatedRequest(ctx, http.MethodGet, "/orders", nil)
	if err != nil {
		return nil, fmt.Errorf("polymarket/clob: get open orders: %w", err)
	}

	var orders []APIOpenOrder
	if err := json.Unmarshal(respBody, &orders); err != nil {
		return nil, fmt.Errorf("polymarket/clob: decode orders: %w", err)
	}

	return orders, nil
}

// DeriveAPIKey performs the CLOB auth flow to obtain an HMAC API key. It
// signs a ClobAuth EIP-712 message and sends it with L1 headers to the
// derive-api-key endpoint. Per Polymarket docs, L1 requires POLY_ADDRESS,
// POLY_SIGNATURE, POLY_TIMESTAMP, POLY_NONCE. On success it populates the
// gateway's hmacAuth field.
func (c *ClobGateway) DeriveAPIKey(ctx context.Context) error {
	address := c.signer.Address().Hex()
	timestamp := time.Now().Unix()
	nonce := int64(0)

	sig, err := c.signer.SignAuthMessage(timestamp, nonce)
	if err != nil {
		return fmt.Errorf("polymarket/clob: sign auth message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/auth/derive-api-key", nil)
	if err != nil {
		return fmt.Errorf("polymarket/clob: create auth request: %w", err)
	}
	req.Header.Set("POLY_ADDRESS", address)
	req.Header.Set("POLY_SIGNATURE", sig)
	req.Header.Set("POLY_TIMESTAMP", fmt.Sprintf("%d", timestamp))
	req.Header.Set("POLY_NONCE", fmt.Sprintf("%d", nonce))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("polymarket/clob: auth request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("polymarket/clob: read auth response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("polymarket/clob: auth failed (HTTP %d): %s", resp.StatusCode, string(respBody))
	}

	var authResp struct {
		APIKey     string `json:"apiKey"`
		Secret     string `json:"secret"`
		Passphrase string `json:"passphrase"`
	}
	if err := json.Unmarshal(respBody, &authResp); err != nil {
		return fmt.Errorf("polymarket/clob: decode auth response: %w", err)
	}

	c.hmacAuth = &crypto.HMACAuth{
		Key:        authResp.APIKey,
		Secret:     authResp.Secret,
		Passphrase: authResp.Passphrase,
	}

	return nil
}

// --------------------------------------------------------------------------
// Internal helpers
// --------------------------------------------------------------------------

// orderPayload converts an OrderIntent into the 12-field EIP-712 struct. For
// a buy the maker amount is the USDC paid and the taker amount the shares
// received; a sell inverts the two.
func (c *ClobGateway) orderPayload(intent domain.OrderIntent) (crypto.OrderPayload, error) {
	if intent.Shares <= 0 {
		return crypto.OrderPayload{}, fmt.Errorf("non-positive shares %d", intent.Shares)
	}
	if intent.Price <= 0 || intent.Price >= 1 {
		return crypto.OrderPayload{}, fmt.Errorf("price %.4f outside (0,1)", intent.Price)
	}

	salt, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return crypto.OrderPayload{}, fmt.Errorf("generate salt: %w", err)
	}

	usdc := int64(intent.Price*float64(intent.Shares)*usdcScale + 0.5)
	shares := intent.Shares * usdcScale

	makerAmount, takerAmount := usdc, shares
	side := 0
	if intent.Direction == domain.DirectionSell {
		makerAmount, takerAmount = shares, usdc
		side = 1
	}

	address := c.signer.Address().Hex()
	maker := address
	if c.funder != "" {
		maker = c.funder
	}

	return crypto.OrderPayload{
		Salt:          salt.String(),
		Maker:         maker,
		Signer:        address,
		Taker:         zeroAddress,
		TokenID:       intent.TokenID,
		MakerAmount:   strconv.FormatInt(makerAmount, 10),
		TakerAmount:   strconv.FormatInt(takerAmount, 10),
		Expiration:    "0",
		Nonce:         "0",
		FeeRateBps:    "0",
		Side:          side,
		SignatureType: c.signatureType,
	}, nil
}

// fillFromResult maps the venue's order response onto a FillResult. "matched"
// means the order crossed immediately; "live" and "delayed" leave a resting
// order behind that the caller must cancel.
func fillFromResult(intent domain.OrderIntent, r APIOrderResult) domain.FillResult {
	res := domain.FillResult{
		IntentID: intent.ID,
		OrderID:  r.OrderID,
		Message:  r.Status,
	}

	if !r.Success {
		res.Status = domain.FillStatusFailed
		res.Message = r.ErrorMsg
		return res
	}

	switch strings.ToLower(r.Status) {
	case "matched":
		shares, avg := matchedAmounts(intent, r)
		res.FilledShares = shares
		res.AvgPrice = avg
		if shares >= intent.Shares {
			res.Status = domain.FillStatusFilled
		} else if shares > 0 {
			res.Status = domain.FillStatusPartiallyFilled
		} else {
			res.Status = domain.FillStatusUnfilled
		}
	case "live", "delayed":
		res.Status = domain.FillStatusUnfilled
	default:
		res.Status = domain.FillStatusFailed
		res.Message = fmt.Sprintf("unexpected order status %q", r.Status)
	}

	return res
}

// matchedAmounts recovers filled shares and average price from the response
// amounts, which are 6-decimal fixed-point strings. A buy receives shares on
// the taking side, a sell on the making side. Falls back to the full intent
// at the limit price when the venue omits the amounts.
func matchedAmounts(intent domain.OrderIntent, r APIOrderResult) (int64, float64) {
	making, merr := strconv.ParseFloat(r.MakingAmount, 64)
	taking, terr := strconv.ParseFloat(r.TakingAmount, 64)
	if merr != nil || terr != nil || making <= 0 || taking <= 0 {
		return intent.Shares, intent.Price
	}

	if intent.Direction == domain.DirectionBuy {
		return int64(taking/usdcScale + 0.5), making / taking
	}
	return int64(making/usdcScale + 0.5), taking / making
}

// hmacKey returns the API key used as the order owner field.
func (c *ClobGateway) hmacKey() string {
	if c.hmacAuth == nil {
		return ""
	}
	return c.hmacAuth.Key
}

// doAuthenticatedRequest builds, signs (HMAC), sends, and reads an HTTP
// request against the CLOB API. It returns the raw response body.
func (c *ClobGateway) doAuthenticatedRequest(ctx context.Context, method, path string, body any) ([]byte, error) {
	var bodyReader io.Reader
	var bodyStr string

	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		bodyStr = string(jsonBody)
		bodyReader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	if c.hmacAuth != nil {
		address := c.signer.Address().Hex()
		headers := c.hmacAuth.L2Headers(address, method, path, bodyStr)
		for k, v := range headers {
			req.Header.Set(k, v)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if err := checkHTTPStatus(resp.StatusCode, respBody); err != nil {
		return nil, err
	}

	return respBody, nil
}

// checkHTTPStatus maps non-2xx status codes to appropriate domain errors.
func checkHTTPStatus(statusCode int, body []byte) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}

	bodyStr := string(body)
	switch statusCode {
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", domain.ErrNotFound, bodyStr)
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: %s", domain.ErrUnauthorized, bodyStr)
	case http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", domain.ErrRateLimited, bodyStr)
	default:
		return fmt.Errorf("HTTP %d: %s", statusCode, bodyStr)
	}
}
