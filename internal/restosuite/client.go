package restosuite

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// Client posts signed JSON requests to the RestoSuite data endpoints. Every
// request carries the current bearer token from the TokenManager; on a
// detected token problem the cached token is invalidated and the request is
// retried exactly once with fresh headers.
type Client struct {
	cfg        Config
	tokens     *TokenManager
	httpClient *http.Client
	limiter    *rate.Limiter
	log        zerolog.Logger
}

// NewClient builds a client around an already validated TokenManager.
func NewClient(cfg Config, tokens *TokenManager, log zerolog.Logger) *Client {
	cfg = cfg.withDefaults()
	return &Client{
		cfg:        cfg,
		tokens:     tokens,
		httpClient: &http.Client{Timeout: cfg.HTTPTimeout},
		// Gentle pace; the upstream punishes bursts with a token-abuse ban.
		limiter: rate.NewLimiter(rate.Limit(5), 5),
		log:     log.With().Str("component", "restosuite_client").Logger(),
	}
}

// GetShops fetches one page of the corporation's shop list.
func (c *Client) GetShops(ctx context.Context, page, size int) ([]Shop, error) {
	body := map[string]any{"pageNum": page, "pageSize": size}
	bizData, err := c.post(ctx, c.cfg.ShopsPath, body, "shop list query failed")
	if err != nil {
		return nil, err
	}

	raw, err := unwrapList(bizData)
	if err != nil {
		return nil, err
	}

	shops := make([]Shop, 0, len(raw))
	for _, entry := range raw {
		var shop Shop
		if err := json.Unmarshal(entry, &shop); err != nil {
			return nil, fmt.Errorf("decoding shop entry: %w", err)
		}
		shops = append(shops, shop)
	}
	return shops, nil
}

// GetItems fetches one page of a shop's item list. The raw upstream record
// is retained on each item for the snapshot audit trail.
func (c *Client) GetItems(ctx context.Context, shopID string, page, size int) ([]Item, error) {
	body := map[string]any{"shopId": shopID, "pageNum": page, "pageSize": size}
	bizData, err := c.post(ctx, c.cfg.ItemsPath, body, "item list query failed")
	if err != nil {
		return nil, err
	}

	raw, err := unwrapList(bizData)
	if err != nil {
		return nil, err
	}

	items := make([]Item, 0, len(raw))
	for _, entry := range raw {
		var item Item
		if err := json.Unmarshal(entry, &item); err != nil {
			return nil, fmt.Errorf("decoding item entry: %w", err)
		}
		item.Raw = entry
		items = append(items, item)
	}
	return items, nil
}

// post executes one signed request, retrying exactly once after clearing the
// cached token when the failure looks like a token problem.
func (c *Client) post(ctx context.Context, path string, body map[string]any, defaultMsg string) (json.RawMessage, error) {
	bizData, err := c.postOnce(ctx, path, body, defaultMsg)
	if err == nil {
		return bizData, nil
	}

	if ue, ok := err.(*UpstreamError); ok && c.isTokenProblem(ue) {
		c.log.Warn().
			Str("code", ue.Code).
			Int("http_status", ue.HTTPStatus).
			Msg("Token problem detected, re-authenticating and retrying once")
		c.tokens.Invalidate(ctx)
		return c.postOnce(ctx, path, body, defaultMsg)
	}
	return nil, err
}

func (c *Client) postOnce(ctx context.Context, path string, body map[string]any, defaultMsg string) (json.RawMessage, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	token, err := c.tokens.Token(ctx)
	if err != nil {
		return nil, err
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encoding request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}

	timestamp := strconv.FormatInt(time.Now().UnixMilli(), 10)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(c.cfg.HeaderCorporationID, strconv.FormatInt(c.cfg.CorporationID, 10))
	req.Header.Set(c.cfg.HeaderAppKey, c.cfg.AppKey)
	req.Header.Set(c.cfg.HeaderGrantType, GrantType)
	req.Header.Set(c.cfg.HeaderToken, token)
	req.Header.Set(c.cfg.HeaderTimestamp, timestamp)
	req.Header.Set(c.cfg.HeaderTraceID, traceID(timestamp))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("posting %s: %w", path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response body: %w", err)
	}

	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, &UpstreamError{
			Code:       UpstreamCodeNonJSON,
			Message:    defaultMsg,
			HTTPStatus: resp.StatusCode,
			Detail:     truncate(string(data), 512),
		}
	}

	if resp.StatusCode >= 400 || !env.ok() {
		msg := env.Msg
		if msg == "" {
			msg = defaultMsg
		}
		detail := string(env.Detail)
		if detail == "" {
			detail = string(data)
		}
		ue := &UpstreamError{
			Code:       env.codeString(),
			Message:    msg,
			HTTPStatus: resp.StatusCode,
			Detail:     truncate(detail, 2048),
		}
		ue.RateLimited = c.isRateLimitSignal(ue)
		return nil, ue
	}

	return env.BizData, nil
}

// isTokenProblem applies the detection rule: auth-ish HTTP status, a known
// token-related code, or a message naming an illegal/expired token.
func (c *Client) isTokenProblem(e *UpstreamError) bool {
	if e.HTTPStatus == http.StatusUnauthorized || e.HTTPStatus == http.StatusForbidden {
		return true
	}
	for _, code := range c.cfg.TokenProblemCodes {
		if e.Code == code {
			return true
		}
	}
	msg := strings.ToLower(e.Message)
	if strings.Contains(msg, "token") &&
		(strings.Contains(msg, "illegal") || strings.Contains(msg, "expire")) {
		return true
	}
	return false
}

// isRateLimitSignal classifies a token-abuse/frequency-limit response. The
// run coordinator converts this into a cooldown instead of a failure.
func (c *Client) isRateLimitSignal(e *UpstreamError) bool {
	for _, code := range c.cfg.RateLimitCodes {
		if e.Code == code {
			return true
		}
	}
	msg := strings.ToLower(e.Message)
	return strings.Contains(msg, "frequency") ||
		strings.Contains(msg, "rate limit") ||
		strings.Contains(msg, "too many")
}

// traceID derives the upstream correlation id from the request timestamp and
// a random nonce. Correlation only, no security property.
func traceID(timestamp string) string {
	sum := sha256.Sum256([]byte(timestamp + ":" + uuid.New().String()))
	return hex.EncodeToString(sum[:])
}

// unwrapList extracts biz-data.list, defaulting to empty. An empty result
// set is never an error by itself.
func unwrapList(bizData json.RawMessage) ([]json.RawMessage, error) {
	if len(bizData) == 0 {
		return nil, nil
	}
	var payload listPayload
	if err := json.Unmarshal(bizData, &payload); err != nil {
		return nil, fmt.Errorf("decoding biz-data: %w", err)
	}
	if len(payload.List) == 0 {
		return nil, nil
	}
	var raw []json.RawMessage
	if err := json.Unmarshal(payload.List, &raw); err != nil {
		return nil, fmt.Errorf("decoding biz-data.list: %w", err)
	}
	return raw, nil
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
