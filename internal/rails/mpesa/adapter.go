// Package mpesa adapts the STK push mobile-money rail. Initiate sends the
// payment prompt to the payer's phone; confirmation normally arrives through
// the rail's callback, with the status query as the polling fallback.
package mpesa

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"railgate/internal/intent/models"
	"railgate/internal/platform/config"
	"railgate/internal/rails"
	dErrors "railgate/pkg/domain-errors"
	"railgate/pkg/platform/sentinel"
)

const (
	tokenPath    = "/oauth/v1/generate?grant_type=client_credentials"
	stkPushPath  = "/mpesa/stkpush/v1/processrequest"
	stkQueryPath = "/mpesa/stkpushquery/v1/query"

	// timestampLayout is the rail's YYYYMMDDHHMMSS password timestamp.
	timestampLayout = "20060102150405"

	// tokenSlack refreshes the cached access token slightly before the rail
	// would reject it.
	tokenSlack = 30 * time.Second
)

// Adapter talks to the STK push rail. Token acquisition and refresh is an
// adapter-internal concern; callers only see Initiate/Poll/ParseCallback.
type Adapter struct {
	cfg    config.MpesaConfig
	client *http.Client

	tokenMu      sync.Mutex
	token        string
	tokenExpires time.Time
}

// New constructs the adapter with its injected rail configuration.
func New(cfg config.MpesaConfig, client *http.Client) *Adapter {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &Adapter{cfg: cfg, client: client}
}

func (a *Adapter) Rail() models.Rail {
	return models.RailMpesa
}

// Initiate sends the STK push prompt. The rail's CheckoutRequestID becomes
// the intent's rail reference and the exact-match key for later evidence.
func (a *Adapter) Initiate(ctx context.Context, req rails.InitiateRequest) (rails.Reference, error) {
	token, err := a.accessToken(ctx)
	if err != nil {
		return rails.Reference{}, err
	}

	timestamp := time.Now().UTC().Format(timestampLayout)
	body := map[string]any{
		"BusinessShortCode": a.cfg.ShortCode,
		"Password":          a.password(timestamp),
		"Timestamp":         timestamp,
		"TransactionType":   "CustomerPayBillOnline",
		"Amount":            req.SettlementAmount.Round(0).IntPart(),
		"PartyA":            req.DestinationAddress,
		"PartyB":            a.cfg.ShortCode,
		"PhoneNumber":       req.DestinationAddress,
		"CallBackURL":       a.cfg.CallbackURL,
		"AccountReference":  req.AccountReference,
		"TransactionDesc":   "Railgate deposit",
	}

	var resp struct {
		CheckoutRequestID string `json:"CheckoutRequestID"`
		ResponseCode      string `json:"ResponseCode"`
		ResponseDesc      string `json:"ResponseDescription"`
	}
	if err := a.postJSON(ctx, stkPushPath, token, body, &resp); err != nil {
		return rails.Reference{}, err
	}
	if resp.ResponseCode != "0" || resp.CheckoutRequestID == "" {
		return rails.Reference{}, fmt.Errorf("stk push rejected (%s %s): %w",
			resp.ResponseCode, resp.ResponseDesc, sentinel.ErrUnavailable)
	}
	return rails.Reference{Value: resp.CheckoutRequestID}, nil
}

// Poll queries the push status for one rail reference. The query reports a
// result code; evidence is returned only when the rail also reports the
// settled amount and receipt, which sandbox responses omit; the callback is
// the primary confirmation channel for this rail.
func (a *Adapter) Poll(ctx context.Context, query rails.PollQuery) ([]models.RailEvidence, error) {
	if query.RailReference == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "mpesa poll requires a rail reference")
	}
	token, err := a.accessToken(ctx)
	if err != nil {
		return nil, err
	}

	timestamp := time.Now().UTC().Format(timestampLayout)
	body := map[string]any{
		"BusinessShortCode": a.cfg.ShortCode,
		"Password":          a.password(timestamp),
		"Timestamp":         timestamp,
		"CheckoutRequestID": query.RailReference,
	}

	var resp struct {
		ResultCode       json.Number      `json:"ResultCode"`
		ResultDesc       string           `json:"ResultDesc"`
		CallbackMetadata *callbackPayload `json:"CallbackMetadata"`
	}
	if err := a.postJSON(ctx, stkQueryPath, token, body, &resp); err != nil {
		return nil, err
	}
	if resp.ResultCode.String() != "0" || resp.CallbackMetadata == nil {
		return nil, nil
	}
	ev, err := evidenceFromItems(resp.CallbackMetadata.Item, query.RailReference, nil)
	if err != nil {
		return nil, nil
	}
	return []models.RailEvidence{*ev}, nil
}

// stkCallback mirrors the rail's push notification envelope.
type stkCallback struct {
	Body struct {
		StkCallback struct {
			MerchantRequestID string           `json:"MerchantRequestID"`
			CheckoutRequestID string           `json:"CheckoutRequestID"`
			ResultCode        int              `json:"ResultCode"`
			ResultDesc        string           `json:"ResultDesc"`
			CallbackMetadata  *callbackPayload `json:"CallbackMetadata"`
		} `json:"stkCallback"`
	} `json:"Body"`
}

type callbackPayload struct {
	Item []metadataItem `json:"Item"`
}

type metadataItem struct {
	Name  string          `json:"Name"`
	Value json.RawMessage `json:"Value"`
}

// ParseCallback parses the rail's push notification. Pure parsing, no I/O.
// A parse failure returns CodeBadRequest; the ingest path logs and drops it.
// A well-formed callback with a non-zero result code yields no evidence and
// no error: the rail is reporting a failed or cancelled prompt.
func (a *Adapter) ParseCallback(payload []byte) (*models.RailEvidence, error) {
	var cb stkCallback
	if err := json.Unmarshal(payload, &cb); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeBadRequest, "malformed stk callback")
	}
	stk := cb.Body.StkCallback
	if stk.CheckoutRequestID == "" {
		return nil, dErrors.New(dErrors.CodeBadRequest, "stk callback missing CheckoutRequestID")
	}
	if stk.ResultCode != 0 {
		return nil, nil
	}
	if stk.CallbackMetadata == nil {
		return nil, dErrors.New(dErrors.CodeBadRequest, "successful stk callback missing metadata")
	}
	return evidenceFromItems(stk.CallbackMetadata.Item, stk.CheckoutRequestID, payload)
}

func evidenceFromItems(items []metadataItem, checkoutRequestID string, raw []byte) (*models.RailEvidence, error) {
	var (
		amount  decimal.Decimal
		receipt string
		found   bool
	)
	for _, item := range items {
		switch item.Name {
		case "Amount":
			var n json.Number
			if err := json.Unmarshal(item.Value, &n); err != nil {
				return nil, dErrors.Wrap(err, dErrors.CodeBadRequest, "stk callback amount malformed")
			}
			parsed, err := decimal.NewFromString(n.String())
			if err != nil {
				return nil, dErrors.Wrap(err, dErrors.CodeBadRequest, "stk callback amount malformed")
			}
			amount = parsed
			found = true
		case "MpesaReceiptNumber":
			// The receipt arrives as a JSON string.
			_ = json.Unmarshal(item.Value, &receipt)
		}
	}
	if !found || receipt == "" {
		return nil, dErrors.New(dErrors.CodeBadRequest, "stk callback metadata incomplete")
	}
	return &models.RailEvidence{
		Rail:         models.RailMpesa,
		Amount:       amount,
		ExternalTxID: receipt,
		MatchKey:     checkoutRequestID,
		Raw:          raw,
	}, nil
}

// accessToken returns a cached OAuth token, refreshing it when close to
// expiry. Serialized so concurrent initiates share one refresh.
func (a *Adapter) accessToken(ctx context.Context) (string, error) {
	a.tokenMu.Lock()
	defer a.tokenMu.Unlock()
	if a.token != "" && time.Now().Before(a.tokenExpires.Add(-tokenSlack)) {
		return a.token, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.cfg.BaseURL+tokenPath, nil)
	if err != nil {
		return "", fmt.Errorf("build token request: %w", err)
	}
	basic := base64.StdEncoding.EncodeToString([]byte(a.cfg.ConsumerKey + ":" + a.cfg.ConsumerSecret))
	req.Header.Set("Authorization", "Basic "+basic)

	resp, err := a.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch access token: %w: %v", sentinel.ErrUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("token endpoint returned %d: %w", resp.StatusCode, sentinel.ErrUnavailable)
	}

	var body struct {
		AccessToken string      `json:"access_token"`
		ExpiresIn   json.Number `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("decode token response: %w: %v", sentinel.ErrUnavailable, err)
	}
	if body.AccessToken == "" {
		return "", fmt.Errorf("token response missing access_token: %w", sentinel.ErrUnavailable)
	}

	ttl, _ := body.ExpiresIn.Int64()
	if ttl <= 0 {
		ttl = 3600
	}
	a.token = body.AccessToken
	a.tokenExpires = time.Now().Add(time.Duration(ttl) * time.Second)
	return a.token, nil
}

func (a *Adapter) password(timestamp string) string {
	return base64.StdEncoding.EncodeToString([]byte(a.cfg.ShortCode + a.cfg.Passkey + timestamp))
}

func (a *Adapter) postJSON(ctx context.Context, path, token string, body, out any) error {
	encoded, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.BaseURL+path, bytes.NewReader(encoded))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return fmt.Errorf("call %s: %w: %v", path, sentinel.ErrUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s returned %d (%s): %w", path, resp.StatusCode, bytes.TrimSpace(payload), sentinel.ErrUnavailable)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w: %v", path, sentinel.ErrUnavailable, err)
	}
	return nil
}
