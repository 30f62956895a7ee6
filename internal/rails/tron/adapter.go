// Package tron adapts the TRC20 token-ledger rail. There is nothing to push:
// the payer transfers tokens to the fixed receiving address, and evidence is
// discovered by listing recent inbound transfers. Correlation is entirely the
// matcher's job; the ledger carries no intent-identifying field.
package tron

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"railgate/internal/intent/models"
	"railgate/internal/platform/config"
	"railgate/internal/rails"
	dErrors "railgate/pkg/domain-errors"
	"railgate/pkg/platform/sentinel"
)

const transfersPath = "/api/token_trc20/transfers"

// tokenDecimals is the USDT TRC20 precision: quant arrives in integer
// millionths.
const tokenDecimals = 6

// Adapter lists inbound TRC20 transfers on a fixed receiving address.
type Adapter struct {
	cfg    config.TronConfig
	client *http.Client
}

// New constructs the adapter with its injected rail configuration.
func New(cfg config.TronConfig, client *http.Client) *Adapter {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &Adapter{cfg: cfg, client: client}
}

func (a *Adapter) Rail() models.Rail {
	return models.RailTron
}

// Initiate is local for the ledger rail: no external call is made. The payer
// is told the receiving address; the returned reference is a deposit session
// handle derived from the idempotency key, so retries produce the same value.
func (a *Adapter) Initiate(_ context.Context, req rails.InitiateRequest) (rails.Reference, error) {
	if a.cfg.ReceivingAddress == "" {
		return rails.Reference{}, fmt.Errorf("no receiving address configured: %w", sentinel.ErrUnavailable)
	}
	return rails.Reference{
		Value:              "dep-" + req.IdempotencyKey,
		DestinationAddress: a.cfg.ReceivingAddress,
	}, nil
}

// transfersResponse mirrors the ledger explorer's list endpoint.
type transfersResponse struct {
	TokenTransfers []struct {
		TransactionID  string `json:"transaction_id"`
		Quant          string `json:"quant"`
		FromAddress    string `json:"from_address"`
		ToAddress      string `json:"to_address"`
		BlockTimestamp int64  `json:"block_timestamp"`
	} `json:"token_transfers"`
}

// Poll lists recent inbound transfers to the receiving address. Every
// observed transfer is returned; deciding which intent (if any) a transfer
// confirms, and that it confirms at most one, belongs to the matcher.
func (a *Adapter) Poll(ctx context.Context, query rails.PollQuery) ([]models.RailEvidence, error) {
	limit := query.Limit
	if limit <= 0 {
		limit = a.cfg.PollLimit
	}

	params := url.Values{}
	params.Set("limit", strconv.Itoa(limit))
	params.Set("start", "0")
	params.Set("toAddress", a.cfg.ReceivingAddress)
	params.Set("tokenAddress", a.cfg.TokenContract)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		a.cfg.APIBase+transfersPath+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("build transfers request: %w", err)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("list transfers: %w: %v", sentinel.ErrUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("transfers endpoint returned %d: %w", resp.StatusCode, sentinel.ErrUnavailable)
	}

	var body transfersResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode transfers response: %w: %v", sentinel.ErrUnavailable, err)
	}

	evidence := make([]models.RailEvidence, 0, len(body.TokenTransfers))
	for _, tx := range body.TokenTransfers {
		quant, err := decimal.NewFromString(tx.Quant)
		if err != nil {
			// One unparseable row must not sink the whole poll.
			continue
		}
		evidence = append(evidence, models.RailEvidence{
			Rail:                models.RailTron,
			Amount:              quant.Shift(-tokenDecimals),
			ExternalTxID:        tx.TransactionID,
			CounterpartyAddress: tx.FromAddress,
			DestinationAddress:  tx.ToAddress,
			ObservedAt:          time.UnixMilli(tx.BlockTimestamp).UTC(),
		})
	}
	return evidence, nil
}

// ParseCallback always fails: the ledger rail has no push channel.
func (a *Adapter) ParseCallback([]byte) (*models.RailEvidence, error) {
	return nil, dErrors.New(dErrors.CodeBadRequest, "the ledger rail does not deliver callbacks")
}
