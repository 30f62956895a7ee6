package tron

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/suite"

	"railgate/internal/platform/config"
	"railgate/internal/rails"
	dErrors "railgate/pkg/domain-errors"
	"railgate/pkg/platform/sentinel"
)

const (
	testReceiving = "TDepositAddr111111111111111111111"
	testContract  = "TR7NHqjeKQxGTCi8q8ZY4pL8otSzgjLj6t"
)

type TronAdapterSuite struct {
	suite.Suite
}

func TestTronAdapterSuite(t *testing.T) {
	suite.Run(t, new(TronAdapterSuite))
}

func (s *TronAdapterSuite) explorerStub(handler http.HandlerFunc) (*httptest.Server, *Adapter) {
	srv := httptest.NewServer(handler)
	adapter := New(config.TronConfig{
		APIBase:          srv.URL,
		ReceivingAddress: testReceiving,
		TokenContract:    testContract,
		MatchingWindow:   30 * time.Minute,
		Tolerance:        decimal.RequireFromString("0.01"),
		PollLimit:        20,
	}, srv.Client())
	return srv, adapter
}

func (s *TronAdapterSuite) TestInitiate() {
	s.Run("returns the receiving address and a stable session handle", func() {
		adapter := New(config.TronConfig{ReceivingAddress: testReceiving}, nil)

		ref, err := adapter.Initiate(context.Background(), rails.InitiateRequest{IdempotencyKey: "intent-1"})
		s.Require().NoError(err)
		s.Equal("dep-intent-1", ref.Value)
		s.Equal(testReceiving, ref.DestinationAddress)

		again, err := adapter.Initiate(context.Background(), rails.InitiateRequest{IdempotencyKey: "intent-1"})
		s.Require().NoError(err)
		s.Equal(ref, again)
	})

	s.Run("fails without a receiving address", func() {
		adapter := New(config.TronConfig{}, nil)
		_, err := adapter.Initiate(context.Background(), rails.InitiateRequest{IdempotencyKey: "intent-1"})
		s.Require().Error(err)
		s.True(errors.Is(err, sentinel.ErrUnavailable))
	})
}

func (s *TronAdapterSuite) TestPoll() {
	s.Run("maps transfers to evidence", func() {
		observedAt := time.Date(2025, 3, 10, 12, 5, 0, 0, time.UTC)
		srv, adapter := s.explorerStub(func(w http.ResponseWriter, r *http.Request) {
			s.Equal("/api/token_trc20/transfers", r.URL.Path)
			s.Equal("20", r.URL.Query().Get("limit"))
			s.Equal("0", r.URL.Query().Get("start"))
			s.Equal(testReceiving, r.URL.Query().Get("toAddress"))
			s.Equal(testContract, r.URL.Query().Get("tokenAddress"))

			_ = json.NewEncoder(w).Encode(map[string]any{
				"token_transfers": []map[string]any{
					{
						"transaction_id":  "abc123",
						"quant":           "100500000",
						"from_address":    "TPayerAddr1111111111111111111111",
						"to_address":      testReceiving,
						"block_timestamp": observedAt.UnixMilli(),
					},
					{
						"transaction_id":  "bad-row",
						"quant":           "not-a-number",
						"to_address":      testReceiving,
						"block_timestamp": observedAt.UnixMilli(),
					},
				},
			})
		})
		defer srv.Close()

		evidence, err := adapter.Poll(context.Background(), rails.PollQuery{})
		s.Require().NoError(err)
		s.Require().Len(evidence, 1)
		s.Equal("abc123", evidence[0].ExternalTxID)
		s.True(evidence[0].Amount.Equal(decimal.RequireFromString("100.5")))
		s.Equal(testReceiving, evidence[0].DestinationAddress)
		s.Equal("TPayerAddr1111111111111111111111", evidence[0].CounterpartyAddress)
		s.Equal(observedAt, evidence[0].ObservedAt)
	})

	s.Run("empty feed yields no evidence", func() {
		srv, adapter := s.explorerStub(func(w http.ResponseWriter, r *http.Request) {
			_ = json.NewEncoder(w).Encode(map[string]any{"token_transfers": []any{}})
		})
		defer srv.Close()

		evidence, err := adapter.Poll(context.Background(), rails.PollQuery{})
		s.Require().NoError(err)
		s.Empty(evidence)
	})

	s.Run("explorer failure is unavailable", func() {
		srv, adapter := s.explorerStub(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
		defer srv.Close()

		_, err := adapter.Poll(context.Background(), rails.PollQuery{})
		s.Require().Error(err)
		s.True(errors.Is(err, sentinel.ErrUnavailable))
	})

	s.Run("query limit overrides the configured default", func() {
		srv, adapter := s.explorerStub(func(w http.ResponseWriter, r *http.Request) {
			s.Equal("5", r.URL.Query().Get("limit"))
			_ = json.NewEncoder(w).Encode(map[string]any{"token_transfers": []any{}})
		})
		defer srv.Close()

		_, err := adapter.Poll(context.Background(), rails.PollQuery{Limit: 5})
		s.Require().NoError(err)
	})
}

func (s *TronAdapterSuite) TestParseCallback() {
	adapter := New(config.TronConfig{}, nil)
	_, err := adapter.ParseCallback([]byte(`{}`))
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeBadRequest))
}
