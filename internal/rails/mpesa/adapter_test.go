package mpesa

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

type MpesaAdapterSuite struct {
	suite.Suite
}

func TestMpesaAdapterSuite(t *testing.T) {
	suite.Run(t, new(MpesaAdapterSuite))
}

// railStub fakes the rail's token and STK endpoints.
func (s *MpesaAdapterSuite) railStub(stkHandler http.HandlerFunc) (*httptest.Server, *Adapter) {
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/v1/generate", func(w http.ResponseWriter, r *http.Request) {
		s.Equal(http.MethodGet, r.Method)
		s.Contains(r.Header.Get("Authorization"), "Basic ")
		_ = json.NewEncoder(w).Encode(map[string]any{"access_token": "tok-1", "expires_in": "3599"})
	})
	mux.HandleFunc("/mpesa/", stkHandler)

	srv := httptest.NewServer(mux)
	adapter := New(config.MpesaConfig{
		BaseURL:        srv.URL,
		ShortCode:      "174379",
		Passkey:        "test-passkey",
		ConsumerKey:    "key",
		ConsumerSecret: "secret",
		CallbackURL:    "https://railgate.example/callbacks/mpesa",
		MatchingWindow: time.Hour,
	}, srv.Client())
	return srv, adapter
}

func (s *MpesaAdapterSuite) TestInitiate() {
	s.Run("accepted push returns the checkout request id", func() {
		srv, adapter := s.railStub(func(w http.ResponseWriter, r *http.Request) {
			s.Equal("Bearer tok-1", r.Header.Get("Authorization"))

			var body map[string]any
			s.Require().NoError(json.NewDecoder(r.Body).Decode(&body))
			s.Equal("174379", body["BusinessShortCode"])
			s.Equal("CustomerPayBillOnline", body["TransactionType"])
			s.EqualValues(1300, body["Amount"])
			s.Equal("254708374149", body["PhoneNumber"])
			s.Equal("order-42", body["AccountReference"])
			s.NotEmpty(body["Password"])

			_ = json.NewEncoder(w).Encode(map[string]any{
				"CheckoutRequestID": "ws_CO_123",
				"ResponseCode":      "0",
			})
		})
		defer srv.Close()

		ref, err := adapter.Initiate(context.Background(), rails.InitiateRequest{
			DestinationAddress: "254708374149",
			SettlementAmount:   decimal.RequireFromString("1300"),
			AccountReference:   "order-42",
			IdempotencyKey:     "intent-1",
		})
		s.Require().NoError(err)
		s.Equal("ws_CO_123", ref.Value)
	})

	s.Run("rejected push is unavailable", func() {
		srv, adapter := s.railStub(func(w http.ResponseWriter, r *http.Request) {
			_ = json.NewEncoder(w).Encode(map[string]any{
				"ResponseCode":        "1",
				"ResponseDescription": "insufficient balance",
			})
		})
		defer srv.Close()

		_, err := adapter.Initiate(context.Background(), rails.InitiateRequest{
			DestinationAddress: "254708374149",
			SettlementAmount:   decimal.RequireFromString("1300"),
			AccountReference:   "order-42",
		})
		s.Require().Error(err)
		s.True(errors.Is(err, sentinel.ErrUnavailable))
	})

	s.Run("transport failure is unavailable", func() {
		srv, adapter := s.railStub(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		})
		defer srv.Close()

		_, err := adapter.Initiate(context.Background(), rails.InitiateRequest{
			DestinationAddress: "254708374149",
			SettlementAmount:   decimal.RequireFromString("1300"),
			AccountReference:   "order-42",
		})
		s.Require().Error(err)
		s.True(errors.Is(err, sentinel.ErrUnavailable))
	})
}

func (s *MpesaAdapterSuite) TestPoll() {
	s.Run("requires a rail reference", func() {
		adapter := New(config.MpesaConfig{BaseURL: "http://unused"}, nil)
		_, err := adapter.Poll(context.Background(), rails.PollQuery{})
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})

	s.Run("pending query yields no evidence", func() {
		srv, adapter := s.railStub(func(w http.ResponseWriter, r *http.Request) {
			_ = json.NewEncoder(w).Encode(map[string]any{
				"ResultCode": "1032",
				"ResultDesc": "Request cancelled by user",
			})
		})
		defer srv.Close()

		evidence, err := adapter.Poll(context.Background(), rails.PollQuery{RailReference: "ws_CO_123"})
		s.Require().NoError(err)
		s.Empty(evidence)
	})

	s.Run("settled query yields evidence when metadata is present", func() {
		srv, adapter := s.railStub(func(w http.ResponseWriter, r *http.Request) {
			_ = json.NewEncoder(w).Encode(map[string]any{
				"ResultCode": "0",
				"CallbackMetadata": map[string]any{
					"Item": []map[string]any{
						{"Name": "Amount", "Value": 1300},
						{"Name": "MpesaReceiptNumber", "Value": "NLJ7RT61SV"},
					},
				},
			})
		})
		defer srv.Close()

		evidence, err := adapter.Poll(context.Background(), rails.PollQuery{RailReference: "ws_CO_123"})
		s.Require().NoError(err)
		s.Require().Len(evidence, 1)
		s.Equal("NLJ7RT61SV", evidence[0].ExternalTxID)
		s.Equal("ws_CO_123", evidence[0].MatchKey)
		s.True(evidence[0].Amount.Equal(decimal.RequireFromString("1300")))
	})
}

func (s *MpesaAdapterSuite) TestParseCallback() {
	adapter := New(config.MpesaConfig{}, nil)

	successPayload := []byte(`{
		"Body": {
			"stkCallback": {
				"MerchantRequestID": "29115-34620561-1",
				"CheckoutRequestID": "ws_CO_123",
				"ResultCode": 0,
				"ResultDesc": "The service request is processed successfully.",
				"CallbackMetadata": {
					"Item": [
						{"Name": "Amount", "Value": 1300.00},
						{"Name": "MpesaReceiptNumber", "Value": "NLJ7RT61SV"},
						{"Name": "TransactionDate", "Value": 20250310120530},
						{"Name": "PhoneNumber", "Value": 254708374149}
					]
				}
			}
		}
	}`)

	s.Run("successful callback yields evidence", func() {
		ev, err := adapter.ParseCallback(successPayload)
		s.Require().NoError(err)
		s.Require().NotNil(ev)
		s.Equal("NLJ7RT61SV", ev.ExternalTxID)
		s.Equal("ws_CO_123", ev.MatchKey)
		s.True(ev.Amount.Equal(decimal.RequireFromString("1300")))
		s.JSONEq(string(successPayload), string(ev.Raw))
	})

	s.Run("failed prompt yields no evidence and no error", func() {
		ev, err := adapter.ParseCallback([]byte(`{
			"Body": {"stkCallback": {"CheckoutRequestID": "ws_CO_123", "ResultCode": 1032, "ResultDesc": "Request cancelled by user"}}
		}`))
		s.Require().NoError(err)
		s.Nil(ev)
	})

	s.Run("rejects malformed payloads", func() {
		cases := []struct {
			name    string
			payload string
		}{
			{"invalid json", `{"Body": `},
			{"missing checkout id", `{"Body": {"stkCallback": {"ResultCode": 0}}}`},
			{"success without metadata", `{"Body": {"stkCallback": {"CheckoutRequestID": "ws_CO_123", "ResultCode": 0}}}`},
			{"metadata without receipt", `{"Body": {"stkCallback": {"CheckoutRequestID": "ws_CO_123", "ResultCode": 0, "CallbackMetadata": {"Item": [{"Name": "Amount", "Value": 1300}]}}}}`},
		}
		for _, tc := range cases {
			s.Run(tc.name, func() {
				_, err := adapter.ParseCallback([]byte(tc.payload))
				s.Require().Error(err)
				s.True(dErrors.HasCode(err, dErrors.CodeBadRequest))
			})
		}
	})
}
