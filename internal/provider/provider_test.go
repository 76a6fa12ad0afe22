package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/portfolio-tracker/internal/circuitbreaker"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func decodeJSONBody(t *testing.T, r *http.Request, out interface{}) {
	t.Helper()
	if err := json.NewDecoder(r.Body).Decode(out); err != nil {
		t.Fatalf("decoding request body: %v", err)
	}
}

func testBreaker() *circuitbreaker.CircuitBreaker {
	return circuitbreaker.New(circuitbreaker.Config{
		Name:             "test",
		MaxFailures:      100,
		Cooldown:         time.Second,
		HalfOpenMaxCalls: 1,
	}, zerolog.Nop())
}

func TestBitcoinGetBalancesConvertsSatoshis(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/rawaddr/1A1zP1eP5QGefi2DMPTfTL5SLmv7DivfNa" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Write([]byte(`{"final_balance": 123456789}`))
	}))
	defer server.Close()

	p := NewBitcoinProvider(server.URL, time.Second, testBreaker())
	balances, err := p.GetBalances(context.Background(), Credentials{
		Address: "1A1zP1eP5QGefi2DMPTfTL5SLmv7DivfNa", // genesis address
	})
	if err != nil {
		t.Fatalf("GetBalances failed: %v", err)
	}
	if len(balances) != 1 || balances[0].Symbol != "BTC" {
		t.Fatalf("unexpected balances: %+v", balances)
	}
	if !balances[0].Amount.Equal(dec("1.23456789")) {
		t.Errorf("amount = %s, want 1.23456789", balances[0].Amount)
	}
}

func TestBitcoinRejectsInvalidAddress(t *testing.T) {
	p := NewBitcoinProvider("http://localhost:1", time.Second, testBreaker())

	ok, err := p.ValidateCredentials(context.Background(), Credentials{Address: "not-an-address"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Error("expected invalid address to be rejected")
	}

	if _, err := p.GetBalances(context.Background(), Credentials{Address: "not-an-address"}); err == nil {
		t.Error("expected GetBalances to fail for invalid address")
	}
}

func TestSolanaGetBalances(t *testing.T) {
	address := "4Nd1mBQtrMJVYVfKf2PJy9NZUZdTAsp7D4xWLs4gDB4T"

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Method string `json:"method"`
		}
		decodeJSONBody(t, r, &req)

		switch req.Method {
		case "getBalance":
			w.Write([]byte(`{"jsonrpc":"2.0","id":1,"result":{"value":2500000000}}`))
		case "getTokenAccountsByOwner":
			w.Write([]byte(`{"jsonrpc":"2.0","id":1,"result":{"value":[
				{"account":{"data":{"parsed":{"info":{
					"mint":"EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v",
					"tokenAmount":{"uiAmountString":"100.5"}
				}}}}}
			]}}`))
		default:
			t.Errorf("unexpected rpc method %q", req.Method)
		}
	}))
	defer server.Close()

	p := NewSolanaProvider(server.URL, time.Second, testBreaker())
	balances, err := p.GetBalances(context.Background(), Credentials{Address: address})
	if err != nil {
		t.Fatalf("GetBalances failed: %v", err)
	}
	if len(balances) != 2 {
		t.Fatalf("expected 2 balances, got %d", len(balances))
	}
	if balances[0].Symbol != "SOL" || !balances[0].Amount.Equal(dec("2.5")) {
		t.Errorf("native balance = %s %s, want SOL 2.5", balances[0].Symbol, balances[0].Amount)
	}
	if !balances[1].Amount.Equal(dec("100.5")) || balances[1].TokenAddress == "" {
		t.Errorf("token balance = %+v, want 100.5 with mint address", balances[1])
	}
}

func TestSolanaAddressValidation(t *testing.T) {
	p := NewSolanaProvider("http://localhost:1", time.Second, testBreaker())

	cases := map[string]bool{
		"4Nd1mBQtrMJVYVfKf2PJy9NZUZdTAsp7D4xWLs4gDB4T": true,
		"tooshort":      false,
		"contains-0-Ol": false,
		"":              false,
	}
	for address, want := range cases {
		ok, err := p.ValidateCredentials(context.Background(), Credentials{Address: address})
		if err != nil {
			t.Fatalf("%q: unexpected error: %v", address, err)
		}
		if ok != want {
			t.Errorf("%q: valid = %v, want %v", address, ok, want)
		}
	}
}
