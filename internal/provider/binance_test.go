package provider

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/portfolio-tracker/internal/circuitbreaker"
	apperrors "github.com/portfolio-tracker/internal/errors"
)

func newBinanceTestProvider(url string) *BinanceProvider {
	breaker := circuitbreaker.New(circuitbreaker.Config{
		Name:             "binance-test",
		MaxFailures:      100,
		Cooldown:         time.Second,
		HalfOpenMaxCalls: 1,
	}, zerolog.Nop())
	return NewBinanceProvider(url, time.Second, breaker)
}

func TestBinanceGetBalancesSignsRequests(t *testing.T) {
	creds := Credentials{APIKey: "test-key", APISecret: "test-secret"}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v3/account" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("X-MBX-APIKEY"); got != "test-key" {
			t.Errorf("X-MBX-APIKEY = %q, want test-key", got)
		}

		// The signature must be the HMAC-SHA256 of the query string minus
		// the signature parameter itself.
		query := r.URL.RawQuery
		idx := strings.Index(query, "&signature=")
		if idx < 0 {
			t.Fatal("missing signature parameter")
		}
		payload, signature := query[:idx], query[idx+len("&signature="):]
		mac := hmac.New(sha256.New, []byte("test-secret"))
		mac.Write([]byte(payload))
		if want := hex.EncodeToString(mac.Sum(nil)); signature != want {
			t.Errorf("signature = %q, want %q", signature, want)
		}
		if !strings.Contains(payload, "timestamp=") {
			t.Error("signed payload missing timestamp")
		}

		w.Write([]byte(`{"balances":[
			{"asset":"BTC","free":"0.5","locked":"0.1"},
			{"asset":"ETH","free":"2","locked":"0"},
			{"asset":"XRP","free":"0","locked":"0"}
		]}`))
	}))
	defer server.Close()

	p := newBinanceTestProvider(server.URL)
	balances, err := p.GetBalances(context.Background(), creds)
	if err != nil {
		t.Fatalf("GetBalances failed: %v", err)
	}
	if len(balances) != 3 {
		t.Fatalf("expected 3 balances, got %d", len(balances))
	}
	if balances[0].Symbol != "BTC" || !balances[0].Amount.Equal(dec("0.6")) {
		t.Errorf("BTC balance = %s %s, want BTC 0.6", balances[0].Symbol, balances[0].Amount)
	}
	if !balances[2].Amount.IsZero() {
		t.Errorf("expected zero XRP balance passed through, got %s", balances[2].Amount)
	}
}

func TestBinanceErrorClassification(t *testing.T) {
	cases := []struct {
		status int
		want   apperrors.Category
	}{
		{http.StatusUnauthorized, apperrors.CategoryProviderAuth},
		{http.StatusForbidden, apperrors.CategoryProviderAuth},
		{http.StatusTooManyRequests, apperrors.CategoryProviderRateLimited},
		{http.StatusInternalServerError, apperrors.CategoryProviderUnavailable},
		{http.StatusBadRequest, apperrors.CategoryProviderUnavailable},
	}

	for _, tc := range cases {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tc.status)
		}))

		p := newBinanceTestProvider(server.URL)
		_, err := p.GetBalances(context.Background(), Credentials{APIKey: "k", APISecret: "s"})
		server.Close()

		if err == nil {
			t.Errorf("status %d: expected error", tc.status)
			continue
		}
		if got := apperrors.Categorize(err).Category; got != tc.want {
			t.Errorf("status %d: category = %s, want %s", tc.status, got, tc.want)
		}
	}
}

func TestBinanceRetryabilityByStatus(t *testing.T) {
	retryable := map[int]bool{
		http.StatusUnauthorized:        false,
		http.StatusTooManyRequests:     true,
		http.StatusServiceUnavailable:  true,
		http.StatusInternalServerError: true,
	}
	for status, want := range retryable {
		err := classifyHTTPStatus("binance", status)
		if got := apperrors.IsRetryable(err); got != want {
			t.Errorf("status %d: IsRetryable = %v, want %v", status, got, want)
		}
	}
}

func TestBinanceUndecodableBodyIsSchemaError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html>not json</html>`))
	}))
	defer server.Close()

	p := newBinanceTestProvider(server.URL)
	_, err := p.GetBalances(context.Background(), Credentials{APIKey: "k", APISecret: "s"})
	if err == nil {
		t.Fatal("expected error")
	}
	if got := apperrors.Categorize(err).Category; got != apperrors.CategorySchema {
		t.Errorf("category = %s, want schema", got)
	}
	if apperrors.IsRetryable(err) {
		t.Error("schema errors must not be retryable")
	}
}

func TestBinanceValidateCredentials(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-MBX-APIKEY") == "good-key" {
			w.Write([]byte(`{"balances":[]}`))
			return
		}
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	p := newBinanceTestProvider(server.URL)

	ok, err := p.ValidateCredentials(context.Background(), Credentials{APIKey: "good-key", APISecret: "s"})
	if err != nil || !ok {
		t.Errorf("good key: ok=%v err=%v, want true nil", ok, err)
	}

	ok, err = p.ValidateCredentials(context.Background(), Credentials{APIKey: "bad-key", APISecret: "s"})
	if err != nil {
		t.Errorf("bad key: unexpected error %v", err)
	}
	if ok {
		t.Error("bad key: expected ok=false")
	}
}
