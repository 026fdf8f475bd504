package echo

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sragss/echogent/unifiedllm"
)

func noRetry() unifiedllm.RetryPolicy {
	return unifiedllm.RetryPolicy{MaxRetries: 0}
}

func TestBalance(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/api/v1/balance", r.URL.Path)
		assert.Equal(t, "Bearer key-1", r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`{"balance": 4.25, "totalPaid": 10, "totalSpent": 5.75}`))
	}))
	defer srv.Close()

	bal, err := NewClient(srv.URL+"/", "key-1").Balance(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4.25, bal.Balance)
	assert.Equal(t, 10.0, bal.TotalPaid)
	assert.Equal(t, 5.75, bal.TotalSpent)
}

func TestBalanceRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{"balance": 2}`))
	}))
	defer srv.Close()

	policy := unifiedllm.RetryPolicy{MaxRetries: 2, BaseDelay: 0.001, MaxDelay: 0.01, BackoffMultiplier: 1}
	bal, err := NewClient(srv.URL, "k", WithRetryPolicy(policy)).Balance(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2.0, bal.Balance)
	assert.Equal(t, int32(2), calls.Load())
}

func TestBalanceAuthError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error": "invalid api key"}`))
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, "bad", WithRetryPolicy(noRetry())).Balance(context.Background())
	var authErr *unifiedllm.AuthenticationError
	require.True(t, errors.As(err, &authErr), "got %v", err)
	assert.Equal(t, "invalid api key", authErr.Message)
	assert.Equal(t, "echo", authErr.Provider)
	assert.False(t, unifiedllm.IsRetryable(err))
}

func TestCreatePaymentLink(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/v1/stripe/payment-link", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		var body map[string]float64
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, 10.0, body["amount"])
		_, _ = w.Write([]byte(`{"paymentLink": {"url": "https://pay.example/abc"}}`))
	}))
	defer srv.Close()

	link, err := NewClient(srv.URL, "k").CreatePaymentLink(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, "https://pay.example/abc", link.URL)
}

func TestCreatePaymentLinkMissingURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, "k").CreatePaymentLink(context.Background(), 10)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no url")
}

func TestFundsCheck(t *testing.T) {
	cases := []struct {
		name       string
		balance    float64
		wantOpened bool
		wantOut    string
	}{
		{"sufficient", 1, false, "Balance: 1\n"},
		{"large", 1234.5, false, "Balance: 1,234.5\n"},
		{"low", 0.5, true, "Balance: 0.5\nLow balance. Opening payment link...\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var linkCalls atomic.Int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				switch r.URL.Path {
				case "/api/v1/balance":
					_ = json.NewEncoder(w).Encode(map[string]float64{"balance": tc.balance})
				case "/api/v1/stripe/payment-link":
					linkCalls.Add(1)
					_, _ = w.Write([]byte(`{"paymentLink": {"url": "https://pay.example/x"}}`))
				default:
					http.NotFound(w, r)
				}
			}))
			defer srv.Close()

			var out bytes.Buffer
			var opened []string
			check := &FundsCheck{
				Client:    NewClient(srv.URL, "k"),
				Threshold: 1,
				TopUp:     10,
				Out:       &out,
				OpenURL: func(url string) error {
					opened = append(opened, url)
					return nil
				},
			}
			bal, err := check.Run(context.Background())
			require.NoError(t, err)
			assert.Equal(t, tc.balance, bal.Balance)
			assert.Equal(t, tc.wantOut, out.String())
			if tc.wantOpened {
				assert.Equal(t, []string{"https://pay.example/x"}, opened)
				assert.Equal(t, int32(1), linkCalls.Load())
			} else {
				assert.Empty(t, opened)
				assert.Zero(t, linkCalls.Load())
			}
		})
	}
}
