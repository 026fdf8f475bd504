package echo

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/sragss/echogent/unifiedllm"
)

const providerName = "echo"

// Balance is the account state reported by Echo.
type Balance struct {
	Balance    float64 `json:"balance"`
	TotalPaid  float64 `json:"totalPaid,omitempty"`
	TotalSpent float64 `json:"totalSpent,omitempty"`
}

// PaymentLink is a hosted checkout page for topping up the balance.
type PaymentLink struct {
	URL string `json:"url"`
}

// Client calls the Echo account API with bearer authentication.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	retry      unifiedllm.RetryPolicy
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(c *http.Client) ClientOption {
	return func(cl *Client) {
		cl.httpClient = c
	}
}

// WithRetryPolicy overrides the retry policy for balance reads.
func WithRetryPolicy(p unifiedllm.RetryPolicy) ClientOption {
	return func(cl *Client) {
		cl.retry = p
	}
}

// NewClient creates a billing client for the Echo API at baseURL.
func NewClient(baseURL, apiKey string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		retry:      unifiedllm.DefaultRetryPolicy(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Balance fetches the current balance. Transient failures are retried.
func (c *Client) Balance(ctx context.Context) (*Balance, error) {
	return unifiedllm.Retry(ctx, c.retry, func(ctx context.Context) (*Balance, error) {
		var out Balance
		if err := c.do(ctx, http.MethodGet, "/api/v1/balance", nil, &out); err != nil {
			return nil, err
		}
		return &out, nil
	})
}

// CreatePaymentLink asks Echo for a checkout page topping up by amount.
// It is not retried so a flaky network never creates two links.
func (c *Client) CreatePaymentLink(ctx context.Context, amount float64) (*PaymentLink, error) {
	var out struct {
		PaymentLink PaymentLink `json:"paymentLink"`
	}
	body := map[string]float64{"amount": amount}
	if err := c.do(ctx, http.MethodPost, "/api/v1/stripe/payment-link", body, &out); err != nil {
		return nil, err
	}
	if out.PaymentLink.URL == "" {
		return nil, &unifiedllm.ProviderError{
			SDKError: unifiedllm.SDKError{Message: "payment link response has no url"},
			Provider: providerName,
		}
	}
	return &out.PaymentLink, nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode %s request: %w", path, err)
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return &unifiedllm.ConfigurationError{SDKError: unifiedllm.SDKError{Message: "build echo request", Cause: err}}
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return &unifiedllm.AbortError{SDKError: unifiedllm.SDKError{Message: "request cancelled", Cause: ctx.Err()}}
		}
		return &unifiedllm.NetworkError{SDKError: unifiedllm.SDKError{Message: "send echo request", Cause: err}}
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		return statusError(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &unifiedllm.ProviderError{
			SDKError: unifiedllm.SDKError{Message: "decode " + path + " response", Cause: err},
			Provider: providerName, StatusCode: resp.StatusCode,
		}
	}
	return nil
}

func statusError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	msg := strings.TrimSpace(string(raw))
	var body struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if json.Unmarshal(raw, &body) == nil {
		if body.Message != "" {
			msg = body.Message
		} else if body.Error != "" {
			msg = body.Error
		}
	}
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}

	var retryAfter *float64
	if v := resp.Header.Get("Retry-After"); v != "" {
		if secs, err := strconv.ParseFloat(v, 64); err == nil {
			retryAfter = &secs
		}
	}
	return unifiedllm.ErrorFromStatusCode(resp.StatusCode, msg, providerName, "", retryAfter)
}

// FormatAmount renders a balance for the terminal, e.g. 1,234.5.
func FormatAmount(v float64) string {
	return humanize.CommafWithDigits(v, 2)
}

// FundsCheck reports the balance and, below Threshold, opens a payment link
// for TopUp.
type FundsCheck struct {
	Client    *Client
	Threshold float64
	TopUp     float64
	Out       io.Writer
	// OpenURL defaults to browser.OpenURL.
	OpenURL func(url string) error
}

// Run performs the check and returns the balance it observed.
func (f *FundsCheck) Run(ctx context.Context) (*Balance, error) {
	bal, err := f.Client.Balance(ctx)
	if err != nil {
		return nil, fmt.Errorf("check balance: %w", err)
	}
	out := f.Out
	if out == nil {
		out = io.Discard
	}
	fmt.Fprintf(out, "Balance: %s\n", FormatAmount(bal.Balance))
	if bal.Balance >= f.Threshold {
		return bal, nil
	}

	link, err := f.Client.CreatePaymentLink(ctx, f.TopUp)
	if err != nil {
		return nil, fmt.Errorf("create payment link: %w", err)
	}
	fmt.Fprintln(out, "Low balance. Opening payment link...")
	open := f.OpenURL
	if open == nil {
		open = openBrowser
	}
	if err := open(link.URL); err != nil {
		fmt.Fprintf(out, "Could not open a browser; visit %s\n", link.URL)
	}
	return bal, nil
}
