// Package ledger is the client for the external Cores balance ledger. The
// ledger owns every balance; callers only ask it to move Cores and report
// what it answered.
package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"readStreakAPI/internal/logger"
)

var (
	ErrInsufficientFunds = errors.New("ledger: insufficient funds")
	ErrUnavailable       = errors.New("ledger: unavailable")
	ErrRejected          = errors.New("ledger: transfer rejected")
	ErrAccountNotFound   = errors.New("ledger: account not found")
)

type AccountType string

const (
	AccountUser   AccountType = "user"
	AccountSystem AccountType = "system"
)

type Account struct {
	Type AccountType `json:"type"`
	ID   string      `json:"id"`
}

func UserAccount(userID string) Account {
	return Account{Type: AccountUser, ID: userID}
}

// SystemAccount receives Cores spent on streak recoveries.
var SystemAccount = Account{Type: AccountSystem, ID: "streak-recovery"}

type Transfer struct {
	Sender   Account `json:"sender"`
	Receiver Account `json:"receiver"`
	Amount   int     `json:"amount"`
}

type Balance struct {
	Account Account `json:"account"`
	Amount  int     `json:"amount"`
}

type TransferResult struct {
	Balances []Balance `json:"balances"`
}

func (r *TransferResult) BalanceOf(acc Account) (int, bool) {
	if r == nil {
		return 0, false
	}
	for _, b := range r.Balances {
		if b.Account == acc {
			return b.Amount, true
		}
	}
	return 0, false
}

type transferRequest struct {
	IdempotencyKey string     `json:"idempotencyKey"`
	Transfers      []Transfer `json:"transfers"`
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type Options struct {
	// Timeout bounds a single attempt.
	Timeout        time.Duration
	MaxAttempts    int
	InitialBackoff time.Duration
}

type Client struct {
	baseURL string
	token   string
	http    *http.Client
	opts    Options
	log     *logger.Logger
}

func NewClient(baseURL, token string, opts Options, log *logger.Logger) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 3 * time.Second
	}
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = 3
	}
	if opts.InitialBackoff <= 0 {
		opts.InitialBackoff = 200 * time.Millisecond
	}
	return &Client{
		baseURL: baseURL,
		token:   token,
		http:    &http.Client{},
		opts:    opts,
		log:     log.With("service", "LedgerClient"),
	}
}

// Transfer moves Cores between accounts. Every attempt reuses key, so a
// retry after an ambiguous failure cannot charge twice.
func (c *Client) Transfer(ctx context.Context, key string, transfers []Transfer) (*TransferResult, error) {
	ctx, span := otel.Tracer("readStreakAPI/ledger").Start(ctx, "ledger.Transfer")
	defer span.End()
	span.SetAttributes(attribute.String("ledger.idempotency_key", key))

	body, err := json.Marshal(transferRequest{IdempotencyKey: key, Transfers: transfers})
	if err != nil {
		return nil, fmt.Errorf("encode transfer: %w", err)
	}

	attempt := 0
	result, err := c.retry(ctx, func() (*TransferResult, error) {
		attempt++
		var res TransferResult
		err := c.do(ctx, http.MethodPost, "/transfer", key, body, &res)
		if err != nil && !isPermanent(err) {
			c.log.Warn("ledger transfer attempt failed", "attempt", attempt, "key", key, "error", err)
		}
		return &res, err
	})
	span.SetAttributes(attribute.Int("ledger.attempts", attempt))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return result, nil
}

// GetBalance reads a user's balance for display. It is not authoritative for
// spending decisions; Transfer is.
func (c *Client) GetBalance(ctx context.Context, userID string) (int, error) {
	var res Balance
	_, err := c.retry(ctx, func() (*TransferResult, error) {
		return nil, c.do(ctx, http.MethodGet, "/balance/"+url.PathEscape(userID), "", nil, &res)
	})
	if err != nil {
		return 0, err
	}
	return res.Amount, nil
}

func (c *Client) retry(ctx context.Context, op func() (*TransferResult, error)) (*TransferResult, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.opts.InitialBackoff

	res, err := backoff.Retry(ctx, func() (*TransferResult, error) {
		res, err := op()
		if err != nil && isPermanent(err) {
			return nil, backoff.Permanent(err)
		}
		return res, err
	}, backoff.WithBackOff(b), backoff.WithMaxTries(uint(c.opts.MaxAttempts)))
	if err != nil {
		if isPermanent(err) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return res, nil
}

func isPermanent(err error) bool {
	return errors.Is(err, ErrInsufficientFunds) ||
		errors.Is(err, ErrRejected) ||
		errors.Is(err, ErrAccountNotFound)
}

func (c *Client) do(ctx context.Context, method, path, key string, body []byte, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("%w: build request: %v", ErrRejected, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if key != "" {
		req.Header.Set("Idempotency-Key", key)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("%w: decode response: %v", ErrRejected, err)
		}
		return nil
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("ledger responded %d", resp.StatusCode)
	}

	var e errorResponse
	_ = json.Unmarshal(raw, &e)
	if resp.StatusCode == http.StatusPaymentRequired || e.Code == "insufficient_funds" {
		return ErrInsufficientFunds
	}
	if resp.StatusCode == http.StatusNotFound {
		return ErrAccountNotFound
	}
	return fmt.Errorf("%w: status %d: %s", ErrRejected, resp.StatusCode, e.Message)
}
