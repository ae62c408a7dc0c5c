package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/nordgo/nordgo/internal/httpx"
	"github.com/nordgo/nordgo/internal/models"
)

// transactionsPageSize is the server-side maximum per page.
const transactionsPageSize = 800

// earliestTransactionDate predates any account opening the API serves.
const earliestTransactionDate = "2010-01-01"

const transactionsBasePath = "/transaction/transaction-and-notes/v1"

// txGet queries the transaction API, which lives on a separate origin and
// authenticates with a Bearer JWT rather than session cookies. A 401 is
// retried once with a force-minted token; this retry is about token expiry
// and is separate from the session re-login in do().
func (c *Client) txGet(ctx context.Context, path string, params url.Values, out any) error {
	for attempt := 0; ; attempt++ {
		token, err := c.bearerTokenValue(ctx, attempt > 0)
		if err != nil {
			return err
		}

		target := c.apiBase + path
		if len(params) > 0 {
			target += "?" + params.Encode()
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set("client-id", "NEXT")
		req.Header.Set("x-locale", "da-DK")
		req.Header.Set("Accept", "application/json")

		resp, err := c.hc.Do(req)
		if err != nil {
			return fmt.Errorf("request %s: %w", target, err)
		}

		if resp.StatusCode == http.StatusUnauthorized && attempt == 0 {
			resp.Body.Close()
			continue
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return &StatusError{StatusCode: resp.StatusCode, Body: httpx.ReadLimited(resp.Body, 200)}
		}
		return json.NewDecoder(resp.Body).Decode(out)
	}
}

func transactionParams(accountIDs []int, from, to string) url.Values {
	ids := make([]string, len(accountIDs))
	for i, id := range accountIDs {
		ids[i] = strconv.Itoa(id)
	}
	if from == "" {
		from = earliestTransactionDate
	}
	if to == "" {
		to = time.Now().Format("2006-01-02")
	}
	return url.Values{
		"accids":               {strings.Join(ids, ",")},
		"fromDate":             {from},
		"toDate":               {to},
		"includeCancellations": {"false"},
	}
}

// TransactionCount returns the total number of transactions in the range.
func (c *Client) TransactionCount(ctx context.Context, accountIDs []int, from, to string) (int, error) {
	var summary models.TransactionSummary
	if err := c.txGet(ctx, transactionsBasePath+"/transaction-summary", transactionParams(accountIDs, from, to), &summary); err != nil {
		return 0, err
	}
	return summary.Count(), nil
}

// transactionPage tolerates both page shapes the API returns: a bare array
// or an object wrapping it.
type transactionPage struct {
	items []models.Transaction
}

func (p *transactionPage) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	if strings.HasPrefix(trimmed, "[") {
		return json.Unmarshal(data, &p.items)
	}
	var wrapper struct {
		Transactions []models.Transaction `json:"transactions"`
	}
	if err := json.Unmarshal(data, &wrapper); err != nil {
		return err
	}
	p.items = wrapper.Transactions
	return nil
}

// Transactions fetches the full transaction history for the given accounts,
// paging through the API. progress, when non-nil, receives running totals
// and may be called from this goroutine only.
func (c *Client) Transactions(ctx context.Context, accountIDs []int, from, to string, progress func(fetched, total int)) ([]models.Transaction, error) {
	total, err := c.TransactionCount(ctx, accountIDs, from, to)
	if err != nil {
		return nil, err
	}

	var all []models.Transaction
	for offset := 0; ; offset += transactionsPageSize {
		params := transactionParams(accountIDs, from, to)
		params.Set("offset", strconv.Itoa(offset))
		params.Set("limit", strconv.Itoa(transactionsPageSize))
		params.Set("sort", "ACCOUNTING_DATE")
		params.Set("sortOrder", "DESC")

		var page transactionPage
		if err := c.txGet(ctx, transactionsBasePath+"/transactions/page", params, &page); err != nil {
			return nil, err
		}
		if len(page.items) == 0 {
			break
		}

		all = append(all, page.items...)
		if progress != nil {
			progress(len(all), total)
		}
		if len(page.items) < transactionsPageSize {
			break
		}
	}
	return all, nil
}
