// Package export writes fetched brokerage data to timestamped CSV files.
package export

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/nordgo/nordgo/internal/models"
)

func amount(a *models.Amount) (value, currency string) {
	if a == nil {
		return "", ""
	}
	return a.Value.String(), a.Currency
}

// WriteCSV writes one header row plus rows to <dir>/<entity>_<timestamp>.csv
// and returns the file path.
func WriteCSV(dir, entity string, header []string, rows [][]string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create export directory: %w", err)
	}
	path := filepath.Join(dir, fmt.Sprintf("%s_%s.csv", entity, time.Now().Format("2006-01-02_150405")))

	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create export file: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(header); err != nil {
		return "", err
	}
	if err := w.WriteAll(rows); err != nil {
		return "", err
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return "", fmt.Errorf("write export file: %w", err)
	}
	return path, nil
}

// Accounts exports the account list.
func Accounts(dir string, accounts []models.Account) (string, error) {
	header := []string{"account_id", "account_number", "name", "type"}
	rows := make([][]string, 0, len(accounts))
	for _, a := range accounts {
		rows = append(rows, []string{strconv.Itoa(a.ID), string(a.Number), a.DisplayName(), a.Type})
	}
	return WriteCSV(dir, "accounts", header, rows)
}

// Balances exports per-account balance information.
func Balances(dir string, accounts []models.Account, infos map[int]*models.AccountInfo) (string, error) {
	header := []string{"account_number", "name", "balance", "currency", "own_capital", "buying_power"}
	rows := make([][]string, 0, len(accounts))
	for _, a := range accounts {
		info := infos[a.ID]
		if info == nil {
			continue
		}
		ownCapital, _ := amount(info.OwnCapital)
		buyingPower, _ := amount(info.BuyingPower)
		rows = append(rows, []string{
			string(a.Number), a.DisplayName(),
			info.AccountSum.Value.String(), info.AccountSum.Currency,
			ownCapital, buyingPower,
		})
	}
	return WriteCSV(dir, "balances", header, rows)
}

// Holdings exports positions across accounts.
func Holdings(dir string, holdings map[int][]models.Holding, accounts []models.Account) (string, error) {
	names := make(map[int]models.Account, len(accounts))
	for _, a := range accounts {
		names[a.ID] = a
	}

	header := []string{
		"account", "account_number", "instrument", "symbol", "isin",
		"quantity", "acq_price", "acq_currency", "market_value", "currency",
		"gain_loss", "gain_loss_pct",
	}
	var rows [][]string
	for accountID, positions := range holdings {
		account := names[accountID]
		for _, h := range positions {
			rows = append(rows, []string{
				account.DisplayName(), string(account.Number),
				h.Instrument.Name, h.Instrument.Symbol, h.Instrument.ISIN,
				strconv.FormatFloat(h.Quantity, 'f', -1, 64),
				h.AcqPrice.Value.String(), h.AcqPrice.Currency,
				h.MarketValue.Value.String(), h.MarketValue.Currency,
				h.GainLoss().StringFixed(2), h.GainLossPct().StringFixed(2),
			})
		}
	}
	return WriteCSV(dir, "holdings", header, rows)
}

// Trades exports executed trades across accounts.
func Trades(dir string, trades map[int][]models.Trade, accounts []models.Account) (string, error) {
	names := make(map[int]models.Account, len(accounts))
	for _, a := range accounts {
		names[a.ID] = a
	}

	header := []string{"account", "date", "side", "instrument", "quantity", "price", "currency"}
	var rows [][]string
	for accountID, list := range trades {
		account := names[accountID]
		for _, t := range list {
			rows = append(rows, []string{
				account.DisplayName(), t.TradeTime, t.Side, t.Instrument.Name,
				strconv.FormatFloat(t.Volume, 'f', -1, 64),
				t.Price.Value.String(), t.Price.Currency,
			})
		}
	}
	return WriteCSV(dir, "trades", header, rows)
}

// Transactions exports the full transaction history.
func Transactions(dir string, transactions []models.Transaction) (string, error) {
	header := []string{
		"transaction_id", "account_number", "accounting_date", "settlement_date",
		"type", "type_code", "instrument", "isin", "quantity",
		"price", "price_currency", "amount", "amount_currency",
		"balance_after", "total_charges", "commission", "contract_note",
	}
	rows := make([][]string, 0, len(transactions))
	for _, tx := range transactions {
		price, priceCurrency := amount(tx.Price)
		balance, _ := amount(tx.Balance)
		charges, _ := amount(tx.TotalCharges)
		var commission string
		if tx.NoteInfo != nil {
			commission, _ = amount(tx.NoteInfo.Commission)
		}
		rows = append(rows, []string{
			string(tx.TransactionID), string(tx.AccountNumber),
			tx.AccountingDate, tx.SettlementDate,
			tx.TypeName, tx.TypeCode, tx.InstrumentName, tx.ISIN,
			strconv.FormatFloat(tx.Quantity, 'f', -1, 64),
			price, priceCurrency,
			tx.Amount.Value.String(), tx.Amount.Currency,
			balance, charges, commission, string(tx.ContractNoteNumber),
		})
	}
	return WriteCSV(dir, "transactions", header, rows)
}
