package models

import (
	"github.com/shopspring/decimal"
)

// Account is one brokerage account of the authenticated user.
type Account struct {
	ID     int    `json:"accid"`
	Number Str    `json:"accno"`
	Type   string `json:"type"`
	Alias  string `json:"alias"`
}

// DisplayName prefers the user-chosen alias over the account type.
func (a Account) DisplayName() string {
	if a.Alias != "" {
		return a.Alias
	}
	return a.Type
}

// AccountInfo is the extended balance information for one account.
type AccountInfo struct {
	AccountID    int     `json:"accid"`
	AccountSum   Amount  `json:"account_sum"`
	OwnCapital   *Amount `json:"own_capital"`
	BuyingPower  *Amount `json:"buying_power"`
	LoanLimit    *Amount `json:"loan_limit"`
	TradingPower *Amount `json:"trading_power"`
	Collateral   *Amount `json:"collateral"`
}

// Instrument is a tradeable security.
type Instrument struct {
	ID     int    `json:"instrument_id"`
	Name   string `json:"name"`
	Symbol string `json:"symbol"`
	ISIN   string `json:"isin"`
}

// Holding is a position in an account.
type Holding struct {
	Instrument  Instrument `json:"instrument"`
	Quantity    float64    `json:"qty"`
	AcqPrice    Amount     `json:"acq_price"`
	MarketValue Amount     `json:"market_value"`
}

// GainLoss is the unrealized profit against the acquisition cost.
func (h Holding) GainLoss() decimal.Decimal {
	cost := h.AcqPrice.Value.Mul(decimal.NewFromFloat(h.Quantity))
	return h.MarketValue.Value.Sub(cost)
}

// GainLossPct is GainLoss relative to the acquisition cost, in percent. Zero
// when the cost basis is zero.
func (h Holding) GainLossPct() decimal.Decimal {
	cost := h.AcqPrice.Value.Mul(decimal.NewFromFloat(h.Quantity))
	if cost.IsZero() {
		return decimal.Zero
	}
	return h.GainLoss().Div(cost).Mul(decimal.NewFromInt(100))
}

// Trade is an executed trade.
type Trade struct {
	TradeTime  string     `json:"trade_time"`
	Side       string     `json:"side"`
	Instrument Instrument `json:"instrument"`
	Volume     float64    `json:"volume"`
	Price      Amount     `json:"price"`
}

// Order is a pending or historical order.
type Order struct {
	OrderDate  string     `json:"order_date"`
	Side       string     `json:"side"`
	Instrument Instrument `json:"instrument"`
	Volume     float64    `json:"volume"`
	Price      Amount     `json:"price"`
	State      string     `json:"order_state"`
}

// NoteInfo is the fee breakdown attached to a transaction.
type NoteInfo struct {
	Commission    *Amount `json:"commission"`
	Charge        *Amount `json:"charge"`
	ForeignCharge *Amount `json:"foreignCharge"`
	HandlingFee   *Amount `json:"handlingFee"`
	StampTax      *Amount `json:"stampTax"`
}

// Transaction is a historical financial event from the transaction API
// (camelCase field names, unlike the legacy endpoints).
type Transaction struct {
	TransactionID       Str       `json:"transactionId"`
	AccountNumber       Str       `json:"accountNumber"`
	AccountingDate      string    `json:"accountingDate"`
	SettlementDate      string    `json:"settlementDate"`
	BusinessDate        string    `json:"businessDate"`
	TypeName            string    `json:"transactionTypeName"`
	TypeCode            string    `json:"transactionTypeCode"`
	InstrumentName      string    `json:"instrumentName"`
	InstrumentShortName string    `json:"instrumentShortName"`
	ISIN                string    `json:"isinCode"`
	Quantity            float64   `json:"quantity"`
	Price               *Amount   `json:"price"`
	Amount              Amount    `json:"amount"`
	Balance             *Amount   `json:"balance"`
	TotalCharges        *Amount   `json:"totalCharges"`
	NoteInfo            *NoteInfo `json:"noteInfo"`
	ContractNoteNumber  Str       `json:"contractNoteNumber"`
}

// TransactionSummary is the count header for a transaction query.
type TransactionSummary struct {
	Total int `json:"totalNumberOfTransactions"`
	// Older responses use a different field name.
	LegacyTotal int `json:"numberOfTransactions"`
}

// Count returns whichever total the API filled in.
func (s TransactionSummary) Count() int {
	if s.Total > 0 {
		return s.Total
	}
	return s.LegacyTotal
}
