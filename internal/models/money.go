// Package models holds the typed shapes of the brokerage API payloads. The
// API is inconsistent about scalars (numbers vs strings, bare amounts vs
// value/currency objects, currency vs currencyCode), so the decoding here is
// deliberately tolerant.
package models

import (
	"bytes"
	"encoding/json"

	"github.com/shopspring/decimal"
)

// Amount is a monetary value with its currency. Decodes from either a bare
// JSON number or a {value, currency|currencyCode} object.
type Amount struct {
	Value    decimal.Decimal `json:"value"`
	Currency string          `json:"currency"`
}

func (a *Amount) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil
	}

	if data[0] == '{' {
		var obj struct {
			Value        decimal.Decimal `json:"value"`
			Currency     string          `json:"currency"`
			CurrencyCode string          `json:"currencyCode"`
		}
		if err := json.Unmarshal(data, &obj); err != nil {
			return err
		}
		a.Value = obj.Value
		a.Currency = obj.Currency
		if a.Currency == "" {
			a.Currency = obj.CurrencyCode
		}
		return nil
	}

	return json.Unmarshal(data, &a.Value)
}

// String renders "123.45 DKK", or just the value when the currency is
// unknown.
func (a Amount) String() string {
	if a.Currency == "" {
		return a.Value.String()
	}
	return a.Value.String() + " " + a.Currency
}

// Str decodes JSON strings and bare numbers alike as a string. The API
// switches between the two for identifiers.
type Str string

func (s *Str) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*s = ""
		return nil
	}
	if data[0] == '"' {
		var v string
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		*s = Str(v)
		return nil
	}
	*s = Str(data)
	return nil
}
