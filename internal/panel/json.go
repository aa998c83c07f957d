package panel

import (
	"bytes"
	"encoding/json"

	"github.com/tbourn/go-order-bot/internal/domain"
)

// flexString accepts a JSON string, number or null. The backend is not
// consistent about quoting ids and amounts.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*f = ""
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*f = flexString(n.String())
	return nil
}

// moneyJSON accepts either {value, currency_code, formatted} or a bare amount.
type moneyJSON domain.Money

func (m *moneyJSON) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '{' {
		var obj struct {
			Value        flexString `json:"value"`
			CurrencyCode string     `json:"currency_code"`
			Formatted    string     `json:"formatted"`
		}
		if err := json.Unmarshal(b, &obj); err != nil {
			return err
		}
		*m = moneyJSON{Value: string(obj.Value), CurrencyCode: obj.CurrencyCode, Formatted: obj.Formatted}
		return nil
	}
	var v flexString
	if err := v.UnmarshalJSON(b); err != nil {
		return err
	}
	*m = moneyJSON{Value: string(v)}
	return nil
}
