// Package currency rewrites the monetary fields of API responses into a
// display currency. Stored orders are always kept in the base currency.
package currency

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"restaurant-orders/internal/apperr"
	"restaurant-orders/internal/config"
)

// monetaryKeys are the JSON keys whose numeric values are money.
var monetaryKeys = map[string]struct{}{
	"subtotal":   {},
	"addon":      {},
	"tax":        {},
	"tip":        {},
	"total":      {},
	"itemPrice":  {},
	"addonPrice": {},
	"totalPrice": {},
	"price":      {},
}

type Converter struct {
	base  string
	rates map[string]decimal.Decimal
}

// NewConverter parses the configured rates. Codes are case-insensitive.
func NewConverter(cfg config.CurrencyConfig) (*Converter, error) {
	c := &Converter{
		base:  strings.ToUpper(cfg.Base),
		rates: make(map[string]decimal.Decimal, len(cfg.Rates)),
	}
	for code, raw := range cfg.Rates {
		rate, err := decimal.NewFromString(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid currency.rates.%s: %w", code, err)
		}
		if !rate.IsPositive() {
			return nil, fmt.Errorf("currency.rates.%s must be positive", code)
		}
		c.rates[strings.ToUpper(code)] = rate
	}
	return c, nil
}

// Currencies lists the supported target codes, base first.
func (c *Converter) Currencies() []string {
	out := make([]string, 0, len(c.rates))
	for code := range c.rates {
		if code != c.base {
			out = append(out, code)
		}
	}
	sort.Strings(out)
	return append([]string{c.base}, out...)
}

// Convert returns a converted copy of payload. The payload itself is not
// modified. Converting to the base currency returns payload unchanged.
func (c *Converter) Convert(payload interface{}, target string) (interface{}, error) {
	target = strings.ToUpper(target)
	if target == c.base {
		return payload, nil
	}
	rate, ok := c.rates[target]
	if !ok {
		return nil, apperr.Validation("currency.Convert", "unsupported currency "+target,
			apperr.FieldError{Field: "currency", Message: "must be one of: " + strings.Join(c.Currencies(), " ")})
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("currency.Convert: marshal payload: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var doc interface{}
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("currency.Convert: decode payload: %w", err)
	}

	return convert(doc, "", rate)
}

func convert(v interface{}, key string, rate decimal.Decimal) (interface{}, error) {
	switch val := v.(type) {
	case map[string]interface{}:
		for k, child := range val {
			converted, err := convert(child, k, rate)
			if err != nil {
				return nil, err
			}
			val[k] = converted
		}
		return val, nil
	case []interface{}:
		for i, child := range val {
			// elements of an array keep the array's key
			converted, err := convert(child, key, rate)
			if err != nil {
				return nil, err
			}
			val[i] = converted
		}
		return val, nil
	case json.Number:
		if _, ok := monetaryKeys[key]; !ok {
			return val, nil
		}
		amount, err := decimal.NewFromString(val.String())
		if err != nil {
			return nil, fmt.Errorf("currency.Convert: field %s: %w", key, err)
		}
		return json.Number(amount.Mul(rate).Round(2).String()), nil
	default:
		return val, nil
	}
}
