// Package normalize converts heterogeneous external payloads into the
// canonical records of package model. Field-name variants and numeric values
// encoded as strings are resolved here so business logic never sees them.
package normalize

import (
	"strings"

	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"

	xerrors "Fluxo/internal/errors"
)

// firstString returns the first non-empty string among the given paths.
func firstString(r gjson.Result, paths ...string) string {
	for _, p := range paths {
		if v := strings.TrimSpace(r.Get(p).String()); v != "" {
			return v
		}
	}
	return ""
}

// number parses a JSON number or a numeric string.
func number(r gjson.Result) (float64, bool) {
	switch r.Type {
	case gjson.Number:
		return r.Float(), true
	case gjson.String:
		d, err := decimal.NewFromString(strings.TrimSpace(r.Str))
		if err != nil {
			return 0, false
		}
		return d.InexactFloat64(), true
	default:
		return 0, false
	}
}

// truthy mirrors "present and non-zero": null, false, "" and 0 count as absent.
func truthy(r gjson.Result) bool {
	switch r.Type {
	case gjson.Null, gjson.False:
		return false
	case gjson.String:
		return r.Str != ""
	case gjson.Number:
		return r.Num != 0
	default:
		return r.Exists()
	}
}

// firstNumber returns the first truthy value among paths, parsed as a number.
func firstNumber(r gjson.Result, paths ...string) (float64, bool) {
	for _, p := range paths {
		v := r.Get(p)
		if truthy(v) {
			return number(v)
		}
	}
	return 0, false
}

func parse(raw []byte, what string) (gjson.Result, error) {
	if !gjson.ValidBytes(raw) {
		return gjson.Result{}, xerrors.New(xerrors.CodeDecodeFailure, what+" 不是合法 JSON")
	}
	return gjson.ParseBytes(raw), nil
}
