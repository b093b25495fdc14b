package validators

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	pkgerrors "github.com/angelmondragon/creatorpay-backend/pkg/errors"
	"github.com/angelmondragon/creatorpay-backend/pkg/money"
)

func ParseQueryInt(r *http.Request, key string, defaultVal, min, max int) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return defaultVal, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, pkgerrors.New(pkgerrors.CodeValidation, "query parameter must be numeric").WithDetails(map[string]any{"field": key})
	}
	if value < min || value > max {
		return 0, pkgerrors.New(pkgerrors.CodeValidation, "query parameter out of range").WithDetails(map[string]any{"field": key, "min": min, "max": max})
	}
	return value, nil
}

// ParseQueryCurrency returns the upper-cased currency code under key, or
// defaultVal when the parameter is absent.
func ParseQueryCurrency(r *http.Request, key, defaultVal string) (string, error) {
	currency := strings.ToUpper(strings.TrimSpace(r.URL.Query().Get(key)))
	if currency == "" {
		currency = defaultVal
	}
	if !money.Supported(currency) {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "unsupported currency").WithDetails(map[string]any{"field": key})
	}
	return currency, nil
}

// ParseQueryTime reads an RFC 3339 timestamp under key. An absent parameter
// yields nil.
func ParseQueryTime(r *http.Request, key string) (*time.Time, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return nil, nil
	}
	value, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "query parameter must be an RFC 3339 timestamp").
			WithDetails(map[string]any{"field": key})
	}
	return &value, nil
}
