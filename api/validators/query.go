package validators

import (
	"net/http"
	"strconv"
	"strings"

	pkgerrors "github.com/casier-judiciaire/casier-backend/pkg/errors"
)

// QueryString returns the trimmed query value for key.
func QueryString(r *http.Request, key string) string {
	return strings.TrimSpace(r.URL.Query().Get(key))
}

// ParseQueryInt reads an optional integer query parameter bounded by
// [lower, upper]. A missing value yields fallback.
func ParseQueryInt(r *http.Request, key string, fallback, lower, upper int) (int, error) {
	raw := QueryString(r, key)
	if raw == "" {
		return fallback, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeValidation, err, key+" must be numeric").
			WithDetails(map[string]any{"field": key})
	}
	if value < lower || value > upper {
		return 0, pkgerrors.New(pkgerrors.CodeValidation, key+" out of range").
			WithDetails(map[string]any{"field": key, "min": lower, "max": upper})
	}
	return value, nil
}
