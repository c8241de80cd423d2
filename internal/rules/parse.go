package rules

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/araddon/dateparse"

	"promoflow/pkg/contracts/domain"
)

var (
	errEmpty       = errors.New("empty value")
	errUnsupported = errors.New("unsupported value kind")
)

// dateLayouts are tried in order before the lenient fallback.
// Month-first, as uploads come from US-formatted spreadsheets.
var dateLayouts = []string{
	"2006-01-02",
	"2006-01-02 15:04:05",
	time.RFC3339,
	"1/2/2006",
	"1-2-2006",
	"1.2.2006",
	"1/2/06",
	"1-2-06",
	"1.2.06",
	"1/2/2006 15:04:05",
	"1-2-2006 15:04:05",
}

// parseNumber converts a cell to a finite float
func parseNumber(v domain.Value) (float64, error) {
	switch v.Kind {
	case domain.KindNumber:
		if math.IsNaN(v.Num) || math.IsInf(v.Num, 0) {
			return 0, fmt.Errorf("not a finite number: %v", v.Num)
		}
		return v.Num, nil
	case domain.KindString:
		s := strings.TrimSpace(v.Str)
		if s == "" {
			return 0, errEmpty
		}
		n, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, err
		}
		if math.IsNaN(n) || math.IsInf(n, 0) {
			return 0, fmt.Errorf("not a finite number: %q", s)
		}
		return n, nil
	case domain.KindNull:
		return 0, errEmpty
	default:
		return 0, errUnsupported
	}
}

// parseDate converts a cell to a point in time
func parseDate(v domain.Value) (time.Time, error) {
	switch v.Kind {
	case domain.KindTime:
		if v.Time.IsZero() {
			return time.Time{}, errEmpty
		}
		return v.Time, nil
	case domain.KindString:
		s := strings.TrimSpace(v.Str)
		if s == "" {
			return time.Time{}, errEmpty
		}
		for _, layout := range dateLayouts {
			if t, err := time.Parse(layout, s); err == nil {
				return t, nil
			}
		}
		return dateparse.ParseIn(s, time.UTC)
	case domain.KindNull:
		return time.Time{}, errEmpty
	default:
		return time.Time{}, errUnsupported
	}
}

// isBlank reports a null cell or one that is empty after trimming
func isBlank(v domain.Value) bool {
	return v.IsNull() || strings.TrimSpace(v.Text()) == ""
}
