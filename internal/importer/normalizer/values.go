package normalizer

import (
	"errors"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/smallbiznis/receivables/internal/calendar"
)

var (
	errEmpty   = errors.New("empty")
	errInvalid = errors.New("invalid")
)

// spreadsheetEpoch is day zero of the 1900 date system as spreadsheets count it.
var spreadsheetEpoch = time.Date(1899, 12, 30, 0, 0, 0, 0, time.UTC)

// maxSerial is 9999-12-31.
const maxSerial = 2958465

var dateLayouts = []string{
	"02/01/2006",
	"2/1/2006",
	"2006-01-02",
	"02-01-2006",
	"2-1-2006",
	"02.01.2006",
	"2.1.2006",
	"2006/01/02",
	"02-Jan-2006",
	"2-Jan-2006",
	"02 Jan 2006",
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
}

var currencyPattern = regexp.MustCompile(`(?i)(rs\.?|inr|usd|eur|gbp|[₹$€£])`)

// ParseDate accepts native times, spreadsheet serials and the supported text
// layouts. The result is midnight UTC of the calendar date.
func ParseDate(value any) (time.Time, error) {
	switch v := value.(type) {
	case nil:
		return time.Time{}, errEmpty
	case time.Time:
		if v.IsZero() {
			return time.Time{}, errEmpty
		}
		return calendar.DateOnly(v), nil
	case *time.Time:
		if v == nil {
			return time.Time{}, errEmpty
		}
		return ParseDate(*v)
	case float64:
		return fromSerial(v)
	case float32:
		return fromSerial(float64(v))
	case int:
		return fromSerial(float64(v))
	case int64:
		return fromSerial(float64(v))
	case string:
		return parseDateString(v)
	}
	return time.Time{}, errInvalid
}

func parseDateString(raw string) (time.Time, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return time.Time{}, errEmpty
	}
	if serial, err := strconv.ParseFloat(s, 64); err == nil {
		return fromSerial(serial)
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return calendar.DateOnly(t), nil
		}
	}
	return time.Time{}, errInvalid
}

func fromSerial(serial float64) (time.Time, error) {
	if math.IsNaN(serial) || serial < 1 || serial > maxSerial {
		return time.Time{}, errInvalid
	}
	return spreadsheetEpoch.AddDate(0, 0, int(math.Floor(serial))), nil
}

// ParseAmount accepts numbers and text amounts. Currency symbols and codes,
// thousands separators and spaces are ignored; "(123)" is negative.
func ParseAmount(value any) (decimal.Decimal, error) {
	switch v := value.(type) {
	case nil:
		return decimal.Zero, errEmpty
	case decimal.Decimal:
		return v, nil
	case float64:
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return decimal.Zero, errInvalid
		}
		return decimal.NewFromFloat(v), nil
	case float32:
		return ParseAmount(float64(v))
	case int:
		return decimal.NewFromInt(int64(v)), nil
	case int64:
		return decimal.NewFromInt(v), nil
	case string:
		return parseAmountString(v)
	}
	return decimal.Zero, errInvalid
}

func parseAmountString(raw string) (decimal.Decimal, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return decimal.Zero, errEmpty
	}

	negative := false
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		negative = true
		s = s[1 : len(s)-1]
	}
	s = currencyPattern.ReplaceAllString(s, "")
	s = strings.NewReplacer(",", "", " ", "", "\u00a0", "", "\t", "").Replace(s)
	if s == "" || s == "-" {
		return decimal.Zero, errEmpty
	}

	amount, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, errInvalid
	}
	if negative {
		amount = amount.Abs().Neg()
	}
	return amount, nil
}

// Text renders a cell as trimmed text. Whole numbers print without a decimal
// point so numeric invoice numbers survive typed sources.
func Text(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(v), 'f', -1, 32)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case time.Time:
		return v.Format(time.DateOnly)
	case decimal.Decimal:
		return v.String()
	}
	return ""
}
