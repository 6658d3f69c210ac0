package display

import (
	"strings"
	"time"

	"github.com/rpattn/changetrack/internal/domain"
	"github.com/rpattn/changetrack/internal/model"
)

const (
	dateLayout      = "2006-01-02"
	timeLayout      = "15:04:05"
	dateTimeLayout  = "2006-01-02T15:04:05Z07:00"
	timestampLayout = "2006-01-02T15:04:05.000Z07:00"
)

var timeInputLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02 15:04:05",
	dateLayout,
}

// Format renders a stored value of the given type in its canonical display
// form. The same form is used to compare before and after values, so dates
// that differ only in zone or precision compare equal.
func Format(value any, typ model.DataType) string {
	if value == nil {
		return ""
	}
	switch typ {
	case model.TypeDate:
		if t, ok := asTime(value); ok {
			return t.UTC().Format(dateLayout)
		}
	case model.TypeTime:
		if t, ok := value.(time.Time); ok {
			return t.Format(timeLayout)
		}
		if s, ok := value.(string); ok {
			if t, err := time.Parse("15:04:05.999999999", s); err == nil {
				return t.Format(timeLayout)
			}
		}
	case model.TypeDateTime:
		if t, ok := asTime(value); ok {
			return t.UTC().Truncate(time.Second).Format(dateTimeLayout)
		}
	case model.TypeTimestamp:
		if t, ok := asTime(value); ok {
			return t.UTC().Truncate(time.Millisecond).Format(timestampLayout)
		}
	case model.TypeDecimal, model.TypeDouble:
		return domain.TrimDecimal(domain.FormatScalar(value))
	case model.TypeUUID:
		return strings.ToLower(domain.FormatScalar(value))
	}
	return domain.FormatScalar(value)
}

func asTime(value any) (time.Time, bool) {
	switch typed := value.(type) {
	case time.Time:
		return typed, true
	case *time.Time:
		if typed == nil {
			return time.Time{}, false
		}
		return *typed, true
	case string:
		for _, layout := range timeInputLayouts {
			if t, err := time.Parse(layout, typed); err == nil {
				return t, true
			}
		}
	}
	return time.Time{}, false
}
