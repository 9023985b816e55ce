package signature

import (
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/BaSui01/sigflow/internal/tzdb"
)

const (
	dateLayout           = "2006-01-02"
	dateTimeLayout       = "2006-01-02 15:04"
	dateTimeSecondLayout = "2006-01-02 15:04:05"
)

var (
	datePattern     = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)
	dateTimePattern = regexp.MustCompile(`^(\d{4}-\d{2}-\d{2} \d{2}:\d{2}(?::\d{2})?) (.+)$`)
)

// 错误文本原样作为重试反馈发给模型，因此保留句首大写与句末标点.
var (
	errDateFormat     = errors.New(`Invalid date format. Please provide the date in "YYYY-MM-DD" format.`)
	errDateTimeFormat = errors.New(`Invalid date and time format. Please provide the date and time in "YYYY-MM-DD HH:mm" or "YYYY-MM-DD HH:mm:ss" format, followed by the timezone.`)
	errDateTimeValues = errors.New(`Invalid date and time values. Please ensure all components are correct.`)
)

// ParseDate parses YYYY-MM-DD into midnight UTC of that calendar date.
func ParseDate(s string) (time.Time, error) {
	if !datePattern.MatchString(s) {
		return time.Time{}, errDateFormat
	}
	t, err := time.ParseInLocation(dateLayout, s, time.UTC)
	if err != nil {
		// 格式正确但日历上不存在，例如 2024-13-01、2024-02-30
		return time.Time{}, errDateFormat
	}
	return t, nil
}

// ParseDateTime parses "YYYY-MM-DD HH:mm[:ss] <zone>" and returns the UTC instant.
// The zone designator is resolved against db (tzdb.Default() when nil).
func ParseDateTime(s string, db *tzdb.DB) (time.Time, error) {
	m := dateTimePattern.FindStringSubmatch(s)
	if m == nil {
		return time.Time{}, errDateTimeFormat
	}
	local, zone := m[1], m[2]

	if db == nil {
		db = tzdb.Default()
	}
	loc, err := db.Resolve(zone)
	if err != nil {
		return time.Time{}, fmt.Errorf( //nolint:stylecheck // 反馈文本，见上
			`Unrecognized time zone %s. Please provide a valid time zone name, abbreviation, or offset. For example, "America/New_York", or "EST".`,
			zone)
	}

	layout := dateTimeLayout
	if len(local) == len(dateTimeSecondLayout) {
		layout = dateTimeSecondLayout
	}
	t, err := time.ParseInLocation(layout, local, loc)
	if err != nil {
		return time.Time{}, errDateTimeValues
	}
	return t.UTC(), nil
}

// FormatDate renders the canonical date form (UTC calendar date).
func FormatDate(t time.Time) string {
	return t.UTC().Format(dateLayout)
}

// FormatDateTime renders the canonical datetime form in loc, labelled with a
// designator that ParseDateTime resolves back to loc. nil and time.Local
// render in UTC.
func FormatDateTime(t time.Time, loc *time.Location) string {
	loc = tzdb.DisplayLocation(loc)
	return t.In(loc).Format(dateTimeSecondLayout) + " " + tzdb.Label(loc)
}
