package tzdb

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"
	_ "time/tzdata" // embed IANA zone data
)

// ErrUnknownZone is returned when a designator matches no zone name, abbreviation or offset.
var ErrUnknownZone = errors.New("unknown time zone")

// 常见缩写到固定 UTC 偏移（秒）。缩写本身已区分标准时间与夏令时，
// 不能映射到会随季节切换偏移的 IANA 区域。
var defaultAbbreviations = map[string]int{
	"UTC":  0,
	"GMT":  0,
	"Z":    0,
	"WET":  0,
	"EST":  -5 * 3600,
	"EDT":  -4 * 3600,
	"CST":  -6 * 3600,
	"CDT":  -5 * 3600,
	"MST":  -7 * 3600,
	"MDT":  -6 * 3600,
	"PST":  -8 * 3600,
	"PDT":  -7 * 3600,
	"AKST": -9 * 3600,
	"AKDT": -8 * 3600,
	"HST":  -10 * 3600,
	"BST":  1 * 3600,
	"CET":  1 * 3600,
	"CEST": 2 * 3600,
	"EET":  2 * 3600,
	"EEST": 3 * 3600,
	"MSK":  3 * 3600,
	"PKT":  5 * 3600,
	"IST":  5*3600 + 1800,
	"ICT":  7 * 3600,
	"SGT":  8 * 3600,
	"HKT":  8 * 3600,
	"CCT":  8 * 3600,
	"JST":  9 * 3600,
	"KST":  9 * 3600,
	"ACST": 9*3600 + 1800,
	"AWST": 8 * 3600,
	"AEST": 10 * 3600,
	"AEDT": 11 * 3600,
	"NZST": 12 * 3600,
	"NZDT": 13 * 3600,
	"BRT":  -3 * 3600,
	"ART":  -3 * 3600,
}

// +05:30, -0800, +2, UTC+2, GMT-03:00
var offsetPattern = regexp.MustCompile(`^(?:UTC|GMT)?([+-])(\d{1,2})(?::?(\d{2}))?$`)

// DB resolves zone designators. It is immutable after construction.
type DB struct {
	fixed     map[string]*time.Location
	aliases   map[string]string // 调用方追加的缩写 -> IANA 名称
	locations sync.Map          // designator -> *time.Location
}

// Option customises a DB at construction time.
type Option func(*DB)

// WithAbbreviation maps an extra abbreviation to an IANA zone name. It takes
// precedence over the built-in fixed-offset table.
func WithAbbreviation(abbr, zone string) Option {
	return func(db *DB) {
		db.aliases[strings.ToUpper(abbr)] = zone
	}
}

// New builds a DB with the built-in abbreviation table plus any options.
func New(opts ...Option) *DB {
	db := &DB{
		fixed:   make(map[string]*time.Location, len(defaultAbbreviations)),
		aliases: make(map[string]string),
	}
	for abbr, offset := range defaultAbbreviations {
		db.fixed[abbr] = time.FixedZone(abbr, offset)
	}
	db.fixed["UTC"] = time.UTC
	for _, opt := range opts {
		opt(db)
	}
	return db
}

var (
	defaultOnce sync.Once
	defaultDB   *DB
)

// Default returns the process-wide DB.
func Default() *DB {
	defaultOnce.Do(func() {
		defaultDB = New()
	})
	return defaultDB
}

// Resolve maps a designator (IANA name, abbreviation or numeric offset) to a location.
func (db *DB) Resolve(designator string) (*time.Location, error) {
	name := strings.TrimSpace(designator)
	if name == "" {
		return nil, fmt.Errorf("%w: empty designator", ErrUnknownZone)
	}
	if loc, ok := db.locations.Load(name); ok {
		return loc.(*time.Location), nil
	}

	loc, err := db.resolve(name)
	if err != nil {
		return nil, err
	}
	db.locations.Store(name, loc)
	return loc, nil
}

func (db *DB) resolve(name string) (*time.Location, error) {
	upper := strings.ToUpper(name)
	if zone, ok := db.aliases[upper]; ok {
		return time.LoadLocation(zone)
	}
	if loc, ok := db.fixed[upper]; ok {
		return loc, nil
	}

	if m := offsetPattern.FindStringSubmatch(upper); m != nil {
		return offsetLocation(name, m[1], m[2], m[3])
	}

	// time.LoadLocation 接受 "Local"，这里不允许依赖宿主机时区
	if strings.EqualFold(name, "local") || !looksLikeIANA(name) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownZone, name)
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownZone, name)
	}
	return loc, nil
}

func offsetLocation(label, sign, hours, minutes string) (*time.Location, error) {
	h, _ := strconv.Atoi(hours)
	m := 0
	if minutes != "" {
		m, _ = strconv.Atoi(minutes)
	}
	if h > 14 || m > 59 {
		return nil, fmt.Errorf("%w: offset out of range: %s", ErrUnknownZone, label)
	}
	secs := h*3600 + m*60
	if sign == "-" {
		secs = -secs
	}
	return time.FixedZone(label, secs), nil
}

// IANA names are ASCII letters, digits and a few separators; anything else
// (spaces, dots) would only ever fail the lookup.
func looksLikeIANA(name string) bool {
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '/', r == '_', r == '-', r == '+':
		default:
			return false
		}
	}
	return true
}

// DisplayLocation returns the zone datetimes are rendered in. nil, time.Local
// and unnamed zones have no designator Resolve accepts, so they fall back to UTC.
func DisplayLocation(loc *time.Location) *time.Location {
	if loc == nil || loc == time.Local {
		return time.UTC
	}
	if name := loc.String(); name == "" || name == "Local" {
		return time.UTC
	}
	return loc
}

// Label returns the designator that Resolve maps back to loc, used when
// rendering datetimes so that the rendered text round-trips. Pair it with
// DisplayLocation so the label always matches the zone the time is shown in.
func Label(loc *time.Location) string {
	return DisplayLocation(loc).String()
}
