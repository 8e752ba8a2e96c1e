package hours

import (
	"fmt"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"
)

const (
	dateLayout = "2006-01-02"
	hourLayout = "2006-01-02 15"
	isoLayout  = "2006-01-02T15:04:05"
)

// Prices are published as naive wall-clock hours in the retailer's timezone.
var priceLocation *time.Location

func init() {
	var err error
	priceLocation, err = time.LoadLocation("Europe/Copenhagen")
	if err != nil {
		panic(fmt.Sprintf("failed to load Copenhagen location: %v", err))
	}
}

func SetTimezone(timezone string) error {
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return fmt.Errorf("failed to load timezone %s: %v", timezone, err)
	}
	priceLocation = loc
	return nil
}

func Location() *time.Location {
	return priceLocation
}

// DateHour is the start of a naive wall-clock hour. Arithmetic on it never
// applies daylight saving rules, which matches how the source publishes rows.
type DateHour struct {
	Date string
	Hour uint8
}

func (dh DateHour) String() string {
	return fmt.Sprintf("%s %02d", dh.Date, dh.Hour)
}

func (dh DateHour) IsoString() string {
	return fmt.Sprintf("%sT%02d:00:00", dh.Date, dh.Hour)
}

// Time returns the hour as a naive timestamp carried in UTC.
func (dh DateHour) Time() time.Time {
	t, err := time.ParseInLocation(hourLayout, dh.String(), time.UTC)
	if err != nil {
		return time.Time{}
	}
	return t
}

// In interprets the naive hour as wall clock in loc.
func (dh DateHour) In(loc *time.Location) time.Time {
	t := dh.Time()
	if t.IsZero() {
		return t
	}
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), 0, 0, 0, loc)
}

func (dh DateHour) Add(hours int) DateHour {
	t := dh.Time()
	if t.IsZero() {
		return dh
	}

	t = t.Add(time.Duration(hours) * time.Hour)
	return DateHour{
		Date: t.Format(dateLayout),
		Hour: uint8(t.Hour()),
	}
}

func (dh DateHour) Sub(hours int) DateHour {
	return dh.Add(-hours)
}

func (dh DateHour) Compare(other DateHour) int {
	if dh == other {
		return 0
	}
	if dh.Date < other.Date {
		return -1
	}
	if dh.Date > other.Date {
		return 1
	}
	if dh.Hour < other.Hour {
		return -1
	}
	return 1
}

func (dh DateHour) Before(other DateHour) bool {
	return dh.Compare(other) < 0
}

func (dh DateHour) After(other DateHour) bool {
	return dh.Compare(other) > 0
}

func (dh DateHour) IsZero() bool {
	return dh.Date == "" && dh.Hour == 0
}

// FromTime truncates t to its hour using the wall clock of t's own location.
func FromTime(t time.Time) DateHour {
	if t.IsZero() {
		return DateHour{}
	}
	return DateHour{
		Date: t.Format(dateLayout),
		Hour: uint8(t.Hour()),
	}
}

// Ceil returns the first hour start that is not before t.
func Ceil(t time.Time) DateHour {
	dh := FromTime(t)
	if t.Minute() == 0 && t.Second() == 0 && t.Nanosecond() == 0 {
		return dh
	}
	return dh.Add(1)
}

func Now() time.Time {
	return time.Now().In(priceLocation)
}

func FromNow() DateHour {
	return FromTime(Now())
}

// ParseDanish parses the "07.08.2025 - 23:00" format used in the retailer CSV.
func ParseDanish(str string) (DateHour, error) {
	datePart, timePart, ok := strings.Cut(strings.TrimSpace(str), " - ")
	if !ok {
		return DateHour{}, fmt.Errorf("invalid danish datetime %q", str)
	}
	d, err := time.Parse("02.01.2006", strings.TrimSpace(datePart))
	if err != nil {
		return DateHour{}, fmt.Errorf("invalid danish date %q: %w", datePart, err)
	}
	hh, mm, ok := strings.Cut(strings.TrimSpace(timePart), ":")
	if !ok {
		return DateHour{}, fmt.Errorf("invalid danish time %q", timePart)
	}
	hour, err := strconv.Atoi(hh)
	if err != nil || hour < 0 || hour > 23 {
		return DateHour{}, fmt.Errorf("invalid danish hour %q", timePart)
	}
	if mm != "00" {
		return DateHour{}, fmt.Errorf("price rows must start on the hour, got %q", timePart)
	}
	return DateHour{Date: d.Format(dateLayout), Hour: uint8(hour)}, nil
}

func ParseIso(str string) (DateHour, error) {
	t, err := time.Parse(isoLayout, str)
	if err != nil {
		return DateHour{}, err
	}
	return FromTime(t), nil
}

type Format string

const (
	FormatHours   Format = "hours"
	FormatMinutes Format = "minutes"
)

// TimeUntil is the remaining time from now until the start of dh in the
// price location, never negative.
func TimeUntil(now time.Time, dh DateHour) time.Duration {
	d := dh.In(priceLocation).Sub(now)
	if d < 0 {
		return 0
	}
	return d
}

// FormatUntil renders d as "HH:MM" or as whole minutes.
func FormatUntil(d time.Duration, format Format) any {
	minutes := int(d / time.Minute)
	if format == FormatMinutes {
		return minutes
	}
	return fmt.Sprintf("%02d:%02d", minutes/60, minutes%60)
}
