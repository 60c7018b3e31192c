package internal

import (
	"math"
	"time"
)

// dateKeyFormat is the canonical day key used across the pipeline for
// holiday lookups, daily grouping, and prediction dates.
const dateKeyFormat = "2006-01-02"

// orderDateFormats is the ordered fallback list tried when parsing raw
// date strings. US month-first forms come before day-first forms, so
// ambiguous dates resolve to the US reading.
var orderDateFormats = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02",
	"01/02/2006",
	"1/2/2006",
	"01/02/06",
	"1/2/06",
	"02/01/2006",
	"02/01/06",
	"2006/01/02",
}

// ParseOrderDate converts a raw date string into a calendar date. It
// never fails hard: an unparseable value yields ok=false and the caller
// records the row as having a missing date.
func ParseOrderDate(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range orderDateFormats {
		if t, err := time.Parse(layout, s); err == nil {
			return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC), true
		}
	}
	return time.Time{}, false
}

// mondayWeekday maps Go's Sunday=0 weekday onto the Monday=0 convention
// used by every temporal feature in the pipeline.
func mondayWeekday(t time.Time) int {
	return (int(t.Weekday()) + 6) % 7
}

// firstWeekdayOfMonth returns the first occurrence of target weekday on or
// after the month's first day.
func firstWeekdayOfMonth(year int, month time.Month, target time.Weekday) time.Time {
	first := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	offset := (int(target) - int(first.Weekday()) + 7) % 7
	return first.AddDate(0, 0, offset)
}

// USHolidays computes the US federal holiday calendar for a year. Fixed
// dates are listed directly; floating holidays are derived from the first
// occurrence of their weekday in the month plus whole weeks, and Memorial
// Day walks back from May 31 to the preceding Monday.
func USHolidays(year int) map[string]string {
	holidays := map[string]string{
		time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC).Format(dateKeyFormat):   "New Year's Day",
		time.Date(year, time.June, 19, 0, 0, 0, 0, time.UTC).Format(dateKeyFormat):     "Juneteenth",
		time.Date(year, time.July, 4, 0, 0, 0, 0, time.UTC).Format(dateKeyFormat):      "Independence Day",
		time.Date(year, time.November, 11, 0, 0, 0, 0, time.UTC).Format(dateKeyFormat): "Veterans Day",
		time.Date(year, time.December, 25, 0, 0, 0, 0, time.UTC).Format(dateKeyFormat): "Christmas Day",
	}

	mlk := firstWeekdayOfMonth(year, time.January, time.Monday).AddDate(0, 0, 14)
	holidays[mlk.Format(dateKeyFormat)] = "Martin Luther King Jr. Day"

	presidents := firstWeekdayOfMonth(year, time.February, time.Monday).AddDate(0, 0, 14)
	holidays[presidents.Format(dateKeyFormat)] = "Presidents' Day"

	may31 := time.Date(year, time.May, 31, 0, 0, 0, 0, time.UTC)
	memorial := may31.AddDate(0, 0, -mondayWeekday(may31))
	holidays[memorial.Format(dateKeyFormat)] = "Memorial Day"

	labor := firstWeekdayOfMonth(year, time.September, time.Monday)
	holidays[labor.Format(dateKeyFormat)] = "Labor Day"

	columbus := firstWeekdayOfMonth(year, time.October, time.Monday).AddDate(0, 0, 7)
	holidays[columbus.Format(dateKeyFormat)] = "Columbus Day"

	thanksgiving := firstWeekdayOfMonth(year, time.November, time.Thursday).AddDate(0, 0, 21)
	holidays[thanksgiving.Format(dateKeyFormat)] = "Thanksgiving Day"

	return holidays
}

// HolidaysForYears merges the holiday calendars of every distinct year
// present in the input, so the feature pass works for any date range.
func HolidaysForYears(years map[int]bool) map[string]string {
	all := make(map[string]string)
	for year := range years {
		for k, v := range USHolidays(year) {
			all[k] = v
		}
	}
	return all
}

// TemporalFeatures are the calendar-derived features attached to each
// order record. Cyclical pairs satisfy sin^2+cos^2 == 1 so that period
// boundaries stay numerically adjacent for the forecasting model.
type TemporalFeatures struct {
	Date        string
	Year        int
	Month       int
	Day         int
	DayOfWeek   int // Monday=0
	Quarter     int
	IsWeekend   bool
	IsHoliday   bool
	HolidayName string

	DayOfWeekSin   float64
	DayOfWeekCos   float64
	DayOfMonthSin  float64
	DayOfMonthCos  float64
	MonthOfYearSin float64
	MonthOfYearCos float64
}

// ExtractTemporalFeatures derives the full feature set for one date. The
// holidays map is usually built once per run via HolidaysForYears.
func ExtractTemporalFeatures(t time.Time, holidays map[string]string) TemporalFeatures {
	dow := mondayWeekday(t)
	month := int(t.Month())
	day := t.Day()

	f := TemporalFeatures{
		Date:      t.Format(dateKeyFormat),
		Year:      t.Year(),
		Month:     month,
		Day:       day,
		DayOfWeek: dow,
		Quarter:   (month-1)/3 + 1,
		IsWeekend: dow >= 5,
	}

	f.DayOfWeekSin = math.Sin(float64(dow) * (2 * math.Pi / 7))
	f.DayOfWeekCos = math.Cos(float64(dow) * (2 * math.Pi / 7))
	f.DayOfMonthSin = math.Sin(float64(day-1) * (2 * math.Pi / 31))
	f.DayOfMonthCos = math.Cos(float64(day-1) * (2 * math.Pi / 31))
	f.MonthOfYearSin = math.Sin(float64(month-1) * (2 * math.Pi / 12))
	f.MonthOfYearCos = math.Cos(float64(month-1) * (2 * math.Pi / 12))

	if name, ok := holidays[t.Format(dateKeyFormat)]; ok {
		f.IsHoliday = true
		f.HolidayName = name
	}
	return f
}

// ExtractAllTemporalFeatures runs the feature pass over a batch,
// computing the holiday calendar once for the years actually present.
// Records without a parseable date get a zero feature set.
func ExtractAllTemporalFeatures(records []OrderRecord) []TemporalFeatures {
	years := make(map[int]bool)
	for _, r := range records {
		if r.HasDate {
			years[r.OrderDate.Year()] = true
		}
	}
	holidays := HolidaysForYears(years)

	features := make([]TemporalFeatures, len(records))
	for i, r := range records {
		if r.HasDate {
			features[i] = ExtractTemporalFeatures(r.OrderDate, holidays)
		}
	}
	return features
}
