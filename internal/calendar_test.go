package internal

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseOrderDateFormats(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"2024-07-08", "2024-07-08"},
		{"2024-07-08 13:45:00", "2024-07-08"},
		{"07/08/2024", "2024-07-08"}, // US month-first wins for ambiguous dates
		{"7/8/2024", "2024-07-08"},
		{"12/04/2024", "2024-12-04"},
		{"2024/07/08", "2024-07-08"},
		{"2024-07-08T10:30:00Z", "2024-07-08"},
	}
	for _, c := range cases {
		got, ok := ParseOrderDate(c.in)
		require.True(t, ok, "expected %q to parse", c.in)
		assert.Equal(t, c.want, got.Format(dateKeyFormat), "input %q", c.in)
	}
}

func TestParseOrderDateRejectsGarbage(t *testing.T) {
	for _, in := range []string{"", "not-a-date", "13/45/2024", "99999"} {
		if _, ok := ParseOrderDate(in); ok {
			t.Errorf("expected %q to fail parsing", in)
		}
	}
}

func TestUSHolidays2024(t *testing.T) {
	holidays := USHolidays(2024)

	want := map[string]string{
		"2024-01-01": "New Year's Day",
		"2024-01-15": "Martin Luther King Jr. Day",
		"2024-02-19": "Presidents' Day",
		"2024-05-27": "Memorial Day",
		"2024-06-19": "Juneteenth",
		"2024-07-04": "Independence Day",
		"2024-09-02": "Labor Day",
		"2024-10-14": "Columbus Day",
		"2024-11-11": "Veterans Day",
		"2024-11-28": "Thanksgiving Day",
		"2024-12-25": "Christmas Day",
	}
	for date, name := range want {
		assert.Equal(t, name, holidays[date], "holiday on %s", date)
	}
	assert.Len(t, holidays, len(want))
}

func TestFloatingHolidaysLandOnCorrectWeekday(t *testing.T) {
	for year := 2020; year <= 2030; year++ {
		holidays := USHolidays(year)
		for date, name := range holidays {
			d, err := time.Parse(dateKeyFormat, date)
			require.NoError(t, err)
			switch name {
			case "Martin Luther King Jr. Day", "Presidents' Day", "Memorial Day", "Labor Day", "Columbus Day":
				assert.Equal(t, time.Monday, d.Weekday(), "%s %d on %s", name, year, date)
			case "Thanksgiving Day":
				assert.Equal(t, time.Thursday, d.Weekday(), "%s %d on %s", name, year, date)
			}
		}
	}
}

func TestExtractTemporalFeatures(t *testing.T) {
	holidays := USHolidays(2024)

	// 2024-07-08 is a Monday in Q3.
	f := ExtractTemporalFeatures(time.Date(2024, 7, 8, 0, 0, 0, 0, time.UTC), holidays)
	assert.Equal(t, "2024-07-08", f.Date)
	assert.Equal(t, 0, f.DayOfWeek)
	assert.Equal(t, 3, f.Quarter)
	assert.False(t, f.IsWeekend)
	assert.False(t, f.IsHoliday)

	// Monday maps to angle zero.
	assert.InDelta(t, 0.0, f.DayOfWeekSin, 1e-12)
	assert.InDelta(t, 1.0, f.DayOfWeekCos, 1e-12)

	sat := ExtractTemporalFeatures(time.Date(2024, 7, 6, 0, 0, 0, 0, time.UTC), holidays)
	assert.Equal(t, 5, sat.DayOfWeek)
	assert.True(t, sat.IsWeekend)

	fourth := ExtractTemporalFeatures(time.Date(2024, 7, 4, 0, 0, 0, 0, time.UTC), holidays)
	assert.True(t, fourth.IsHoliday)
	assert.Equal(t, "Independence Day", fourth.HolidayName)
}

func TestCyclicalEncodingsOnUnitCircle(t *testing.T) {
	holidays := map[string]string{}
	day := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 366; i++ {
		f := ExtractTemporalFeatures(day, holidays)
		pairs := [][2]float64{
			{f.DayOfWeekSin, f.DayOfWeekCos},
			{f.DayOfMonthSin, f.DayOfMonthCos},
			{f.MonthOfYearSin, f.MonthOfYearCos},
		}
		for _, p := range pairs {
			norm := p[0]*p[0] + p[1]*p[1]
			if math.Abs(norm-1) > 1e-9 {
				t.Fatalf("encoding off unit circle on %s: %v", f.Date, norm)
			}
		}
		day = day.AddDate(0, 0, 1)
	}
}

func TestExtractAllTemporalFeaturesSkipsDatelessRows(t *testing.T) {
	records := []OrderRecord{
		{OrderDate: time.Date(2024, 7, 8, 0, 0, 0, 0, time.UTC), HasDate: true},
		{HasDate: false},
	}
	features := ExtractAllTemporalFeatures(records)
	require.Len(t, features, 2)
	assert.Equal(t, "2024-07-08", features[0].Date)
	assert.Equal(t, TemporalFeatures{}, features[1])
}
