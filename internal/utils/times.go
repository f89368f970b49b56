package utils

import (
	"fmt"
	"time"
)

const DateLayout = "2006-01-02"

var (
	localLocation = mustMoscow()
)

func mustMoscow() *time.Location {
	loc, err := time.LoadLocation("Europe/Moscow")
	if err != nil {
		// Fallback: UTC+3
		return time.FixedZone("MSK", 3*60*60)
	}
	return loc
}

// SetLocation задаёт календарь, по которому считаются дни. Вызывается один раз при старте.
func SetLocation(loc *time.Location) {
	if loc != nil {
		localLocation = loc
	}
}

func Location() *time.Location {
	return localLocation
}

// LocalDate возвращает календарную дату момента t в локальной зоне
func LocalDate(t time.Time) string {
	return t.In(localLocation).Format(DateLayout)
}

// ParseDate разбирает YYYY-MM-DD как полночь в локальной зоне
func ParseDate(date string) (time.Time, error) {
	t, err := time.ParseInLocation(DateLayout, date, localLocation)
	if err != nil {
		return time.Time{}, fmt.Errorf("неверная дата %q: %w", date, err)
	}
	return t, nil
}

// AddDays сдвигает дату YYYY-MM-DD на n календарных дней
func AddDays(date string, n int) (string, error) {
	t, err := ParseDate(date)
	if err != nil {
		return "", err
	}
	return t.AddDate(0, 0, n).Format(DateLayout), nil
}

// DaysBetween считает календарные дни от from до to (to - from).
// Считается по датам, а не по 24-часовым интервалам, поэтому переход на летнее время не влияет.
func DaysBetween(from, to string) (int, error) {
	f, err := ParseDate(from)
	if err != nil {
		return 0, err
	}
	t, err := ParseDate(to)
	if err != nil {
		return 0, err
	}
	fu := time.Date(f.Year(), f.Month(), f.Day(), 0, 0, 0, 0, time.UTC)
	tu := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	return int(tu.Sub(fu).Hours() / 24), nil
}

// DaysSince возвращает количество дней с даты lastDate до момента now
func DaysSince(lastDate string, now time.Time) (int, error) {
	return DaysBetween(lastDate, LocalDate(now))
}
