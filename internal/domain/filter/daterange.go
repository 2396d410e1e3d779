package filter

import (
	"errors"
	"fmt"
	"time"
)

// DateLayout — формат дат фильтра и записей (ISO YYYY-MM-DD).
const DateLayout = "2006-01-02"

// ErrInvalidDateRange — некорректный диапазон дат.
var ErrInvalidDateRange = errors.New("некорректный диапазон дат")

// DateRange — необязательные границы по дате регистрации (включительно).
type DateRange struct {
	From string
	To   string
}

// IsZero — true, если обе границы пусты.
func (r DateRange) IsZero() bool {
	return r.From == "" && r.To == ""
}

// Validate проверяет формат границ и что To не раньше From.
func (r DateRange) Validate() error {
	from, err := parseBound(r.From)
	if err != nil {
		return fmt.Errorf("%w: from: %v", ErrInvalidDateRange, err)
	}
	to, err := parseBound(r.To)
	if err != nil {
		return fmt.Errorf("%w: to: %v", ErrInvalidDateRange, err)
	}
	if !from.IsZero() && !to.IsZero() && to.Before(from) {
		return fmt.Errorf("%w: to (%s) раньше from (%s)", ErrInvalidDateRange, r.To, r.From)
	}
	return nil
}

// Clamp возвращает диапазон, в котором To не раньше From.
// Некорректные границы отбрасываются.
func (r DateRange) Clamp() DateRange {
	from, errFrom := parseBound(r.From)
	to, errTo := parseBound(r.To)
	if errFrom != nil {
		r.From = ""
		from = time.Time{}
	}
	if errTo != nil {
		r.To = ""
		to = time.Time{}
	}
	if !from.IsZero() && !to.IsZero() && to.Before(from) {
		r.To = r.From
	}
	return r
}

// Label возвращает текст селектора диапазона дат.
func (r DateRange) Label() string {
	switch {
	case r.From == "" && r.To == "":
		return "All Time"
	case r.To == "":
		return "From " + r.From
	case r.From == "":
		return "Until " + r.To
	default:
		return r.From + " to " + r.To
	}
}

// Preset — предустановленный диапазон дат.
type Preset string

// Пресеты диапазона дат.
const (
	PresetLast7Days  Preset = "last7"
	PresetLast30Days Preset = "last30"
	PresetThisMonth  Preset = "month"
	PresetThisYear   Preset = "year"
	PresetClear      Preset = "clear"
)

// Presets — пресеты в порядке отображения.
var Presets = []struct {
	Preset Preset
	Label  string
}{
	{PresetLast7Days, "Last 7 days"},
	{PresetLast30Days, "Last 30 days"},
	{PresetThisMonth, "This month"},
	{PresetThisYear, "This year"},
}

// ApplyPreset вычисляет диапазон для пресета относительно now.
// Даты вычисляются в часовом поясе now.
func ApplyPreset(p Preset, now time.Time) (DateRange, error) {
	switch p {
	case PresetLast7Days:
		return LastDays(now, 7), nil
	case PresetLast30Days:
		return LastDays(now, 30), nil
	case PresetThisMonth:
		return ThisMonth(now), nil
	case PresetThisYear:
		return ThisYear(now), nil
	case PresetClear:
		return DateRange{}, nil
	default:
		return DateRange{}, fmt.Errorf("%w: неизвестный пресет %q", ErrInvalidDateRange, p)
	}
}

// LastDays — диапазон [now-days, now].
func LastDays(now time.Time, days int) DateRange {
	return DateRange{
		From: now.AddDate(0, 0, -days).Format(DateLayout),
		To:   now.Format(DateLayout),
	}
}

// ThisMonth — с первого числа текущего месяца по сегодня.
func ThisMonth(now time.Time) DateRange {
	first := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())
	return DateRange{From: first.Format(DateLayout), To: now.Format(DateLayout)}
}

// ThisYear — с 1 января текущего года по сегодня.
func ThisYear(now time.Time) DateRange {
	first := time.Date(now.Year(), time.January, 1, 0, 0, 0, 0, now.Location())
	return DateRange{From: first.Format(DateLayout), To: now.Format(DateLayout)}
}

// parseBound разбирает границу диапазона. Пустая строка — нулевое время.
func parseBound(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(DateLayout, s)
}
