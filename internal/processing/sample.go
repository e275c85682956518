package processing

import (
	"math"
	"time"
)

// Sample is one row of readings taken at the same instant: the Excel serial
// timestamp followed by four values per board.
type Sample struct {
	Time   float64
	Values []float64
}

var excelEpoch = time.Date(1899, 12, 30, 0, 0, 0, 0, time.UTC)

const (
	secondsPerDay      = 86400
	microsecondsPerDay = secondsPerDay * 1000 * 1000
)

// ExcelTime converts t to an Excel serial date: days since 1899-12-30 of the
// local wall clock, with the time of day as the fraction. Precision is one
// microsecond.
func ExcelTime(t time.Time) float64 {
	t = t.Local()
	wall := time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), time.UTC)
	delta := wall.Sub(excelEpoch)

	days := delta / (24 * time.Hour)
	rest := delta - days*(24*time.Hour)
	seconds := rest / time.Second
	micros := (rest - seconds*time.Second) / time.Microsecond

	return float64(days) + float64(seconds)/secondsPerDay + float64(micros)/microsecondsPerDay
}

// FromExcelTime is the inverse of ExcelTime, returning a local time.
func FromExcelTime(serial float64) time.Time {
	days := math.Floor(serial)
	micros := math.Round((serial - days) * microsecondsPerDay)
	wall := excelEpoch.AddDate(0, 0, int(days)).Add(time.Duration(micros) * time.Microsecond)
	return time.Date(wall.Year(), wall.Month(), wall.Day(), wall.Hour(), wall.Minute(), wall.Second(), wall.Nanosecond(), time.Local)
}
