package composer

import (
	"fmt"
	"time"
)

// FestivalCalendar maps an "MM-DD" date to a festival name.
type FestivalCalendar map[string]string

// FestivalOn returns the festival falling on t's calendar date, or "".
func (f FestivalCalendar) FestivalOn(t time.Time) string {
	return f[fmt.Sprintf("%02d-%02d", int(t.Month()), t.Day())]
}

// Validate checks that every key is a real month and day.
func (f FestivalCalendar) Validate() error {
	for key := range f {
		// 2024 is a leap year, so 02-29 is accepted.
		if _, err := time.Parse("2006-01-02", "2024-"+key); err != nil {
			return fmt.Errorf("invalid festival date %q: %w", key, err)
		}
	}
	return nil
}
