package event

import (
	"fmt"
	"time"
)

// Weekday letters used by DaysOfWeek. U is Sunday and R is Thursday.
var weekdayLetters = [7]string{"U", "M", "T", "W", "R", "F", "S"}

func WeekdayLetter(d time.Weekday) string {
	return weekdayLetters[d]
}

func ParseWeekdayLetter(letter string) (time.Weekday, error) {
	for i, l := range weekdayLetters {
		if l == letter {
			return time.Weekday(i), nil
		}
	}
	return 0, fmt.Errorf("%w: unknown weekday letter %q", ErrInvalidEvent, letter)
}

// ParseDate parses an ISO calendar date.
func ParseDate(s string) (time.Time, error) {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: bad date %q", ErrInvalidEvent, s)
	}
	return t, nil
}
