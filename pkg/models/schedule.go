package models

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dukex/fieldflow/pkg/fieldpath"
)

// Frequency controls on which dates a scheduled_time trigger fires.
type Frequency string

const (
	FrequencyDaily   Frequency = "daily"
	FrequencyWeekly  Frequency = "weekly"
	FrequencyMonthly Frequency = "monthly"
)

var (
	// ErrInvalidSchedule is returned when a scheduled_time trigger config cannot be parsed.
	ErrInvalidSchedule = errors.New("invalid schedule configuration")
)

// ScheduledTime is the parsed config of a scheduled_time trigger.
type ScheduledTime struct {
	Frequency  Frequency
	Hour       int
	Minute     int
	DaysOfWeek []time.Weekday
	DayOfMonth int
}

var weekdayNames = map[string]time.Weekday{
	"sunday":    time.Sunday,
	"monday":    time.Monday,
	"tuesday":   time.Tuesday,
	"wednesday": time.Wednesday,
	"thursday":  time.Thursday,
	"friday":    time.Friday,
	"saturday":  time.Saturday,
}

// ParseScheduledTime reads {frequency, time, days_of_week?, day_of_month?} from a trigger config.
func ParseScheduledTime(config map[string]any) (*ScheduledTime, error) {
	frequency, _ := config["frequency"].(string)
	if frequency == "" {
		frequency = string(FrequencyDaily)
	}

	schedule := &ScheduledTime{Frequency: Frequency(frequency), DayOfMonth: 1}

	switch schedule.Frequency {
	case FrequencyDaily, FrequencyWeekly, FrequencyMonthly:
	default:
		return nil, fmt.Errorf("%w: unknown frequency %q", ErrInvalidSchedule, frequency)
	}

	clock, _ := config["time"].(string)

	hour, minute, err := parseClock(clock)
	if err != nil {
		return nil, err
	}

	schedule.Hour = hour
	schedule.Minute = minute

	var days []any

	switch raw := config["days_of_week"].(type) {
	case []any:
		days = raw
	case []int:
		for _, day := range raw {
			days = append(days, day)
		}
	}

	for _, day := range days {
		weekday, err := parseWeekday(day)
		if err != nil {
			return nil, err
		}

		schedule.DaysOfWeek = append(schedule.DaysOfWeek, weekday)
	}

	if raw, ok := config["day_of_month"]; ok {
		day, isNumber := fieldpath.Number(raw)
		if !isNumber || day < 1 || day > 31 {
			return nil, fmt.Errorf("%w: day_of_month must be between 1 and 31", ErrInvalidSchedule)
		}

		schedule.DayOfMonth = int(day)
	}

	return schedule, nil
}

func parseClock(clock string) (int, int, error) {
	hourPart, minutePart, found := strings.Cut(strings.TrimSpace(clock), ":")
	if !found {
		return 0, 0, fmt.Errorf("%w: time %q must be HH:MM", ErrInvalidSchedule, clock)
	}

	hour, err := strconv.Atoi(hourPart)
	if err != nil || hour < 0 || hour > 23 {
		return 0, 0, fmt.Errorf("%w: invalid hour in %q", ErrInvalidSchedule, clock)
	}

	// Accept HH:MM:SS and ignore the seconds.
	minutePart, _, _ = strings.Cut(minutePart, ":")

	minute, err := strconv.Atoi(minutePart)
	if err != nil || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("%w: invalid minute in %q", ErrInvalidSchedule, clock)
	}

	return hour, minute, nil
}

func parseWeekday(value any) (time.Weekday, error) {
	if name, ok := value.(string); ok {
		if weekday, known := weekdayNames[strings.ToLower(name)]; known {
			return weekday, nil
		}

		return 0, fmt.Errorf("%w: unknown weekday %q", ErrInvalidSchedule, name)
	}

	day, ok := fieldpath.Number(value)
	if !ok || day < 0 || day > 6 {
		return 0, fmt.Errorf("%w: weekday %v must be between 0 and 6", ErrInvalidSchedule, value)
	}

	return time.Weekday(int(day)), nil
}

// Window returns the configured fire time nearest to now when now lies within
// tolerance of it and the date of that fire time matches the frequency.
func (s *ScheduledTime) Window(now time.Time, tolerance time.Duration) (time.Time, bool) {
	for _, offset := range []int{0, -1, 1} {
		day := now.AddDate(0, 0, offset)
		target := time.Date(day.Year(), day.Month(), day.Day(), s.Hour, s.Minute, 0, 0, now.Location())

		distance := now.Sub(target)
		if distance < 0 {
			distance = -distance
		}

		if distance <= tolerance && s.matchesDate(target) {
			return target, true
		}
	}

	return time.Time{}, false
}

func (s *ScheduledTime) matchesDate(date time.Time) bool {
	switch s.Frequency {
	case FrequencyWeekly:
		if len(s.DaysOfWeek) == 0 {
			return true
		}

		for _, weekday := range s.DaysOfWeek {
			if weekday == date.Weekday() {
				return true
			}
		}

		return false
	case FrequencyMonthly:
		return date.Day() == s.DayOfMonth
	default:
		return true
	}
}
