// Package flush decides when pending records are written to the remote
// spreadsheet. It parses the schedule mini-language into a Descriptor and
// runs one job per user on a shared scheduler.
package flush

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// ErrInvalidSpec is returned for schedule text that matches no known form.
var ErrInvalidSpec = errors.New("invalid schedule specification")

type Kind int

const (
	KindNone Kind = iota
	KindOnce
	KindDaily
	KindWeekly
	KindMonthly
)

// Descriptor is a parsed schedule. Exactly one job shape applies depending
// on Kind; the remaining fields are zero.
type Descriptor struct {
	Kind    Kind
	At      time.Time    // Once: absolute fire time
	Hour    int          // Daily, Weekly, Monthly
	Minute  int          // Daily, Weekly, Monthly
	Weekday time.Weekday // Weekly
	Day     int          // Monthly: day of month, 1..31
}

var (
	oncePattern    = regexp.MustCompile(`^(\d{1,2}):(\d{2})$`)
	dailyPattern   = regexp.MustCompile(`^(?:d|daily)\s+(\d{1,2}):(\d{2})$`)
	weeklyPattern  = regexp.MustCompile(`^(?:w|weekly)\s+([a-z]+)\s+(\d{1,2}):(\d{2})$`)
	monthlyPattern = regexp.MustCompile(`^(?:m|monthly)\s+(\d{1,2})\s+(\d{1,2}):(\d{2})$`)
)

var weekdayNames = map[string]time.Weekday{
	"sun": time.Sunday, "sunday": time.Sunday,
	"mon": time.Monday, "monday": time.Monday,
	"tue": time.Tuesday, "tuesday": time.Tuesday,
	"wed": time.Wednesday, "wednesday": time.Wednesday,
	"thu": time.Thursday, "thursday": time.Thursday,
	"fri": time.Friday, "friday": time.Friday,
	"sat": time.Saturday, "saturday": time.Saturday,
}

// ParseSpec parses the schedule mini-language:
//
//	now               run once immediately
//	HH:MM             run once today at HH:MM, or tomorrow if already passed
//	daily HH:MM       run every day
//	weekly DOW HH:MM  run every week on DOW (mon, tuesday, ...)
//	monthly DD HH:MM  run every month on day DD
//
// now is used to resolve the one-shot HH:MM form.
func ParseSpec(text string, now time.Time) (Descriptor, error) {
	text = strings.ToLower(strings.TrimSpace(text))

	if text == "now" {
		return Descriptor{Kind: KindOnce, At: now.Add(time.Second)}, nil
	}

	if m := oncePattern.FindStringSubmatch(text); m != nil {
		hour, minute, err := parseClock(m[1], m[2])
		if err != nil {
			return Descriptor{}, err
		}
		at := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, now.Location())
		if !at.After(now) {
			at = at.AddDate(0, 0, 1)
		}
		return Descriptor{Kind: KindOnce, At: at}, nil
	}

	if m := dailyPattern.FindStringSubmatch(text); m != nil {
		hour, minute, err := parseClock(m[1], m[2])
		if err != nil {
			return Descriptor{}, err
		}
		return Descriptor{Kind: KindDaily, Hour: hour, Minute: minute}, nil
	}

	if m := weeklyPattern.FindStringSubmatch(text); m != nil {
		weekday, ok := weekdayNames[m[1]]
		if !ok {
			return Descriptor{}, fmt.Errorf("%w: unknown weekday %q", ErrInvalidSpec, m[1])
		}
		hour, minute, err := parseClock(m[2], m[3])
		if err != nil {
			return Descriptor{}, err
		}
		return Descriptor{Kind: KindWeekly, Weekday: weekday, Hour: hour, Minute: minute}, nil
	}

	if m := monthlyPattern.FindStringSubmatch(text); m != nil {
		day, _ := strconv.Atoi(m[1])
		if day < 1 || day > 31 {
			return Descriptor{}, fmt.Errorf("%w: day of month %d out of range", ErrInvalidSpec, day)
		}
		hour, minute, err := parseClock(m[2], m[3])
		if err != nil {
			return Descriptor{}, err
		}
		return Descriptor{Kind: KindMonthly, Day: day, Hour: hour, Minute: minute}, nil
	}

	return Descriptor{}, fmt.Errorf("%w: %q", ErrInvalidSpec, text)
}

func parseClock(hs, ms string) (int, int, error) {
	hour, _ := strconv.Atoi(hs)
	minute, _ := strconv.Atoi(ms)
	if hour > 23 || minute > 59 {
		return 0, 0, fmt.Errorf("%w: %02d:%02d is not a valid time", ErrInvalidSpec, hour, minute)
	}
	return hour, minute, nil
}

// String renders the descriptor in a form ParseDescriptor accepts, so it can
// be persisted with the user row and restored on startup.
func (d Descriptor) String() string {
	switch d.Kind {
	case KindOnce:
		return "once " + d.At.Format(time.RFC3339)
	case KindDaily:
		return fmt.Sprintf("daily %02d:%02d", d.Hour, d.Minute)
	case KindWeekly:
		return fmt.Sprintf("weekly %s %02d:%02d", strings.ToLower(d.Weekday.String()[:3]), d.Hour, d.Minute)
	case KindMonthly:
		return fmt.Sprintf("monthly %02d %02d:%02d", d.Day, d.Hour, d.Minute)
	default:
		return "none"
	}
}

// ParseDescriptor restores a persisted descriptor produced by String.
func ParseDescriptor(s string) (Descriptor, error) {
	s = strings.TrimSpace(s)
	if s == "" || s == "none" {
		return Descriptor{Kind: KindNone}, nil
	}

	if rest, ok := strings.CutPrefix(s, "once "); ok {
		at, err := time.Parse(time.RFC3339, rest)
		if err != nil {
			return Descriptor{}, fmt.Errorf("%w: %v", ErrInvalidSpec, err)
		}
		return Descriptor{Kind: KindOnce, At: at}, nil
	}

	return ParseSpec(s, time.Now())
}

// Describe returns a human-readable summary for chat replies.
func (d Descriptor) Describe() string {
	switch d.Kind {
	case KindOnce:
		return "once at " + d.At.Format("02/01/2006 15:04")
	case KindDaily:
		return fmt.Sprintf("every day at %02d:%02d", d.Hour, d.Minute)
	case KindWeekly:
		return fmt.Sprintf("every %s at %02d:%02d", d.Weekday, d.Hour, d.Minute)
	case KindMonthly:
		return fmt.Sprintf("on day %d of every month at %02d:%02d", d.Day, d.Hour, d.Minute)
	default:
		return "never"
	}
}
