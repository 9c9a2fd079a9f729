package recurrence

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/teambition/rrule-go"
)

const defaultMaxOccurrences = 1000

// Pattern represents a supported recurrence cadence.
type Pattern string

const (
	// PatternDaily repeats on every following calendar day.
	PatternDaily Pattern = "daily"
	// PatternWeekdays repeats on every following Monday through Friday.
	PatternWeekdays Pattern = "weekdays"
	// PatternWeekly repeats every seven days.
	PatternWeekly Pattern = "weekly"
	// PatternBiweekly repeats every fourteen days.
	PatternBiweekly Pattern = "biweekly"
	// PatternMonthly repeats on the same day of every following month,
	// skipping months in which that day does not exist.
	PatternMonthly Pattern = "monthly"
)

// Patterns lists every supported pattern in a stable order.
func Patterns() []Pattern {
	return []Pattern{PatternDaily, PatternWeekdays, PatternWeekly, PatternBiweekly, PatternMonthly}
}

// Valid reports whether p is a supported pattern.
func (p Pattern) Valid() bool {
	for _, candidate := range Patterns() {
		if p == candidate {
			return true
		}
	}
	return false
}

// ParsePattern converts user input into a Pattern.
func ParsePattern(value string) (Pattern, error) {
	p := Pattern(strings.ToLower(strings.TrimSpace(value)))
	if !p.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidPattern, value)
	}
	return p, nil
}

// Rule describes how a base interval repeats. Until is a calendar date; only
// its year, month and day are used and the bound is inclusive.
type Rule struct {
	Pattern Pattern
	Until   time.Time
}

// Occurrence represents one generated instance of a recurring interval.
type Occurrence struct {
	Index int
	Start time.Time
	End   time.Time
}

var (
	// ErrInvalidPattern indicates the recurrence pattern is not supported.
	ErrInvalidPattern = errors.New("recurrence: invalid pattern")
	// ErrInvalidUntil indicates the recurrence end date precedes the base date.
	ErrInvalidUntil = errors.New("recurrence: end date precedes start date")
	// ErrInvalidDuration indicates the base interval duration is not positive.
	ErrInvalidDuration = errors.New("recurrence: base duration must be positive")
	// ErrTooManyOccurrences indicates the expansion exceeded the engine cap.
	ErrTooManyOccurrences = errors.New("recurrence: too many occurrences")
)

// Engine expands recurrence rules into occurrences.
type Engine struct {
	location       *time.Location
	maxOccurrences int
}

// Option configures an Engine.
type Option func(*Engine)

// WithMaxOccurrences bounds the number of occurrences a single rule may yield.
func WithMaxOccurrences(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxOccurrences = n
		}
	}
}

// NewEngine constructs an Engine that evaluates calendar dates in loc.
// If loc is nil, UTC is used.
func NewEngine(loc *time.Location, opts ...Option) *Engine {
	if loc == nil {
		loc = time.UTC
	}
	e := &Engine{location: loc, maxOccurrences: defaultMaxOccurrences}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Location returns the zone used to derive calendar dates.
func (e *Engine) Location() *time.Location {
	if e == nil || e.location == nil {
		return time.UTC
	}
	return e.location
}

// Validate checks rule against the base interval without generating anything.
func (e *Engine) Validate(rule Rule, baseStart, baseEnd time.Time) error {
	if !baseEnd.After(baseStart) {
		return ErrInvalidDuration
	}
	if !rule.Pattern.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidPattern, rule.Pattern)
	}
	if dateOf(rule.Until).Before(dateOf(baseStart.In(e.Location()))) {
		return ErrInvalidUntil
	}
	return nil
}

// Iterator returns a lazy sequence of occurrences strictly after the base
// date, up to and including rule.Until. Every occurrence keeps the base
// time-of-day and duration.
func (e *Engine) Iterator(rule Rule, baseStart, baseEnd time.Time) (*Iterator, error) {
	if err := e.Validate(rule, baseStart, baseEnd); err != nil {
		return nil, err
	}

	loc := e.Location()
	start := baseStart.In(loc)
	uy, um, ud := rule.Until.Date()
	until := time.Date(uy, um, ud, 23, 59, 59, 0, loc)

	opt := rrule.ROption{
		Dtstart: start,
		Until:   until,
	}
	switch rule.Pattern {
	case PatternDaily:
		opt.Freq = rrule.DAILY
	case PatternWeekdays:
		opt.Freq = rrule.DAILY
		opt.Byweekday = []rrule.Weekday{rrule.MO, rrule.TU, rrule.WE, rrule.TH, rrule.FR}
	case PatternWeekly:
		opt.Freq = rrule.WEEKLY
	case PatternBiweekly:
		opt.Freq = rrule.WEEKLY
		opt.Interval = 2
	case PatternMonthly:
		// A monthly rule without BYMONTHDAY takes the day from DTSTART and
		// skips months that do not have it.
		opt.Freq = rrule.MONTHLY
	}

	r, err := rrule.NewRRule(opt)
	if err != nil {
		return nil, fmt.Errorf("recurrence: build rule: %w", err)
	}

	return &Iterator{
		next:     r.Iterator(),
		template: start,
		baseDate: dateOf(start),
		until:    time.Date(uy, um, ud, 0, 0, 0, 0, time.UTC),
		duration: baseEnd.Sub(baseStart),
		max:      e.maxOccurrences,
		loc:      loc,
	}, nil
}

// GenerateOccurrences materializes the full occurrence sequence.
func (e *Engine) GenerateOccurrences(rule Rule, baseStart, baseEnd time.Time) ([]Occurrence, error) {
	it, err := e.Iterator(rule, baseStart, baseEnd)
	if err != nil {
		return nil, err
	}
	var out []Occurrence
	for {
		occ, ok := it.Next()
		if !ok {
			break
		}
		out = append(out, occ)
	}
	if err := it.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// Iterator yields occurrences one at a time.
type Iterator struct {
	next     rrule.Next
	template time.Time
	baseDate time.Time
	until    time.Time
	duration time.Duration
	max      int
	count    int
	loc      *time.Location
	done     bool
	err      error
}

// Next returns the next occurrence, or false once the sequence is exhausted
// or the occurrence cap was hit. Callers should check Err afterwards.
func (it *Iterator) Next() (Occurrence, bool) {
	if it == nil || it.done {
		return Occurrence{}, false
	}
	for {
		value, ok := it.next()
		if !ok {
			it.done = true
			return Occurrence{}, false
		}
		date := dateOf(value.In(it.loc))
		if !date.After(it.baseDate) {
			continue
		}
		if date.After(it.until) {
			it.done = true
			return Occurrence{}, false
		}
		if it.max > 0 && it.count >= it.max {
			it.done = true
			it.err = ErrTooManyOccurrences
			return Occurrence{}, false
		}
		it.count++
		start := combineDateTime(date, it.template, it.loc)
		return Occurrence{
			Index: it.count,
			Start: start,
			End:   start.Add(it.duration),
		}, true
	}
}

// Err reports why iteration stopped early, if it did.
func (it *Iterator) Err() error {
	if it == nil {
		return nil
	}
	return it.err
}

// dateOf strips the clock from t and returns its calendar date as UTC midnight,
// which makes dates from different zones comparable.
func dateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func combineDateTime(date, template time.Time, loc *time.Location) time.Time {
	y, m, d := date.Date()
	return time.Date(y, m, d, template.Hour(), template.Minute(), template.Second(), template.Nanosecond(), loc)
}
