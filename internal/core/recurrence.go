package core

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// Frequency is the cadence unit of a Recurrence.
type Frequency int

const (
	FrequencyNone Frequency = iota
	FrequencyEveryNMinutes
	FrequencyHourly
	FrequencyDaily
	FrequencyWeekly
	FrequencyMonthly
	FrequencyCron
)

// UnlimitedCount is the normalized occurrence count of a recurrence created with Count 0.
const UnlimitedCount = math.MaxInt32

// Longest period a recurrence may declare. Larger multipliers would overflow time.Duration.
const (
	maxRecurrenceSpan   = 10 * 365 * 24 * time.Hour
	maxMonthlyIntervals = 120
)

var frequencyNames = map[Frequency]string{
	FrequencyNone:          "none",
	FrequencyEveryNMinutes: "every_n_minutes",
	FrequencyHourly:        "hourly",
	FrequencyDaily:         "daily",
	FrequencyWeekly:        "weekly",
	FrequencyMonthly:       "monthly",
	FrequencyCron:          "cron",
}

func (f Frequency) String() string {
	if name, ok := frequencyNames[f]; ok {
		return name
	}
	return fmt.Sprintf("frequency(%d)", int(f))
}

// ParseFrequency maps a frequency name to its value.
func ParseFrequency(s string) (Frequency, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return FrequencyNone, nil
	}
	for f, name := range frequencyNames {
		if name == s {
			return f, nil
		}
	}
	return FrequencyNone, fmt.Errorf("unknown frequency %q", s)
}

func (f Frequency) MarshalJSON() ([]byte, error) {
	name, ok := frequencyNames[f]
	if !ok {
		return nil, fmt.Errorf("unknown frequency %d", int(f))
	}
	return json.Marshal(name)
}

func (f *Frequency) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseFrequency(s)
	if err != nil {
		return err
	}
	*f = parsed
	return nil
}

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Recurrence describes how often a job runs and how many times.
// It is an immutable value: updates replace it wholesale.
type Recurrence struct {
	Frequency     Frequency `json:"frequency"`
	IntervalValue int       `json:"interval_value,omitempty"`
	Count         int       `json:"count"`
	Expression    string    `json:"expression,omitempty"`
	Timezone      string    `json:"timezone,omitempty"`
}

// OneShot is the recurrence used when a job is scheduled without one.
func OneShot() Recurrence {
	return Recurrence{Frequency: FrequencyNone, Count: 1}
}

// Validate checks the recurrence is well formed. It does not require normalization.
func (r Recurrence) Validate() *Error {
	if _, ok := frequencyNames[r.Frequency]; !ok {
		return NewValidationError("Unknown recurrence frequency.", map[string]any{"frequency": int(r.Frequency)})
	}
	if r.Count < 0 {
		return NewValidationError("Recurrence count must not be negative.", map[string]any{"count": r.Count})
	}
	if r.IntervalValue < 0 {
		return NewValidationError("Recurrence interval must not be negative.", map[string]any{"interval_value": r.IntervalValue})
	}
	if r.Frequency == FrequencyEveryNMinutes && r.IntervalValue < 1 {
		return NewValidationError("every_n_minutes requires interval_value >= 1.", map[string]any{"interval_value": r.IntervalValue})
	}
	if r.tooLong() {
		return NewValidationError("Recurrence interval is too long.", map[string]any{
			"frequency":      r.Frequency.String(),
			"interval_value": r.IntervalValue,
		})
	}
	if r.Frequency == FrequencyCron {
		if strings.TrimSpace(r.Expression) == "" {
			return NewValidationError("cron recurrence requires an expression.", nil)
		}
		if _, err := r.schedule(); err != nil {
			return NewValidationError(fmt.Sprintf("Invalid cron expression: %s", r.Expression),
				map[string]any{"expression": r.Expression, "error": err.Error()})
		}
		return nil
	}
	if r.Expression != "" || r.Timezone != "" {
		return NewValidationError("expression and timezone are only valid for cron recurrences.",
			map[string]any{"frequency": r.Frequency.String()})
	}
	return nil
}

// Normalize applies the creation-time defaults: Count 0 becomes UnlimitedCount,
// a none frequency always runs exactly once, and multiplier frequencies default to 1.
func (r Recurrence) Normalize() Recurrence {
	if r.Count == 0 {
		r.Count = UnlimitedCount
	}
	switch r.Frequency {
	case FrequencyNone:
		r.Count = 1
		r.IntervalValue = 0
	case FrequencyHourly, FrequencyDaily, FrequencyWeekly, FrequencyMonthly:
		if r.IntervalValue == 0 {
			r.IntervalValue = 1
		}
	case FrequencyCron:
		r.IntervalValue = 0
	}
	return r
}

// IsUnlimited reports whether the recurrence never exhausts.
func (r Recurrence) IsUnlimited() bool {
	return r.Count >= UnlimitedCount
}

// IsExhausted reports whether occurrencesRun has reached the total count.
func (r Recurrence) IsExhausted(occurrencesRun int) bool {
	if r.Frequency == FrequencyNone {
		return occurrencesRun >= 1
	}
	return occurrencesRun >= r.Count
}

// ComputeNextDelay returns how long to wait before the next occurrence.
//
// The first occurrence waits until startTime. Later occurrences advance one interval
// from now, or, when anchored, wait for the first slot startTime + k*interval that is
// not in the past with k >= occurrencesRun.
func (r Recurrence) ComputeNextDelay(now, startTime time.Time, occurrencesRun int, anchored bool) time.Duration {
	if r.Frequency == FrequencyCron {
		return r.cronDelay(now, startTime, occurrencesRun)
	}
	if occurrencesRun <= 0 {
		return nonNegative(startTime.Sub(now))
	}
	if r.Frequency == FrequencyNone {
		return 0
	}
	if !anchored {
		return nonNegative(r.advance(now, 1).Sub(now))
	}
	return nonNegative(r.anchoredSlot(now, startTime, occurrencesRun).Sub(now))
}

func (r Recurrence) cronDelay(now, startTime time.Time, occurrencesRun int) time.Duration {
	sched, err := r.schedule()
	if err != nil {
		return 0
	}
	from := now
	if startTime.After(from) {
		from = startTime
	}
	if occurrencesRun <= 0 {
		// Next is strictly after its argument; step back so a slot equal to from is kept.
		from = from.Add(-time.Second)
	}
	// A later occurrence may finish inside the slot it just ran; Next(from) skips that slot.
	return nonNegative(sched.Next(from).Sub(now))
}

func (r Recurrence) schedule() (cron.Schedule, error) {
	expr := strings.TrimSpace(r.Expression)
	if r.Timezone != "" {
		loc, err := time.LoadLocation(r.Timezone)
		if err != nil {
			return nil, err
		}
		expr = "CRON_TZ=" + loc.String() + " " + expr
	}
	return cronParser.Parse(expr)
}

func (r Recurrence) multiplier() int {
	if r.IntervalValue < 1 {
		return 1
	}
	return r.IntervalValue
}

// unit is the period of a single multiplier step. Monthly and cron have none.
func (r Recurrence) unit() time.Duration {
	switch r.Frequency {
	case FrequencyEveryNMinutes:
		return time.Minute
	case FrequencyHourly:
		return time.Hour
	case FrequencyDaily:
		return 24 * time.Hour
	case FrequencyWeekly:
		return 7 * 24 * time.Hour
	}
	return 0
}

func (r Recurrence) tooLong() bool {
	if r.Frequency == FrequencyMonthly {
		return r.IntervalValue > maxMonthlyIntervals
	}
	unit := r.unit()
	return unit > 0 && r.IntervalValue > int(maxRecurrenceSpan/unit)
}

// Interval is the fixed period of the recurrence. Monthly and cron recurrences have
// no fixed period and report zero.
func (r Recurrence) Interval() time.Duration {
	return time.Duration(r.multiplier()) * r.unit()
}

// advance moves t forward by k periods.
func (r Recurrence) advance(t time.Time, k int) time.Time {
	if r.Frequency == FrequencyMonthly {
		return t.AddDate(0, k*r.multiplier(), 0)
	}
	return t.Add(time.Duration(k) * r.Interval())
}

func (r Recurrence) anchoredSlot(now, startTime time.Time, occurrencesRun int) time.Time {
	slot := r.advance(startTime, occurrencesRun)
	if !slot.Before(now) {
		return slot
	}
	if interval := r.Interval(); interval > 0 {
		missed := int(now.Sub(slot) / interval)
		slot = slot.Add(time.Duration(missed) * interval)
		if slot.Before(now) {
			slot = slot.Add(interval)
		}
		return slot
	}
	k := occurrencesRun
	for slot.Before(now) {
		k++
		slot = r.advance(startTime, k)
	}
	return slot
}

func nonNegative(d time.Duration) time.Duration {
	if d < 0 {
		return 0
	}
	return d
}
