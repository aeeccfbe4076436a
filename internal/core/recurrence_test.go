package core

import (
	"encoding/json"
	"math"
	"testing"
	"time"
)

var t0 = time.Date(2026, 1, 31, 10, 0, 0, 0, time.UTC)

func TestNormalize_ZeroCountIsUnlimited(t *testing.T) {
	r := Recurrence{Frequency: FrequencyDaily}.Normalize()
	if r.Count != UnlimitedCount {
		t.Errorf("Count = %d, want %d", r.Count, UnlimitedCount)
	}
	if !r.IsUnlimited() {
		t.Error("IsUnlimited() = false, want true")
	}
	if r.IntervalValue != 1 {
		t.Errorf("IntervalValue = %d, want 1", r.IntervalValue)
	}
	if r.IsExhausted(1_000_000) {
		t.Error("unlimited recurrence should not exhaust")
	}
}

func TestNormalize_NoneRunsOnce(t *testing.T) {
	for _, count := range []int{0, 1, 5} {
		r := Recurrence{Frequency: FrequencyNone, Count: count}.Normalize()
		if r.Count != 1 {
			t.Errorf("Normalize(count=%d).Count = %d, want 1", count, r.Count)
		}
		if r.IsExhausted(0) {
			t.Errorf("count=%d: exhausted before first run", count)
		}
		if !r.IsExhausted(1) {
			t.Errorf("count=%d: not exhausted after first run", count)
		}
	}
}

func TestOneShotMatchesDefault(t *testing.T) {
	want := Recurrence{Frequency: FrequencyNone, Count: 1}
	if OneShot().Normalize() != want {
		t.Errorf("OneShot() = %+v, want %+v", OneShot(), want)
	}
}

func TestIsExhausted(t *testing.T) {
	r := Recurrence{Frequency: FrequencyDaily, Count: 3}.Normalize()
	for run, want := range []bool{false, false, false, true, true} {
		if got := r.IsExhausted(run); got != want {
			t.Errorf("IsExhausted(%d) = %v, want %v", run, got, want)
		}
	}
}

func TestComputeNextDelay_FirstOccurrence(t *testing.T) {
	r := Recurrence{Frequency: FrequencyHourly, Count: 3}.Normalize()

	if got := r.ComputeNextDelay(t0, t0.Add(5*time.Second), 0, false); got != 5*time.Second {
		t.Errorf("future start delay = %v, want 5s", got)
	}
	if got := r.ComputeNextDelay(t0, t0.Add(-time.Hour), 0, false); got != 0 {
		t.Errorf("past start delay = %v, want 0", got)
	}
}

func TestComputeNextDelay_Intervals(t *testing.T) {
	tests := []struct {
		r    Recurrence
		want time.Duration
	}{
		{Recurrence{Frequency: FrequencyEveryNMinutes, IntervalValue: 15}, 15 * time.Minute},
		{Recurrence{Frequency: FrequencyHourly}, time.Hour},
		{Recurrence{Frequency: FrequencyHourly, IntervalValue: 6}, 6 * time.Hour},
		{Recurrence{Frequency: FrequencyDaily}, 24 * time.Hour},
		{Recurrence{Frequency: FrequencyWeekly, IntervalValue: 2}, 14 * 24 * time.Hour},
		// Jan 31 + 1 month normalizes to Mar 3 in 2026.
		{Recurrence{Frequency: FrequencyMonthly}, t0.AddDate(0, 1, 0).Sub(t0)},
		{Recurrence{Frequency: FrequencyNone}, 0},
	}
	for _, tt := range tests {
		r := tt.r.Normalize()
		if got := r.ComputeNextDelay(t0, t0.Add(-72*time.Hour), 1, false); got != tt.want {
			t.Errorf("%s x%d: delay = %v, want %v", r.Frequency, r.IntervalValue, got, tt.want)
		}
	}
}

func TestComputeNextDelay_AnchoredRemovesDrift(t *testing.T) {
	r := Recurrence{Frequency: FrequencyHourly}.Normalize()
	start := t0
	// Second occurrence completed 10 minutes late.
	now := start.Add(time.Hour + 10*time.Minute)

	if got := r.ComputeNextDelay(now, start, 2, false); got != time.Hour {
		t.Errorf("unanchored delay = %v, want 1h", got)
	}
	if got := r.ComputeNextDelay(now, start, 2, true); got != 50*time.Minute {
		t.Errorf("anchored delay = %v, want 50m", got)
	}
}

func TestComputeNextDelay_AnchoredSkipsMissedSlots(t *testing.T) {
	r := Recurrence{Frequency: FrequencyEveryNMinutes, IntervalValue: 10}.Normalize()
	now := t0.Add(35 * time.Minute)
	if got := r.ComputeNextDelay(now, t0, 1, true); got != 5*time.Minute {
		t.Errorf("anchored delay = %v, want 5m", got)
	}

	m := Recurrence{Frequency: FrequencyMonthly}.Normalize()
	start := time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC)
	now = time.Date(2026, 4, 20, 0, 0, 0, 0, time.UTC)
	want := time.Date(2026, 5, 15, 0, 0, 0, 0, time.UTC).Sub(now)
	if got := m.ComputeNextDelay(now, start, 1, true); got != want {
		t.Errorf("anchored monthly delay = %v, want %v", got, want)
	}
}

func TestComputeNextDelay_Cron(t *testing.T) {
	r := Recurrence{Frequency: FrequencyCron, Expression: "0 12 * * *"}.Normalize()
	if err := r.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if got := r.ComputeNextDelay(t0, t0, 0, false); got != 2*time.Hour {
		t.Errorf("cron delay = %v, want 2h", got)
	}
	// Start time later than now: first firing at or after start.
	start := t0.Add(25 * time.Hour)
	want := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC).Sub(t0)
	if got := r.ComputeNextDelay(t0, start, 0, false); got != want {
		t.Errorf("cron delay with future start = %v, want %v", got, want)
	}
}

func TestComputeNextDelay_CronLaterOccurrences(t *testing.T) {
	r := Recurrence{Frequency: FrequencyCron, Expression: "0 * * * *", Count: 5}.Normalize()
	if err := r.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	// The 10:00 occurrence just finished; the same slot must not fire again.
	now := t0.Add(50 * time.Millisecond)
	want := time.Hour - 50*time.Millisecond
	for _, run := range []int{1, 2, 4} {
		if got := r.ComputeNextDelay(now, t0, run, false); got != want {
			t.Errorf("ComputeNextDelay(run=%d) = %v, want %v", run, got, want)
		}
	}
	// Exactly on the slot boundary the next slot is an hour away.
	if got := r.ComputeNextDelay(t0, t0, 1, false); got != time.Hour {
		t.Errorf("ComputeNextDelay(on slot, run=1) = %v, want 1h", got)
	}
	// The first occurrence still fires on a slot equal to now.
	if got := r.ComputeNextDelay(t0, t0, 0, false); got != 0 {
		t.Errorf("ComputeNextDelay(on slot, run=0) = %v, want 0", got)
	}
}

func TestRecurrenceIntervalBounds(t *testing.T) {
	tests := []struct {
		r       Recurrence
		wantErr bool
	}{
		{Recurrence{Frequency: FrequencyWeekly, IntervalValue: 20000}, true},
		{Recurrence{Frequency: FrequencyDaily, IntervalValue: 200000}, true},
		{Recurrence{Frequency: FrequencyEveryNMinutes, IntervalValue: math.MaxInt32}, true},
		{Recurrence{Frequency: FrequencyMonthly, IntervalValue: 121}, true},
		{Recurrence{Frequency: FrequencyWeekly, IntervalValue: 52}, false},
		{Recurrence{Frequency: FrequencyMonthly, IntervalValue: 120}, false},
		{Recurrence{Frequency: FrequencyEveryNMinutes, IntervalValue: 60 * 24 * 365}, false},
	}
	for _, tt := range tests {
		err := tt.r.Validate()
		if (err != nil) != tt.wantErr {
			t.Errorf("Validate(%+v) error = %v, wantErr %v", tt.r, err, tt.wantErr)
		}
		if err == nil && tt.r.Frequency != FrequencyMonthly && tt.r.Interval() <= 0 {
			t.Errorf("Interval(%+v) = %v, want positive", tt.r, tt.r.Interval())
		}
	}
}

func TestComputeNextDelay_CronTimezone(t *testing.T) {
	r := Recurrence{Frequency: FrequencyCron, Expression: "@daily", Timezone: "UTC"}
	if err := r.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if got := r.ComputeNextDelay(t0, t0, 3, false); got != 14*time.Hour {
		t.Errorf("cron delay = %v, want 14h", got)
	}
	bad := Recurrence{Frequency: FrequencyCron, Expression: "@daily", Timezone: "Mars/Olympus"}
	if err := bad.Validate(); err == nil {
		t.Error("Validate() expected error for unknown timezone")
	}
}

func TestFrequencyJSON(t *testing.T) {
	r := Recurrence{Frequency: FrequencyEveryNMinutes, IntervalValue: 5, Count: 2}
	data, err := json.Marshal(r)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	want := `{"frequency":"every_n_minutes","interval_value":5,"count":2}`
	if string(data) != want {
		t.Errorf("Marshal() = %s, want %s", data, want)
	}
	var got Recurrence
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if got != r {
		t.Errorf("Unmarshal() = %+v, want %+v", got, r)
	}
	if err := json.Unmarshal([]byte(`{"frequency":"fortnightly"}`), &got); err == nil {
		t.Error("Unmarshal() expected error for unknown frequency")
	}
}
