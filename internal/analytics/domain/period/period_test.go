package period

import (
	"testing"
	"time"
)

func mustLoad(t *testing.T, name string) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation(name)
	if err != nil {
		t.Fatalf("load location %s: %v", name, err)
	}
	return loc
}

func TestPeriodsInDayLondon(t *testing.T) {
	london := mustLoad(t, "Europe/London")
	cases := []struct {
		day  time.Time
		want int
	}{
		{time.Date(2024, 3, 31, 0, 0, 0, 0, time.UTC), 46},
		{time.Date(2024, 10, 27, 0, 0, 0, 0, time.UTC), 50},
		{time.Date(2024, 6, 15, 0, 0, 0, 0, time.UTC), 48},
		{time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC), 48},
	}
	for _, tc := range cases {
		got, err := PeriodsInDay(tc.day, london, SettlementLength)
		if err != nil {
			t.Fatalf("periods in day %s: %v", tc.day.Format("2006-01-02"), err)
		}
		if got != tc.want {
			t.Fatalf("periods in day %s: got %d want %d", tc.day.Format("2006-01-02"), got, tc.want)
		}
	}
}

func TestSettlementPeriodStartSummerTime(t *testing.T) {
	london := mustLoad(t, "Europe/London")
	day := time.Date(2024, 6, 15, 0, 0, 0, 0, time.UTC)

	start, err := SettlementPeriodStart(day, 1, london, SettlementLength)
	if err != nil {
		t.Fatalf("period start: %v", err)
	}
	want := time.Date(2024, 6, 14, 23, 0, 0, 0, time.UTC)
	if !start.Equal(want) {
		t.Fatalf("period 1 start: got %s want %s", start, want)
	}

	start, err = SettlementPeriodStart(day, 48, london, SettlementLength)
	if err != nil {
		t.Fatalf("period start: %v", err)
	}
	want = time.Date(2024, 6, 15, 22, 30, 0, 0, time.UTC)
	if !start.Equal(want) {
		t.Fatalf("period 48 start: got %s want %s", start, want)
	}
}

func TestSettlementPeriodStartTransitionDays(t *testing.T) {
	london := mustLoad(t, "Europe/London")
	spring := time.Date(2024, 3, 31, 0, 0, 0, 0, time.UTC)
	fall := time.Date(2024, 10, 27, 0, 0, 0, 0, time.UTC)

	last, err := SettlementPeriodStart(spring, 46, london, SettlementLength)
	if err != nil {
		t.Fatalf("spring period 46: %v", err)
	}
	if want := time.Date(2024, 3, 31, 22, 30, 0, 0, time.UTC); !last.Equal(want) {
		t.Fatalf("spring period 46: got %s want %s", last, want)
	}
	if _, err := SettlementPeriodStart(spring, 47, london, SettlementLength); err != ErrInvalidSettlementPeriod {
		t.Fatalf("expected invalid settlement period, got %v", err)
	}

	last, err = SettlementPeriodStart(fall, 50, london, SettlementLength)
	if err != nil {
		t.Fatalf("fall period 50: %v", err)
	}
	if want := time.Date(2024, 10, 27, 23, 30, 0, 0, time.UTC); !last.Equal(want) {
		t.Fatalf("fall period 50: got %s want %s", last, want)
	}

	// Periods 3 and 4 on the fall-back day cover the repeated 01:00 local hour.
	p3, _ := SettlementPeriodStart(fall, 3, london, SettlementLength)
	p5, _ := SettlementPeriodStart(fall, 5, london, SettlementLength)
	if p5.Sub(p3) != time.Hour {
		t.Fatalf("expected contiguous periods, got %s", p5.Sub(p3))
	}
}

func TestLocalizeGapAndOverlap(t *testing.T) {
	london := mustLoad(t, "Europe/London")

	gap := Localize(time.Date(2024, 3, 31, 1, 30, 0, 0, time.UTC), london)
	if want := time.Date(2024, 3, 31, 1, 30, 0, 0, time.UTC); !gap.Equal(want) {
		t.Fatalf("gap localize: got %s want %s", gap, want)
	}
	if local := gap.In(london); local.Hour() != 2 || local.Minute() != 30 {
		t.Fatalf("gap should shift forward to 02:30 local, got %s", local)
	}

	overlap := Localize(time.Date(2024, 10, 27, 1, 30, 0, 0, time.UTC), london)
	if want := time.Date(2024, 10, 27, 1, 30, 0, 0, time.UTC); !overlap.Equal(want) {
		t.Fatalf("overlap localize: got %s want %s", overlap, want)
	}

	normal := Localize(time.Date(2024, 7, 1, 12, 0, 0, 0, time.UTC), london)
	if want := time.Date(2024, 7, 1, 11, 0, 0, 0, time.UTC); !normal.Equal(want) {
		t.Fatalf("normal localize: got %s want %s", normal, want)
	}
}

func TestNormalizeReportsTransitionDay(t *testing.T) {
	london := mustLoad(t, "Europe/London")
	hour, transition := Normalize(time.Date(2024, 10, 27, 1, 45, 0, 0, time.UTC), london)
	if !transition {
		t.Fatalf("expected transition day")
	}
	if want := time.Date(2024, 10, 27, 1, 0, 0, 0, time.UTC); !hour.Equal(want) {
		t.Fatalf("hour: got %s want %s", hour, want)
	}

	taipei := mustLoad(t, "Asia/Taipei")
	hour, transition = Normalize(time.Date(2024, 10, 27, 8, 10, 0, 0, time.UTC), taipei)
	if transition {
		t.Fatalf("taipei has no DST")
	}
	if want := time.Date(2024, 10, 27, 0, 0, 0, 0, time.UTC); !hour.Equal(want) {
		t.Fatalf("hour: got %s want %s", hour, want)
	}
}

func TestNormalizeSettlement(t *testing.T) {
	london := mustLoad(t, "Europe/London")
	hour, transition, err := NormalizeSettlement(time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC), 4, london)
	if err != nil {
		t.Fatalf("normalize settlement: %v", err)
	}
	if transition {
		t.Fatalf("unexpected transition day")
	}
	if want := time.Date(2024, 1, 10, 1, 0, 0, 0, time.UTC); !hour.Equal(want) {
		t.Fatalf("hour: got %s want %s", hour, want)
	}
}

func TestHoursInMonth(t *testing.T) {
	if got := HoursInMonth(time.Date(2024, 2, 10, 0, 0, 0, 0, time.UTC), time.UTC); got != 696 {
		t.Fatalf("feb 2024 hours: got %d", got)
	}
	copenhagen := mustLoad(t, "Europe/Copenhagen")
	if got := HoursInMonth(time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC), copenhagen); got != 743 {
		t.Fatalf("march 2024 copenhagen hours: got %d", got)
	}
	if got := HoursInMonth(time.Date(2024, 10, 10, 0, 0, 0, 0, time.UTC), copenhagen); got != 745 {
		t.Fatalf("october 2024 copenhagen hours: got %d", got)
	}
}

func TestDaysAndMonths(t *testing.T) {
	london := mustLoad(t, "Europe/London")
	days, err := Days(time.Date(2024, 3, 30, 0, 0, 0, 0, time.UTC), time.Date(2024, 3, 31, 23, 0, 0, 0, time.UTC), london)
	if err != nil {
		t.Fatalf("days: %v", err)
	}
	if len(days) != 2 {
		t.Fatalf("expected 2 days, got %d", len(days))
	}
	if days[1].Sub(days[0]) != 24*time.Hour {
		t.Fatalf("unexpected day spacing %s", days[1].Sub(days[0]))
	}

	months, err := Months(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC), time.UTC)
	if err != nil {
		t.Fatalf("months: %v", err)
	}
	if len(months) != 3 {
		t.Fatalf("expected 3 months, got %d", len(months))
	}
	if _, err := Days(time.Now(), time.Now().Add(-time.Hour), time.UTC); err != ErrInvalidRange {
		t.Fatalf("expected invalid range, got %v", err)
	}
}

func TestFloorHelpers(t *testing.T) {
	ts := time.Date(2024, 5, 17, 13, 47, 12, 0, time.UTC)
	if got := FloorHour(ts); !got.Equal(time.Date(2024, 5, 17, 13, 0, 0, 0, time.UTC)) {
		t.Fatalf("floor hour: %s", got)
	}
	if got := FloorMonth(ts); !got.Equal(time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("floor month: %s", got)
	}
}
