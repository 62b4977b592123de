package edition

import (
	"testing"
	"time"
)

func jst(year int, month time.Month, day, hour, min, sec int) time.Time {
	return time.Date(year, month, day, hour, min, sec, 0, time.FixedZone("JST", 9*60*60))
}

func TestEditionDate_CutoffBoundary(t *testing.T) {
	tests := []struct {
		name string
		now  time.Time
		want Date
	}{
		{"カットオフ1秒前は前日", jst(2026, 10, 14, 7, 59, 59), NewDate(2026, 10, 13)},
		{"カットオフちょうどは当日", jst(2026, 10, 14, 8, 0, 0), NewDate(2026, 10, 14)},
		{"深夜0時は前日", jst(2026, 10, 14, 0, 0, 0), NewDate(2026, 10, 13)},
		{"23時59分は当日", jst(2026, 10, 14, 23, 59, 59), NewDate(2026, 10, 14)},
		{"月跨ぎ", jst(2026, 11, 1, 3, 0, 0), NewDate(2026, 10, 31)},
		{"年跨ぎ", jst(2027, 1, 1, 7, 0, 0), NewDate(2026, 12, 31)},
		{"うるう年の3月1日", jst(2028, 3, 1, 7, 30, 0), NewDate(2028, 2, 29)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := EditionDate(tt.now, 8)
			if !got.Equal(tt.want) {
				t.Errorf("EditionDate(%v) = %s, want %s", tt.now, got, tt.want)
			}
		})
	}
}

func TestEditionDate_ConvertsFromUTC(t *testing.T) {
	// UTC 23:00 は JST 翌日 08:00
	now := time.Date(2026, 10, 13, 23, 0, 0, 0, time.UTC)
	got := EditionDate(now, 8)
	if want := NewDate(2026, 10, 14); !got.Equal(want) {
		t.Errorf("EditionDate = %s, want %s", got, want)
	}

	// UTC 22:59:59 は JST 07:59:59
	got = EditionDate(now.Add(-time.Second), 8)
	if want := NewDate(2026, 10, 13); !got.Equal(want) {
		t.Errorf("EditionDate = %s, want %s", got, want)
	}
}

func TestEditionDate_Monotonic(t *testing.T) {
	c := DefaultClock()
	start := time.Date(2026, 12, 29, 0, 0, 0, 0, time.UTC)
	prev := c.EditionDate(start)
	for i := 1; i < 24*6*5; i++ {
		now := start.Add(time.Duration(i) * 10 * time.Minute)
		got := c.EditionDate(now)
		if got.Before(prev) {
			t.Fatalf("edition date went backwards at %v: %s < %s", now, got, prev)
		}
		if diff := got.Time().Sub(prev.Time()); diff > 24*time.Hour {
			t.Fatalf("edition date skipped a day at %v: %s -> %s", now, prev, got)
		}
		prev = got
	}
}

func TestSecondsUntilNextCutoff(t *testing.T) {
	c := DefaultClock()

	tests := []struct {
		name string
		now  time.Time
		want int
	}{
		{"7時ちょうど", jst(2026, 10, 14, 7, 0, 0), 3600},
		{"8時ちょうどは翌日まで", jst(2026, 10, 14, 8, 0, 0), 24 * 3600},
		{"9時", jst(2026, 10, 14, 9, 0, 0), 23 * 3600},
		{"直前は下限60秒", jst(2026, 10, 14, 7, 59, 30), 60},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := c.SecondsUntilNextCutoff(tt.now); got != tt.want {
				t.Errorf("SecondsUntilNextCutoff = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestTTLUntilNextCutoff_CapsAtMax(t *testing.T) {
	c := DefaultClock()
	now := jst(2026, 10, 14, 9, 0, 0)

	if got := c.TTLUntilNextCutoff(now, time.Hour); got != time.Hour {
		t.Errorf("TTL = %v, want 1h", got)
	}
	if got := c.TTLUntilNextCutoff(now, 48*time.Hour); got != 23*time.Hour {
		t.Errorf("TTL = %v, want 23h", got)
	}
}

func TestParseDate(t *testing.T) {
	d, err := ParseDate("2026-02-28")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.String() != "2026-02-28" {
		t.Errorf("String() = %q", d.String())
	}
	if got := d.AddDays(1).String(); got != "2026-03-01" {
		t.Errorf("AddDays(1) = %q, want 2026-03-01", got)
	}

	for _, bad := range []string{"", "2026/02/28", "2026-13-01", "20260228"} {
		if _, err := ParseDate(bad); err == nil {
			t.Errorf("ParseDate(%q) should fail", bad)
		}
	}
}

func TestDate_TextRoundTrip(t *testing.T) {
	var d Date
	if err := d.UnmarshalText([]byte("2026-10-14")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	b, _ := d.MarshalText()
	if string(b) != "2026-10-14" {
		t.Errorf("MarshalText = %q", b)
	}
}

func TestNewsWindow(t *testing.T) {
	from, to := NewsWindow(NewDate(2026, 10, 3), 7)
	if from.String() != "2026-09-27" || to.String() != "2026-10-03" {
		t.Errorf("NewsWindow = %s..%s, want 2026-09-27..2026-10-03", from, to)
	}
}

func TestDate_SQLRoundTrip(t *testing.T) {
	d := NewDate(2026, 10, 14)

	v, err := d.Value()
	if err != nil || v != "2026-10-14" {
		t.Fatalf("Value() = (%v, %v)", v, err)
	}
	if v, _ := (Date{}).Value(); v != nil {
		t.Errorf("zero Date should be NULL, got %v", v)
	}

	sources := []any{
		time.Date(2026, 10, 14, 0, 0, 0, 0, time.UTC),
		"2026-10-14",
		[]byte("2026-10-14"),
	}
	for _, src := range sources {
		var got Date
		if err := got.Scan(src); err != nil {
			t.Errorf("Scan(%#v): %v", src, err)
			continue
		}
		if got != d {
			t.Errorf("Scan(%#v) = %v, want %v", src, got, d)
		}
	}

	var got Date
	if err := got.Scan(42); err == nil {
		t.Error("Scan(int) should fail")
	}
}
