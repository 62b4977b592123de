// Package edition はブリーフィングの「版」の日付境界を計算する。
// 運用タイムゾーン（固定オフセット）とカットオフ時刻により、
// 任意の時刻に対して一意の版日付を返す。
package edition

import (
	"fmt"
	"time"
)

const (
	// DefaultOffsetHours は運用タイムゾーンのUTCオフセット（JST）。
	DefaultOffsetHours = 9
	// DefaultCutoffHour は新しい版が始まるローカル時刻（時）。
	DefaultCutoffHour = 8
	// minTTLSeconds はSecondsUntilNextCutoffの下限。
	minTTLSeconds = 60

	dateLayout = "2006-01-02"
)

// Date は時刻を持たない暦日を表す。
type Date struct {
	Year  int
	Month time.Month
	Day   int
}

// NewDate は正規化済みのDateを返す（2月30日は3月2日になる）。
func NewDate(year int, month time.Month, day int) Date {
	return DateOf(time.Date(year, month, day, 0, 0, 0, 0, time.UTC))
}

// ParseDate は"YYYY-MM-DD"形式の文字列をDateに変換する。
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return Date{}, fmt.Errorf("日付の形式が不正です: %q: %w", s, err)
	}
	return DateOf(t), nil
}

// DateOf はtのロケーションにおける暦日を返す。
func DateOf(t time.Time) Date {
	y, m, d := t.Date()
	return Date{Year: y, Month: m, Day: d}
}

// String は"YYYY-MM-DD"形式で返す。
func (d Date) String() string {
	return fmt.Sprintf("%04d-%02d-%02d", d.Year, int(d.Month), d.Day)
}

// IsZero はゼロ値かどうかを返す。
func (d Date) IsZero() bool {
	return d.Year == 0 && d.Month == 0 && d.Day == 0
}

// Time はUTC 0時のtime.Timeを返す。DATE型カラムへの書き込みに使う。
func (d Date) Time() time.Time {
	return time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, time.UTC)
}

// AddDays はn日後（負なら前）の日付を返す。
func (d Date) AddDays(n int) Date {
	return DateOf(d.Time().AddDate(0, 0, n))
}

// Compare はd < otherなら-1、等しければ0、d > otherなら1を返す。
func (d Date) Compare(other Date) int {
	switch {
	case d.Year != other.Year:
		return cmpInt(d.Year, other.Year)
	case d.Month != other.Month:
		return cmpInt(int(d.Month), int(other.Month))
	default:
		return cmpInt(d.Day, other.Day)
	}
}

func (d Date) Before(other Date) bool { return d.Compare(other) < 0 }
func (d Date) After(other Date) bool { return d.Compare(other) > 0 }
func (d Date) Equal(other Date) bool { return d.Compare(other) == 0 }

// MarshalText はJSONやRedisへのシリアライズで"YYYY-MM-DD"を使う。
func (d Date) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalText は"YYYY-MM-DD"を読み込む。
func (d *Date) UnmarshalText(b []byte) error {
	parsed, err := ParseDate(string(b))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

func cmpInt(a, b int) int {
	if a < b {
		return -1
	}
	if a > b {
		return 1
	}
	return 0
}

// Clock は固定オフセットのタイムゾーンとカットオフ時刻を保持する。
// 状態を持たないため並行利用してよい。
type Clock struct {
	loc        *time.Location
	cutoffHour int
}

// NewClock はClockを生成する。cutoffHourが0-23の範囲外の場合はDefaultCutoffHourを使う。
func NewClock(offsetHours, cutoffHour int) *Clock {
	if cutoffHour < 0 || cutoffHour > 23 {
		cutoffHour = DefaultCutoffHour
	}
	name := fmt.Sprintf("UTC%+d", offsetHours)
	return &Clock{
		loc:        time.FixedZone(name, offsetHours*60*60),
		cutoffHour: cutoffHour,
	}
}

// DefaultClock はJST・8時カットオフのClockを返す。
func DefaultClock() *Clock {
	return NewClock(DefaultOffsetHours, DefaultCutoffHour)
}

// Location は運用タイムゾーンを返す。
func (c *Clock) Location() *time.Location {
	return c.loc
}

// CutoffHour はカットオフ時刻（時）を返す。
func (c *Clock) CutoffHour() int {
	return c.cutoffHour
}

// EditionDate はnowが属する版日付を返す。
// ローカル時刻がカットオフ前なら前日、それ以外は当日。
func (c *Clock) EditionDate(now time.Time) Date {
	local := now.In(c.loc)
	d := DateOf(local)
	if local.Hour() < c.cutoffHour {
		return d.AddDays(-1)
	}
	return d
}

// NextCutoff はnowより後で最初に来るカットオフ時刻を返す。
func (c *Clock) NextCutoff(now time.Time) time.Time {
	local := now.In(c.loc)
	cutoff := time.Date(local.Year(), local.Month(), local.Day(), c.cutoffHour, 0, 0, 0, c.loc)
	if !cutoff.After(local) {
		cutoff = cutoff.AddDate(0, 0, 1)
	}
	return cutoff
}

// SecondsUntilNextCutoff は次のカットオフまでの秒数を返す。
// クロックスキューでゼロや負にならないよう最小60秒とする。
func (c *Clock) SecondsUntilNextCutoff(now time.Time) int {
	s := int(c.NextCutoff(now).Sub(now) / time.Second)
	if s < minTTLSeconds {
		return minTTLSeconds
	}
	return s
}

// TTLUntilNextCutoff はmaxTTLと次のカットオフまでの時間の短い方を返す。
func (c *Clock) TTLUntilNextCutoff(now time.Time, maxTTL time.Duration) time.Duration {
	ttl := time.Duration(c.SecondsUntilNextCutoff(now)) * time.Second
	if maxTTL > 0 && maxTTL < ttl {
		return maxTTL
	}
	return ttl
}

// EditionDate はJST固定でnowが属する版日付を返す。
func EditionDate(now time.Time, cutoffHour int) Date {
	return NewClock(DefaultOffsetHours, cutoffHour).EditionDate(now)
}

// NewsWindow は版日付dを末尾に含むdays日間の範囲（両端含む）を返す。
func NewsWindow(d Date, days int) (from, to Date) {
	if days < 1 {
		days = 1
	}
	return d.AddDays(-(days - 1)), d
}
