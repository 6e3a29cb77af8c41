package repositories

import (
	"time"

	"github.com/samber/lo"
)

// Timestamps are stored as unix milliseconds.
func Millis(t time.Time) int64 {
	return t.UnixMilli()
}

// TimeFrom decodes a stored timestamp. Numbers come back from the store as float64.
func TimeFrom(v any) (time.Time, bool) {
	ms, ok := Int64From(v)
	if !ok {
		return time.Time{}, false
	}
	return time.UnixMilli(ms).UTC(), true
}

func TimePtrFrom(v any) *time.Time {
	t, ok := TimeFrom(v)
	if !ok {
		return nil
	}
	return lo.ToPtr(t)
}

func Int64From(v any) (int64, bool) {
	switch n := v.(type) {
	case float64:
		return int64(n), true
	case int64:
		return n, true
	case int:
		return int64(n), true
	}
	return 0, false
}

func IntFrom(v any) (int, bool) {
	n, ok := Int64From(v)
	return int(n), ok
}

func StringFrom(v any) string {
	s, _ := v.(string)
	return s
}

func BoolFrom(v any) bool {
	b, _ := v.(bool)
	return b
}

func MapFrom(v any) map[string]any {
	m, _ := v.(map[string]any)
	return m
}
