package pipeline

import (
	"log/slog"
	"net/url"
)

const levelTrace = slog.LevelDebug - 4

// URLLogValue is a [slog.LogValuer] for URLs. It hides userinfo and
// truncates very long values.
type URLLogValue string

// LogValue implements [slog.LogValuer].
func (s URLLogValue) LogValue() slog.Value {
	v := string(s)
	if u, err := url.Parse(v); err == nil && u.User != nil {
		u.User = url.User("xxx")
		v = u.String()
	}
	if len(v) > 256 {
		return slog.StringValue(v[0:40] + "..." + v[len(v)-40:])
	}
	return slog.StringValue(v)
}
