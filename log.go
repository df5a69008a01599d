package nanohttp

import (
	"sync"

	"github.com/rs/zerolog"
)

var shortFieldNames sync.Once

// UseShortFieldNames switches the global zerolog field names to one letter
// keys (C, M, L, E, T, S). The engine never calls it; applications opt in
// before they build their loggers.
func UseShortFieldNames() {
	shortFieldNames.Do(func() {
		zerolog.CallerFieldName = "C"
		zerolog.MessageFieldName = "M"
		zerolog.LevelFieldName = "L"
		zerolog.ErrorFieldName = "E"
		zerolog.TimestampFieldName = "T"
		zerolog.ErrorStackFieldName = "S"
	})
}

var nopLogger = zerolog.Nop()

// loggerOrNop returns l, or a disabled logger when l is nil.
//
// Every component of the engine accepts an optional *zerolog.Logger, the
// engine must keep working when none is configured.
func loggerOrNop(l *zerolog.Logger) *zerolog.Logger {
	if l == nil {
		return &nopLogger
	}
	return l
}
