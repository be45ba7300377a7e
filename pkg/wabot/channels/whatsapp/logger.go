package whatsapp

import (
	"os"

	"github.com/rs/zerolog"
	waLog "go.mau.fi/whatsmeow/util/log"
)

// newClientLogger bridges whatsmeow's logger to a zerolog console writer on
// stderr. Unknown levels fall back to warn.
func newClientLogger(level, module string) waLog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.WarnLevel
	}
	zl := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"}).
		Level(lvl).
		With().
		Timestamp().
		Str("module", module).
		Logger()
	return waLog.Zerolog(zl)
}
