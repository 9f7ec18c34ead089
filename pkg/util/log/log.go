package log

import (
	"os"

	kitlog "github.com/go-kit/log"
	"github.com/go-kit/log/level"
	dslog "github.com/grafana/dskit/log"
)

// Logger is the shared go-kit logger.  Prefer accepting a non-global logger
// as an argument where practical.
var Logger = kitlog.NewNopLogger()

// InitLogger initialises the global go-kit logger and returns it.
func InitLogger(logFormat string, logLevel dslog.Level) kitlog.Logger {
	writer := kitlog.NewSyncWriter(os.Stderr)
	logger := dslog.NewGoKitWithWriter(logFormat, writer)

	// use UTC timestamps and skip 5 stack frames.
	logger = kitlog.With(logger, "ts", kitlog.DefaultTimestampUTC, "caller", kitlog.Caller(5))

	// must put the level filter last for efficiency
	logger = level.NewFilter(logger, logLevel.Option)

	Logger = logger
	return logger
}
