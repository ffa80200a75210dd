package app

import (
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func SetupLogging(level string) {
	switch level {
	case "trace":
		zerolog.SetGlobalLevel(zerolog.TraceLevel)
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	case "fatal":
		zerolog.SetGlobalLevel(zerolog.FatalLevel)
	case "panic":
		zerolog.SetGlobalLevel(zerolog.PanicLevel)
	case "nolevel":
		zerolog.SetGlobalLevel(zerolog.NoLevel)
	case "disabled":
		zerolog.SetGlobalLevel(zerolog.Disabled)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}

// runLog opens a fresh <prefix>-run-<timestamp>.log and returns a logger that
// writes to it and to the process log output.
func (a *App) runLog(prefix string) (zerolog.Logger, string, func()) {
	f, err := a.deps.Store.OpenRunLog(prefix)
	if err != nil {
		log.Warn().Err(err).Str("run", prefix).Msg("failed to open run log")
		return log.Logger, "", func() {}
	}

	fileOut := zerolog.ConsoleWriter{Out: f, NoColor: true, TimeFormat: "2006-01-02 15:04:05"}
	var out zerolog.LevelWriter
	if a.deps.LogOutput != nil {
		out = zerolog.MultiLevelWriter(fileOut, a.deps.LogOutput)
	} else {
		out = zerolog.MultiLevelWriter(fileOut)
	}
	logger := zerolog.New(out).With().Timestamp().Str("run", prefix).Logger()
	return logger, f.Name(), func() {
		if err := f.Close(); err != nil && !os.IsNotExist(err) {
			log.Warn().Err(err).Str("run", prefix).Msg("failed to close run log")
		}
	}
}
