package ulogger

import (
	"os"
	"time"

	"github.com/rs/zerolog"
)

type zeroLogger struct {
	log zerolog.Logger
}

func newZeroLogger(component string, o *options) *zeroLogger {
	w := o.writer
	if w == nil {
		if o.pretty {
			w = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
		} else {
			w = os.Stderr
		}
	}

	lvl, err := zerolog.ParseLevel(o.level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}

	l := zerolog.New(w).Level(lvl).With().Timestamp().Str("component", component).Logger()

	return &zeroLogger{log: l}
}

func (z *zeroLogger) Debugf(format string, args ...interface{}) { z.log.Debug().Msgf(format, args...) }
func (z *zeroLogger) Infof(format string, args ...interface{})  { z.log.Info().Msgf(format, args...) }
func (z *zeroLogger) Warnf(format string, args ...interface{})  { z.log.Warn().Msgf(format, args...) }
func (z *zeroLogger) Errorf(format string, args ...interface{}) { z.log.Error().Msgf(format, args...) }

func (z *zeroLogger) New(component string) Logger {
	return &zeroLogger{log: z.log.With().Str("component", component).Logger()}
}
