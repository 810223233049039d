package database

import (
	"github.com/rs/zerolog"
)

// zerologWriter satisfies gorm's logger.Writer and forwards to zerolog.
type zerologWriter struct {
	log zerolog.Logger
}

func (w zerologWriter) Printf(format string, args ...interface{}) {
	w.log.Warn().Msgf(format, args...)
}
