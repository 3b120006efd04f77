package messenger

import (
	"fmt"
	log "log/slog"

	waLog "go.mau.fi/whatsmeow/util/log"
)

// slogger routes whatsmeow's printf-style logging into slog.
type slogger struct {
	l *log.Logger
}

func newLogger(module string) waLog.Logger {
	return slogger{l: log.With("module", module)}
}

func (s slogger) Errorf(msg string, args ...interface{}) { s.l.Error(fmt.Sprintf(msg, args...)) }
func (s slogger) Warnf(msg string, args ...interface{})  { s.l.Warn(fmt.Sprintf(msg, args...)) }
func (s slogger) Infof(msg string, args ...interface{})  { s.l.Debug(fmt.Sprintf(msg, args...)) }
func (s slogger) Debugf(msg string, args ...interface{}) { s.l.Debug(fmt.Sprintf(msg, args...)) }

func (s slogger) Sub(module string) waLog.Logger {
	return slogger{l: s.l.With("sub", module)}
}
