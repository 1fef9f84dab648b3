package logger

import (
	"fmt"

	"github.com/hibiken/asynq"
)

// asynqLogger routes asynq's printf-style server logs into Logger. asynq
// joins its arguments into one sentence, which becomes the log message.
type asynqLogger struct {
	logger Logger
}

// NewAsynqLoggerAdapter returns an asynq.Logger writing through log, with
// every entry tagged component=asynq
func NewAsynqLoggerAdapter(log Logger) asynq.Logger {
	return asynqLogger{logger: OrNop(log).With("component", "asynq")}
}

func (a asynqLogger) Debug(args ...any) { a.logger.Debug(fmt.Sprint(args...)) }
func (a asynqLogger) Info(args ...any)  { a.logger.Info(fmt.Sprint(args...)) }
func (a asynqLogger) Warn(args ...any)  { a.logger.Warn(fmt.Sprint(args...)) }
func (a asynqLogger) Error(args ...any) { a.logger.Error(fmt.Sprint(args...)) }

// Fatal logs at error level. The worker owns the process and decides
// whether to exit, so the adapter never calls os.Exit.
func (a asynqLogger) Fatal(args ...any) {
	a.logger.Error(fmt.Sprint(args...), "fatal", true)
}
