package logger

import (
	"fmt"
	"io"
	"sync/atomic"

	echolog "github.com/labstack/gommon/log"
)

// EchoLoggerAdapter lets echo write its internal messages through a module Logger.
//
//	e := echo.New()
//	e.Logger = logger.NewEchoLoggerAdapter(log.Module("echo"))
type EchoLoggerAdapter struct {
	logger Logger
	level  atomic.Uint32 // echolog.Lvl
}

// NewEchoLoggerAdapter wraps log. A nil log writes to stdout at INFO.
func NewEchoLoggerAdapter(log Logger) *EchoLoggerAdapter {
	if log == nil {
		log = NewSlogLogger(nil, LogLevelInfo, nil)
	}
	a := &EchoLoggerAdapter{logger: log}
	a.level.Store(uint32(echolog.INFO))
	return a
}

// EchoLevel maps a LogLevel to the gommon level echo understands.
func EchoLevel(level LogLevel) echolog.Lvl {
	switch level {
	case LogLevelTrace, LogLevelDebug:
		return echolog.DEBUG
	case LogLevelWarn:
		return echolog.WARN
	case LogLevelError:
		return echolog.ERROR
	default:
		return echolog.INFO
	}
}

func (a *EchoLoggerAdapter) enabled(lvl echolog.Lvl) bool {
	return lvl >= echolog.Lvl(a.level.Load())
}

func (a *EchoLoggerAdapter) log(lvl echolog.Lvl, msg string) {
	if !a.enabled(lvl) {
		return
	}
	switch lvl {
	case echolog.DEBUG:
		a.logger.Debug(msg)
	case echolog.WARN:
		a.logger.Warn(msg)
	case echolog.ERROR:
		a.logger.Error(msg)
	default:
		a.logger.Info(msg)
	}
}

func (a *EchoLoggerAdapter) logJSON(lvl echolog.Lvl, j echolog.JSON) {
	if !a.enabled(lvl) {
		return
	}
	a.logger.Log(levelFromEcho(lvl), "echo", Any("data", j))
}

func levelFromEcho(lvl echolog.Lvl) LogLevel {
	switch lvl {
	case echolog.DEBUG:
		return LogLevelDebug
	case echolog.WARN:
		return LogLevelWarn
	case echolog.ERROR:
		return LogLevelError
	default:
		return LogLevelInfo
	}
}

// Output is unused; output is owned by the wrapped logger.
func (a *EchoLoggerAdapter) Output() io.Writer   { return io.Discard }
func (a *EchoLoggerAdapter) SetOutput(io.Writer) {}
func (a *EchoLoggerAdapter) Prefix() string      { return "" }
func (a *EchoLoggerAdapter) SetPrefix(string)    {}
func (a *EchoLoggerAdapter) SetHeader(string)    {}

func (a *EchoLoggerAdapter) Level() echolog.Lvl { return echolog.Lvl(a.level.Load()) }

func (a *EchoLoggerAdapter) SetLevel(lvl echolog.Lvl) { a.level.Store(uint32(lvl)) }

func (a *EchoLoggerAdapter) Print(i ...any) { a.log(echolog.INFO, fmt.Sprint(i...)) }
func (a *EchoLoggerAdapter) Printf(format string, args ...any) {
	a.log(echolog.INFO, fmt.Sprintf(format, args...))
}
func (a *EchoLoggerAdapter) Printj(j echolog.JSON) { a.logJSON(echolog.INFO, j) }

func (a *EchoLoggerAdapter) Debug(i ...any) { a.log(echolog.DEBUG, fmt.Sprint(i...)) }
func (a *EchoLoggerAdapter) Debugf(format string, args ...any) {
	a.log(echolog.DEBUG, fmt.Sprintf(format, args...))
}
func (a *EchoLoggerAdapter) Debugj(j echolog.JSON) { a.logJSON(echolog.DEBUG, j) }

func (a *EchoLoggerAdapter) Info(i ...any) { a.log(echolog.INFO, fmt.Sprint(i...)) }
func (a *EchoLoggerAdapter) Infof(format string, args ...any) {
	a.log(echolog.INFO, fmt.Sprintf(format, args...))
}
func (a *EchoLoggerAdapter) Infoj(j echolog.JSON) { a.logJSON(echolog.INFO, j) }

func (a *EchoLoggerAdapter) Warn(i ...any) { a.log(echolog.WARN, fmt.Sprint(i...)) }
func (a *EchoLoggerAdapter) Warnf(format string, args ...any) {
	a.log(echolog.WARN, fmt.Sprintf(format, args...))
}
func (a *EchoLoggerAdapter) Warnj(j echolog.JSON) { a.logJSON(echolog.WARN, j) }

func (a *EchoLoggerAdapter) Error(i ...any) { a.log(echolog.ERROR, fmt.Sprint(i...)) }
func (a *EchoLoggerAdapter) Errorf(format string, args ...any) {
	a.log(echolog.ERROR, fmt.Sprintf(format, args...))
}
func (a *EchoLoggerAdapter) Errorj(j echolog.JSON) { a.logJSON(echolog.ERROR, j) }

// Fatal and Panic variants log at ERROR and panic so the server's
// recover and shutdown paths still run.
func (a *EchoLoggerAdapter) Fatal(i ...any) { a.fail(fmt.Sprint(i...)) }
func (a *EchoLoggerAdapter) Fatalf(format string, args ...any) {
	a.fail(fmt.Sprintf(format, args...))
}
func (a *EchoLoggerAdapter) Fatalj(j echolog.JSON) { a.fail(fmt.Sprintf("%v", j)) }
func (a *EchoLoggerAdapter) Panic(i ...any)        { a.fail(fmt.Sprint(i...)) }
func (a *EchoLoggerAdapter) Panicf(format string, args ...any) {
	a.fail(fmt.Sprintf(format, args...))
}
func (a *EchoLoggerAdapter) Panicj(j echolog.JSON) { a.fail(fmt.Sprintf("%v", j)) }

func (a *EchoLoggerAdapter) fail(msg string) {
	a.logger.Error(msg)
	panic("echo: " + msg)
}
