package main

import (
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/lni/dragonboat/v4/logger"
)

// cliLogger implements logger.ILogger, writing "LEVEL | pkg | message"
// lines to stderr.
type cliLogger struct {
	name   string
	level  logger.LogLevel
	logger *log.Logger
}

func (l *cliLogger) SetLevel(level logger.LogLevel) {
	l.level = level
}

func (l *cliLogger) Debugf(format string, args ...interface{}) {
	if l.level >= logger.DEBUG {
		l.log("DEBUG", format, args...)
	}
}

func (l *cliLogger) Infof(format string, args ...interface{}) {
	if l.level >= logger.INFO {
		l.log("INFO", format, args...)
	}
}

func (l *cliLogger) Warningf(format string, args ...interface{}) {
	if l.level >= logger.WARNING {
		l.log("WARN", format, args...)
	}
}

func (l *cliLogger) Errorf(format string, args ...interface{}) {
	if l.level >= logger.ERROR {
		l.log("ERROR", format, args...)
	}
}

func (l *cliLogger) Panicf(format string, args ...interface{}) {
	panic(fmt.Sprintf(format, args...))
}

func (l *cliLogger) log(levelStr string, format string, args ...interface{}) {
	l.logger.Printf("%-5s | %-8s | %s", levelStr, l.name, fmt.Sprintf(format, args...))
}

func createLogger(pkgName string) logger.ILogger {
	return &cliLogger{
		name:   pkgName,
		level:  logger.WARNING,
		logger: log.New(os.Stderr, "", log.Ldate|log.Ltime),
	}
}

func parseLogLevel(level string) (logger.LogLevel, error) {
	switch strings.ToLower(level) {
	case "debug":
		return logger.DEBUG, nil
	case "info":
		return logger.INFO, nil
	case "warning", "warn":
		return logger.WARNING, nil
	case "error":
		return logger.ERROR, nil
	default:
		return 0, fmt.Errorf("invalid log level %q: must be one of debug, info, warn, error", level)
	}
}

// initLogger installs the CLI logger for the client library.
func initLogger(level string) error {
	lvl, err := parseLogLevel(level)
	if err != nil {
		return err
	}
	logger.SetLoggerFactory(createLogger)
	logger.GetLogger("bincache").SetLevel(lvl)
	return nil
}
