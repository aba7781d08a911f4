package common

import (
	"fmt"
	"io"
	"log"
	"os"
	"slices"
	"strings"
	"sync/atomic"

	"github.com/lni/dragonboat/v4/logger"
)

// --------------------------------------------------------------------------
// Custom Logger (implements dragonboat's logger.ILogger)
// --------------------------------------------------------------------------

// mvkvLogger writes `LEVEL | name | message` lines. The level may be changed
// while other goroutines log.
type mvkvLogger struct {
	name   string
	level  atomic.Int32
	logger *log.Logger
}

func (l *mvkvLogger) SetLevel(level logger.LogLevel) {
	l.level.Store(int32(level))
}

func (l *mvkvLogger) enabled(level logger.LogLevel) bool {
	return logger.LogLevel(l.level.Load()) >= level
}

func (l *mvkvLogger) Debugf(format string, args ...interface{}) {
	if l.enabled(logger.DEBUG) {
		l.log("DEBUG", format, args...)
	}
}

func (l *mvkvLogger) Infof(format string, args ...interface{}) {
	if l.enabled(logger.INFO) {
		l.log("INFO", format, args...)
	}
}

func (l *mvkvLogger) Warningf(format string, args ...interface{}) {
	if l.enabled(logger.WARNING) {
		l.log("WARN", format, args...)
	}
}

func (l *mvkvLogger) Errorf(format string, args ...interface{}) {
	if l.enabled(logger.ERROR) {
		l.log("ERROR", format, args...)
	}
}

func (l *mvkvLogger) Panicf(format string, args ...interface{}) {
	if l.enabled(logger.CRITICAL) {
		panic(fmt.Sprintf(format, args...))
	}
}

func (l *mvkvLogger) log(levelStr string, format string, args ...interface{}) {
	l.logger.Printf("%-5s | %-15s | %s", levelStr, l.name, fmt.Sprintf(format, args...))
}

// --------------------------------------------------------------------------
// Logger Factory
// --------------------------------------------------------------------------

// logOutput receives every log line. Logs go to stderr so that command
// output on stdout stays machine readable.
var logOutput io.Writer = os.Stderr

// CreateLogger implements logger.Factory
func CreateLogger(pkgName string) logger.ILogger {
	l := &mvkvLogger{
		name:   pkgName,
		logger: log.New(logOutput, "", log.Ldate|log.Ltime),
	}
	l.level.Store(int32(logger.INFO))
	return l
}

// --------------------------------------------------------------------------
// Levels
// --------------------------------------------------------------------------

// ParseLogLevel converts a string level to logger.LogLevel
func ParseLogLevel(level string) (logger.LogLevel, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return logger.DEBUG, nil
	case "info":
		return logger.INFO, nil
	case "warning", "warn":
		return logger.WARNING, nil
	case "error":
		return logger.ERROR, nil
	default:
		return 0, fmt.Errorf("invalid log level: %s. must be one of debug, info, warn, error", level)
	}
}

// loggerNames lists every package logger of the module
var loggerNames = []string{
	"mvstore",
	"vacuum",
	"lstore",
	"engine",
	"syncer",
	"rpc",
	"transport/rpc",
	"cli",
}

// ParseLogLevels parses per logger overrides of the form
// "vacuum=debug,engine=error". An empty string yields no overrides.
func ParseLogLevels(list string) (map[string]logger.LogLevel, error) {
	out := make(map[string]logger.LogLevel)
	for _, part := range strings.Split(list, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		name, level, ok := strings.Cut(part, "=")
		if !ok {
			return nil, fmt.Errorf("invalid log level override %q, expected <logger>=<level>", part)
		}
		name = strings.TrimSpace(name)
		if !slices.Contains(loggerNames, name) {
			return nil, fmt.Errorf("unknown logger %q, must be one of %s", name, strings.Join(loggerNames, ", "))
		}
		lvl, err := ParseLogLevel(level)
		if err != nil {
			return nil, err
		}
		out[name] = lvl
	}
	return out, nil
}

// resolveLevels returns the level of every known logger: level, unless
// overrides names the logger
func resolveLevels(level, overrides string) (map[string]logger.LogLevel, error) {
	lvl, err := ParseLogLevel(level)
	if err != nil {
		return nil, err
	}
	custom, err := ParseLogLevels(overrides)
	if err != nil {
		return nil, err
	}
	out := make(map[string]logger.LogLevel, len(loggerNames))
	for _, name := range loggerNames {
		out[name] = lvl
		if l, ok := custom[name]; ok {
			out[name] = l
		}
	}
	return out, nil
}

// InitLoggers installs the custom format and sets the level of all
// loggers. overrides takes per logger levels, see ParseLogLevels. Nothing
// is changed if either argument is invalid.
func InitLoggers(level, overrides string) error {
	levels, err := resolveLevels(level, overrides)
	if err != nil {
		return err
	}
	logger.SetLoggerFactory(CreateLogger)
	for name, lvl := range levels {
		logger.GetLogger(name).SetLevel(lvl)
	}
	return nil
}
