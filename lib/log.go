package lib

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fatih/color"
	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	LogDirectory = "logs"
	LogFileName  = "log"
)

/*
	Leveled, colorized logging. Output goes to a writer of the caller's choosing or, by default, to stdout
	plus an auto-rotating log file under the data directory. Many engines may share a process (see the
	simulator), so each logger may carry a short name that prefixes every line.
*/

func init() {
	color.NoColor = false
}

// LoggerI defines the interface for various logging levels and formatted output
type LoggerI interface {
	Debug(msg string)
	Info(msg string)
	Warn(msg string)
	Error(msg string)
	Fatal(msg string)
	Print(msg string)
	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
	Fatalf(format string, args ...interface{})
	Printf(format string, args ...interface{})
}

const (
	DebugLevel int32 = -4
	InfoLevel  int32 = 0
	WarnLevel  int32 = 4
	ErrorLevel int32 = 8

	Reset = iota
	RED
	GREEN
	YELLOW
	BLUE
	GRAY
)

var _ LoggerI = &Logger{}

// LoggerConfig holds the logging level, the output writer and an optional line prefix
type LoggerConfig struct {
	Level int32  `json:"level"`
	Name  string `json:"name"`
	Out   io.Writer
}

// Logger is the concrete implementation of LoggerI
type Logger struct {
	config LoggerConfig
}

// Debug() logs a message at the Debug level with blue color
func (l *Logger) Debug(msg string) { l.log(DebugLevel, BLUE, "DEBUG: ", msg) }

// Info() logs a message at the Info level with green color
func (l *Logger) Info(msg string) { l.log(InfoLevel, GREEN, "INFO: ", msg) }

// Warn() logs a message at the Warn level with yellow color
func (l *Logger) Warn(msg string) { l.log(WarnLevel, YELLOW, "WARN: ", msg) }

// Error() logs a message at the Error level with red color
func (l *Logger) Error(msg string) { l.log(ErrorLevel, RED, "ERROR: ", msg) }

// Print() logs a message without any level or color
func (l *Logger) Print(msg string) { l.write(msg) }

// Fatal() logs an error message and terminates the program
func (l *Logger) Fatal(msg string) {
	l.write(colorString(RED, "FATAL: "+msg))
	os.Exit(1)
}

func (l *Logger) Debugf(format string, args ...interface{}) {
	l.log(DebugLevel, BLUE, "DEBUG: ", fmt.Sprintf(format, args...))
}

func (l *Logger) Infof(format string, args ...interface{}) {
	l.log(InfoLevel, GREEN, "INFO: ", fmt.Sprintf(format, args...))
}

func (l *Logger) Warnf(format string, args ...interface{}) {
	l.log(WarnLevel, YELLOW, "WARN: ", fmt.Sprintf(format, args...))
}

func (l *Logger) Errorf(format string, args ...interface{}) {
	l.log(ErrorLevel, RED, "ERROR: ", fmt.Sprintf(format, args...))
}

// Fatalf() logs a formatted error message and terminates the program
func (l *Logger) Fatalf(format string, args ...interface{}) { l.Fatal(fmt.Sprintf(format, args...)) }

func (l *Logger) Printf(format string, args ...interface{}) { l.write(fmt.Sprintf(format, args...)) }

// log() writes the message if the configured level permits it
func (l *Logger) log(level int32, c int, label, msg string) {
	if l.config.Level > level {
		return
	}
	l.write(colorString(c, label+msg))
}

// write() outputs the log line with a timestamp and the optional name to the configured writer
func (l *Logger) write(msg string) {
	line := colorString(GRAY, time.Now().Format(time.StampMilli))
	if l.config.Name != "" {
		line += " " + color.CyanString("[%s]", l.config.Name)
	}
	if _, err := l.config.Out.Write([]byte(fmt.Sprintf("%s %s\n", line, msg))); err != nil {
		fmt.Println(newLogError(err))
	}
}

// NewLogger() creates a new Logger; without a writer it logs to stdout and a rotating file under the data directory
func NewLogger(config LoggerConfig, dataDirPath ...string) LoggerI {
	if config.Out == nil {
		dir := DefaultDataDirPath()
		if len(dataDirPath) != 0 && dataDirPath[0] != "" {
			dir = dataDirPath[0]
		}
		logPath := filepath.Join(dir, LogDirectory, LogFileName)
		if _, err := os.Stat(logPath); errors.Is(err, os.ErrNotExist) {
			if err = os.MkdirAll(filepath.Join(dir, LogDirectory), os.ModePerm); err != nil {
				panic(err)
			}
		}
		logFile := &lumberjack.Logger{
			Filename:   logPath,
			MaxSize:    1, // megabyte
			MaxBackups: 1500,
			MaxAge:     14, // days
			Compress:   true,
		}
		config.Out = io.MultiWriter(os.Stdout, logFile)
	}
	return &Logger{config: config}
}

// NewDefaultLogger() creates a Logger at the Debug level to stdout
func NewDefaultLogger() LoggerI {
	return NewLogger(LoggerConfig{Level: DebugLevel, Out: os.Stdout})
}

// NewNullLogger() creates a Logger that discards all output
func NewNullLogger() LoggerI {
	return NewLogger(LoggerConfig{Level: DebugLevel, Out: io.Discard})
}

// colorString() returns a string with color applied, preserving line breaks
func colorString(c int, msg string) string {
	parts := strings.Split(msg, "\n")
	for i, part := range parts {
		parts[i] = cString(c, part)
	}
	return strings.Join(parts, "\n")
}

// cString() returns a string with a specific color applied
func cString(c int, msg string) string {
	switch c {
	case BLUE:
		return color.BlueString(msg)
	case RED:
		return color.RedString(msg)
	case YELLOW:
		return color.YellowString(msg)
	case GREEN:
		return color.GreenString(msg)
	case GRAY:
		return color.HiBlackString(msg)
	default:
		return color.WhiteString(msg)
	}
}
