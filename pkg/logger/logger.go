package logger

import (
	"log"
	"sync"

	"github.com/fatih/color"
)

// Level represents the severity level of a log message.
type Level int

const (
	DebugLevel Level = iota
	InfoLevel
	NoticeLevel
	ErrorLevel
)

type chain int

const (
	none chain = iota
	eth
	op
	pol
	arb
	base
	bsc
	ava
)

var chainIDMap = map[int]chain{
	1:     eth,
	10:    op,
	137:   pol,
	42161: arb,
	8453:  base,
	56:    bsc,
	43114: ava,
}

var chainPrefixes = map[chain]string{
	none: "",
	eth:  "[ETH]  ",
	op:   "[OP]   ",
	pol:  "[POL]  ",
	arb:  "[ARB]  ",
	base: "[BASE] ",
	bsc:  "[BSC]  ",
	ava:  "[AVA]  ",
}

var colors = map[chain]color.Attribute{
	none: color.FgWhite,
	eth:  color.FgHiGreen,
	op:   color.FgHiRed,
	pol:  color.FgMagenta,
	arb:  color.FgHiBlue,
	base: color.FgBlue,
	bsc:  color.FgYellow,
	ava:  color.FgRed,
}

// Logger is a simple interface for logging messages.
type Logger interface {
	// Info logs an informational message.
	Info(format string, args ...interface{})
	InfoWithChain(chainID int, format string, args ...interface{})

	// Error logs an error message.
	Error(format string, args ...interface{})
	ErrorWithChain(chainID int, format string, args ...interface{})

	// Debug logs a debug message.
	Debug(format string, args ...interface{})
	DebugWithChain(chainID int, format string, args ...interface{})

	// Notice logs a notice message.
	Notice(format string, args ...interface{})
	NoticeWithChain(chainID int, format string, args ...interface{})
}

// EmptyLogger is a no-op implementation of the Logger interface.
type EmptyLogger struct{}

var _ Logger = (*EmptyLogger)(nil)

func (l *EmptyLogger) Info(_ string, _ ...interface{})                   {}
func (l *EmptyLogger) InfoWithChain(_ int, _ string, _ ...interface{})   {}
func (l *EmptyLogger) Error(_ string, _ ...interface{})                  {}
func (l *EmptyLogger) ErrorWithChain(_ int, _ string, _ ...interface{})  {}
func (l *EmptyLogger) Debug(_ string, _ ...interface{})                  {}
func (l *EmptyLogger) DebugWithChain(_ int, _ string, _ ...interface{})  {}
func (l *EmptyLogger) Notice(_ string, _ ...interface{})                 {}
func (l *EmptyLogger) NoticeWithChain(_ int, _ string, _ ...interface{}) {}

// StdLogger logs to the standard library logger with optional per-chain
// colored prefixes.
type StdLogger struct {
	enableColoring bool
	level          Level
	mu             sync.Mutex
}

var _ Logger = (*StdLogger)(nil)

func NewStdLogger(enableColoring bool, level Level) *StdLogger {
	return &StdLogger{
		enableColoring: enableColoring,
		level:          level,
	}
}

var levelPrefixes = map[Level]string{
	DebugLevel:  "[DEBUG]  ",
	InfoLevel:   "[INFO]   ",
	NoticeLevel: "[NOTICE] ",
	ErrorLevel:  "[ERROR]  ",
}

func (l *StdLogger) emit(level Level, chainID int, format string, args []interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.level > level {
		return
	}

	c := chainIDMap[chainID]
	prefix := chainPrefixes[c]
	if l.enableColoring && prefix != "" {
		prefix = color.New(colors[c]).Sprint(prefix)
	}
	log.Printf(levelPrefixes[level]+prefix+format, args...)
}

func (l *StdLogger) Info(format string, args ...interface{}) {
	l.emit(InfoLevel, 0, format, args)
}

func (l *StdLogger) InfoWithChain(chainID int, format string, args ...interface{}) {
	l.emit(InfoLevel, chainID, format, args)
}

func (l *StdLogger) Error(format string, args ...interface{}) {
	l.emit(ErrorLevel, 0, format, args)
}

func (l *StdLogger) ErrorWithChain(chainID int, format string, args ...interface{}) {
	l.emit(ErrorLevel, chainID, format, args)
}

func (l *StdLogger) Debug(format string, args ...interface{}) {
	l.emit(DebugLevel, 0, format, args)
}

func (l *StdLogger) DebugWithChain(chainID int, format string, args ...interface{}) {
	l.emit(DebugLevel, chainID, format, args)
}

func (l *StdLogger) Notice(format string, args ...interface{}) {
	l.emit(NoticeLevel, 0, format, args)
}

func (l *StdLogger) NoticeWithChain(chainID int, format string, args ...interface{}) {
	l.emit(NoticeLevel, chainID, format, args)
}
