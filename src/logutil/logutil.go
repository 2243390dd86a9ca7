package logutil

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	logFileName = "typing_assistant.log"
	maxSizeMB   = 10
	maxArchives = 3
)

type Options struct {
	EnableFileLogging bool
	Debug             bool
	// Dir holds the log file; empty means the working directory.
	Dir string
}

// Logger bundles the sugared logger with the level it was built with, so the
// diagnostic hotkey can flip debug logging at runtime.
type Logger struct {
	*zap.SugaredLogger
	level zap.AtomicLevel
}

// Setup builds the process logger. File logging rotates by size (10MB, max 3
// archives); otherwise logs go to stderr.
func Setup(opts Options) *Logger {
	level := zap.NewAtomicLevelAt(zapcore.InfoLevel)
	if opts.Debug {
		level.SetLevel(zapcore.DebugLevel)
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	var core zapcore.Core
	if opts.EnableFileLogging {
		w := newFileWriter(filepath.Join(opts.Dir, logFileName))
		core = zapcore.NewCore(zapcore.NewJSONEncoder(encCfg), zapcore.AddSync(w), level)
	} else {
		core = consoleCore(encCfg, level)
	}

	return &Logger{
		SugaredLogger: zap.New(core, zap.AddCaller()).Sugar(),
		level:         level,
	}
}

// Nop returns a logger that discards everything. Used by tests and the CLI.
func Nop() *Logger {
	return &Logger{SugaredLogger: zap.NewNop().Sugar(), level: zap.NewAtomicLevel()}
}

// ToggleDebug switches between info and debug level and returns true when
// debug logging is now enabled.
func (l *Logger) ToggleDebug() bool {
	if l.level.Level() == zapcore.DebugLevel {
		l.level.SetLevel(zapcore.InfoLevel)
		return false
	}
	l.level.SetLevel(zapcore.DebugLevel)
	return true
}

func consoleCore(encCfg zapcore.EncoderConfig, level zap.AtomicLevel) zapcore.Core {
	encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
	return zapcore.NewCore(zapcore.NewConsoleEncoder(encCfg), zapcore.Lock(os.Stderr), level)
}

// newFileWriter rotates at 10 MB and keeps 3 archives.
func newFileWriter(path string) *lumberjack.Logger {
	return &lumberjack.Logger{
		Filename:   path,
		MaxSize:    maxSizeMB,
		MaxBackups: maxArchives,
	}
}

// RedactKey masks a token, leaving first/last 4 chars: xxxx...yyyy
func RedactKey(k string) string {
	if len(k) <= 8 {
		return "********"
	}
	return fmt.Sprintf("%s...%s", k[:4], k[len(k)-4:])
}

// SanitizeForLogging truncates text and escapes control characters so captured
// user text cannot flood or forge log lines.
func SanitizeForLogging(text string) string {
	const maxLogLength = 100
	if len(text) > maxLogLength {
		cut := maxLogLength
		for cut > 0 && !utf8.RuneStart(text[cut]) {
			cut--
		}
		text = text[:cut] + "..."
	}

	var b strings.Builder
	for _, r := range text {
		switch {
		case r == '\n' || r == '\r':
			b.WriteString("\\n")
		case r == '\t':
			b.WriteString("\\t")
		case r < 32 || r == 127:
			b.WriteByte('?')
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}
