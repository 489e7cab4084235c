// Package logging builds the zap logger used by every command. Human-readable
// lines go to stderr; when a data directory is configured each run also
// writes a JSONL transcript under <data_dir>/runs.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Options configures New.
type Options struct {
	// Level is the console level: debug, info, warn or error.
	Level string
	// DataDir enables the per-run JSONL file when non-empty.
	DataDir string
	// RunID names the run; a new one is generated when empty.
	RunID string
	// Console defaults to os.Stderr.
	Console io.Writer
}

// Logger is a zap logger tied to one run.
type Logger struct {
	*zap.Logger
	RunID string
	// Path is the JSONL transcript, empty when file logging is off.
	Path string

	file *os.File
}

// NewRunID returns a fresh run identifier.
func NewRunID() string {
	return uuid.NewString()
}

// RunLogPath is where the transcript for runID is written.
func RunLogPath(dataDir, runID string) string {
	return filepath.Join(dataDir, "runs", runID+".jsonl")
}

// New builds a run logger.
func New(opts Options) (*Logger, error) {
	level := zapcore.InfoLevel
	if opts.Level != "" {
		parsed, err := zapcore.ParseLevel(strings.ToLower(opts.Level))
		if err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", opts.Level, err)
		}
		level = parsed
	}
	if opts.RunID == "" {
		opts.RunID = NewRunID()
	}
	console := opts.Console
	if console == nil {
		console = os.Stderr
	}

	encCfg := zap.NewDevelopmentEncoderConfig()
	encCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
	if console != os.Stderr {
		encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
	}
	cores := []zapcore.Core{
		redactCore{zapcore.NewCore(zapcore.NewConsoleEncoder(encCfg), zapcore.AddSync(console), level)},
	}

	out := &Logger{RunID: opts.RunID}
	if opts.DataDir != "" {
		path := RunLogPath(opts.DataDir, opts.RunID)
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return nil, fmt.Errorf("create run log dir: %w", err)
		}
		f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
		if err != nil {
			return nil, fmt.Errorf("open run log: %w", err)
		}

		// The transcript keeps debug records regardless of the console level.
		fileCfg := zap.NewProductionEncoderConfig()
		fileCfg.EncodeTime = zapcore.ISO8601TimeEncoder
		cores = append(cores, redactCore{zapcore.NewCore(zapcore.NewJSONEncoder(fileCfg), zapcore.AddSync(f), zapcore.DebugLevel)})

		out.Path = path
		out.file = f
	}

	out.Logger = zap.New(zapcore.NewTee(cores...)).With(zap.String("run_id", opts.RunID))
	return out, nil
}

// redactCore masks project keys in messages, string fields and errors
// before they are encoded.
type redactCore struct {
	zapcore.Core
}

func (c redactCore) With(fields []zapcore.Field) zapcore.Core {
	return redactCore{c.Core.With(redactFields(fields))}
}

func (c redactCore) Check(ent zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if c.Enabled(ent.Level) {
		return ce.AddCore(ent, c)
	}
	return ce
}

func (c redactCore) Write(ent zapcore.Entry, fields []zapcore.Field) error {
	ent.Message = RedactText(ent.Message)
	return c.Core.Write(ent, redactFields(fields))
}

func redactFields(fields []zapcore.Field) []zapcore.Field {
	out := make([]zapcore.Field, len(fields))
	for i, f := range fields {
		switch f.Type {
		case zapcore.StringType:
			f.String = RedactText(f.String)
		case zapcore.ErrorType:
			if err, ok := f.Interface.(error); ok {
				f = zap.String(f.Key, RedactText(err.Error()))
			}
		}
		out[i] = f
	}
	return out
}

// Close flushes the logger and closes the transcript.
func (l *Logger) Close() error {
	if l == nil {
		return nil
	}
	_ = l.Logger.Sync()
	if l.file != nil {
		err := l.file.Close()
		l.file = nil
		return err
	}
	return nil
}
