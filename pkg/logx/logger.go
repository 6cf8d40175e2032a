package logx

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// Logger is the structured logger shared by every netswitch component.
// Messages take alternating key/value pairs after the message text.
type Logger struct {
	entry *logrus.Entry
}

// NewLogger creates a logger at the given level tagged with a component name.
// Set NETSWITCH_LOG_FORMAT=json to switch to JSON output.
func NewLogger(level, component string) *Logger {
	return NewLoggerWithWriter(level, component, os.Stderr)
}

// NewLoggerWithWriter is NewLogger writing to w.
func NewLoggerWithWriter(level, component string, w io.Writer) *Logger {
	base := logrus.New()
	base.SetOutput(w)
	if strings.EqualFold(os.Getenv("NETSWITCH_LOG_FORMAT"), "json") {
		base.SetFormatter(&logrus.JSONFormatter{})
	} else {
		base.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	l := &Logger{entry: logrus.NewEntry(base)}
	if component != "" {
		l.entry = l.entry.WithField("component", component)
	}
	l.SetLevel(level)
	return l
}

// Nop returns a logger that discards everything.
func Nop() *Logger {
	return NewLoggerWithWriter("error", "", io.Discard)
}

// SetLevel changes the log level. Unknown levels fall back to info; "trace"
// enables the verbose helpers.
func (l *Logger) SetLevel(level string) {
	lvl, err := logrus.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil {
		lvl = logrus.InfoLevel
	}
	l.base().SetLevel(lvl)
}

// Level returns the current level name.
func (l *Logger) Level() string {
	return l.base().GetLevel().String()
}

// With returns a child logger carrying the given key/value pairs.
func (l *Logger) With(keyvals ...interface{}) *Logger {
	return &Logger{entry: l.get().WithFields(fields(keyvals))}
}

func (l *Logger) Debug(msg string, keyvals ...interface{}) {
	l.get().WithFields(fields(keyvals)).Debug(msg)
}

func (l *Logger) Info(msg string, keyvals ...interface{}) {
	l.get().WithFields(fields(keyvals)).Info(msg)
}

func (l *Logger) Warn(msg string, keyvals ...interface{}) {
	l.get().WithFields(fields(keyvals)).Warn(msg)
}

func (l *Logger) Error(msg string, keyvals ...interface{}) {
	l.get().WithFields(fields(keyvals)).Error(msg)
}

// LogStateChange records a state machine transition.
func (l *Logger) LogStateChange(component, from, to, reason string, data map[string]interface{}) {
	f := logrus.Fields{
		"state_component": component,
		"from":            from,
		"to":              to,
		"reason":          reason,
	}
	for k, v := range data {
		f[k] = v
	}
	l.get().WithFields(f).Debug("state_change")
}

// LogSwitch records a profile or interface switch.
func (l *Logger) LogSwitch(from, to, reason string, data map[string]interface{}) {
	f := logrus.Fields{
		"from":   from,
		"to":     to,
		"reason": reason,
	}
	for k, v := range data {
		f[k] = v
	}
	l.get().WithFields(f).Info("switch")
}

// LogVerbose logs an event at trace level.
func (l *Logger) LogVerbose(event string, data map[string]interface{}) {
	l.get().WithFields(logrus.Fields(data)).Trace(event)
}

// LogDebugVerbose logs an event at debug level with its data.
func (l *Logger) LogDebugVerbose(event string, data map[string]interface{}) {
	l.get().WithFields(logrus.Fields(data)).Debug(event)
}

// get tolerates a zero Logger value.
func (l *Logger) get() *logrus.Entry {
	if l == nil || l.entry == nil {
		return logrus.NewEntry(logrus.StandardLogger())
	}
	return l.entry
}

func (l *Logger) base() *logrus.Logger {
	return l.get().Logger
}

func fields(keyvals []interface{}) logrus.Fields {
	f := make(logrus.Fields, len(keyvals)/2+1)
	for i := 0; i < len(keyvals); i += 2 {
		key := fmt.Sprint(keyvals[i])
		if i+1 >= len(keyvals) {
			f[key] = "(missing)"
			break
		}
		if err, ok := keyvals[i+1].(error); ok {
			f[key] = err.Error()
			continue
		}
		f[key] = keyvals[i+1]
	}
	return f
}
