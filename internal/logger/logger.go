package logger

import (
	"io"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
)

var (
	// Log is the process-wide logger. Components take an Entry derived from it.
	Log     = logrus.New()
	logFile *os.File
)

func init() {
	Log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
}

// Init configures the level and, when logFilePath is set, tees output into that file.
func Init(logFilePath, level string) error {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	Log.SetLevel(lvl)

	if logFilePath == "" {
		Log.SetOutput(os.Stdout)
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(logFilePath), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(logFilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	Cleanup()
	logFile = f
	Log.SetOutput(io.MultiWriter(os.Stdout, f))
	return nil
}

// Cleanup closes the log file when the application is done using it
func Cleanup() {
	if logFile != nil {
		logFile.Close()
		logFile = nil
	}
}

// Component returns an entry tagged with the component name.
func Component(name string) *logrus.Entry {
	return Log.WithField("component", name)
}

// Discard returns an entry that writes nowhere, for tests and optional loggers.
func Discard() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

// OrDiscard returns entry, or a discarding entry when entry is nil.
func OrDiscard(entry *logrus.Entry) *logrus.Entry {
	if entry == nil {
		return Discard()
	}
	return entry
}

func Info(v ...interface{}) {
	Log.Info(v...)
}

func Warn(v ...interface{}) {
	Log.Warn(v...)
}

func Error(v ...interface{}) {
	Log.Error(v...)
}
