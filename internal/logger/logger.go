package logger

import (
	"os"

	"github.com/sirupsen/logrus"
)

// Log is the process-wide logger. It is usable before Init (logrus defaults),
// so packages and tests never see a nil logger.
var Log = logrus.New()

// Init configures the shared logger. format is "json" (default) or "text";
// an unparsable level falls back to info.
func Init(level, format string) {
	Log.SetOutput(os.Stdout)

	if format == "text" {
		Log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	} else {
		Log.SetFormatter(&logrus.JSONFormatter{})
	}

	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	Log.SetLevel(lvl)
}

// For returns an entry tagged with the component name, e.g. "clipgen".
func For(component string) *logrus.Entry {
	return Log.WithField("component", component)
}
