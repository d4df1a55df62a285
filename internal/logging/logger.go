package logging

import (
	"os"

	"github.com/sirupsen/logrus"
)

var base = newBase()

var (
	Node     = base.WithField("component", "node")
	Stream   = base.WithField("component", "stream")
	Internal = base.WithField("component", "internal")
)

func newBase() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(os.Stdout)
	l.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})
	return l
}

// SetDebug raises the level for all component loggers.
func SetDebug(on bool) {
	if on {
		base.SetLevel(logrus.DebugLevel)
	} else {
		base.SetLevel(logrus.InfoLevel)
	}
}
