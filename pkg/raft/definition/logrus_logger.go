package definition

import (
	"os"

	"github.com/sirupsen/logrus"
)

// NewLogrusLogger builds the recommended types.Logger implementation: a
// structured, leveled logger with a "component" field so reactor and
// connection logs can be told apart in production. *logrus.Entry already
// exposes Debug/Debugf/Info/.../Fatalf with these exact signatures, so no
// adapter type is needed.
func NewLogrusLogger(component string, debug bool) *logrus.Entry {
	base := logrus.New()
	base.SetOutput(os.Stderr)
	base.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if debug {
		base.SetLevel(logrus.DebugLevel)
	} else {
		base.SetLevel(logrus.InfoLevel)
	}
	return base.WithField("component", component)
}
