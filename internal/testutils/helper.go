package testutils

import (
	"encoding/json"
	"io"

	"github.com/sirupsen/logrus"
)

// MustJSON marshals v or panics. Test-only convenience.
func MustJSON(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return string(data)
}

// NewTestLogger returns a suppressed logger. Debug level is enabled so a test
// can point the output at os.Stderr while chasing a failure.
func NewTestLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.DebugLevel)
	logger.SetOutput(io.Discard)
	return logger
}
