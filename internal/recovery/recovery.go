// internal/recovery/recovery.go
package recovery

import (
	"os"
	"runtime/debug"

	"github.com/sirupsen/logrus"
)

// Logger receives panic reports. The standard logrus logger writes to stderr.
var Logger logrus.FieldLogger = logrus.StandardLogger()

var exit = os.Exit

func report(r any) {
	Logger.WithField("panic", r).Errorf("FATAL: %v\n\nStack trace:\n%s", r, debug.Stack())
}

// HandlePanic should be deferred at the top of main() or goroutines.
// It logs panic details and exits with code 1.
func HandlePanic() {
	if r := recover(); r != nil {
		report(r)
		exit(1)
	}
}

// HandlePanicFunc logs panic details and calls the provided cleanup function
// before exiting. Deferred in worker goroutines so a panicking processor
// still drains its NATS connection.
func HandlePanicFunc(cleanup func()) {
	if r := recover(); r != nil {
		report(r)
		if cleanup != nil {
			cleanup()
		}
		exit(1)
	}
}
