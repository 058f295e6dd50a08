package report

import (
	"fmt"
	"io"
	"os"
	"runtime/debug"

	log "github.com/sirupsen/logrus"
)

// Mocked out for unit testing.
var (
	exit             = os.Exit
	stderr io.Writer = os.Stderr
)

// HandlePanic recovers from a panic, reports it, and exits with a non-zero
// status. It must be deferred directly, at the top of main and of every
// long-lived goroutine, since a panic can't be recovered from another
// goroutine.
func HandlePanic() {
	r := recover()
	if r == nil {
		return
	}

	// Logged at the error level so that it reaches the error tracker, if
	// one is configured.
	log.WithField("stack", string(debug.Stack())).Errorf("Unexpected panic: %v", r)
	fmt.Fprintf(stderr, "Unexpected error: %v\n", r)
	exit(1)
}
