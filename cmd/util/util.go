package util

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"runtime/debug"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/fontsync/fontsync/pkg/errors"
	"github.com/fontsync/fontsync/pkg/version"
)

// Mocked for unit testing.
var (
	stdin  io.Reader = os.Stdin
	stdout io.Writer = os.Stdout
)

// HandleFatalError prints a friendly version of the given error and exits.
func HandleFatalError(err error) {
	fmt.Fprintln(os.Stderr, errors.GetPrintableMessage(err))
	os.Exit(1)
}

// PromptYesOrNo asks the user the given question and returns their answer.
// Anything other than a "y" or "yes" answer counts as a no.
func PromptYesOrNo(question string) (bool, error) {
	fmt.Fprintf(stdout, "%s (y/N): ", question)

	answer, err := bufio.NewReader(stdin).ReadString('\n')
	if err != nil {
		return false, errors.WithContext(err, "read answer")
	}

	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "y", "yes":
		return true, nil
	default:
		return false, nil
	}
}

// HandlePanic recovers from panics in the main goroutine so users see a
// report instead of a raw stack trace.
func HandlePanic() {
	r := recover()
	if r == nil {
		return
	}

	log.WithField("version", version.Version).
		Errorf("Unexpected crash: %v\n\n%s", r, debug.Stack())
	os.Exit(1)
}
