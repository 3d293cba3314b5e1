// Package analytics ships usage events and error logs to a log intake
// endpoint. It's disabled unless an intake endpoint is configured, so
// self-hosted deployments report nothing by default.
package analytics

import (
	"bytes"
	"fmt"
	"io/ioutil"
	"net/http"
	"os"
	"runtime"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/fontsync/fontsync/pkg/version"
)

// EndpointEnvKey is the environment variable holding the log intake
// endpoint. Analytics are disabled when it's unset.
const EndpointEnvKey = "FONTSYNC_ANALYTICS_ENDPOINT"

var (
	// Log is the global analytics logger. Log events created via this object are
	// automatically pushed into the analytics intake.
	Log = newAnalyticsLogger()

	// Optional values for automatically enriching the analytics metadata.
	source  string
	session string

	// Mocked out for unit testing.
	httpPost = http.Post
	endpoint = os.Getenv(EndpointEnvKey)
)

func newAnalyticsLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(ioutil.Discard)

	// Don't actually publish analytics if no intake is configured, or if we
	// weren't compiled from `make` (i.e. we're most likely being called from
	// `go test`).
	if endpoint != "" && version.Version != version.EmptyValue {
		logger.AddHook(&hook{logrus.AllLevels, analyticsStream})
	}

	return logger
}

const (
	intakeContentType = "application/json"

	analyticsStream = "analytics"
	loggingStream   = "logging"
)

// intakeFormatter formats log entries according to the intake's preferred
// format.
var intakeFormatter = &logrus.JSONFormatter{
	FieldMap: logrus.FieldMap{
		logrus.FieldKeyTime:  "timestamp",
		logrus.FieldKeyLevel: "status",
		logrus.FieldKeyMsg:   "message",
	},
}

// NewLogHook creates a new hook that forwards warning and error logs to the
// analytics intake.
func NewLogHook() logrus.Hook {
	levels := []logrus.Level{logrus.WarnLevel, logrus.ErrorLevel}
	return &hook{levels, loggingStream}
}

// Enabled returns whether an analytics intake is configured.
func Enabled() bool {
	return endpoint != ""
}

// SetSource sets the source command that is automatically added to analytics
// events.
func SetSource(s string) {
	source = s
}

// SetSession sets the hub session ID that is automatically added to
// analytics events.
func SetSession(id string) {
	session = id
}

type hook struct {
	levels     []logrus.Level
	streamType string
}

func (h *hook) Levels() []logrus.Level {
	return h.levels
}

func (h *hook) Fire(entry *logrus.Entry) error {
	tags := []string{
		fmt.Sprintf("stream:%s", h.streamType),
		fmt.Sprintf("fontsync-version:%s", version.Version),
		fmt.Sprintf("platform:%s", runtime.GOOS),
	}
	if session != "" {
		tags = append(tags, fmt.Sprintf("session:%s", session))
	}

	dataCopy := map[string]interface{}{
		"source": source,
		"tags":   strings.Join(tags, ","),
	}
	for k, v := range entry.Data {
		dataCopy[k] = v
	}

	// Copy the entry so that we don't change it when we add intake-specific
	// values to Data.
	entryCopy := *entry
	entryCopy.Data = dataCopy

	// The intake doesn't have a concept of "panic" level, so we treat panics
	// as fatal errors.
	if entry.Level == logrus.PanicLevel {
		entryCopy.Level = logrus.FatalLevel
	}

	jsonBytes, err := intakeFormatter.Format(&entryCopy)
	if err != nil {
		logrus.WithError(err).Debug("Failed to marshal log entry for analytics")
		return nil
	}

	resp, err := httpPost(endpoint, intakeContentType, bytes.NewReader(jsonBytes))
	if err != nil {
		logrus.WithError(err).Debug("Failed to update analytics")
	} else {
		// Close the body to avoid leaking resources.
		resp.Body.Close()
	}

	// Never return an error because doing so causes the error to be printed
	// directly to `stderr`, which interleaves with command output:
	// https://github.com/Sirupsen/logrus/issues/116
	return nil
}
