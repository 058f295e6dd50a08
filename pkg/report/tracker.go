package report

import (
	"bytes"
	"net/http"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/sidkik/syncwatch/pkg/version"
)

const trackerContentType = "application/json"

// Mocked out for unit testing.
var (
	httpPost    = http.Post
	getHostname = os.Hostname
)

var trackerFormatter = &logrus.JSONFormatter{
	FieldMap: logrus.FieldMap{
		logrus.FieldKeyTime:  "timestamp",
		logrus.FieldKeyLevel: "status",
		logrus.FieldKeyMsg:   "message",
	},
}

// NewTrackerHook creates a hook that forwards errors to the tracker at
// `endpoint`. Entries are posted synchronously so that a crash report makes
// it out before the process exits.
func NewTrackerHook(endpoint string) logrus.Hook {
	return &trackerHook{
		endpoint: endpoint,
		levels:   []logrus.Level{logrus.ErrorLevel, logrus.FatalLevel, logrus.PanicLevel},
	}
}

type trackerHook struct {
	endpoint string
	levels   []logrus.Level
}

func (h *trackerHook) Levels() []logrus.Level {
	return h.levels
}

func (h *trackerHook) Fire(entry *logrus.Entry) error {
	data := logrus.Fields{
		"version": version.Version,
	}
	if hostname, err := getHostname(); err == nil {
		data["hostname"] = hostname
	}
	for k, v := range entry.Data {
		data[k] = v
	}

	// Copy the entry so that the tracker-specific fields aren't added to
	// the entry that's written to the other outputs.
	entryCopy := *entry
	entryCopy.Data = data

	// The tracker has no notion of panics, so they're reported as fatal.
	if entry.Level == logrus.PanicLevel {
		entryCopy.Level = logrus.FatalLevel
	}

	jsonBytes, err := trackerFormatter.Format(&entryCopy)
	if err != nil {
		logrus.WithError(err).Debug("Failed to marshal log entry for error tracker")
		return nil
	}

	resp, err := httpPost(h.endpoint, trackerContentType, bytes.NewReader(jsonBytes))
	if err != nil {
		logrus.WithError(err).Debug("Failed to send error report")
	} else {
		resp.Body.Close()
	}

	// Never return an error because doing so causes logrus to print it
	// directly to stderr.
	return nil
}
