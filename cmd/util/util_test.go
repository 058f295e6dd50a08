package util

import (
	"bytes"
	"io"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sidkik/syncwatch/pkg/config"
	"github.com/sidkik/syncwatch/pkg/errors"
)

func TestHandleFatalError(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		expOut string
	}{
		{
			name:   "Plain",
			err:    errors.WithContext(errors.New("connection refused"), "dial"),
			expOut: "dial: connection refused\n",
		},
		{
			name: "Friendly",
			err: errors.WithContext(config.SettingsNotFoundError{Path: "/app/sync-settings.yaml"},
				"resolve settings"),
			expOut: "Cannot find file \"/app/sync-settings.yaml\".\n" +
				"Run `sync-watch -c` in \"/app\" to create a new one.\n",
		},
	}

	for _, test := range tests {
		test := test
		t.Run(test.name, func(t *testing.T) {
			out, code := mockExit(t)
			HandleFatalError(test.err)
			assert.Equal(t, test.expOut, out.String())
			assert.Equal(t, 1, *code)
		})
	}
}

func mockExit(t *testing.T) (*bytes.Buffer, *int) {
	out := &bytes.Buffer{}
	code := -1

	stderr = out
	exit = func(c int) { code = c }
	t.Cleanup(func() {
		stderr = io.Writer(os.Stderr)
		exit = os.Exit
	})
	return out, &code
}
