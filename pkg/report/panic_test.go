package report

import (
	"bytes"
	"io"
	"os"
	"testing"

	"github.com/sirupsen/logrus"
	logrusTest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
)

func TestHandlePanic(t *testing.T) {
	out, code := mockExit(t)

	hook := logrusTest.NewGlobal()
	defer hook.Reset()

	func() {
		defer HandlePanic()
		panic("boom")
	}()

	assert.Equal(t, "Unexpected error: boom\n", out.String())
	assert.Equal(t, 1, *code)

	entry := hook.LastEntry()
	if assert.NotNil(t, entry) {
		assert.Equal(t, logrus.ErrorLevel, entry.Level)
		assert.Equal(t, "Unexpected panic: boom", entry.Message)
		assert.Contains(t, entry.Data, "stack")
	}
}

func TestHandlePanicInGoroutine(t *testing.T) {
	out, code := mockExit(t)

	hook := logrusTest.NewGlobal()
	defer hook.Reset()

	done := make(chan struct{})
	go func() {
		defer close(done)
		defer HandlePanic()
		panic("lost connection")
	}()
	<-done

	assert.Equal(t, "Unexpected error: lost connection\n", out.String())
	assert.Equal(t, 1, *code)
	if entry := hook.LastEntry(); assert.NotNil(t, entry) {
		assert.Equal(t, "Unexpected panic: lost connection", entry.Message)
	}
}

func TestHandlePanicNoPanic(t *testing.T) {
	out, code := mockExit(t)

	func() {
		defer HandlePanic()
	}()

	assert.Empty(t, out.String())
	assert.Equal(t, -1, *code)
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
