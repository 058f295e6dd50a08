package fswatch

import (
	"os"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sidkik/syncwatch/pkg/errors"
)

func TestGetDirsToWatch(t *testing.T) {
	fs = afero.NewMemMapFs()
	defer func() { fs = afero.NewOsFs() }()

	dirs := []string{"/svc/src", "/svc/src/app", "/svc/src/app/controllers", "/svc/tests"}
	files := []string{"/svc/src/package.json", "/svc/src/app/controllers/index.js"}
	for _, dir := range dirs {
		require.NoError(t, fs.MkdirAll(dir, 0755))
	}
	for _, file := range files {
		require.NoError(t, afero.WriteFile(fs, file, []byte("testfile"), 0644))
	}

	paths, err := getDirsToWatch("/svc")
	assert.NoError(t, err)

	exp := append([]string{"/svc"}, dirs...)
	sort.Strings(exp)
	sort.Strings(paths)
	assert.Equal(t, exp, paths)

	_, err = getDirsToWatch("/missing")
	assert.Equal(t, errors.FileNotFound{Path: "/missing"}, err)

	_, err = getDirsToWatch("/svc/src/package.json")
	assert.IsType(t, errors.InvalidPath{}, err)
}

func TestTranslate(t *testing.T) {
	tests := []struct {
		op    fsnotify.Op
		expOp Op
		expOK bool
	}{
		{fsnotify.Create, Created, true},
		{fsnotify.Write, Modified, true},
		{fsnotify.Remove, Deleted, true},
		{fsnotify.Rename, Renamed, true},
		{fsnotify.Chmod, 0, false},
	}

	for _, test := range tests {
		event, ok := translate(fsnotify.Event{Name: "/a", Op: test.op})
		assert.Equal(t, test.expOK, ok, test.op.String())
		assert.Equal(t, test.expOp, event.Op, test.op.String())
	}
}

func TestSubscribe(t *testing.T) {
	root := t.TempDir()

	sub, err := NewSource().Subscribe(root)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(root, "index.js"), []byte("hi"), 0644))
	assertEventFor(t, sub.Events(), filepath.Join(root, "index.js"))

	// Files in directories created after the subscription started are
	// watched as well.
	subdir := filepath.Join(root, "src")
	require.NoError(t, os.Mkdir(subdir, 0755))
	assertEventFor(t, sub.Events(), subdir)

	// Give the watcher a moment to add the new directory.
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, os.WriteFile(filepath.Join(subdir, "app.js"), []byte("hi"), 0644))
	assertEventFor(t, sub.Events(), filepath.Join(subdir, "app.js"))

	assert.NoError(t, sub.Close())
	assert.NoError(t, sub.Close())

	// The events channel is closed once the subscription is closed.
	for range sub.Events() {
	}
}

func assertEventFor(t *testing.T, events <-chan Event, path string) {
	timeout := time.After(5 * time.Second)
	for {
		select {
		case event := <-events:
			if event.Path == path {
				return
			}
		case <-timeout:
			t.Fatalf("no event for %s", path)
		}
	}
}
