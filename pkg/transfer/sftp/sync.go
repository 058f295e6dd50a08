package sftp

import (
	"context"
	"io"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"github.com/sidkik/syncwatch/pkg/errors"
	"github.com/sidkik/syncwatch/pkg/transfer"
)

var errConnectionLost = errors.New("connection lost")

// fileInfo is the subset of file metadata used to decide whether a file
// needs to be uploaded.
type fileInfo struct {
	isDir   bool
	size    int64
	modTime time.Time
}

// tree maps slash-separated paths relative to the synced root to their
// metadata.
type tree map[string]fileInfo

// Synchronize mirrors the local directory onto the remote directory. Files
// that are missing remotely or whose size or modification time differ are
// uploaded, and remote files that no longer exist locally are removed.
func (c *connection) Synchronize(ctx context.Context, req transfer.Request) (transfer.Result, error) {
	mask, err := transfer.ParseMask(req.FileMask, req.Exclude...)
	if err != nil {
		return transfer.Result{}, errors.WithContext(err, "parse file mask")
	}

	if err := c.ensureConnected(ctx); err != nil {
		return transfer.Result{}, errors.WithContext(err, "reconnect")
	}

	// Remote paths are compared against the walker's, which are always
	// clean.
	req.RemotePath = path.Clean(req.RemotePath)

	local, err := localTree(c.fs, req.LocalPath, mask)
	if err != nil {
		return transfer.Result{}, errors.WithContext(err, "list local files")
	}

	remote, err := c.remoteTree(req.RemotePath, mask)
	if err != nil {
		c.checkLost(err)
		return transfer.Result{}, errors.WithContext(err, "list remote files")
	}

	var result transfer.Result
	if err := c.client.MkdirAll(req.RemotePath); err != nil {
		c.checkLost(err)
		return result, errors.WithContext(err, "create remote root")
	}

	for _, rel := range sortedPaths(local) {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		localInfo := local[rel]
		remoteInfo, remoteExists := remote[rel]
		remotePath := path.Join(req.RemotePath, rel)

		if localInfo.isDir {
			if remoteExists && remoteInfo.isDir {
				continue
			}
			if err := c.client.Mkdir(remotePath); err != nil {
				c.checkLost(err)
				result.Failures = append(result.Failures,
					transfer.FileError{Path: remotePath, Op: "mkdir", Err: err})
			}
			continue
		}

		if remoteExists && !needsUpload(localInfo, remoteInfo) {
			continue
		}

		localPath := filepath.Join(req.LocalPath, filepath.FromSlash(rel))
		outcome := c.uploadFile(localPath, remotePath, localInfo)
		result.Outcomes = append(result.Outcomes, outcome)
		result.Failures = append(result.Failures, outcomeFailures(outcome)...)
		if c.lost {
			return result, errors.WithContext(errConnectionLost, "upload "+remotePath)
		}
	}

	// Remove deeper paths first so that directories are empty by the time
	// they're removed.
	stale := sortedPaths(remote)
	sort.Sort(sort.Reverse(sort.StringSlice(stale)))
	for _, rel := range stale {
		if _, ok := local[rel]; ok {
			continue
		}
		if err := ctx.Err(); err != nil {
			return result, err
		}

		remotePath := path.Join(req.RemotePath, rel)
		if remote[rel].isDir {
			if err := c.client.RemoveDirectory(remotePath); err != nil {
				c.checkLost(err)
				result.Failures = append(result.Failures,
					transfer.FileError{Path: remotePath, Op: "rmdir", Err: err})
			}
			continue
		}

		err := c.client.Remove(remotePath)
		c.checkLost(err)
		outcome := transfer.Outcome{
			FileName:    filepath.Join(req.LocalPath, filepath.FromSlash(rel)),
			Destination: remotePath,
			Removal:     &transfer.RemovalResult{FileName: remotePath, Error: err},
		}
		result.Outcomes = append(result.Outcomes, outcome)
		result.Failures = append(result.Failures, outcomeFailures(outcome)...)
	}
	return result, nil
}

// uploadFile copies the file, then sets its permissions and modification
// time. The permission and timestamp steps are skipped if the upload fails.
func (c *connection) uploadFile(localPath, remotePath string, info fileInfo) transfer.Outcome {
	outcome := transfer.Outcome{
		FileName:    localPath,
		Destination: remotePath,
	}

	size, err := c.copyFile(localPath, remotePath)
	c.checkLost(err)
	outcome.Upload = &transfer.UploadResult{Size: size, Error: err}
	if err != nil {
		return outcome
	}

	err = c.client.Chmod(remotePath, transfer.DefaultFilePermissions)
	c.checkLost(err)
	outcome.Chmod = &transfer.ChmodResult{
		FileName:    remotePath,
		Permissions: transfer.DefaultFilePermissions,
		Error:       err,
	}

	err = c.client.Chtimes(remotePath, info.modTime, info.modTime)
	c.checkLost(err)
	outcome.Touch = &transfer.TouchResult{
		FileName:      remotePath,
		LastWriteTime: info.modTime,
		Error:         err,
	}
	return outcome
}

func (c *connection) copyFile(localPath, remotePath string) (int64, error) {
	src, err := c.fs.Open(localPath)
	if err != nil {
		return 0, err
	}
	defer src.Close()

	dst, err := c.client.OpenFile(remotePath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC)
	if err != nil {
		return 0, err
	}

	n, err := io.Copy(dst, src)
	if closeErr := dst.Close(); err == nil {
		err = closeErr
	}
	return n, err
}

func outcomeFailures(outcome transfer.Outcome) (failures []error) {
	if u := outcome.Upload; u != nil && u.Error != nil {
		failures = append(failures, transfer.FileError{Path: outcome.FileName, Op: "upload", Err: u.Error})
	}
	if ch := outcome.Chmod; ch != nil && ch.Error != nil {
		failures = append(failures, transfer.FileError{Path: ch.FileName, Op: "chmod", Err: ch.Error})
	}
	if t := outcome.Touch; t != nil && t.Error != nil {
		failures = append(failures, transfer.FileError{Path: t.FileName, Op: "touch", Err: t.Error})
	}
	if r := outcome.Removal; r != nil && r.Error != nil {
		failures = append(failures, transfer.FileError{Path: r.FileName, Op: "remove", Err: r.Error})
	}
	return failures
}

// needsUpload compares at second granularity since that's all SFTP
// preserves.
func needsUpload(local, remote fileInfo) bool {
	if remote.isDir {
		return true
	}
	return local.size != remote.size ||
		!local.modTime.Truncate(time.Second).Equal(remote.modTime.Truncate(time.Second))
}

func localTree(fs afero.Fs, root string, mask transfer.Mask) (tree, error) {
	info, err := fs.Stat(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.FileNotFound{Path: root}
		}
		return nil, err
	}
	if !info.IsDir() {
		return nil, errors.InvalidPath{Path: root, Reason: "not a directory"}
	}

	files := tree{}
	walkFn := func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if p == root {
			return nil
		}

		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)

		if !mask.Match(rel, info.IsDir()) {
			if info.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		if !info.IsDir() && !info.Mode().IsRegular() {
			log.WithField("path", p).Debug("Skipping irregular file")
			return nil
		}

		files[rel] = fileInfo{isDir: info.IsDir(), size: info.Size(), modTime: info.ModTime()}
		return nil
	}
	return files, afero.Walk(fs, root, walkFn)
}

// remoteTree lists the remote directory. A missing root is treated as
// empty since it's created before the first upload.
func (c *connection) remoteTree(root string, mask transfer.Mask) (tree, error) {
	files := tree{}
	walker := c.client.Walk(root)
	for walker.Step() {
		if err := walker.Err(); err != nil {
			if walker.Path() == root && os.IsNotExist(err) {
				return files, nil
			}
			return nil, err
		}

		p := walker.Path()
		if p == root {
			continue
		}

		rel := strings.TrimPrefix(p, strings.TrimSuffix(root, "/")+"/")
		info := walker.Stat()
		if !mask.Match(rel, info.IsDir()) {
			if info.IsDir() {
				walker.SkipDir()
			}
			continue
		}
		files[rel] = fileInfo{isDir: info.IsDir(), size: info.Size(), modTime: info.ModTime()}
	}
	return files, nil
}

func sortedPaths(t tree) []string {
	paths := make([]string, 0, len(t))
	for p := range t {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}
