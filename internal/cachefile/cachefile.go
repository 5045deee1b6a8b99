// Package cachefile persists built artifacts (lexicon tries, word vocabularies) so repeated runs
// over the same inputs can skip the scan-and-build step.
//
// Writes are atomic: the content goes to a uniquely named temporary file that is renamed over the
// target only once it is complete, under a file lock shared by concurrent processes.
package cachefile

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

var (
	// DefaultDirCreationPerm is used when creating the directory of a cache file.
	DefaultDirCreationPerm = os.FileMode(0755)

	// LockRetryDelay is how long to wait between attempts to acquire a cache lock held by
	// another process.
	LockRetryDelay = 500 * time.Millisecond
)

// Exists returns whether path exists (and is not a directory).
func Exists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// WriteAtomic calls write with a buffered writer to a temporary file, and then atomically moves it to path.
//
// It uses a path+".lock" file to coordinate multiple processes writing the same cache at the same time.
func WriteAtomic(path string, write func(w io.Writer) error) error {
	if err := os.MkdirAll(filepath.Dir(path), DefaultDirCreationPerm); err != nil {
		return errors.Wrapf(err, "failed to create directory for cache file %q", path)
	}

	lockPath := path + ".lock"
	var mainErr error
	errLock := execOnFileLock(lockPath, func() {
		tmpPath := fmt.Sprintf("%s.%s.tmp", path, uuid.NewString())
		tmpFile, err := os.Create(tmpPath)
		if err != nil {
			mainErr = errors.Wrapf(err, "creating temporary cache file %q", tmpPath)
			return
		}
		var tmpFileClosed bool
		defer func() {
			// On error, close and remove the unfinished temporary file.
			if !tmpFileClosed {
				if err := tmpFile.Close(); err != nil {
					klog.Warningf("Failed closing temporary file %q: %v", tmpPath, err)
				}
				if err := os.Remove(tmpPath); err != nil {
					klog.Warningf("Failed removing temporary file %q: %v", tmpPath, err)
				}
			}
		}()

		bw := bufio.NewWriter(tmpFile)
		if err := write(bw); err != nil {
			mainErr = errors.WithMessagef(err, "while writing cache %q", tmpPath)
			return
		}
		if err := bw.Flush(); err != nil {
			mainErr = errors.Wrapf(err, "failed to flush cache file %q", tmpPath)
			return
		}
		if err := tmpFile.Sync(); err != nil {
			mainErr = errors.Wrapf(err, "failed to sync cache file %q", tmpPath)
			return
		}

		tmpFileClosed = true
		if err := tmpFile.Close(); err != nil {
			mainErr = errors.Wrapf(err, "failed to close temporary cache file %q", tmpPath)
			_ = os.Remove(tmpPath)
			return
		}
		if err := os.Rename(tmpPath, path); err != nil {
			mainErr = errors.Wrapf(err, "failed to move cache file %q to %q", tmpPath, path)
			_ = os.Remove(tmpPath)
			return
		}
	})
	if mainErr != nil {
		return mainErr
	}
	if errLock != nil {
		return errors.WithMessagef(errLock, "while locking %q to write %q", lockPath, path)
	}
	return nil
}

// execOnFileLock locks lockPath (creating it if needed), waiting for other holders, and executes fn.
//
// The lockPath is not removed.
func execOnFileLock(lockPath string, fn func()) (err error) {
	fileLock := flock.New(lockPath)
	locked, err := fileLock.TryLockContext(context.Background(), LockRetryDelay)
	if err != nil {
		return errors.Wrapf(err, "while trying to lock %q", lockPath)
	}
	if !locked {
		return errors.Errorf("failed to acquire lock %q", lockPath)
	}

	// Unlock even if fn() panics.
	defer func() {
		unlockErr := fileLock.Unlock()
		if unlockErr != nil {
			if err == nil {
				err = errors.Wrapf(unlockErr, "unlocking file %q", lockPath)
			} else {
				klog.Errorf("Error unlocking file %q: %v", lockPath, unlockErr)
			}
		}
	}()

	fn()
	return
}

// LoadOrBuild returns the value cached in path if it can be loaded, otherwise it builds it, persists it
// to path and only then returns it.
//
// An empty path disables caching: build is always called and nothing is written.
// A cache that fails to load (corrupt, or written by an incompatible version) is treated as a miss.
func LoadOrBuild[T any](path string, load func(r io.Reader) (T, error), build func() (T, error),
	save func(w io.Writer, value T) error) (T, error) {
	var zero T
	if path == "" {
		return build()
	}
	if Exists(path) {
		value, err := loadFile(path, load)
		if err == nil {
			klog.V(1).Infof("Loaded cache %q", path)
			return value, nil
		}
		klog.Warningf("Cache %q can't be used, rebuilding: %v", path, err)
	}

	value, err := build()
	if err != nil {
		return zero, err
	}
	err = WriteAtomic(path, func(w io.Writer) error { return save(w, value) })
	if err != nil {
		return zero, errors.WithMessagef(err, "while saving cache %q", path)
	}
	klog.V(1).Infof("Saved cache %q", path)
	return value, nil
}

func loadFile[T any](path string, load func(r io.Reader) (T, error)) (T, error) {
	var zero T
	f, err := os.Open(path)
	if err != nil {
		return zero, errors.Wrapf(err, "failed to open cache %q", path)
	}
	defer func() { _ = f.Close() }()
	value, err := load(bufio.NewReader(f))
	if err != nil {
		return zero, errors.WithMessagef(err, "while loading cache %q", path)
	}
	return value, nil
}
