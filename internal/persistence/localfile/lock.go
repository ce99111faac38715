package localfile

import (
	"fmt"
	"os"
	"sync"
)

// locks holds one fileLock per document path so stores opened on the same
// directory within a process share a mutex.
var locks sync.Map

// fileLock serializes read-modify-write cycles on one document. The mutex
// covers goroutines of this process; the advisory lock on the companion
// .lock file covers other processes where the platform supports it.
type fileLock struct {
	mu   sync.Mutex
	path string
}

func lockFor(path string) *fileLock {
	l, _ := locks.LoadOrStore(path, &fileLock{path: path + ".lock"})
	return l.(*fileLock)
}

// acquire takes both locks and returns the function releasing them.
func (l *fileLock) acquire() (func(), error) {
	l.mu.Lock()
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		l.mu.Unlock()
		return nil, fmt.Errorf("localfile: open lock: %w", err)
	}
	if err := lockFile(f); err != nil {
		_ = f.Close()
		l.mu.Unlock()
		return nil, fmt.Errorf("localfile: lock %s: %w", l.path, err)
	}
	return func() {
		_ = unlockFile(f)
		_ = f.Close()
		l.mu.Unlock()
	}, nil
}
