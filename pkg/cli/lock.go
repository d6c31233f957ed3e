package cli

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"

	"github.com/linkstorm/linkstorm/pkg/logging"
)

const (
	lockFileName   = ".linkstorm.lock"
	lockRetryDelay = 500 * time.Millisecond
)

// SessionLock keeps two linkstorm processes from writing into the same output folder. The lock file is left in
// place on release, removing it would let a waiting process lock an unlinked inode.
type SessionLock struct {
	lock *flock.Flock
}

func NewSessionLock(folder string) *SessionLock {
	return &SessionLock{lock: flock.New(filepath.Join(folder, lockFileName))}
}

func (l *SessionLock) Path() string {
	return l.lock.Path()
}

// Acquire takes the lock, waiting for another process to release it until ctx is done.
func (l *SessionLock) Acquire(ctx context.Context) error {
	logger := logging.GetLogger()
	logger.Debug().Str("blocking_lock_acquire", "false").Str("path", l.Path()).Msg("Waiting on Lock")
	locked, err := l.lock.TryLock()
	if err != nil {
		return fmt.Errorf("failed to lock %s: %w", l.Path(), err)
	}
	if locked {
		return nil
	}

	logger.Warn().
		Str("path", l.Path()).
		Str("message", "Another linkstorm process is writing to this folder, use a different --output to run both at once").
		Msg("Waiting on Lock")
	logger.Debug().Str("blocking_lock_acquire", "true").Msg("Waiting on Lock")
	locked, err = l.lock.TryLockContext(ctx, lockRetryDelay)
	if err != nil {
		return fmt.Errorf("failed to lock %s: %w", l.Path(), err)
	}
	if !locked {
		return fmt.Errorf("failed to lock %s", l.Path())
	}
	return nil
}

func (l *SessionLock) Release() error {
	return l.lock.Unlock()
}
