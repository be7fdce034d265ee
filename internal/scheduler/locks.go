package scheduler

import (
	"context"

	"go.uber.org/zap"
)

// acquireSweepLock guards a sweep run across instances. Without redis every
// instance sweeps; a redis error is logged and the sweep proceeds.
func (s *Scheduler) acquireSweepLock(ctx context.Context) (func(), bool) {
	noop := func() {}
	if s.locker == nil {
		return noop, true
	}

	token, ok, err := s.locker.TryLock(ctx, sweepLockKey, s.cfg.LockTTL)
	if err != nil {
		s.log.Warn("scheduler.lock.failed", zap.String("key", sweepLockKey), zap.Error(err))
		return noop, true
	}
	if !ok {
		return noop, false
	}

	return func() {
		if err := s.locker.Release(context.WithoutCancel(ctx), sweepLockKey, token); err != nil {
			s.log.Warn("scheduler.lock.release.failed", zap.String("key", sweepLockKey), zap.Error(err))
		}
	}, true
}
