package task

import (
	"sync"
	"time"
)

// Cancel stops a scheduled job.
type Cancel func()

// ScheduleDailyAtUTC schedules a task for the next occurrence of
// hour:minute (UTC) and repeats it every 24 hours afterwards. Used for the
// daily analytics checkpoint. The returned Cancel stops the pending first
// run and the repeating job.
func (r *Router) ScheduleDailyAtUTC(hour, minute int, t Task) Cancel {
	hour = clampInt(hour, 0, 23)
	minute = clampInt(minute, 0, 59)
	const interval = 24 * time.Hour

	cancelCh := make(chan struct{})
	var once sync.Once

	var innerMu sync.Mutex
	var innerCancel func()

	cancel := func() {
		once.Do(func() {
			close(cancelCh)
			innerMu.Lock()
			if innerCancel != nil {
				innerCancel()
				innerCancel = nil
			}
			innerMu.Unlock()
		})
	}

	go func() {
		now := time.Now().UTC()
		target := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, time.UTC)
		if !now.Before(target) {
			target = target.Add(interval)
		}

		timer := time.NewTimer(time.Until(target))
		defer timer.Stop()

		select {
		case <-timer.C:
			repeater := r.ScheduleEvery(interval, t)
			innerMu.Lock()
			innerCancel = repeater
			innerMu.Unlock()
			<-cancelCh
		case <-cancelCh:
		}
	}()

	return cancel
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
