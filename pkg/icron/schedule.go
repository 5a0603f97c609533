package icron

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

type TriggerInfo struct {
	Next       time.Time
	Last       time.Time
	Expression string

	TimeSinceLast time.Duration
	TimeUntilNext time.Duration
}

// GetTriggerInfo reports the closest scheduled activations around refTime
// for a standard five-field expression (descriptors like @daily included).
func GetTriggerInfo(cronExpr string, refTime time.Time) (*TriggerInfo, error) {
	schedule, err := cron.ParseStandard(cronExpr)
	if err != nil {
		return nil, fmt.Errorf("invalid cron expression: %w", err)
	}

	info := &TriggerInfo{
		Expression: cronExpr,
		Next:       schedule.Next(refTime),
		Last:       lastActivation(schedule, refTime),
	}
	if !info.Last.IsZero() {
		info.TimeSinceLast = refTime.Sub(info.Last)
	}
	info.TimeUntilNext = info.Next.Sub(refTime)
	return info, nil
}

// Due reports whether a job last run at lastRun has missed an activation
// scheduled at or before now. A zero lastRun is always due.
func Due(cronExpr string, lastRun, now time.Time) (bool, error) {
	if lastRun.IsZero() {
		if _, err := cron.ParseStandard(cronExpr); err != nil {
			return false, fmt.Errorf("invalid cron expression: %w", err)
		}
		return true, nil
	}
	info, err := GetTriggerInfo(cronExpr, now)
	if err != nil {
		return false, err
	}
	return !info.Last.IsZero() && info.Last.After(lastRun), nil
}

// lastActivation walks back hour by hour, up to a year, until the schedule
// yields an activation that is not after refTime.
func lastActivation(schedule cron.Schedule, refTime time.Time) time.Time {
	searchStart := refTime.Add(-time.Minute)
	var prev time.Time
	for i := range 366 * 24 {
		candidate := schedule.Next(searchStart.Add(-time.Duration(i) * time.Hour))
		if candidate.After(refTime) {
			continue
		}
		// keep the latest activation reachable from this candidate
		for {
			next := schedule.Next(candidate)
			if next.After(refTime) {
				break
			}
			candidate = next
		}
		prev = candidate
		break
	}
	return prev
}
