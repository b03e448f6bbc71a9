package scheduler

import "time"

// Alarm is a single re-armable timer. A disarmed alarm exposes a nil channel,
// so selecting on it blocks forever instead of polling.
type Alarm struct {
	timer *time.Timer
	armed bool
	at    time.Time
	now   func() time.Time
}

// NewAlarm creates a disarmed alarm
func NewAlarm() *Alarm {
	t := time.NewTimer(time.Hour)
	t.Stop()
	return &Alarm{timer: t, now: time.Now}
}

// Arm fires the alarm at the given instant, replacing any previous arming.
// Instants in the past fire immediately.
func (a *Alarm) Arm(at time.Time) {
	d := at.Sub(a.now())
	if d < 0 {
		d = 0
	}
	a.timer.Reset(d)
	a.armed = true
	a.at = at
}

// Disarm stops the alarm
func (a *Alarm) Disarm() {
	a.timer.Stop()
	a.armed = false
	a.at = time.Time{}
}

// C returns the channel the alarm fires on, or nil when disarmed
func (a *Alarm) C() <-chan time.Time {
	if !a.armed {
		return nil
	}
	return a.timer.C
}

// Fired marks the alarm as consumed after a receive on C
func (a *Alarm) Fired() {
	a.armed = false
	a.at = time.Time{}
}

// Sync arms the alarm for the earliest entry in l, or disarms it when l is empty
func (a *Alarm) Sync(l *RetryList) {
	if e, ok := l.Earliest(); ok {
		a.Arm(e.ResolveAt)
		return
	}
	a.Disarm()
}
