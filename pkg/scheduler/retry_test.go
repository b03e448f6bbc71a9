package scheduler

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRetryListScheduleKeepsEarliest(t *testing.T) {
	base := time.Now()
	id := uuid.New()

	tests := []struct {
		name   string
		first  time.Duration
		second time.Duration
		want   time.Duration
	}{
		{name: "sooner replaces later", first: 10 * time.Second, second: 2 * time.Second, want: 2 * time.Second},
		{name: "later is ignored", first: 2 * time.Second, second: 10 * time.Second, want: 2 * time.Second},
		{name: "equal keeps one", first: 5 * time.Second, second: 5 * time.Second, want: 5 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := NewRetryList()
			l.Schedule(id, base.Add(tt.first))
			effective := l.Schedule(id, base.Add(tt.second))

			assert.Equal(t, 1, l.Len())
			assert.Equal(t, base.Add(tt.want), effective.ResolveAt)
			at, ok := l.Get(id)
			require.True(t, ok)
			assert.Equal(t, base.Add(tt.want), at)
		})
	}
}

func TestRetryListEarliest(t *testing.T) {
	l := NewRetryList()

	_, ok := l.Earliest()
	assert.False(t, ok, "empty list has no earliest entry")

	base := time.Now()
	a, b, c := uuid.New(), uuid.New(), uuid.New()
	l.Schedule(a, base.Add(3*time.Second))
	l.Schedule(b, base.Add(1*time.Second))
	l.Schedule(c, base.Add(2*time.Second))

	e, ok := l.Earliest()
	require.True(t, ok)
	assert.Equal(t, b, e.ResourceID)
	assert.Equal(t, 3, l.Len(), "Earliest must not remove the entry")

	assert.True(t, l.Remove(b))
	assert.False(t, l.Remove(b))

	e, ok = l.Earliest()
	require.True(t, ok)
	assert.Equal(t, c, e.ResourceID)
}

func TestRetryListClear(t *testing.T) {
	l := NewRetryList()
	for i := 0; i < 5; i++ {
		l.Schedule(uuid.New(), time.Now().Add(time.Duration(i)*time.Second))
	}
	l.Clear()

	assert.Equal(t, 0, l.Len())
	_, ok := l.Earliest()
	assert.False(t, ok)
}

func TestAlarmFiresForEarliest(t *testing.T) {
	l := NewRetryList()
	a := NewAlarm()

	assert.Nil(t, a.C(), "disarmed alarm must expose a nil channel")

	id := uuid.New()
	l.Schedule(id, time.Now().Add(20*time.Millisecond))
	a.Sync(l)

	select {
	case <-a.C():
		a.Fired()
	case <-time.After(time.Second):
		t.Fatal("alarm did not fire")
	}
	assert.Nil(t, a.C())
}

func TestAlarmRearmReplacesPrevious(t *testing.T) {
	a := NewAlarm()
	a.Arm(time.Now().Add(time.Hour))
	a.Arm(time.Now().Add(10 * time.Millisecond))

	select {
	case <-a.C():
	case <-time.After(time.Second):
		t.Fatal("re-armed alarm did not fire at the new instant")
	}
}

func TestAlarmSyncDisarmsWhenEmpty(t *testing.T) {
	l := NewRetryList()
	a := NewAlarm()
	a.Arm(time.Now().Add(10 * time.Millisecond))

	a.Sync(l)
	assert.Nil(t, a.C())
}

func TestAlarmPastInstantFiresImmediately(t *testing.T) {
	a := NewAlarm()
	a.Arm(time.Now().Add(-time.Minute))

	select {
	case <-a.C():
	case <-time.After(100 * time.Millisecond):
		t.Fatal("past instant should fire immediately")
	}
}
