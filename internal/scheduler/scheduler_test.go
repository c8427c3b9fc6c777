package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToSixField(t *testing.T) {
	assert.Equal(t, "0 ", toSixField(""))
	assert.Equal(t, "0 0 2 * * *", toSixField("0 2 * * *"))
	assert.Equal(t, "0 0 2 * * *", toSixField("0 0 2 * * *"))
}

func TestScheduler_RegisterAndUnregister(t *testing.T) {
	s := New(nil)
	err := s.Register(Job{Name: "test-job", Spec: "0 * * * * *", Fn: func(ctx context.Context) error { return nil }})
	require.NoError(t, err)

	_, ok := s.NextRun("test-job")
	assert.True(t, ok)

	s.Unregister("test-job")
	_, ok = s.NextRun("test-job")
	assert.False(t, ok)
}

func TestScheduler_RegisterInvalidSpec(t *testing.T) {
	s := New(nil)
	err := s.Register(Job{Name: "bad-job", Spec: "not a cron expr", Fn: func(ctx context.Context) error { return nil }})
	assert.Error(t, err)
}

func TestScheduler_NextRunUnknownJob(t *testing.T) {
	s := New(nil)
	_, ok := s.NextRun("never-registered")
	assert.False(t, ok)
}

func TestScheduler_StartShutdown_NoJobsStuck(t *testing.T) {
	s := New(nil)
	fired := make(chan struct{}, 1)
	err := s.Register(Job{
		Name: "fast-job",
		Spec: "*/1 * * * * *",
		Fn: func(ctx context.Context) error {
			select {
			case fired <- struct{}{}:
			default:
			}
			return nil
		},
	})
	require.NoError(t, err)

	s.Start()
	select {
	case <-fired:
	case <-time.After(3 * time.Second):
		t.Fatal("job never fired within 3s")
	}
	s.Shutdown(2 * time.Second)
}
