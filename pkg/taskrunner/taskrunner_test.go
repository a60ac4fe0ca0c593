package taskrunner

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

func TestRunForever_StopsCooperatively(t *testing.T) {
	var runs int32
	r := New("test-cycle", 5*time.Millisecond, func(ctx context.Context) error {
		atomic.AddInt32(&runs, 1)
		return nil
	}, logrus.New())

	ctx := context.Background()
	go r.RunForever(ctx)

	time.Sleep(30 * time.Millisecond)
	r.Stop()
	r.Wait()

	assert.Equal(t, StateStopped, r.Status().State)
	assert.Greater(t, atomic.LoadInt32(&runs), int32(0))
}

func TestRunOnce_RecordsErrorInStatus(t *testing.T) {
	r := New("test-cycle", time.Minute, func(ctx context.Context) error {
		return assert.AnError
	}, logrus.New())

	_ = r.RunOnce(context.Background())
	status := r.Status()
	assert.Equal(t, int64(1), status.ErrorCount)
	assert.Equal(t, assert.AnError.Error(), status.LastError)
}

func TestRunForever_RespectsContextCancellation(t *testing.T) {
	r := New("test-cycle", time.Hour, func(ctx context.Context) error {
		return nil
	}, logrus.New())

	ctx, cancel := context.WithCancel(context.Background())
	go r.RunForever(ctx)

	time.Sleep(5 * time.Millisecond)
	cancel()
	r.Wait()

	assert.Equal(t, StateStopped, r.Status().State)
}
