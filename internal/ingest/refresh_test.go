package ingest

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRefreshRunner struct {
	calls  []string
	failAt string
}

func (r *fakeRefreshRunner) RunStep(ctx context.Context, schoolID int64, academicYear int, step string) error {
	r.calls = append(r.calls, step)
	if step == r.failAt {
		return errors.New("procedure error")
	}
	return nil
}

func TestRefreshPipeline(t *testing.T) {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	steps := []string{"refresh_rosters", "refresh_attendance", "refresh_dashboards"}

	t.Run("runs steps in order", func(t *testing.T) {
		runner := &fakeRefreshRunner{}
		p := NewRefreshPipeline(steps, runner, logger)

		select {
		case err := <-p.Trigger(context.Background(), 7, 2025):
			require.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Fatal("pipeline did not finish")
		}
		assert.Equal(t, steps, runner.calls)
	})

	t.Run("stops at first failing step", func(t *testing.T) {
		runner := &fakeRefreshRunner{failAt: "refresh_attendance"}
		p := NewRefreshPipeline(steps, runner, logger)

		select {
		case err := <-p.Trigger(context.Background(), 7, 2025):
			require.Error(t, err)
			assert.Contains(t, err.Error(), "refresh_attendance")
		case <-time.After(5 * time.Second):
			t.Fatal("pipeline did not finish")
		}
		assert.Equal(t, []string{"refresh_rosters", "refresh_attendance"}, runner.calls)
	})
}
