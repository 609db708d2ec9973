package stats

import (
	"context"
	"testing"
	"time"

	"github.com/ethan/rtp-egress-gateway/pkg/logger"
	"github.com/stretchr/testify/require"
)

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New(logger.NewConfig())
	require.NoError(t, err)
	return log
}

func TestNewTakesAnInitialReading(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	r, err := New(ctx, testLogger(t))
	require.NoError(t, err)

	st := r.Status()
	require.NotZero(t, st.ProcID)
	require.NotZero(t, st.MemTotalBytes)
	require.NotZero(t, st.CPUCount)
}

func TestReaderKeepsLastReadingAfterStop(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	r, err := New(ctx, testLogger(t))
	require.NoError(t, err)

	first := r.Status()
	require.NotZero(t, first.UptimeSeconds)

	cancel()

	// The background updater must stop without panicking once ctx is
	// cancelled; the last cached reading stays available.
	time.Sleep(20 * time.Millisecond)
	require.Equal(t, first.ProcID, r.Status().ProcID)
}
