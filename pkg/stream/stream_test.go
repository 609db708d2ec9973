package stream

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/ethan/rtp-egress-gateway/pkg/gwerrors"
	"github.com/ethan/rtp-egress-gateway/pkg/logger"
	"github.com/ethan/rtp-egress-gateway/pkg/types"
	"github.com/stretchr/testify/require"
)

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New(logger.NewConfig())
	require.NoError(t, err)
	return log
}

func camDef(id string) types.StreamDef {
	return types.StreamDef{
		ID:    id,
		Video: &types.TrackDef{Port: 0, Codec: types.CodecH264},
		Audio: &types.TrackDef{Port: 0, Codec: types.CodecVP8},
	}
}

func TestRegistryCreateAndGet(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reg := NewRegistry(ctx, testLogger(t))
	s, err := reg.Create(camDef("cam1"))
	require.NoError(t, err)
	require.NotNil(t, s.Video)
	require.NotNil(t, s.Audio)

	got, ok := reg.Get("cam1")
	require.True(t, ok)
	require.Same(t, s, got)

	_, ok = reg.Get("missing")
	require.False(t, ok)
}

func TestRegistryCreateDuplicateFails(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reg := NewRegistry(ctx, testLogger(t))
	_, err := reg.Create(camDef("cam1"))
	require.NoError(t, err)

	_, err = reg.Create(camDef("cam1"))
	require.Error(t, err, "duplicate id must be rejected, not panic")
}

func TestRegistryDeleteTerminatesTrack(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reg := NewRegistry(ctx, testLogger(t))
	s, err := reg.Create(camDef("cam1"))
	require.NoError(t, err)

	videoAddr := s.Video.Addr()

	require.NoError(t, reg.Delete("cam1"))

	_, ok := reg.Get("cam1")
	require.False(t, ok)

	// The Stream's ingest loops are cancelled on delete, so the sockets are
	// released and rebindable shortly after.
	require.Eventually(t, func() bool {
		ln, err := net.ListenUDP("udp4", videoAddr)
		if err != nil {
			return false
		}
		ln.Close()
		return true
	}, time.Second, 20*time.Millisecond, "video track socket should be released after stream deletion")
}

func TestRegistryDeleteMissingReturnsNotFound(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reg := NewRegistry(ctx, testLogger(t))
	err := reg.Delete("nope")
	require.True(t, errors.Is(err, gwerrors.ErrNotFound))
}

func TestRegistrySyncCreatesAndRemoves(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reg := NewRegistry(ctx, testLogger(t))
	require.NoError(t, reg.Sync([]types.StreamDef{camDef("cam1"), camDef("cam2")}))

	_, ok := reg.Get("cam1")
	require.True(t, ok)
	_, ok = reg.Get("cam2")
	require.True(t, ok)

	require.NoError(t, reg.Sync([]types.StreamDef{camDef("cam2")}))

	_, ok = reg.Get("cam1")
	require.False(t, ok, "cam1 dropped from the desired set must be torn down")
	_, ok = reg.Get("cam2")
	require.True(t, ok, "cam2 still desired must survive the sync")
}

func TestRegistrySyncIsIdempotent(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reg := NewRegistry(ctx, testLogger(t))
	defs := []types.StreamDef{camDef("cam1")}

	require.NoError(t, reg.Sync(defs))
	s1, _ := reg.Get("cam1")

	require.NoError(t, reg.Sync(defs))
	s2, _ := reg.Get("cam1")

	require.Same(t, s1, s2, "repeating the same sync must not recreate unchanged streams")
}

func TestRegistrySyncRecreatesChangedDef(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reg := NewRegistry(ctx, testLogger(t))
	require.NoError(t, reg.Sync([]types.StreamDef{camDef("cam1")}))
	s1, _ := reg.Get("cam1")

	changed := camDef("cam1")
	changed.Default = true
	require.NoError(t, reg.Sync([]types.StreamDef{changed}))

	s2, ok := reg.Get("cam1")
	require.True(t, ok)
	require.NotSame(t, s1, s2, "a changed definition for the same id must be closed and recreated")
	require.True(t, s2.Def.Default)
}

func TestRegistryListReturnsDefs(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reg := NewRegistry(ctx, testLogger(t))
	_, err := reg.Create(camDef("cam1"))
	require.NoError(t, err)

	defs := reg.List()
	require.Len(t, defs, 1)
	require.Equal(t, "cam1", defs[0].ID)
}

func TestStreamDoneClosesOnClose(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reg := NewRegistry(ctx, testLogger(t))
	s, err := reg.Create(camDef("cam1"))
	require.NoError(t, err)

	select {
	case <-s.Done():
		t.Fatal("stream must not be done before Close")
	default:
	}

	s.Close()

	select {
	case <-s.Done():
	case <-time.After(time.Second):
		t.Fatal("stream Done channel never closed after Close")
	}
}
