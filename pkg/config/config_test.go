package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/ethan/rtp-egress-gateway/pkg/gwerrors"
	"github.com/ethan/rtp-egress-gateway/pkg/types"
	"github.com/stretchr/testify/require"
)

func TestLoadFromRawJSON(t *testing.T) {
	doc := `{
		"listen_addr": ":9000",
		"streams": [
			{"id": "front-door", "default": true, "video": {"port": 5000, "codec": "H264"}}
		]
	}`
	cfg, err := Load(doc)
	require.NoError(t, err)
	require.Equal(t, ":9000", cfg.ListenAddr)
	require.Len(t, cfg.Streams, 1)
	require.Equal(t, "front-door", cfg.Streams[0].ID)
}

func TestLoadDefaultsListenAddrWhenOmitted(t *testing.T) {
	cfg, err := Load(`{"streams":[]}`)
	require.NoError(t, err)
	require.Equal(t, "0.0.0.0:80", cfg.ListenAddr)
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "streams.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"listen_addr":":8080","streams":[]}`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, ":8080", cfg.ListenAddr)
	require.Empty(t, cfg.Streams)
}

func TestLoadNeitherJSONNorFile(t *testing.T) {
	_, err := Load("not json and not a path")
	require.Error(t, err)
	require.ErrorIs(t, err, gwerrors.ErrConfig)
}

func TestValidateDuplicateStreamID(t *testing.T) {
	cfg := &Config{
		ListenAddr: ":8080",
		Streams: []types.StreamDef{
			{ID: "a"},
			{ID: "a"},
		},
	}
	err := cfg.Validate()
	require.Error(t, err)
	require.True(t, errors.Is(err, gwerrors.ErrConfig))
}

func TestValidateMultipleDefaults(t *testing.T) {
	cfg := &Config{
		ListenAddr: ":8080",
		Streams: []types.StreamDef{
			{ID: "a", Default: true},
			{ID: "b", Default: true},
		},
	}
	err := cfg.Validate()
	require.Error(t, err)
}
