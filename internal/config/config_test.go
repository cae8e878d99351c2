package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	require.Equal(t, 24*time.Hour, cfg.OfferTTL())
	require.Equal(t, 48*time.Hour, cfg.ReplacementSLA())
	require.Equal(t, 100, cfg.Matching.ScoreScale)
	require.Equal(t, "local", cfg.Locking.Backend)
	require.Equal(t, []string{"*"}, cfg.Server.CORSOrigins)
}

func TestFromYAMLPartialFileKeepsDefaults(t *testing.T) {
	cfg, err := FromYAML([]byte("replacement:\n  sla_hours: 12\n"))
	require.NoError(t, err)
	require.Equal(t, 12*time.Hour, cfg.ReplacementSLA())
	require.Equal(t, 24*time.Hour, cfg.OfferTTL())
	require.Equal(t, "@every 1m", cfg.Sweeper.Schedule)
}

func TestFromYAMLRejectsBadValues(t *testing.T) {
	_, err := FromYAML([]byte("locking:\n  backend: etcd\n"))
	require.ErrorContains(t, err, "locking.backend")

	_, err = FromYAML([]byte("sweeper:\n  schedule: \"not a schedule\"\n"))
	require.ErrorContains(t, err, "sweeper.schedule")

	_, err = FromYAML([]byte("payout:\n  webhook_url: ftp://x\n"))
	require.ErrorContains(t, err, "webhook_url")

	_, err = FromYAML([]byte(":::"))
	require.Error(t, err)
}

func TestLoadOptional(t *testing.T) {
	dir := t.TempDir()
	cfg, err := LoadOptional(dir)
	require.NoError(t, err)
	require.Equal(t, 24, cfg.Offers.TTLHours)

	_, err = Load(dir)
	require.ErrorContains(t, err, "not found")

	require.NoError(t, os.WriteFile(filepath.Join(dir, FileName), []byte("offers:\n  ttl_hours: 6\n"), 0o644))
	cfg, err = Load(dir)
	require.NoError(t, err)
	require.Equal(t, 6*time.Hour, cfg.OfferTTL())
}
