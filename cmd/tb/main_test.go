package main

import (
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"

	"taskbridge/internal/domain"
)

func TestParseDate(t *testing.T) {
	got, err := parseDate("")
	require.NoError(t, err)
	require.True(t, got.IsZero())

	got, err = parseDate("2024-03-04")
	require.NoError(t, err)
	require.Equal(t, time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC), got)

	got, err = parseDate("2024-03-04T10:30:00Z")
	require.NoError(t, err)
	require.Equal(t, 10, got.Hour())

	_, err = parseDate("04/03/2024")
	require.Error(t, err)
}

func TestCurrentActor(t *testing.T) {
	t.Cleanup(viper.Reset)

	viper.Set("actor-id", "  org-1 ")
	viper.Set("role", "organization")
	actor, err := currentActor()
	require.NoError(t, err)
	require.Equal(t, domain.Actor{ID: "org-1", Role: domain.RoleOrganization}, actor)

	viper.Set("role", "superuser")
	_, err = currentActor()
	require.Error(t, err)

	viper.Set("actor-id", "")
	viper.Set("role", "admin")
	_, err = currentActor()
	require.Error(t, err)
}

func TestFormatTime(t *testing.T) {
	require.Equal(t, "", formatTime(nil))
	ts := time.Date(2024, 3, 4, 10, 0, 0, 0, time.FixedZone("CET", 3600))
	require.Equal(t, "2024-03-04T09:00:00Z", formatTime(&ts))
}
