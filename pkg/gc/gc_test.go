package gc

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLinearDecayIsMonotonicNonIncreasing(t *testing.T) {
	decay := LinearDecay(time.Hour, 5*time.Minute)

	assert.Equal(t, time.Hour, decay(0))
	assert.Equal(t, 5*time.Minute, decay(1))
	assert.Equal(t, 5*time.Minute, decay(1.5), "usage above 1 must clamp to the floor, not go negative")
	assert.Equal(t, time.Hour, decay(-1), "usage below 0 must clamp to the max")

	prev := decay(0.0)
	for _, usage := range []float64{0.1, 0.3, 0.5, 0.7, 0.9, 1.0} {
		cur := decay(usage)
		assert.LessOrEqual(t, cur, prev, "permitted age must never increase as usage grows")
		prev = cur
	}
}

func TestSweepRemovesDirectoriesOlderThanPermittedAge(t *testing.T) {
	root := t.TempDir()

	fresh := filepath.Join(root, "fresh-run")
	stale := filepath.Join(root, "stale-run")
	require.NoError(t, os.Mkdir(fresh, 0o755))
	require.NoError(t, os.Mkdir(stale, 0o755))

	now := time.Now()
	require.NoError(t, os.Chtimes(fresh, now, now))
	require.NoError(t, os.Chtimes(stale, now.Add(-2*time.Hour), now.Add(-2*time.Hour)))

	decay := LinearDecay(time.Hour, time.Hour) // constant 1h permitted age regardless of usage
	usage := func(string) (float64, error) { return 0.5, nil }

	c := New(zerolog.Nop(), root, decay, usage, time.Hour)
	c.clock = func() time.Time { return now }

	c.sweep()

	_, err := os.Stat(fresh)
	assert.NoError(t, err, "a sandbox younger than the permitted age must survive a sweep")

	_, err = os.Stat(stale)
	assert.True(t, os.IsNotExist(err), "a sandbox older than the permitted age must be removed")
}

func TestSweepHigherUsageShortensPermittedAge(t *testing.T) {
	root := t.TempDir()
	run := filepath.Join(root, "run")
	require.NoError(t, os.Mkdir(run, 0o755))

	now := time.Now()
	age := 30 * time.Minute
	require.NoError(t, os.Chtimes(run, now.Add(-age), now.Add(-age)))

	decay := LinearDecay(time.Hour, 10*time.Minute)
	usage := func(string) (float64, error) { return 0.9, nil } // permitted age well under 30m

	c := New(zerolog.Nop(), root, decay, usage, time.Hour)
	c.clock = func() time.Time { return now }

	c.sweep()

	_, err := os.Stat(run)
	assert.True(t, os.IsNotExist(err), "high usage must shrink the permitted age enough to collect this run")
}

func TestSweepToleratesMissingRoot(t *testing.T) {
	c := New(zerolog.Nop(), filepath.Join(t.TempDir(), "does-not-exist"),
		LinearDecay(time.Hour, time.Minute),
		func(string) (float64, error) { return 0, nil },
		time.Hour)

	assert.NotPanics(t, func() { c.sweep() })
}

func TestStartStopRunsAtLeastOneSweep(t *testing.T) {
	root := t.TempDir()
	stale := filepath.Join(root, "stale-run")
	require.NoError(t, os.Mkdir(stale, 0o755))
	old := time.Now().Add(-2 * time.Hour)
	require.NoError(t, os.Chtimes(stale, old, old))

	c := New(zerolog.Nop(), root, LinearDecay(time.Hour, time.Hour),
		func(string) (float64, error) { return 0, nil },
		10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	c.Start(ctx)

	require.Eventually(t, func() bool {
		_, err := os.Stat(stale)
		return os.IsNotExist(err)
	}, time.Second, 5*time.Millisecond)

	cancel()
	c.Stop()
}
