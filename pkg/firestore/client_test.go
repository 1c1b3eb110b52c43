package firestore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewClientDisabledIsNoOp(t *testing.T) {
	client, err := NewClient(context.Background(), &ClientConfig{Enabled: false})
	require.NoError(t, err)
	assert.False(t, client.IsEnabled())
}

func TestDisabledClientMirrorCallsAreNoOps(t *testing.T) {
	client, err := NewClient(context.Background(), &ClientConfig{Enabled: false})
	require.NoError(t, err)

	assert.NoError(t, client.MirrorCheckpoint(context.Background(), CheckpointSnapshot{CheckpointID: "cp-1"}))
	assert.NoError(t, client.MirrorIntegrityReport(context.Background(), IntegritySummarySnapshot{ReportID: "r-1"}))
	assert.NoError(t, client.Health(context.Background()))
	id, err := client.LatestCheckpointID(context.Background())
	require.NoError(t, err)
	assert.Empty(t, id)
}

func TestNewClientRequiresProjectIDWhenEnabled(t *testing.T) {
	_, err := NewClient(context.Background(), &ClientConfig{Enabled: true, ProjectID: ""})
	assert.Error(t, err)
}

func TestNilConfigFallsBackToDefaultConfig(t *testing.T) {
	t.Setenv("FIRESTORE_ENABLED", "false")
	client, err := NewClient(context.Background(), nil)
	require.NoError(t, err)
	assert.False(t, client.IsEnabled())
}

func TestCloseOnNeverInitializedClientIsSafe(t *testing.T) {
	client, err := NewClient(context.Background(), &ClientConfig{Enabled: false})
	require.NoError(t, err)
	assert.NoError(t, client.Close())
}
