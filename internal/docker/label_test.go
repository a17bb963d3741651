package docker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestBuildLabels verifies that every required key is set with the
// expected value.
func TestBuildLabels(t *testing.T) {
	createdAt := time.Date(2026, 2, 28, 10, 0, 0, 0, time.FixedZone("JST", 9*3600))

	labels := BuildLabels("ngrok", "0b6f2f0e-run", 5001, createdAt)

	assert.Equal(t, ManagedByValue, labels[LabelManagedBy],
		"managed-by label should always be set to the constant value")
	assert.Equal(t, "ngrok", labels[LabelProvider])
	assert.Equal(t, "0b6f2f0e-run", labels[LabelRunID])
	assert.Equal(t, "5001", labels[LabelLocalPort])
	assert.Equal(t, "2026-02-28T01:00:00Z", labels[LabelCreatedAt],
		"timestamps are stored in UTC")
	assert.Len(t, labels, 5)
}

// TestParseLabels_RoundTrip verifies that ParseLabels recovers what
// BuildLabels wrote.
func TestParseLabels_RoundTrip(t *testing.T) {
	createdAt := time.Date(2026, 2, 28, 10, 0, 0, 0, time.UTC)

	info, err := ParseLabels(BuildLabels("cloudflared", "run-7", 8080, createdAt))
	require.NoError(t, err)

	assert.Equal(t, "cloudflared", info.Provider)
	assert.Equal(t, "run-7", info.RunID)
	assert.Equal(t, 8080, info.LocalPort)
	assert.True(t, createdAt.Equal(info.CreatedAt))
}

func TestParseLabels_Errors(t *testing.T) {
	valid := func() map[string]string {
		return BuildLabels("ngrok", "run-1", 5001, time.Now())
	}

	tests := []struct {
		name    string
		mutate  func(map[string]string)
		wantErr string
	}{
		{
			name:    "missing keys are all listed",
			mutate:  func(l map[string]string) { delete(l, LabelProvider); delete(l, LabelRunID) },
			wantErr: LabelProvider + ", " + LabelRunID,
		},
		{
			name:    "foreign manager",
			mutate:  func(l map[string]string) { l[LabelManagedBy] = "someone-else" },
			wantErr: "unexpected value",
		},
		{
			name:    "bad port",
			mutate:  func(l map[string]string) { l[LabelLocalPort] = "http" },
			wantErr: LabelLocalPort,
		},
		{
			name:    "bad timestamp",
			mutate:  func(l map[string]string) { l[LabelCreatedAt] = "yesterday" },
			wantErr: LabelCreatedAt,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			labels := valid()
			tt.mutate(labels)
			_, err := ParseLabels(labels)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestContainerName(t *testing.T) {
	assert.Equal(t, "tunnelctl-ngrok-5001-0b6f2f0e",
		ContainerName("ngrok", 5001, "0b6f2f0e-1c2d-4e5f-8a9b-0c1d2e3f4a5b"))
	assert.Equal(t, "tunnelctl-lt-80-abc", ContainerName("lt", 80, "abc"))
}
