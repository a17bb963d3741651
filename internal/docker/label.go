package docker

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Label key constants define the Docker labels placed on every tunnel
// agent container. They let `tunnelctl cleanup` find containers left
// behind by a crashed run without matching on container or image names.
//
// All keys share the "tunnelctl." prefix to avoid collisions with labels
// set by other tools.
const (
	// LabelPrefix is the common prefix for all tunnelctl labels.
	LabelPrefix = "tunnelctl."

	// LabelManagedBy identifies containers started by tunnelctl.
	// Key: "tunnelctl.managed-by", Value: always "tunnelctl".
	LabelManagedBy = LabelPrefix + "managed-by"

	// LabelProvider stores the provider name (e.g., "ngrok").
	LabelProvider = LabelPrefix + "provider"

	// LabelRunID stores the orchestration run that launched the agent.
	LabelRunID = LabelPrefix + "run-id"

	// LabelLocalPort stores the local port the tunnel forwards to.
	LabelLocalPort = LabelPrefix + "local-port"

	// LabelCreatedAt stores the RFC 3339 launch timestamp.
	LabelCreatedAt = LabelPrefix + "created-at"
)

// ManagedByValue is the constant value for the LabelManagedBy label.
const ManagedByValue = "tunnelctl"

// TunnelContainer describes one tunnel agent container, reconstructed
// from its labels and Docker state.
type TunnelContainer struct {
	ContainerID   string    `json:"containerId"`
	ContainerName string    `json:"containerName"`
	Provider      string    `json:"provider"`
	RunID         string    `json:"runId"`
	LocalPort     int       `json:"localPort"`
	State         string    `json:"state"`
	CreatedAt     time.Time `json:"createdAt"`
}

// BuildLabels constructs the label map for an agent container.
func BuildLabels(providerName, runID string, localPort int, createdAt time.Time) map[string]string {
	return map[string]string{
		LabelManagedBy: ManagedByValue,
		LabelProvider:  providerName,
		LabelRunID:     runID,
		LabelLocalPort: strconv.Itoa(localPort),
		LabelCreatedAt: createdAt.UTC().Format(time.RFC3339),
	}
}

// ParseLabels reconstructs the tunnel metadata from container labels. It
// is the inverse of BuildLabels. ContainerID, ContainerName and State are
// left for the caller to fill from Docker state.
func ParseLabels(labels map[string]string) (*TunnelContainer, error) {
	requiredKeys := []string{
		LabelManagedBy,
		LabelProvider,
		LabelRunID,
		LabelLocalPort,
		LabelCreatedAt,
	}

	var missing []string
	for _, key := range requiredKeys {
		if _, ok := labels[key]; !ok {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("missing required Docker labels: %s", strings.Join(missing, ", "))
	}

	if labels[LabelManagedBy] != ManagedByValue {
		return nil, fmt.Errorf(
			"label %s has unexpected value %q (expected %q)",
			LabelManagedBy, labels[LabelManagedBy], ManagedByValue,
		)
	}

	port, err := strconv.Atoi(labels[LabelLocalPort])
	if err != nil {
		return nil, fmt.Errorf("invalid label %s: %w", LabelLocalPort, err)
	}

	createdAt, err := time.Parse(time.RFC3339, labels[LabelCreatedAt])
	if err != nil {
		return nil, fmt.Errorf("invalid label %s: %w", LabelCreatedAt, err)
	}

	return &TunnelContainer{
		Provider:  labels[LabelProvider],
		RunID:     labels[LabelRunID],
		LocalPort: port,
		CreatedAt: createdAt,
	}, nil
}

// ContainerName builds the agent container name, e.g.
// "tunnelctl-ngrok-5001-1a2b3c4d". The run ID suffix keeps names unique
// across concurrent or leftover runs.
func ContainerName(providerName string, localPort int, runID string) string {
	suffix := runID
	if len(suffix) > 8 {
		suffix = suffix[:8]
	}
	return fmt.Sprintf("tunnelctl-%s-%d-%s", providerName, localPort, suffix)
}
