package deploy

import (
	"errors"
	"fmt"

	"github.com/jvreagan/cloud-ship/pkg/types"
)

var (
	// ErrAppNotFound is returned when the target application does not exist.
	ErrAppNotFound = errors.New("application not found")

	// ErrInvalidToken is returned when the API rejected the token. Stored
	// credentials have been discarded by the time it is returned.
	ErrInvalidToken = errors.New("invalid or expired API token")

	// ErrPermissionDenied is returned when the token may not act on the
	// application.
	ErrPermissionDenied = errors.New("permission denied")
)

// BuildFailedError reports a build that ended with a failed record on the
// build-log stream.
type BuildFailedError struct {
	DeploymentID string
	DashboardURL string
}

func (e *BuildFailedError) Error() string {
	msg := fmt.Sprintf("build failed for deployment %s", e.DeploymentID)
	if e.DashboardURL != "" {
		msg += "; see " + e.DashboardURL
	}
	return msg
}

// DeploymentFailedError reports a deployment that reached a failed terminal
// status.
type DeploymentFailedError struct {
	Deployment   types.Deployment
	DashboardURL string
}

func (e *DeploymentFailedError) Error() string {
	msg := fmt.Sprintf("deployment %s failed: %s", e.Deployment.ID, e.Deployment.Status.Describe())
	if e.DashboardURL != "" {
		msg += "; see " + e.DashboardURL
	}
	return msg
}
