// Package types provides shared types used across cloud-ship packages.
// These mirror the payloads exchanged with the deployment API.
package types

import (
	"time"
)

// DeploymentStatus is the lifecycle state of a deployment as reported by the
// deployment API. The client only observes it; it is never set locally.
type DeploymentStatus string

const (
	StatusWaitingUpload       DeploymentStatus = "waiting_upload"
	StatusReadyForBuild       DeploymentStatus = "ready_for_build"
	StatusBuilding            DeploymentStatus = "building"
	StatusExtracting          DeploymentStatus = "extracting"
	StatusExtractingFailed    DeploymentStatus = "extracting_failed"
	StatusBuildingImage       DeploymentStatus = "building_image"
	StatusBuildingImageFailed DeploymentStatus = "building_image_failed"
	StatusDeploying           DeploymentStatus = "deploying"
	StatusDeployingFailed     DeploymentStatus = "deploying_failed"
	StatusVerifying           DeploymentStatus = "verifying"
	StatusVerifyingFailed     DeploymentStatus = "verifying_failed"
	StatusVerifyingSkipped    DeploymentStatus = "verifying_skipped"
	StatusSuccess             DeploymentStatus = "success"
	StatusFailed              DeploymentStatus = "failed"
)

var statusDescriptions = map[DeploymentStatus]string{
	StatusWaitingUpload:       "Waiting for upload",
	StatusReadyForBuild:       "Ready for build",
	StatusBuilding:            "Building",
	StatusExtracting:          "Extracting",
	StatusExtractingFailed:    "Extracting failed",
	StatusBuildingImage:       "Building image",
	StatusBuildingImageFailed: "Image build failed",
	StatusDeploying:           "Deploying",
	StatusDeployingFailed:     "Deploying failed",
	StatusVerifying:           "Verifying",
	StatusVerifyingFailed:     "Verifying failed",
	StatusVerifyingSkipped:    "Verification skipped",
	StatusSuccess:             "Success",
	StatusFailed:              "Failed",
}

// IsSuccessful reports whether s is a terminal success state.
func (s DeploymentStatus) IsSuccessful() bool {
	switch s {
	case StatusSuccess, StatusVerifyingSkipped:
		return true
	}
	return false
}

// IsFailed reports whether s is a terminal failure state.
func (s DeploymentStatus) IsFailed() bool {
	switch s {
	case StatusFailed, StatusVerifyingFailed, StatusDeployingFailed,
		StatusBuildingImageFailed, StatusExtractingFailed:
		return true
	}
	return false
}

// IsTerminal reports whether no further transition is expected from s.
func (s DeploymentStatus) IsTerminal() bool {
	return s.IsSuccessful() || s.IsFailed()
}

// Valid reports whether s is one of the statuses known to this client.
func (s DeploymentStatus) Valid() bool {
	_, ok := statusDescriptions[s]
	return ok
}

// Describe returns a human-readable label for s.
func (s DeploymentStatus) Describe() string {
	if d, ok := statusDescriptions[s]; ok {
		return d
	}
	return string(s)
}

// Deployment is a single deploy of an application.
type Deployment struct {
	// Unique deployment identifier
	ID string `json:"id"`

	// Identifier of the owning application
	AppID string `json:"app_id"`

	// Human-readable slug
	Slug string `json:"slug"`

	// Current status as last reported by the API
	Status DeploymentStatus `json:"status"`

	// Dashboard page for this deployment
	DashboardURL string `json:"dashboard_url"`

	// Public URL the deployment is served from
	URL string `json:"url"`
}

// App is a deployable application owned by a team.
type App struct {
	ID           string `json:"id"`
	Slug         string `json:"slug"`
	TeamID       string `json:"team_id"`
	DashboardURL string `json:"dashboard_url,omitempty"`
}

// Team is a workspace that owns applications.
type Team struct {
	ID   string `json:"id"`
	Slug string `json:"slug"`
	Name string `json:"name"`
}

// UploadSession is a one-time upload target returned by the API.
// It is valid for a single transfer and never persisted.
type UploadSession struct {
	// URL to POST the multipart form to
	URL string `json:"url"`

	// Form fields that must precede the file part
	Fields map[string]string `json:"fields"`
}

// BuildLogType discriminates build-log records.
type BuildLogType string

const (
	BuildLogMessage   BuildLogType = "message"
	BuildLogComplete  BuildLogType = "complete"
	BuildLogFailed    BuildLogType = "failed"
	BuildLogTimeout   BuildLogType = "timeout"
	BuildLogHeartbeat BuildLogType = "heartbeat"
)

// BuildLogLine is one record of the build-log stream.
// Only message records carry text.
type BuildLogLine struct {
	Type BuildLogType `json:"type"`

	// Monotonic record identifier; empty when the server sent null
	ID string `json:"id,omitempty"`

	Message string `json:"message,omitempty"`
}

// IsTerminal reports whether the stream ends after this record.
func (l BuildLogLine) IsTerminal() bool {
	return l.Type == BuildLogComplete || l.Type == BuildLogFailed
}

// AppLogEntry is one application runtime log record.
type AppLogEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Message   string    `json:"message"`
	Level     string    `json:"level"`
}

// AppLogQuery selects which application logs to stream.
type AppLogQuery struct {
	// Number of past lines to return first; zero uses the server default
	Tail int

	// Only return logs newer than this (e.g. "5m", "1h"); empty for no bound
	Since string

	// Keep the stream open for new entries
	Follow bool
}
