// Package deploy sequences a deployment: verify the application, create a
// deployment, package and upload the project, then optionally follow the
// build logs and wait for a terminal status.
package deploy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jvreagan/cloud-ship/pkg/api"
	"github.com/jvreagan/cloud-ship/pkg/archive"
	"github.com/jvreagan/cloud-ship/pkg/credentials"
	"github.com/jvreagan/cloud-ship/pkg/logging"
	"github.com/jvreagan/cloud-ship/pkg/metrics"
	"github.com/jvreagan/cloud-ship/pkg/status"
	"github.com/jvreagan/cloud-ship/pkg/stream"
	"github.com/jvreagan/cloud-ship/pkg/types"
	"github.com/jvreagan/cloud-ship/pkg/upload"
)

// API is the deployment API surface used by the orchestrator.
type API interface {
	GetApp(ctx context.Context, appID string) (types.App, error)
	CreateDeployment(ctx context.Context, appID string) (types.Deployment, error)
	upload.API
	stream.BuildLogSource
	status.Fetcher
}

// Observer receives progress events. Rendering is up to the implementation.
type Observer interface {
	// Packaged is called once the project archive exists.
	Packaged(files int, bytes int64)

	// DeploymentCreated is called with the new deployment record.
	DeploymentCreated(d types.Deployment)

	// Uploaded is called once the upload is confirmed.
	Uploaded(d types.Deployment)

	// BuildLog is called for every build-log message.
	BuildLog(line types.BuildLogLine)

	// StatusChanged is called whenever the polled status changes.
	StatusChanged(d types.Deployment)
}

// NopObserver ignores all events.
type NopObserver struct{}

func (NopObserver) Packaged(int, int64)                {}
func (NopObserver) DeploymentCreated(types.Deployment) {}
func (NopObserver) Uploaded(types.Deployment)          {}
func (NopObserver) BuildLog(types.BuildLogLine)        {}
func (NopObserver) StatusChanged(types.Deployment)     {}

// Options describes one deployment run.
type Options struct {
	// AppID is the target application
	AppID string

	// Dir is the directory to package
	Dir string

	// Archive controls packaging
	Archive archive.Options

	// Wait follows the build and waits for a terminal status
	Wait bool
}

// Result describes a finished deployment run.
type Result struct {
	App        types.App
	Deployment types.Deployment

	// DashboardURL is where the deployment can be inspected
	DashboardURL string

	// Waited is false when the run returned right after the upload
	Waited bool

	// ArchiveBytes is the uploaded archive size
	ArchiveBytes int64
}

// Orchestrator runs deployments. Each run should use its own API client.
type Orchestrator struct {
	API API

	// Invalidator, when set, discards stored credentials after a 401.
	Invalidator credentials.Invalidator

	Uploader  *upload.Coordinator
	BuildLogs *stream.BuildLogReader
	Poller    *status.Poller
	Observer  Observer

	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

// New returns an Orchestrator with default components built on client.
func New(client API, logger *slog.Logger, m *metrics.Metrics) *Orchestrator {
	if logger == nil {
		logger = logging.GetLogger()
	}
	return &Orchestrator{
		API:       client,
		Uploader:  upload.NewCoordinator(client, logger, m),
		BuildLogs: stream.NewBuildLogReader(client, logger, m),
		Poller:    status.NewPoller(client, logger, m),
		Observer:  NopObserver{},
		Logger:    logger,
		Metrics:   m,
	}
}

func (o *Orchestrator) observer() Observer {
	if o.Observer == nil {
		return NopObserver{}
	}
	return o.Observer
}

func (o *Orchestrator) logger() *slog.Logger {
	if o.Logger == nil {
		return logging.GetLogger()
	}
	return o.Logger
}

// Deploy runs one deployment. The project is packaged before any network
// call, so an unreadable tree fails without side effects.
func (o *Orchestrator) Deploy(ctx context.Context, opts Options) (res *Result, err error) {
	start := time.Now()
	defer func() {
		o.Metrics.ObserveDeployment(outcome(res, err), time.Since(start))
	}()

	if opts.AppID == "" {
		return nil, fmt.Errorf("application id is required")
	}
	obs := o.observer()

	archiveOpts := opts.Archive
	if archiveOpts.Logger == nil {
		archiveOpts.Logger = o.logger()
	}
	pkg, err := archive.Create(ctx, opts.Dir, archiveOpts)
	if err != nil {
		return nil, err
	}
	defer func() {
		if cerr := pkg.Close(); cerr != nil {
			o.logger().Warn("failed to remove archive scratch directory", "error", cerr)
		}
	}()
	obs.Packaged(pkg.Files, pkg.Size)

	app, err := o.API.GetApp(ctx, opts.AppID)
	if err != nil {
		return nil, o.authError(err, opts.AppID)
	}

	d, err := o.API.CreateDeployment(ctx, app.ID)
	if err != nil {
		return nil, o.authError(fmt.Errorf("failed to create deployment: %w", err), app.ID)
	}
	obs.DeploymentCreated(d)
	o.logger().Info("deployment created", "app_id", app.ID, "deployment_id", d.ID)

	res = &Result{App: app, Deployment: d, DashboardURL: dashboardURL(d, app)}

	if err := o.Uploader.Upload(ctx, d.ID, pkg); err != nil {
		return res, err
	}
	res.ArchiveBytes = pkg.Size
	obs.Uploaded(d)

	if !opts.Wait {
		return res, nil
	}
	res.Waited = true

	if err := o.followBuild(ctx, res); err != nil {
		return res, err
	}

	poller := *o.Poller
	poller.OnStatus = obs.StatusChanged
	final, err := poller.Wait(ctx, app.ID, d.ID)
	if err != nil {
		return res, err
	}
	res.Deployment = final
	if u := dashboardURL(final, app); u != "" {
		res.DashboardURL = u
	}
	if final.Status.IsFailed() {
		return res, &DeploymentFailedError{Deployment: final, DashboardURL: res.DashboardURL}
	}
	return res, nil
}

func (o *Orchestrator) followBuild(ctx context.Context, res *Result) error {
	obs := o.observer()
	for line, err := range o.BuildLogs.Stream(ctx, res.Deployment.ID) {
		if err != nil {
			return err
		}
		switch line.Type {
		case types.BuildLogMessage:
			obs.BuildLog(line)
		case types.BuildLogFailed:
			return &BuildFailedError{DeploymentID: res.Deployment.ID, DashboardURL: res.DashboardURL}
		case types.BuildLogComplete:
			return nil
		}
	}
	return nil
}

// authError maps authentication and lookup failures to their sentinels.
// A 401 also discards stored credentials.
func (o *Orchestrator) authError(err error, appID string) error {
	switch {
	case api.IsNotFound(err):
		return fmt.Errorf("%w: %s", ErrAppNotFound, appID)
	case api.IsUnauthorized(err):
		if o.Invalidator != nil {
			if ierr := o.Invalidator.Invalidate(); ierr != nil {
				o.logger().Warn("failed to discard stored credentials", "error", ierr)
			}
		}
		return ErrInvalidToken
	case api.IsForbidden(err):
		return fmt.Errorf("%w for application %s", ErrPermissionDenied, appID)
	}
	return err
}

func dashboardURL(d types.Deployment, app types.App) string {
	if d.DashboardURL != "" {
		return d.DashboardURL
	}
	return app.DashboardURL
}

func outcome(res *Result, err error) string {
	var buildErr *BuildFailedError
	var deployErr *DeploymentFailedError
	switch {
	case err == nil && res != nil && !res.Waited:
		return "uploaded"
	case err == nil:
		return "success"
	case errors.Is(err, context.Canceled):
		return "cancelled"
	case errors.As(err, &buildErr):
		return "build_failed"
	case errors.As(err, &deployErr):
		return "failed"
	}
	return "error"
}
