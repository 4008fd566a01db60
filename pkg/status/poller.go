// Package status waits for a deployment to reach a terminal status.
package status

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jvreagan/cloud-ship/pkg/logging"
	"github.com/jvreagan/cloud-ship/pkg/metrics"
	"github.com/jvreagan/cloud-ship/pkg/retry"
	"github.com/jvreagan/cloud-ship/pkg/types"
)

const (
	// DefaultInterval is the delay between successful polls.
	DefaultInterval = 2 * time.Second

	// DefaultMaxFailures is the number of consecutive failed polls tolerated.
	DefaultMaxFailures = 5

	// DefaultMaxDuration bounds the whole wait.
	DefaultMaxDuration = 120 * time.Second
)

// Fetcher returns the current state of a deployment.
type Fetcher interface {
	GetDeployment(ctx context.Context, appID, deploymentID string) (types.Deployment, error)
}

// Poller polls a deployment until its status is terminal. It does not judge
// whether the terminal status is a success; callers use IsSuccessful and
// IsFailed on the result.
type Poller struct {
	Fetcher Fetcher

	// Interval is slept between polls that returned a non-terminal status.
	Interval time.Duration

	// Executor classifies poll failures and applies backoff.
	Executor *retry.Executor

	// Budget defaults to 5 consecutive failures within 120 seconds.
	Budget retry.Budget

	// OnStatus, when set, is called with every successfully fetched
	// deployment whose status differs from the previous one.
	OnStatus func(types.Deployment)

	Logger *slog.Logger
}

// NewPoller returns a Poller with the default interval and budget.
func NewPoller(fetcher Fetcher, logger *slog.Logger, m *metrics.Metrics) *Poller {
	if logger == nil {
		logger = logging.GetLogger()
	}
	exec := retry.NewExecutor("status_poll")
	exec.Logger = logger
	exec.Metrics = m
	return &Poller{
		Fetcher:  fetcher,
		Interval: DefaultInterval,
		Executor: exec,
		Budget: retry.Budget{
			MaxAttempts:    DefaultMaxFailures,
			MaxDuration:    DefaultMaxDuration,
			ResetOnSuccess: true,
		},
		Logger: logger,
	}
}

// Wait returns the first deployment observed in a terminal status.
func (p *Poller) Wait(ctx context.Context, appID, deploymentID string) (types.Deployment, error) {
	exec := p.Executor
	if exec == nil {
		exec = retry.NewExecutor("status_poll")
	}
	clock := exec.Clock
	if clock == nil {
		clock = retry.SystemClock
	}
	logger := p.Logger
	if logger == nil {
		logger = logging.GetLogger()
	}

	var (
		result types.Deployment
		last   types.DeploymentStatus
	)
	err := retry.Run(ctx, p.Budget, exec, func(ctx context.Context) (bool, error) {
		d, err := p.Fetcher.GetDeployment(ctx, appID, deploymentID)
		if err != nil {
			return false, err
		}
		if d.Status != last {
			last = d.Status
			logger.Debug("deployment status",
				"deployment_id", deploymentID,
				"status", string(d.Status))
			if p.OnStatus != nil {
				p.OnStatus(d)
			}
		}
		if d.Status.IsTerminal() {
			result = d
			return true, nil
		}
		if !d.Status.Valid() {
			logger.Warn("unknown deployment status", "status", string(d.Status))
		}
		return false, clock.Sleep(ctx, p.Interval)
	})
	if err != nil {
		return types.Deployment{}, fmt.Errorf("waiting for deployment %s: %w", deploymentID, err)
	}
	return result, nil
}
