package status

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/jvreagan/cloud-ship/pkg/logging"
	"github.com/jvreagan/cloud-ship/pkg/retry"
	"github.com/jvreagan/cloud-ship/pkg/types"
)

type fakeClock struct {
	now    time.Time
	sleeps []time.Duration
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.sleeps = append(c.sleeps, d)
	c.now = c.now.Add(d)
	return nil
}

type statusErr int

func (e statusErr) Error() string   { return fmt.Sprintf("status %d", int(e)) }
func (e statusErr) StatusCode() int { return int(e) }

// reply is one scripted poll result: a status or an error.
type reply struct {
	status types.DeploymentStatus
	err    error
}

type fakeFetcher struct {
	replies []reply
	// fallback is returned once replies run out.
	fallback types.DeploymentStatus
	calls    int
}

func (f *fakeFetcher) GetDeployment(ctx context.Context, appID, deploymentID string) (types.Deployment, error) {
	f.calls++
	r := reply{status: f.fallback}
	if len(f.replies) > 0 {
		r = f.replies[0]
		f.replies = f.replies[1:]
	}
	if r.err != nil {
		return types.Deployment{}, r.err
	}
	return types.Deployment{ID: deploymentID, AppID: appID, Status: r.status}, nil
}

func newTestPoller(f Fetcher) (*Poller, *fakeClock) {
	p := NewPoller(f, logging.Discard(), nil)
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	p.Executor.Clock = clock
	return p, clock
}

func TestWaitReturnsFirstTerminalStatus(t *testing.T) {
	tests := []struct {
		name     string
		terminal types.DeploymentStatus
	}{
		{"success", types.StatusSuccess},
		{"verifying skipped", types.StatusVerifyingSkipped},
		{"failed", types.StatusFailed},
		{"image build failed", types.StatusBuildingImageFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := &fakeFetcher{replies: []reply{
				{status: types.StatusBuilding},
				{status: types.StatusBuilding},
				{status: tt.terminal},
				{status: types.StatusBuilding},
			}}
			p, clock := newTestPoller(f)

			d, err := p.Wait(context.Background(), "app-1", "dep-1")
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if d.Status != tt.terminal {
				t.Errorf("status = %s, want %s", d.Status, tt.terminal)
			}
			if f.calls != 3 {
				t.Errorf("polls = %d, want 3", f.calls)
			}
			if len(clock.sleeps) != 2 || clock.sleeps[0] != DefaultInterval {
				t.Errorf("sleeps = %v, want two of %v", clock.sleeps, DefaultInterval)
			}
		})
	}
}

func TestWaitKeepsPollingUnknownStatus(t *testing.T) {
	f := &fakeFetcher{replies: []reply{
		{status: "queued_for_something_new"},
		{status: types.StatusSuccess},
	}}
	p, _ := newTestPoller(f)

	d, err := p.Wait(context.Background(), "app-1", "dep-1")
	if err != nil || d.Status != types.StatusSuccess {
		t.Fatalf("Wait = %v, %v; want success", d.Status, err)
	}
}

func TestWaitTooManyConsecutiveFailures(t *testing.T) {
	f := &fakeFetcher{fallback: types.StatusSuccess}
	for range 5 {
		f.replies = append(f.replies, reply{err: statusErr(503)})
	}
	p, _ := newTestPoller(f)

	_, err := p.Wait(context.Background(), "app-1", "dep-1")
	if !errors.Is(err, retry.ErrTooManyRetries) {
		t.Fatalf("err = %v, want ErrTooManyRetries", err)
	}
	if f.calls != 5 {
		t.Errorf("polls = %d, want 5", f.calls)
	}
}

func TestWaitSuccessResetsFailureCount(t *testing.T) {
	fail := reply{err: statusErr(502)}
	f := &fakeFetcher{replies: []reply{
		fail, fail, fail, fail,
		{status: types.StatusDeploying},
		fail, fail, fail, fail,
		{status: types.StatusSuccess},
	}}
	p, _ := newTestPoller(f)
	// Backoff across eight failures exceeds the default duration budget.
	p.Budget.MaxDuration = 0

	d, err := p.Wait(context.Background(), "app-1", "dep-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.Status != types.StatusSuccess {
		t.Errorf("status = %s, want success", d.Status)
	}
}

func TestWaitTimeout(t *testing.T) {
	f := &fakeFetcher{fallback: types.StatusBuilding}
	p, clock := newTestPoller(f)

	_, err := p.Wait(context.Background(), "app-1", "dep-1")
	if !errors.Is(err, retry.ErrTimeout) {
		t.Fatalf("err = %v, want ErrTimeout", err)
	}
	elapsed := clock.now.Sub(time.Unix(1700000000, 0))
	if elapsed <= DefaultMaxDuration || elapsed > DefaultMaxDuration+DefaultInterval {
		t.Errorf("elapsed = %v, want just over %v", elapsed, DefaultMaxDuration)
	}
}

func TestWaitFatalErrorAbortsImmediately(t *testing.T) {
	f := &fakeFetcher{replies: []reply{{err: statusErr(404)}}, fallback: types.StatusSuccess}
	p, clock := newTestPoller(f)

	_, err := p.Wait(context.Background(), "app-1", "dep-1")
	var sc statusErr
	if !errors.As(err, &sc) || sc != 404 {
		t.Fatalf("err = %v, want status 404", err)
	}
	if f.calls != 1 {
		t.Errorf("polls = %d, want 1", f.calls)
	}
	if len(clock.sleeps) != 0 {
		t.Errorf("sleeps = %v, want none", clock.sleeps)
	}
}

func TestWaitReportsStatusChanges(t *testing.T) {
	f := &fakeFetcher{replies: []reply{
		{status: types.StatusBuilding},
		{status: types.StatusBuilding},
		{status: types.StatusDeploying},
		{status: types.StatusSuccess},
	}}
	p, _ := newTestPoller(f)

	var seen []types.DeploymentStatus
	p.OnStatus = func(d types.Deployment) { seen = append(seen, d.Status) }

	if _, err := p.Wait(context.Background(), "app-1", "dep-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []types.DeploymentStatus{types.StatusBuilding, types.StatusDeploying, types.StatusSuccess}
	if fmt.Sprint(seen) != fmt.Sprint(want) {
		t.Errorf("reported %v, want %v", seen, want)
	}
}

func TestWaitCancelled(t *testing.T) {
	f := &fakeFetcher{fallback: types.StatusBuilding}
	p, _ := newTestPoller(f)
	ctx, cancel := context.WithCancel(context.Background())
	p.OnStatus = func(types.Deployment) { cancel() }

	_, err := p.Wait(ctx, "app-1", "dep-1")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}
