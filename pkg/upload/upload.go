// Package upload transfers a packaged project to the one-time storage target
// issued by the deployment API.
package upload

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/schollz/progressbar/v3"
	"golang.org/x/term"

	"github.com/jvreagan/cloud-ship/pkg/archive"
	"github.com/jvreagan/cloud-ship/pkg/logging"
	"github.com/jvreagan/cloud-ship/pkg/metrics"
	"github.com/jvreagan/cloud-ship/pkg/types"
)

// DefaultCancelTimeout bounds the best-effort cancellation notice.
const DefaultCancelTimeout = 10 * time.Second

// API is the part of the deployment API used around an upload.
type API interface {
	RequestUpload(ctx context.Context, deploymentID string) (types.UploadSession, error)
	CompleteUpload(ctx context.Context, deploymentID string) error
	CancelUpload(ctx context.Context, deploymentID string) error
}

// TransferError is a rejected archive transfer.
type TransferError struct {
	Status int
	Body   string
}

func (e *TransferError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("archive upload rejected with status %d", e.Status)
	}
	return fmt.Sprintf("archive upload rejected with status %d: %s", e.Status, e.Body)
}

// StatusCode exposes the HTTP status for retry classification.
func (e *TransferError) StatusCode() int {
	return e.Status
}

// Coordinator packages a project and moves it through the upload handshake:
// request a target, transfer, confirm.
type Coordinator struct {
	API API

	// HTTPClient performs the transfer. It must not add API credentials;
	// the target URL is pre-authorised.
	HTTPClient *http.Client

	// Progress, when non-nil, receives a progress bar during the transfer.
	Progress io.Writer

	// CancelTimeout bounds the cancellation notice sent after an
	// interrupted upload.
	CancelTimeout time.Duration

	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

// NewCoordinator returns a Coordinator without a progress bar.
func NewCoordinator(api API, logger *slog.Logger, m *metrics.Metrics) *Coordinator {
	if logger == nil {
		logger = logging.GetLogger()
	}
	return &Coordinator{
		API:           api,
		HTTPClient:    &http.Client{},
		CancelTimeout: DefaultCancelTimeout,
		Logger:        logger,
		Metrics:       m,
	}
}

// TerminalProgress returns f when it is a terminal, and nil otherwise, for
// use as Coordinator.Progress.
func TerminalProgress(f *os.File) io.Writer {
	if f == nil || !term.IsTerminal(int(f.Fd())) {
		return nil
	}
	return f
}

func (c *Coordinator) logger() *slog.Logger {
	if c.Logger == nil {
		return logging.GetLogger()
	}
	return c.Logger
}

// Run packages root and uploads it for deploymentID. A packaging failure is
// returned before any network call. The archive is removed on return.
func (c *Coordinator) Run(ctx context.Context, deploymentID, root string, opts archive.Options) (int64, error) {
	if opts.Logger == nil {
		opts.Logger = c.logger()
	}
	a, err := archive.Create(ctx, root, opts)
	if err != nil {
		return 0, err
	}
	defer func() {
		if cerr := a.Close(); cerr != nil {
			c.logger().Warn("failed to remove archive scratch directory", "error", cerr)
		}
	}()

	if err := c.Upload(ctx, deploymentID, a); err != nil {
		return 0, err
	}
	return a.Size, nil
}

// Upload requests a target, transfers a and confirms the upload. If ctx is
// cancelled after the target was issued, a single cancellation notice is
// sent on a detached context; its failure is only logged and the
// cancellation error is returned.
func (c *Coordinator) Upload(ctx context.Context, deploymentID string, a *archive.Archive) (err error) {
	session, err := c.API.RequestUpload(ctx, deploymentID)
	if err != nil {
		return fmt.Errorf("failed to request upload target: %w", err)
	}

	defer func() {
		if err != nil && ctx.Err() != nil {
			c.notifyCancelled(ctx, deploymentID)
		}
	}()

	if err := c.transfer(ctx, session, a); err != nil {
		return err
	}
	if err := c.API.CompleteUpload(ctx, deploymentID); err != nil {
		return fmt.Errorf("failed to confirm upload: %w", err)
	}
	c.Metrics.ObserveUpload(a.Size)
	return nil
}

func (c *Coordinator) notifyCancelled(ctx context.Context, deploymentID string) {
	timeout := c.CancelTimeout
	if timeout <= 0 {
		timeout = DefaultCancelTimeout
	}
	nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()

	if err := c.API.CancelUpload(nctx, deploymentID); err != nil {
		c.logger().Warn("failed to notify upload cancellation",
			"deployment_id", deploymentID,
			"error", logging.SanitizeString(err.Error()))
		return
	}
	c.logger().Debug("upload cancellation sent", "deployment_id", deploymentID)
}

func (c *Coordinator) transfer(ctx context.Context, session types.UploadSession, a *archive.Archive) error {
	f, err := a.Open()
	if err != nil {
		return fmt.Errorf("failed to open archive: %w", err)
	}
	defer f.Close()

	var src io.Reader = f
	if c.Progress != nil {
		bar := progressbar.NewOptions64(a.Size,
			progressbar.OptionSetWriter(c.Progress),
			progressbar.OptionSetDescription("Uploading"),
			progressbar.OptionShowBytes(true),
			progressbar.OptionSetWidth(40),
			progressbar.OptionThrottle(100*time.Millisecond),
			progressbar.OptionSetRenderBlankState(true),
			progressbar.OptionClearOnFinish(),
		)
		defer bar.Finish()
		src = io.TeeReader(f, bar)
	}

	body, contentType, length, err := multipartBody(session.Fields, archive.FileName, src, a.Size)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, session.URL, body)
	if err != nil {
		return fmt.Errorf("failed to create upload request: %w", err)
	}
	req.ContentLength = length
	req.Header.Set("Content-Type", contentType)

	client := c.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	c.logger().Debug("uploading archive",
		"url", logging.SanitizeString(session.URL),
		"bytes", a.Size)

	resp, err := client.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil && !errors.Is(err, ctxErr) {
			return fmt.Errorf("failed to upload archive: %w", ctxErr)
		}
		return fmt.Errorf("failed to upload archive: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusMultipleChoices {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return &TransferError{Status: resp.StatusCode, Body: strings.TrimSpace(string(data))}
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
