package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/docker/go-units"
	"github.com/fatih/color"

	"github.com/jvreagan/cloud-ship/pkg/deploy"
	"github.com/jvreagan/cloud-ship/pkg/types"
)

var (
	green  = color.New(color.FgGreen).SprintFunc()
	yellow = color.New(color.FgYellow).SprintFunc()
	red    = color.New(color.FgRed).SprintFunc()
	bold   = color.New(color.Bold).SprintFunc()
	faint  = color.New(color.Faint).SprintFunc()
)

// printer renders deployment progress to the user.
type printer struct {
	out io.Writer
}

var _ deploy.Observer = (*printer)(nil)

func (p *printer) Packaged(files int, size int64) {
	fmt.Fprintf(p.out, "Packaged %d files (%s)\n", files, units.HumanSize(float64(size)))
}

func (p *printer) DeploymentCreated(d types.Deployment) {
	fmt.Fprintf(p.out, "Created deployment %s\n", bold(d.ID))
}

func (p *printer) Uploaded(types.Deployment) {
	fmt.Fprintf(p.out, "%s Upload complete\n", green("✓"))
}

func (p *printer) BuildLog(line types.BuildLogLine) {
	fmt.Fprintf(p.out, "  %s %s\n", faint("│"), line.Message)
}

func (p *printer) StatusChanged(d types.Deployment) {
	fmt.Fprintf(p.out, "Status: %s\n", statusLabel(d.Status))
}

func statusLabel(s types.DeploymentStatus) string {
	switch {
	case s.IsSuccessful():
		return green(s.Describe())
	case s.IsFailed():
		return red(s.Describe())
	}
	return yellow(s.Describe())
}

func levelLabel(level string) string {
	label := fmt.Sprintf("%-5s", strings.ToUpper(level))
	switch strings.ToLower(level) {
	case "error", "critical", "fatal":
		return red(label)
	case "warn", "warning":
		return yellow(label)
	case "debug":
		return faint(label)
	}
	return label
}

func printLogEntry(w io.Writer, e types.AppLogEntry) {
	fmt.Fprintf(w, "%s %s %s\n",
		faint(e.Timestamp.UTC().Format(time.RFC3339)), levelLabel(e.Level), e.Message)
}

func printDeployment(w io.Writer, d types.Deployment) {
	fmt.Fprintf(w, "Deployment Status:\n")
	fmt.Fprintf(w, "  ID: %s\n", d.ID)
	fmt.Fprintf(w, "  Status: %s\n", statusLabel(d.Status))
	if d.URL != "" {
		fmt.Fprintf(w, "  URL: %s\n", d.URL)
	}
	if d.DashboardURL != "" {
		fmt.Fprintf(w, "  Dashboard: %s\n", d.DashboardURL)
	}
}
