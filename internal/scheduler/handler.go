package scheduler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"leadflow_backend/internal/followup"
	apphttp "leadflow_backend/internal/http"
	"leadflow_backend/internal/recovery"
	"leadflow_backend/platform/httpkit"
)

// FollowupRunner runs one follow-up engine pass.
type FollowupRunner interface {
	Run(ctx context.Context) (followup.Report, error)
}

// RecoveryRunner runs the anti-ghosting jobs.
type RecoveryRunner interface {
	CheckRetries(ctx context.Context) error
	RunSweep(ctx context.Context) (recovery.SweepReport, error)
}

// JobsModule exposes manual triggers for the scheduled jobs, for operators
// who do not want to wait for the next tick.
type JobsModule struct {
	followup FollowupRunner
	recovery RecoveryRunner
}

func NewJobsModule(followupSvc FollowupRunner, recoverySvc RecoveryRunner) *JobsModule {
	return &JobsModule{followup: followupSvc, recovery: recoverySvc}
}

// Name returns the module identifier.
func (m *JobsModule) Name() string {
	return "jobs"
}

// RegisterRoutes mounts the manual trigger routes.
func (m *JobsModule) RegisterRoutes(ctx *apphttp.RouterContext) {
	group := ctx.V1.Group("/jobs")
	group.POST("/followup/run", m.handleRunFollowup)
	group.POST("/sweep/run", m.handleRunSweep)
	group.POST("/retry/run", m.handleRunRetry)
}

func (m *JobsModule) handleRunFollowup(c *gin.Context) {
	report, err := m.followup.Run(c.Request.Context())
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, gin.H{"total": report.Total, "sent": report.Sent})
}

func (m *JobsModule) handleRunSweep(c *gin.Context) {
	report, err := m.recovery.RunSweep(c.Request.Context())
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, gin.H{
		"processed": report.Processed,
		"moved":     report.Moved,
		"reminded":  report.Reminded,
	})
}

func (m *JobsModule) handleRunRetry(c *gin.Context) {
	if err := m.recovery.CheckRetries(c.Request.Context()); err != nil {
		httpkit.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
