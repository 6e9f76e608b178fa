package service

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	accountdomain "github.com/mixforge/mixforge/internal/account/domain"
	"github.com/mixforge/mixforge/internal/clock"
	"github.com/mixforge/mixforge/internal/config"
	creditdomain "github.com/mixforge/mixforge/internal/credit/domain"
	"github.com/mixforge/mixforge/internal/pricing"
	processingdomain "github.com/mixforge/mixforge/internal/processing/domain"
	projectdomain "github.com/mixforge/mixforge/internal/project/domain"
	"github.com/mixforge/mixforge/internal/queue"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type fixture struct {
	svc       *Service
	db        *gorm.DB
	genID     *snowflake.Node
	clock     *clock.FakeClock
	queue     *queue.MemoryQueue
	userID    snowflake.ID
	projectID snowflake.ID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&accountdomain.User{},
		&projectdomain.Project{},
		&projectdomain.VideoFile{},
		&creditdomain.CreditTransaction{},
		&processingdomain.ProcessingJob{},
		&processingdomain.OutputFile{},
	))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	fake := clock.NewFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	memQueue := queue.NewMemoryQueue(16)

	f := &fixture{
		db:    db,
		genID: node,
		clock: fake,
		queue: memQueue,
	}
	f.svc = &Service{
		db:      db,
		log:     zap.NewNop(),
		genID:   node,
		clock:   fake,
		pricing: pricing.NewEngine(config.NewStaticPricingConfigHolder(config.DefaultPricingConfig())),
		queue:   memQueue,
	}

	user := accountdomain.User{
		ID:      node.Generate(),
		Email:   "creator@example.com",
		Credits: 100,
	}
	require.NoError(t, db.Create(&user).Error)
	f.userID = user.ID

	project := projectdomain.Project{
		ID:     node.Generate(),
		UserID: user.ID,
		Name:   "Launch teaser",
		Status: projectdomain.ProjectStatusDraft,
	}
	require.NoError(t, db.Create(&project).Error)
	f.projectID = project.ID

	f.addVideos(t, 3)
	return f
}

func (f *fixture) addVideos(t *testing.T, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		require.NoError(t, f.db.Create(&projectdomain.VideoFile{
			ID:        f.genID.Generate(),
			ProjectID: f.projectID,
			Filename:  "clip.mp4",
			Path:      "/videos/clip.mp4",
			Size:      1 << 20,
			Duration:  12.5,
		}).Error)
	}
}

func (f *fixture) user(t *testing.T) accountdomain.User {
	t.Helper()
	var user accountdomain.User
	require.NoError(t, f.db.First(&user, "id = ?", f.userID).Error)
	return user
}

func (f *fixture) job(t *testing.T, jobID snowflake.ID) processingdomain.ProcessingJob {
	t.Helper()
	var job processingdomain.ProcessingJob
	require.NoError(t, f.db.First(&job, "id = ?", jobID).Error)
	return job
}

func (f *fixture) start(t *testing.T, raw map[string]any) processingdomain.StartResponse {
	t.Helper()
	resp, err := f.svc.Start(context.Background(), processingdomain.StartRequest{
		UserID:      f.userID,
		ProjectID:   f.projectID,
		RawSettings: raw,
	})
	require.NoError(t, err)
	return resp
}

func defaultRawSettings() map[string]any {
	return map[string]any{"outputCount": 10}
}

func TestEstimate_MatchesStartDebit(t *testing.T) {
	f := newFixture(t)

	raw := map[string]any{
		"outputCount": 10,
		"resolution":  "hd",
		"bitrate":     "medium",
	}
	est, err := f.svc.Estimate(context.Background(), processingdomain.EstimateRequest{
		UserID:      f.userID,
		RawSettings: raw,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(100), est.UserCredits)
	assert.True(t, est.HasEnoughCredits)
	assert.Nil(t, est.TheoreticalVariants)

	resp := f.start(t, raw)
	assert.Equal(t, est.CreditsRequired, resp.CreditsDeducted)
}

func TestEstimate_VariantBound(t *testing.T) {
	f := newFixture(t)

	est, err := f.svc.Estimate(context.Background(), processingdomain.EstimateRequest{
		UserID:      f.userID,
		VideoCount:  4,
		RawSettings: map[string]any{"outputCount": 5, "orderMixing": true},
	})
	require.NoError(t, err)
	require.NotNil(t, est.TheoreticalVariants)
	assert.Equal(t, int64(24), *est.TheoreticalVariants)
}

func TestEstimate_UnknownUser(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Estimate(context.Background(), processingdomain.EstimateRequest{
		UserID:      f.genID.Generate(),
		RawSettings: defaultRawSettings(),
	})
	assert.ErrorIs(t, err, creditdomain.ErrUserNotFound)
}

func TestStart_AdmitsAndDebits(t *testing.T) {
	f := newFixture(t)

	resp := f.start(t, defaultRawSettings())
	assert.NotZero(t, resp.JobID)
	assert.Equal(t, 10*30, resp.EstimatedDuration)

	job := f.job(t, resp.JobID)
	assert.Equal(t, processingdomain.JobStatusPending, job.Status)
	assert.Equal(t, resp.CreditsDeducted, job.CreditsUsed)
	assert.Equal(t, 10, job.OutputCount)

	user := f.user(t)
	assert.Equal(t, 100-resp.CreditsDeducted, user.Credits)

	var project projectdomain.Project
	require.NoError(t, f.db.First(&project, "id = ?", f.projectID).Error)
	assert.Equal(t, projectdomain.ProjectStatusProcessing, project.Status)

	var tx creditdomain.CreditTransaction
	require.NoError(t, f.db.First(&tx, "user_id = ?", f.userID).Error)
	assert.Equal(t, creditdomain.TransactionTypeUsage, tx.Type)
	assert.Equal(t, -resp.CreditsDeducted, tx.Amount)
	require.NotNil(t, tx.ReferenceID)
	assert.Equal(t, resp.JobID, *tx.ReferenceID)

	task, err := f.queue.Dequeue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, resp.JobID, task.JobID)
}

func TestStart_InsufficientCredits(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.db.Model(&accountdomain.User{}).
		Where("id = ?", f.userID).Update("credits", 3).Error)

	_, err := f.svc.Start(context.Background(), processingdomain.StartRequest{
		UserID:      f.userID,
		ProjectID:   f.projectID,
		RawSettings: defaultRawSettings(),
	})

	var insufficient *processingdomain.InsufficientCreditsError
	require.ErrorAs(t, err, &insufficient)
	assert.Equal(t, int64(3), insufficient.Available)
	assert.Greater(t, insufficient.Required, insufficient.Available)

	// Nothing was mutated.
	assert.Equal(t, int64(3), f.user(t).Credits)
	var count int64
	require.NoError(t, f.db.Model(&processingdomain.ProcessingJob{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestStart_RequiresTwoVideos(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.db.Where("project_id = ?", f.projectID).
		Delete(&projectdomain.VideoFile{}).Error)
	f.addVideos(t, 1)

	_, err := f.svc.Start(context.Background(), processingdomain.StartRequest{
		UserID:      f.userID,
		ProjectID:   f.projectID,
		RawSettings: defaultRawSettings(),
	})
	assert.ErrorIs(t, err, processingdomain.ErrNotEnoughVideos)
}

func TestStart_BusyProject(t *testing.T) {
	f := newFixture(t)
	f.start(t, defaultRawSettings())

	_, err := f.svc.Start(context.Background(), processingdomain.StartRequest{
		UserID:      f.userID,
		ProjectID:   f.projectID,
		RawSettings: defaultRawSettings(),
	})
	assert.ErrorIs(t, err, processingdomain.ErrProjectBusy)
}

func TestStart_ForeignProjectIsInvisible(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Start(context.Background(), processingdomain.StartRequest{
		UserID:      f.genID.Generate(),
		ProjectID:   f.projectID,
		RawSettings: defaultRawSettings(),
	})
	assert.ErrorIs(t, err, processingdomain.ErrProjectNotFound)
}

func TestStart_RejectsInvalidOutputCount(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Start(context.Background(), processingdomain.StartRequest{
		UserID:      f.userID,
		ProjectID:   f.projectID,
		RawSettings: map[string]any{"outputCount": "lots"},
	})
	require.Error(t, err)

	var count int64
	require.NoError(t, f.db.Model(&processingdomain.ProcessingJob{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestProgress_PromotesAndMovesForward(t *testing.T) {
	f := newFixture(t)
	resp := f.start(t, defaultRawSettings())
	ctx := context.Background()

	require.NoError(t, f.svc.ReportProgress(ctx, resp.JobID, 10))
	job := f.job(t, resp.JobID)
	assert.Equal(t, processingdomain.JobStatusProcessing, job.Status)
	assert.Equal(t, 10, job.Progress)
	assert.NotNil(t, job.StartedAt)

	require.NoError(t, f.svc.ReportProgress(ctx, resp.JobID, 60))
	assert.Equal(t, 60, f.job(t, resp.JobID).Progress)

	// Redelivered stale report is dropped, not an error.
	require.NoError(t, f.svc.ReportProgress(ctx, resp.JobID, 30))
	assert.Equal(t, 60, f.job(t, resp.JobID).Progress)
}

func TestProgress_Validation(t *testing.T) {
	f := newFixture(t)
	resp := f.start(t, defaultRawSettings())
	ctx := context.Background()

	assert.ErrorIs(t, f.svc.ReportProgress(ctx, resp.JobID, -1), processingdomain.ErrInvalidProgress)
	assert.ErrorIs(t, f.svc.ReportProgress(ctx, resp.JobID, 101), processingdomain.ErrInvalidProgress)
	assert.ErrorIs(t, f.svc.ReportProgress(ctx, f.genID.Generate(), 10), processingdomain.ErrJobNotFound)

	require.NoError(t, f.svc.ReportTerminal(ctx, resp.JobID, processingdomain.JobStatusCancelled, ""))
	assert.ErrorIs(t, f.svc.ReportProgress(ctx, resp.JobID, 80), processingdomain.ErrJobTerminal)
}

func TestTerminal_CompletedFlow(t *testing.T) {
	f := newFixture(t)
	resp := f.start(t, defaultRawSettings())
	ctx := context.Background()

	require.NoError(t, f.svc.ReportProgress(ctx, resp.JobID, 40))
	_, err := f.svc.AddOutputFile(ctx, resp.JobID, "variant-1.mp4", "/outputs/variant-1.mp4", 2048)
	require.NoError(t, err)

	require.NoError(t, f.svc.ReportTerminal(ctx, resp.JobID, processingdomain.JobStatusCompleted, ""))

	job := f.job(t, resp.JobID)
	assert.Equal(t, processingdomain.JobStatusCompleted, job.Status)
	assert.Equal(t, 100, job.Progress)
	assert.NotNil(t, job.CompletedAt)

	var project projectdomain.Project
	require.NoError(t, f.db.First(&project, "id = ?", f.projectID).Error)
	assert.Equal(t, projectdomain.ProjectStatusCompleted, project.Status)

	// Redelivery of the same terminal report is a no-op.
	require.NoError(t, f.svc.ReportTerminal(ctx, resp.JobID, processingdomain.JobStatusCompleted, ""))

	// A different terminal state is rejected once one is reached.
	assert.ErrorIs(t,
		f.svc.ReportTerminal(ctx, resp.JobID, processingdomain.JobStatusCancelled, ""),
		processingdomain.ErrJobTerminal)
}

func TestTerminal_FailureRefundsOnce(t *testing.T) {
	f := newFixture(t)
	resp := f.start(t, defaultRawSettings())
	ctx := context.Background()

	require.NoError(t, f.svc.ReportProgress(ctx, resp.JobID, 20))
	require.NoError(t, f.svc.ReportTerminal(ctx, resp.JobID, processingdomain.JobStatusFailed, "encoder crashed"))

	job := f.job(t, resp.JobID)
	assert.Equal(t, processingdomain.JobStatusFailed, job.Status)
	require.NotNil(t, job.ErrorMessage)
	assert.Equal(t, "encoder crashed", *job.ErrorMessage)
	assert.NotNil(t, job.RefundedAt)

	// Balance restored in full.
	assert.Equal(t, int64(100), f.user(t).Credits)

	var project projectdomain.Project
	require.NoError(t, f.db.First(&project, "id = ?", f.projectID).Error)
	assert.Equal(t, projectdomain.ProjectStatusFailed, project.Status)

	// Redelivered failure must not refund again.
	require.NoError(t, f.svc.ReportTerminal(ctx, resp.JobID, processingdomain.JobStatusFailed, "encoder crashed"))
	require.NoError(t, f.svc.Refund(ctx, resp.JobID))
	assert.Equal(t, int64(100), f.user(t).Credits)

	var refunds int64
	require.NoError(t, f.db.Model(&creditdomain.CreditTransaction{}).
		Where("type = ?", creditdomain.TransactionTypeRefund).
		Count(&refunds).Error)
	assert.Equal(t, int64(1), refunds)
}

func TestTerminal_RedeliveredFailureHealsMissedRefund(t *testing.T) {
	f := newFixture(t)
	resp := f.start(t, defaultRawSettings())
	ctx := context.Background()

	// Terminal transition committed but the refund transaction was lost
	// (crash between the two): FAILED with refunded_at still NULL.
	require.NoError(t, f.db.Model(&processingdomain.ProcessingJob{}).
		Where("id = ?", resp.JobID).
		Update("status", processingdomain.JobStatusFailed).Error)

	// The worker's redelivered failure report must pick the refund up.
	require.NoError(t, f.svc.ReportTerminal(ctx, resp.JobID, processingdomain.JobStatusFailed, "encoder crashed"))

	job := f.job(t, resp.JobID)
	assert.NotNil(t, job.RefundedAt)
	assert.Equal(t, int64(100), f.user(t).Credits)

	var refunds int64
	require.NoError(t, f.db.Model(&creditdomain.CreditTransaction{}).
		Where("type = ?", creditdomain.TransactionTypeRefund).
		Count(&refunds).Error)
	assert.Equal(t, int64(1), refunds)

	// A further redelivery still refunds only once.
	require.NoError(t, f.svc.ReportTerminal(ctx, resp.JobID, processingdomain.JobStatusFailed, "encoder crashed"))
	assert.Equal(t, int64(100), f.user(t).Credits)
}

// hookClock runs fn once on the first Now call. Start reads the clock exactly
// once, after its precondition reads and before its transaction, which makes
// that call a deterministic stand-in for a concurrent winner's commit.
type hookClock struct {
	inner clock.Clock
	fn    func()
	fired bool
}

func (c *hookClock) Now() time.Time {
	if !c.fired {
		c.fired = true
		c.fn()
	}
	return c.inner.Now()
}

func TestStart_ConcurrentAdmissionSingleWinner(t *testing.T) {
	f := newFixture(t)

	// Another admission commits inside our race window, after the status
	// pre-check saw DRAFT. Only the in-transaction conditional update can
	// catch this.
	f.svc.clock = &hookClock{inner: f.clock, fn: func() {
		require.NoError(t, f.db.Model(&projectdomain.Project{}).
			Where("id = ?", f.projectID).
			Update("status", projectdomain.ProjectStatusProcessing).Error)
	}}

	_, err := f.svc.Start(context.Background(), processingdomain.StartRequest{
		UserID:      f.userID,
		ProjectID:   f.projectID,
		RawSettings: defaultRawSettings(),
	})
	assert.ErrorIs(t, err, processingdomain.ErrProjectBusy)

	// The loser's transaction rolled back completely: no job, no debit, no
	// ledger row.
	var jobs int64
	require.NoError(t, f.db.Model(&processingdomain.ProcessingJob{}).Count(&jobs).Error)
	assert.Zero(t, jobs)
	assert.Equal(t, int64(100), f.user(t).Credits)
	var rows int64
	require.NoError(t, f.db.Model(&creditdomain.CreditTransaction{}).Count(&rows).Error)
	assert.Zero(t, rows)
}

func TestLedger_SumMatchesBalance(t *testing.T) {
	f := newFixture(t)
	resp := f.start(t, defaultRawSettings())
	ctx := context.Background()

	require.NoError(t, f.svc.ReportProgress(ctx, resp.JobID, 50))
	require.NoError(t, f.svc.ReportTerminal(ctx, resp.JobID, processingdomain.JobStatusFailed, "disk full"))

	var sum int64
	require.NoError(t, f.db.Model(&creditdomain.CreditTransaction{}).
		Where("user_id = ?", f.userID).
		Select("COALESCE(SUM(amount), 0)").
		Scan(&sum).Error)

	// Debit then refund: ledger rows net to zero against the opening balance.
	assert.Equal(t, int64(100)+sum, f.user(t).Credits)
}

func TestAddOutputFile_Lifecycle(t *testing.T) {
	f := newFixture(t)
	resp := f.start(t, defaultRawSettings())
	ctx := context.Background()

	// PENDING jobs do not accept outputs yet.
	_, err := f.svc.AddOutputFile(ctx, resp.JobID, "v.mp4", "/outputs/v.mp4", 10)
	assert.ErrorIs(t, err, processingdomain.ErrOutputsClosed)

	require.NoError(t, f.svc.ReportProgress(ctx, resp.JobID, 10))
	out, err := f.svc.AddOutputFile(ctx, resp.JobID, "v.mp4", "/outputs/v.mp4", 10)
	require.NoError(t, err)
	assert.NotZero(t, out.ID)

	// Late arrivals right after completion are still accepted.
	require.NoError(t, f.svc.ReportTerminal(ctx, resp.JobID, processingdomain.JobStatusCompleted, ""))
	_, err = f.svc.AddOutputFile(ctx, resp.JobID, "v2.mp4", "/outputs/v2.mp4", 10)
	require.NoError(t, err)

	require.NoError(t, f.svc.ReportTerminal(ctx, resp.JobID, processingdomain.JobStatusCompleted, ""))
}

func TestCancel_FlagsQueueAndRejectsTerminal(t *testing.T) {
	f := newFixture(t)
	resp := f.start(t, defaultRawSettings())
	ctx := context.Background()

	require.NoError(t, f.svc.Cancel(ctx, f.userID, resp.JobID))
	cancelled, err := f.queue.Cancelled(ctx, resp.JobID)
	require.NoError(t, err)
	assert.True(t, cancelled)

	require.NoError(t, f.svc.ReportTerminal(ctx, resp.JobID, processingdomain.JobStatusCancelled, ""))
	assert.ErrorIs(t, f.svc.Cancel(ctx, f.userID, resp.JobID), processingdomain.ErrJobTerminal)

	// Cancelling a PENDING job returns the project to draft.
	var project projectdomain.Project
	require.NoError(t, f.db.First(&project, "id = ?", f.projectID).Error)
	assert.Equal(t, projectdomain.ProjectStatusDraft, project.Status)
}

func TestGetJob_View(t *testing.T) {
	f := newFixture(t)
	resp := f.start(t, map[string]any{"outputCount": 7, "resolution": "fullhd"})
	ctx := context.Background()

	require.NoError(t, f.svc.ReportProgress(ctx, resp.JobID, 10))
	_, err := f.svc.AddOutputFile(ctx, resp.JobID, "a.mp4", "/outputs/a.mp4", 1)
	require.NoError(t, err)
	_, err = f.svc.AddOutputFile(ctx, resp.JobID, "b.mp4", "/outputs/b.mp4", 2)
	require.NoError(t, err)

	view, err := f.svc.GetJob(ctx, f.userID, resp.JobID)
	require.NoError(t, err)
	assert.Equal(t, resp.JobID, view.Job.ID)
	assert.Equal(t, 7, view.Settings.OutputCount)
	assert.Equal(t, "fullhd", view.Settings.Resolution)
	require.Len(t, view.Outputs, 2)
	assert.Equal(t, "a.mp4", view.Outputs[0].Filename)

	_, err = f.svc.GetJob(ctx, f.genID.Generate(), resp.JobID)
	assert.ErrorIs(t, err, processingdomain.ErrJobNotFound)
}

func TestTerminal_InvalidStatus(t *testing.T) {
	f := newFixture(t)
	resp := f.start(t, defaultRawSettings())

	err := f.svc.ReportTerminal(context.Background(), resp.JobID, processingdomain.JobStatusProcessing, "")
	assert.ErrorIs(t, err, processingdomain.ErrInvalidStatus)
}
