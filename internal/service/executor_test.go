package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/ifuryst/reposter/internal/config"
	"github.com/ifuryst/reposter/internal/models"
	"github.com/ifuryst/reposter/internal/service/generator"
	"github.com/ifuryst/reposter/internal/service/ledger"
	"github.com/ifuryst/reposter/internal/service/publisher"
	"github.com/ifuryst/reposter/internal/service/publisher/wall"
	"github.com/ifuryst/reposter/internal/testsupport"
)

type execFixture struct {
	db       *gorm.DB
	platform *testsupport.FakePlatform
	ledger   *ledger.Ledger
	executor *TaskExecutor
}

func newExecFixture(t *testing.T, platform publisher.Platform, fake *testsupport.FakePlatform) *execFixture {
	t.Helper()
	db := testsupport.NewDB(t)
	logger := zap.NewNop()

	if fake == nil {
		fake = testsupport.NewFakePlatform()
	}
	if platform == nil {
		platform = fake
	}

	queue := publisher.NewUploadQueue(platform, &config.UploadQueueConfig{
		Interval:    time.Millisecond,
		MaxAttempts: 2,
		BaseDelay:   time.Millisecond,
		MaxDelay:    2 * time.Millisecond,
		Buffer:      8,
	}, logger)
	queue.Start(context.Background())
	t.Cleanup(queue.Stop)

	l := ledger.New(db, logger)
	creds := publisher.NewCredentials(db, []string{"wall", "photos"}, logger)
	pub := publisher.NewPublisher(platform, creds, publisher.NewAttachmentResolver(platform, queue, logger), l, logger)

	registry := generator.NewRegistry()
	require.NoError(t, generator.RegisterBuiltins(registry))
	require.NoError(t, registry.Register(&failingGenerator{}))

	executor := NewTaskExecutor(db, l, NewCandidateSelector(db, l, 50, logger), pub, registry, &config.ExecutorConfig{
		GeneratorAttempts:   3,
		GeneratorRetryDelay: time.Millisecond,
	}, time.UTC, logger)

	return &execFixture{db: db, platform: fake, ledger: l, executor: executor}
}

type failingGenerator struct{}

func (g *failingGenerator) ID() string                    { return "failing" }
func (g *failingGenerator) Name() string                  { return "Failing" }
func (g *failingGenerator) Params() []generator.ParamSpec { return nil }

func (g *failingGenerator) Generate(ctx context.Context, params map[string]interface{}) (*generator.Content, error) {
	return nil, errors.New("source unavailable")
}

type panickingPlatform struct {
	*testsupport.FakePlatform
}

func (p *panickingPlatform) CreatePost(ctx context.Context, token string, req wall.PostRequest) (*wall.PostResult, error) {
	panic("boom")
}

func (f *execFixture) createTask(t *testing.T, task models.PublishTask) models.PublishTask {
	t.Helper()
	if task.Kind == "" {
		task.Kind = models.TaskKindOneTime
	}
	require.NoError(t, f.db.Create(&task).Error)
	return task
}

func (f *execFixture) reload(t *testing.T, id uint) models.PublishTask {
	t.Helper()
	var task models.PublishTask
	require.NoError(t, f.db.First(&task, id).Error)
	return task
}

func (f *execFixture) recordsOf(t *testing.T, taskID uint) []models.HistoryRecord {
	t.Helper()
	records, _, err := f.ledger.ListByTask(context.Background(), taskID, 1, 100)
	require.NoError(t, err)
	return records
}

func staticTask(destinations ...string) models.PublishTask {
	return models.PublishTask{
		Name:            "static",
		GeneratorID:     "static",
		GeneratorParams: datatypes.JSONMap{"text": "hello"},
		Destinations:    destinations,
	}
}

func selectionTask(perRun int, destinations ...string) models.PublishTask {
	return models.PublishTask{
		Name:         "repost",
		Sources:      []string{"origin"},
		ItemsPerRun:  perRun,
		Destinations: destinations,
	}
}

func TestGeneratorTaskWithoutCredential(t *testing.T) {
	f := newExecFixture(t, nil, nil)
	task := f.createTask(t, staticTask("-1"))

	res, err := f.executor.Execute(context.Background(), task.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, res.SuccessCount)
	assert.Equal(t, 1, res.FailCount)
	assert.NotEmpty(t, res.RunID)

	records := f.recordsOf(t, task.ID)
	require.Len(t, records, 1)
	assert.Equal(t, models.HistoryFailed, records[0].Status)
	assert.Contains(t, records[0].ErrorMessage, "no credential")
	assert.Equal(t, "generator:static", records[0].SourceItemID)

	stored := f.reload(t, task.ID)
	assert.Equal(t, 1, stored.Stats.TotalRuns)
	assert.Equal(t, 1, stored.Stats.TotalFailed)
	assert.True(t, stored.OneTime.Executed)
}

func TestGeneratorTaskPublishesToEveryDestination(t *testing.T) {
	f := newExecFixture(t, nil, nil)
	testsupport.CreateCredential(t, f.db, "main", "wall", "photos")
	task := f.createTask(t, staticTask("-1", "-2"))

	res, err := f.executor.Execute(context.Background(), task.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, res.SuccessCount)
	assert.Equal(t, 0, res.FailCount)
	assert.Equal(t, 2, f.platform.PostCount())
	assert.Equal(t, "hello", f.platform.LastPost().Message)
}

func TestGeneratorPublishIsRetried(t *testing.T) {
	fake := testsupport.NewFakePlatform()
	fake.PostErrors = []error{&wall.APIError{Code: 100, Message: "one of the parameters specified was missing"}}
	f := newExecFixture(t, nil, fake)
	testsupport.CreateCredential(t, f.db, "main", "wall", "photos")
	task := f.createTask(t, staticTask("-1"))

	res, err := f.executor.Execute(context.Background(), task.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, res.SuccessCount)
	assert.Equal(t, 0, res.FailCount)
	assert.Len(t, f.recordsOf(t, task.ID), 1)
}

func TestGeneratorPermissionErrorIsNotRetried(t *testing.T) {
	fake := testsupport.NewFakePlatform()
	fake.PostErrors = []error{
		&wall.APIError{Code: 15, Message: "Access denied"},
		&wall.APIError{Code: 15, Message: "Access denied"},
		&wall.APIError{Code: 15, Message: "Access denied"},
	}
	f := newExecFixture(t, nil, fake)
	testsupport.CreateCredential(t, f.db, "main", "wall", "photos")
	task := f.createTask(t, staticTask("-1"))

	res, err := f.executor.Execute(context.Background(), task.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, res.SuccessCount)
	assert.Equal(t, 1, res.FailCount)
	assert.Len(t, fake.PostErrors, 2, "CreatePost must be attempted once")

	records := f.recordsOf(t, task.ID)
	require.Len(t, records, 1)
	assert.Contains(t, records[0].ErrorMessage, "re-authorize")
}

func TestGeneratorFailureIsRecordedPerDestination(t *testing.T) {
	f := newExecFixture(t, nil, nil)
	testsupport.CreateCredential(t, f.db, "main", "wall", "photos")
	task := staticTask("-1", "-2")
	task.GeneratorID = "failing"
	task = f.createTask(t, task)

	res, err := f.executor.Execute(context.Background(), task.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, res.SuccessCount)
	assert.Equal(t, 2, res.FailCount)
	for _, rec := range f.recordsOf(t, task.ID) {
		assert.Contains(t, rec.ErrorMessage, "source unavailable")
	}
	assert.Zero(t, f.platform.PostCount())
}

func TestSelectionTaskPublishes(t *testing.T) {
	f := newExecFixture(t, nil, nil)
	testsupport.CreateCredential(t, f.db, "main", "wall", "photos")
	for _, rank := range []float64{30, 20, 10} {
		testsupport.CreateItem(t, f.db, testsupport.MirroredPhotoItem("origin", rank))
	}
	task := f.createTask(t, selectionTask(2, "-1", "-2"))

	res, err := f.executor.Execute(context.Background(), task.ID)
	require.NoError(t, err)
	assert.Equal(t, 4, res.SuccessCount)
	assert.Equal(t, 0, res.FailCount)
	assert.Equal(t, 4, f.platform.PostCount())

	stored := f.reload(t, task.ID)
	assert.Equal(t, 4, stored.Stats.TotalPublished)
	assert.Equal(t, int64(2), testsupport.CountHistory(t, f.db, "destination_id = ? AND status = ?", "-1", models.HistorySuccess))
}

func TestSelectionTaskWithoutCandidates(t *testing.T) {
	f := newExecFixture(t, nil, nil)
	testsupport.CreateCredential(t, f.db, "main", "wall", "photos")
	task := f.createTask(t, selectionTask(1, "-1"))

	res, err := f.executor.Execute(context.Background(), task.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, res.SuccessCount)
	assert.Equal(t, 1, res.FailCount)

	records := f.recordsOf(t, task.ID)
	require.Len(t, records, 1)
	assert.Equal(t, ErrNoCandidates.Error(), records[0].ErrorMessage)
}

func TestSelectionTaskSkipsDestinationsWithoutCredential(t *testing.T) {
	f := newExecFixture(t, nil, nil)
	testsupport.CreateItem(t, f.db, testsupport.MirroredPhotoItem("origin", 10))
	task := f.createTask(t, selectionTask(1, "-1", "-2"))

	res, err := f.executor.Execute(context.Background(), task.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, res.FailCount)
	assert.Zero(t, f.platform.PostCount())
}

func TestCountsMatchRecordsWritten(t *testing.T) {
	fake := testsupport.NewFakePlatform()
	fake.PostErrors = []error{&wall.APIError{Code: 15, Message: "Access denied"}}
	f := newExecFixture(t, nil, fake)
	testsupport.CreateCredential(t, f.db, "main", "wall", "photos")
	for _, rank := range []float64{30, 20} {
		testsupport.CreateItem(t, f.db, testsupport.MirroredPhotoItem("origin", rank))
	}
	task := f.createTask(t, selectionTask(2, "-1"))

	res, err := f.executor.Execute(context.Background(), task.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, res.SuccessCount)
	assert.Equal(t, 1, res.FailCount)

	records := f.recordsOf(t, task.ID)
	assert.Len(t, records, res.SuccessCount+res.FailCount)

	var failed *models.HistoryRecord
	for i := range records {
		if records[i].Status == models.HistoryFailed {
			failed = &records[i]
		}
	}
	require.NotNil(t, failed)
	assert.Contains(t, failed.ErrorMessage, "re-authorize")
	assert.NotNil(t, failed.ItemID)
}

func TestPanicDuringPublishIsRecorded(t *testing.T) {
	fake := testsupport.NewFakePlatform()
	f := newExecFixture(t, &panickingPlatform{FakePlatform: fake}, fake)
	testsupport.CreateCredential(t, f.db, "main", "wall", "photos")
	testsupport.CreateItem(t, f.db, testsupport.MirroredPhotoItem("origin", 10))
	task := f.createTask(t, selectionTask(1, "-1"))

	res, err := f.executor.Execute(context.Background(), task.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, res.FailCount)

	records := f.recordsOf(t, task.ID)
	require.Len(t, records, 1)
	assert.Contains(t, records[0].ErrorMessage, "panic: boom")
}

func TestScheduledTaskAdvances(t *testing.T) {
	f := newExecFixture(t, nil, nil)
	task := staticTask("-1")
	task.Kind = models.TaskKindScheduled
	task.Schedule = models.TaskSchedule{Expression: "0 * * * *", Active: true}
	task = f.createTask(t, task)

	before := time.Now()
	_, err := f.executor.Execute(context.Background(), task.ID)
	require.NoError(t, err)

	stored := f.reload(t, task.ID)
	assert.Equal(t, 1, stored.Schedule.ExecutionCount)
	assert.True(t, stored.Schedule.Active)
	require.NotNil(t, stored.Stats.NextExecutionAt)
	assert.True(t, stored.Stats.NextExecutionAt.After(before))
}

func TestRunRejectsConcurrentRun(t *testing.T) {
	f := newExecFixture(t, nil, nil)
	task := f.createTask(t, staticTask("-1"))

	require.True(t, f.executor.acquire(task.ID))
	assert.True(t, f.executor.IsRunning(task.ID))

	_, err := f.executor.Run(context.Background(), &task)
	assert.ErrorIs(t, err, ErrTaskRunning)

	f.executor.release(task.ID)
	_, err = f.executor.Run(context.Background(), &task)
	assert.NoError(t, err)
	assert.False(t, f.executor.IsRunning(task.ID))
}

func TestExecuteUnknownTask(t *testing.T) {
	f := newExecFixture(t, nil, nil)
	_, err := f.executor.Execute(context.Background(), 404)
	assert.ErrorIs(t, err, ErrTaskNotFound)
}
