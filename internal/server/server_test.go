package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	accountdomain "github.com/mixforge/mixforge/internal/account/domain"
	"github.com/mixforge/mixforge/internal/clock"
	"github.com/mixforge/mixforge/internal/config"
	creditdomain "github.com/mixforge/mixforge/internal/credit/domain"
	creditservice "github.com/mixforge/mixforge/internal/credit/service"
	deliveryservice "github.com/mixforge/mixforge/internal/delivery/service"
	"github.com/mixforge/mixforge/internal/pricing"
	processingdomain "github.com/mixforge/mixforge/internal/processing/domain"
	processingservice "github.com/mixforge/mixforge/internal/processing/service"
	projectdomain "github.com/mixforge/mixforge/internal/project/domain"
	"github.com/mixforge/mixforge/internal/queue"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const testWorkerToken = "worker-secret"

type testStack struct {
	server    *Server
	db        *gorm.DB
	genID     *snowflake.Node
	userID    snowflake.ID
	projectID snowflake.ID
}

func newTestStack(t *testing.T) *testStack {
	t.Helper()
	gin.SetMode(gin.TestMode)

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

	node, err := snowflake.NewNode(2)
	require.NoError(t, err)

	log := zap.NewNop()
	fake := clock.NewFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	engine := pricing.NewEngine(config.NewStaticPricingConfigHolder(config.DefaultPricingConfig()))
	memQueue := queue.NewMemoryQueue(16)

	cfg := config.Config{
		AppName:     "mixforge",
		WorkerToken: testWorkerToken,
		StorageDir:  "/outputs",
	}

	processingSvc := processingservice.NewService(processingservice.Params{
		DB: db, Log: log, GenID: node, Clock: fake, Pricing: engine, Queue: memQueue,
	})
	creditSvc := creditservice.NewService(creditservice.Params{
		DB: db, Log: log, GenID: node, Clock: fake,
	})
	deliverySvc := deliveryservice.NewService(deliveryservice.Params{
		DB: db, Log: log,
	})

	r := gin.New()
	r.Use(ErrorHandlingMiddleware())

	srv := NewServer(ServerParams{
		Gin:           r,
		Cfg:           cfg,
		DB:            db,
		GenID:         node,
		ProcessingSvc: processingSvc,
		CreditSvc:     creditSvc,
		DeliverySvc:   deliverySvc,
	})

	st := &testStack{server: srv, db: db, genID: node}

	user := accountdomain.User{ID: node.Generate(), Email: "creator@example.com", Credits: 100}
	require.NoError(t, db.Create(&user).Error)
	st.userID = user.ID

	project := projectdomain.Project{
		ID:     node.Generate(),
		UserID: user.ID,
		Name:   "Launch teaser",
		Status: projectdomain.ProjectStatusDraft,
	}
	require.NoError(t, db.Create(&project).Error)
	st.projectID = project.ID

	for i := 0; i < 3; i++ {
		require.NoError(t, db.Create(&projectdomain.VideoFile{
			ID:        node.Generate(),
			ProjectID: project.ID,
			Filename:  "clip.mp4",
			Path:      "/videos/clip.mp4",
			Size:      1 << 20,
			Duration:  10,
		}).Error)
	}

	return st
}

func (st *testStack) do(t *testing.T, method, path string, body any, auth func(*http.Request)) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if auth != nil {
		auth(req)
	}

	w := httptest.NewRecorder()
	st.server.Engine().ServeHTTP(w, req)
	return w
}

func (st *testStack) asUser(req *http.Request) {
	req.Header.Set(HeaderUserID, st.userID.String())
}

func asWorker(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+testWorkerToken)
}

func decodeJSON(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var payload map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &payload))
	return payload
}

func TestStartProcessing_EndToEnd(t *testing.T) {
	st := newTestStack(t)

	w := st.do(t, http.MethodPost, fmt.Sprintf("/api/processing/%s/start", st.projectID),
		gin.H{"settings": gin.H{"outputCount": 10}}, st.asUser)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())

	payload := decodeJSON(t, w)
	assert.NotEmpty(t, payload["jobId"])
	assert.EqualValues(t, 300, payload["estimatedDurationSeconds"])

	// Second start for the same project conflicts.
	w = st.do(t, http.MethodPost, fmt.Sprintf("/api/processing/%s/start", st.projectID),
		gin.H{"settings": gin.H{"outputCount": 10}}, st.asUser)
	assert.Equal(t, http.StatusConflict, w.Code, w.Body.String())
}

func TestStartProcessing_InsufficientCreditsPayload(t *testing.T) {
	st := newTestStack(t)
	require.NoError(t, st.db.Model(&accountdomain.User{}).
		Where("id = ?", st.userID).Update("credits", 1).Error)

	w := st.do(t, http.MethodPost, fmt.Sprintf("/api/processing/%s/start", st.projectID),
		gin.H{"settings": gin.H{"outputCount": 10}}, st.asUser)
	require.Equal(t, http.StatusPaymentRequired, w.Code, w.Body.String())

	payload := decodeJSON(t, w)
	errPayload, ok := payload["error"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "insufficient_credits", errPayload["type"])
	assert.EqualValues(t, 1, errPayload["available"])
	assert.NotZero(t, errPayload["required"])
}

func TestEstimate_RequiresUser(t *testing.T) {
	st := newTestStack(t)

	w := st.do(t, http.MethodPost, "/api/processing/estimate",
		gin.H{"settings": gin.H{"outputCount": 5}}, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = st.do(t, http.MethodPost, "/api/processing/estimate",
		gin.H{"settings": gin.H{"outputCount": 5}}, st.asUser)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	payload := decodeJSON(t, w)
	assert.EqualValues(t, 100, payload["userCredits"])
	assert.Equal(t, true, payload["hasEnoughCredits"])
}

func TestEstimate_InvalidOutputCount(t *testing.T) {
	st := newTestStack(t)

	w := st.do(t, http.MethodPost, "/api/processing/estimate",
		gin.H{"settings": gin.H{"outputCount": "lots"}}, st.asUser)
	assert.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())
}

func TestWorkerCallbacks_FullLifecycle(t *testing.T) {
	st := newTestStack(t)

	w := st.do(t, http.MethodPost, fmt.Sprintf("/api/processing/%s/start", st.projectID),
		gin.H{"settings": gin.H{"outputCount": 5}}, st.asUser)
	require.Equal(t, http.StatusAccepted, w.Code)
	jobID := decodeJSON(t, w)["jobId"].(string)

	// Worker endpoints reject missing or wrong tokens.
	w = st.do(t, http.MethodPost, "/worker/jobs/"+jobID+"/progress",
		gin.H{"percent": 10}, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	w = st.do(t, http.MethodPost, "/worker/jobs/"+jobID+"/progress",
		gin.H{"percent": 10}, func(req *http.Request) {
			req.Header.Set("Authorization", "Bearer wrong")
		})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = st.do(t, http.MethodPost, "/worker/jobs/"+jobID+"/progress",
		gin.H{"percent": 40}, asWorker)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = st.do(t, http.MethodPost, "/worker/jobs/"+jobID+"/output",
		gin.H{"filename": "v1.mp4", "path": "/outputs/v1.mp4", "size": 2048}, asWorker)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = st.do(t, http.MethodPost, "/worker/jobs/"+jobID+"/terminal",
		gin.H{"status": "completed"}, asWorker)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	// Client sees the finished job.
	w = st.do(t, http.MethodGet, "/api/processing/job/"+jobID, nil, st.asUser)
	require.Equal(t, http.StatusOK, w.Code)
	payload := decodeJSON(t, w)
	job := payload["job"].(map[string]any)
	assert.Equal(t, "COMPLETED", job["status"])
	assert.EqualValues(t, 100, job["progress"])
}

func TestWorkerCallbacks_FailureRefunds(t *testing.T) {
	st := newTestStack(t)

	w := st.do(t, http.MethodPost, fmt.Sprintf("/api/processing/%s/start", st.projectID),
		gin.H{"settings": gin.H{"outputCount": 5}}, st.asUser)
	require.Equal(t, http.StatusAccepted, w.Code)
	jobID := decodeJSON(t, w)["jobId"].(string)

	w = st.do(t, http.MethodPost, "/worker/jobs/"+jobID+"/progress",
		gin.H{"percent": 10}, asWorker)
	require.Equal(t, http.StatusOK, w.Code)

	w = st.do(t, http.MethodPost, "/worker/jobs/"+jobID+"/terminal",
		gin.H{"status": "failed", "errorMessage": "encoder crashed"}, asWorker)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = st.do(t, http.MethodGet, "/api/credits", nil, st.asUser)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 100, decodeJSON(t, w)["credits"])

	w = st.do(t, http.MethodGet, "/api/credits/transactions", nil, st.asUser)
	require.Equal(t, http.StatusOK, w.Code)
	transactions := decodeJSON(t, w)["transactions"].([]any)
	assert.Len(t, transactions, 2)
}

func TestGetJob_NotFoundForOtherUser(t *testing.T) {
	st := newTestStack(t)

	w := st.do(t, http.MethodPost, fmt.Sprintf("/api/processing/%s/start", st.projectID),
		gin.H{"settings": gin.H{"outputCount": 5}}, st.asUser)
	require.Equal(t, http.StatusAccepted, w.Code)
	jobID := decodeJSON(t, w)["jobId"].(string)

	other := accountdomain.User{ID: st.genID.Generate(), Email: "other@example.com", Credits: 10}
	require.NoError(t, st.db.Create(&other).Error)

	w = st.do(t, http.MethodGet, "/api/processing/job/"+jobID, nil, func(req *http.Request) {
		req.Header.Set(HeaderUserID, other.ID.String())
	})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestGrantBonus_AdminEndpoint(t *testing.T) {
	st := newTestStack(t)

	w := st.do(t, http.MethodPost, fmt.Sprintf("/admin/users/%s/bonus", st.userID),
		gin.H{"amount": 25, "description": "welcome grant"}, asWorker)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = st.do(t, http.MethodGet, "/api/credits", nil, st.asUser)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 125, decodeJSON(t, w)["credits"])
}

func TestDownloadInfo_AdvisesStrategy(t *testing.T) {
	st := newTestStack(t)

	w := st.do(t, http.MethodPost, fmt.Sprintf("/api/processing/%s/start", st.projectID),
		gin.H{"settings": gin.H{"outputCount": 5}}, st.asUser)
	require.Equal(t, http.StatusAccepted, w.Code)
	jobID := decodeJSON(t, w)["jobId"].(string)

	w = st.do(t, http.MethodPost, "/worker/jobs/"+jobID+"/progress",
		gin.H{"percent": 10}, asWorker)
	require.Equal(t, http.StatusOK, w.Code)
	for i := 0; i < 2; i++ {
		w = st.do(t, http.MethodPost, "/worker/jobs/"+jobID+"/output",
			gin.H{"filename": fmt.Sprintf("v%d.mp4", i), "path": fmt.Sprintf("/outputs/v%d.mp4", i), "size": 100}, asWorker)
		require.Equal(t, http.StatusCreated, w.Code)
	}

	w = st.do(t, http.MethodGet, "/api/processing/job/"+jobID+"/download-info", nil, st.asUser)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	payload := decodeJSON(t, w)
	assert.EqualValues(t, 2, payload["totalFiles"])
	assert.EqualValues(t, 200, payload["totalSize"])
	assert.Contains(t, payload["downloadOptions"], "batch")
}

func TestDownloadChunk_QueryParamNames(t *testing.T) {
	st := newTestStack(t)

	w := st.do(t, http.MethodPost, fmt.Sprintf("/api/processing/%s/start", st.projectID),
		gin.H{"settings": gin.H{"outputCount": 5}}, st.asUser)
	require.Equal(t, http.StatusAccepted, w.Code)
	jobID := decodeJSON(t, w)["jobId"].(string)

	w = st.do(t, http.MethodPost, "/worker/jobs/"+jobID+"/progress",
		gin.H{"percent": 10}, asWorker)
	require.Equal(t, http.StatusOK, w.Code)
	for i := 0; i < 10; i++ {
		w = st.do(t, http.MethodPost, "/worker/jobs/"+jobID+"/output",
			gin.H{"filename": fmt.Sprintf("v%d.mp4", i), "path": fmt.Sprintf("/outputs/v%d.mp4", i), "size": 100}, asWorker)
		require.Equal(t, http.StatusCreated, w.Code)
	}

	// An index past the last chunk is a validation failure.
	w = st.do(t, http.MethodGet, "/api/processing/job/"+jobID+"/download-chunk?chunkIndex=9&chunkSize=5", nil, st.asUser)
	assert.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())

	// A valid index reaches the streamer. The outputs only exist as rows
	// here, not on disk, so the archive resolves empty. Anything other
	// than the invalid-chunk 400 proves chunkIndex was honored.
	w = st.do(t, http.MethodGet, "/api/processing/job/"+jobID+"/download-chunk?chunkIndex=1&chunkSize=5", nil, st.asUser)
	assert.Equal(t, http.StatusNotFound, w.Code, w.Body.String())

	// The short forms stay accepted.
	w = st.do(t, http.MethodGet, "/api/processing/job/"+jobID+"/download-chunk?chunk=9&size=5", nil, st.asUser)
	assert.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())
}

func TestAddOutput_RejectsPathOutsideStorageRoot(t *testing.T) {
	st := newTestStack(t)

	w := st.do(t, http.MethodPost, fmt.Sprintf("/api/processing/%s/start", st.projectID),
		gin.H{"settings": gin.H{"outputCount": 5}}, st.asUser)
	require.Equal(t, http.StatusAccepted, w.Code)
	jobID := decodeJSON(t, w)["jobId"].(string)

	w = st.do(t, http.MethodPost, "/worker/jobs/"+jobID+"/progress",
		gin.H{"percent": 10}, asWorker)
	require.Equal(t, http.StatusOK, w.Code)

	for _, path := range []string{"/tmp/evil.mp4", "/outputs/../etc/passwd"} {
		w = st.do(t, http.MethodPost, "/worker/jobs/"+jobID+"/output",
			gin.H{"filename": "v1.mp4", "path": path, "size": 10}, asWorker)
		assert.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())
	}

	w = st.do(t, http.MethodPost, "/worker/jobs/"+jobID+"/output",
		gin.H{"filename": "v1.mp4", "path": "/outputs/v1.mp4", "size": 10}, asWorker)
	assert.Equal(t, http.StatusCreated, w.Code, w.Body.String())
}
