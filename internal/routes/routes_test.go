package routes

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ahmetcoskunkizilkaya/incident-desk/internal/attachments"
	"github.com/ahmetcoskunkizilkaya/incident-desk/internal/config"
	"github.com/ahmetcoskunkizilkaya/incident-desk/internal/database/dbtest"
	"github.com/ahmetcoskunkizilkaya/incident-desk/internal/dto"
	"github.com/ahmetcoskunkizilkaya/incident-desk/internal/handlers"
	"github.com/ahmetcoskunkizilkaya/incident-desk/internal/identity"
	"github.com/ahmetcoskunkizilkaya/incident-desk/internal/models"
	"github.com/ahmetcoskunkizilkaya/incident-desk/internal/realtime"
	"github.com/ahmetcoskunkizilkaya/incident-desk/internal/services"
	"github.com/ahmetcoskunkizilkaya/incident-desk/internal/store"
	"github.com/alicebob/miniredis/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret"

type stubUploader struct {
	err      error
	uploaded []string
}

func (u *stubUploader) Upload(_ context.Context, reportID uuid.UUID, file attachments.File) (*models.Attachment, error) {
	if u.err != nil {
		return nil, u.err
	}
	body, _ := io.ReadAll(file.Body)
	u.uploaded = append(u.uploaded, string(body))
	ct := attachments.DetectContentType(file.Name, file.ContentType)
	return &models.Attachment{
		URL:     "https://blobs.example/" + attachments.ObjectKey(reportID, file.Name),
		IsImage: attachments.IsImage(ct),
	}, nil
}

type testServer struct {
	app      *fiber.App
	hub      *realtime.Hub
	threads  *services.ThreadService
	uploader *stubUploader
	reporter identity.Caller
	reviewer identity.Caller
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	hub := realtime.NewHub()
	s := newTestServerWith(t, hub, hub)
	s.hub = hub
	return s
}

// newTestServerWith builds the API with messages published through publisher
// and streams served from subscriber, which may be different instances.
func newTestServerWith(t *testing.T, publisher realtime.Publisher, subscriber handlers.Subscriber) *testServer {
	t.Helper()
	cfg := &config.Config{JWTSecret: testSecret, RateLimitRPM: 10000}
	db := dbtest.New(t)
	st := store.NewGormStore(db)
	validate := dto.NewValidator()
	uploader := &stubUploader{}

	threads := services.NewThreadService(st, publisher)
	app := fiber.New(fiber.Config{ErrorHandler: handlers.ErrorHandler, DisableStartupMessage: true})
	app.Use(requestid.New())
	Setup(app, cfg,
		handlers.NewHealthHandler(db, nil),
		handlers.NewReportHandler(services.NewReportService(st), validate),
		handlers.NewThreadHandler(threads, subscriber, uploader, validate, time.Hour),
		handlers.NewLogHandler(services.NewLogService(db), validate),
	)

	return &testServer{
		app:      app,
		threads:  threads,
		uploader: uploader,
		reporter: identity.Caller{ID: uuid.New(), Role: models.RoleReporter},
		reviewer: identity.Caller{ID: uuid.New(), Role: models.RoleReviewer},
	}
}

func signToken(t *testing.T, sub, role string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":  sub,
		"role": role,
		"exp":  time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString([]byte(testSecret))
	require.NoError(t, err)
	return signed
}

func (s *testServer) do(t *testing.T, caller *identity.Caller, method, path string, body any) *http.Response {
	t.Helper()
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if caller != nil {
		req.Header.Set("Authorization", "Bearer "+signToken(t, caller.ID.String(), string(caller.Role)))
	}
	resp, err := s.app.Test(req, -1)
	require.NoError(t, err)
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var out T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func (s *testServer) createReport(t *testing.T) dto.ReportResponse {
	t.Helper()
	resp := s.do(t, &s.reporter, http.MethodPost, "/api/reports", dto.CreateReportRequest{
		Title:       "Fake courier SMS",
		Description: "Asked me to pay a redelivery fee",
		Category:    "phishing",
		Location:    "Poblacion",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	return decode[dto.ReportResponse](t, resp)
}

func TestHealthAndMetricsArePublic(t *testing.T) {
	s := newTestServer(t)

	resp := s.do(t, nil, http.MethodGet, "/api/health", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	health := decode[dto.HealthResponse](t, resp)
	assert.Equal(t, "ok", health.Status)
	assert.Equal(t, "ok", health.DB)

	resp = s.do(t, nil, http.MethodGet, "/api/metrics", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestAuthentication(t *testing.T) {
	s := newTestServer(t)

	resp := s.do(t, nil, http.MethodGet, "/api/reports", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	req := httptest.NewRequest(http.MethodGet, "/api/reports", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, uuid.NewString(), "admin"))
	resp, err := s.app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	req = httptest.NewRequest(http.MethodGet, "/api/reports", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, "not-a-uuid", "reporter"))
	resp, err = s.app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestSubmitAndListReports(t *testing.T) {
	s := newTestServer(t)
	report := s.createReport(t)
	assert.Equal(t, models.StatusPending, report.Status)
	assert.Equal(t, s.reporter.ID, report.ReporterID)

	resp := s.do(t, &s.reviewer, http.MethodPost, "/api/reports", dto.CreateReportRequest{
		Title: "x", Description: "y", Category: "other", Location: "z",
	})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp = s.do(t, &s.reporter, http.MethodPost, "/api/reports", dto.CreateReportRequest{Category: "spam"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	other := identity.Caller{ID: uuid.New(), Role: models.RoleReporter}
	resp = s.do(t, &other, http.MethodGet, "/api/reports", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, decode[[]dto.ReportResponse](t, resp))

	resp = s.do(t, &s.reviewer, http.MethodGet, "/api/reports?status=pending", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	list := decode[[]dto.ReportResponse](t, resp)
	require.Len(t, list, 1)
	assert.Equal(t, report.ID, list[0].ID)

	resp = s.do(t, &s.reviewer, http.MethodGet, "/api/reports?status=archived", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = s.do(t, &s.reviewer, http.MethodGet, "/api/reports?reporter_id="+s.reporter.ID.String(), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, decode[[]dto.ReportResponse](t, resp), 1)

	resp = s.do(t, &s.reviewer, http.MethodGet, "/api/reports?reporter_id=not-a-uuid", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = s.do(t, &s.reporter, http.MethodGet, "/api/reports/"+report.ID.String(), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = s.do(t, &s.reporter, http.MethodGet, "/api/reports/"+uuid.NewString(), nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = s.do(t, &s.reporter, http.MethodGet, "/api/reports/nope", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestSummaryIsReviewerOnly(t *testing.T) {
	s := newTestServer(t)
	s.createReport(t)
	s.createReport(t)

	resp := s.do(t, &s.reporter, http.MethodGet, "/api/reports/summary", nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp = s.do(t, &s.reviewer, http.MethodGet, "/api/reports/summary", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	summary := decode[dto.ReportSummaryResponse](t, resp)
	assert.Equal(t, int64(2), summary.Total)
	require.Len(t, summary.Rows, 1)
	assert.Equal(t, "Poblacion", summary.Rows[0].Location)
}

func TestThreadLifecycleOverHTTP(t *testing.T) {
	s := newTestServer(t)
	report := s.createReport(t)
	base := "/api/reports/" + report.ID.String()

	resp := s.do(t, &s.reviewer, http.MethodPost, base+"/resolve", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp = s.do(t, &s.reporter, http.MethodPost, base+"/messages", dto.PostMessageRequest{Body: "They have my card number"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	first := decode[dto.MessageResponse](t, resp)
	assert.Equal(t, int64(1), first.Seq)
	assert.Equal(t, models.RoleReporter, first.Sender)

	resp = s.do(t, &s.reporter, http.MethodGet, base, nil)
	assert.Equal(t, models.StatusInProgress, decode[dto.ReportResponse](t, resp).Status)

	resp = s.do(t, &s.reviewer, http.MethodPost, base+"/messages", dto.PostMessageRequest{
		Body:       "Block the card, see attached steps",
		Attachment: &dto.AttachmentRequest{URL: "https://blobs.example/steps.pdf"},
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	second := decode[dto.MessageResponse](t, resp)
	require.NotNil(t, second.Attachment)
	assert.False(t, second.Attachment.IsImage)

	resp = s.do(t, &s.reporter, http.MethodPost, base+"/messages", dto.PostMessageRequest{Body: "  "})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = s.do(t, &s.reporter, http.MethodPost, base+"/resolve", nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp = s.do(t, &s.reviewer, http.MethodPost, base+"/start", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, models.StatusInProgress, decode[dto.ReportResponse](t, resp).Status)

	resp = s.do(t, &s.reviewer, http.MethodPost, base+"/resolve", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, models.StatusResolved, decode[dto.ReportResponse](t, resp).Status)

	resp = s.do(t, &s.reviewer, http.MethodPost, base+"/resolve", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = s.do(t, &s.reviewer, http.MethodPost, base+"/start", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp = s.do(t, &s.reporter, http.MethodPost, base+"/messages", dto.PostMessageRequest{Body: "still there?"})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp = s.do(t, &s.reporter, http.MethodGet, base+"/messages", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	thread := decode[[]dto.MessageResponse](t, resp)
	require.Len(t, thread, 2)
	assert.Equal(t, first.ID, thread[0].ID)
	assert.Equal(t, second.ID, thread[1].ID)

	resp = s.do(t, &s.reporter, http.MethodGet, "/api/reports/"+uuid.NewString()+"/messages", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp = s.do(t, &s.reporter, http.MethodPost, "/api/reports/"+uuid.NewString()+"/messages", dto.PostMessageRequest{Body: "hi"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func multipartRequest(t *testing.T, caller identity.Caller, path, body, fileName, content string) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	require.NoError(t, w.WriteField("body", body))
	if fileName != "" {
		part, err := w.CreateFormFile("file", fileName)
		require.NoError(t, err)
		_, err = part.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, path, &buf)
	req.Header.Set("Content-Type", w.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+signToken(t, caller.ID.String(), string(caller.Role)))
	return req
}

func TestMultipartAttachmentUpload(t *testing.T) {
	s := newTestServer(t)
	report := s.createReport(t)
	path := "/api/reports/" + report.ID.String() + "/messages"

	resp, err := s.app.Test(multipartRequest(t, s.reporter, path, "screenshot attached", "proof.png", "PNGDATA"), -1)
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	msg := decode[dto.MessageResponse](t, resp)
	require.NotNil(t, msg.Attachment)
	assert.True(t, msg.Attachment.IsImage)
	assert.True(t, strings.HasPrefix(msg.Attachment.URL, "https://blobs.example/reports/"+report.ID.String()+"/"))
	assert.Equal(t, []string{"PNGDATA"}, s.uploader.uploaded)

	resp, err = s.app.Test(multipartRequest(t, s.reporter, path, "text only", "", ""), -1)
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Nil(t, decode[dto.MessageResponse](t, resp).Attachment)
}

func TestMultipartUploadFailureCreatesNoMessage(t *testing.T) {
	s := newTestServer(t)
	s.uploader.err = errors.New("minio unavailable")
	report := s.createReport(t)
	path := "/api/reports/" + report.ID.String() + "/messages"

	resp, err := s.app.Test(multipartRequest(t, s.reporter, path, "see file", "proof.jpg", "JPEG"), -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)

	thread, err := s.threads.GetThread(context.Background(), report.ID)
	require.NoError(t, err)
	assert.Empty(t, thread)

	resp = s.do(t, &s.reporter, http.MethodGet, "/api/reports/"+report.ID.String(), nil)
	assert.Equal(t, models.StatusPending, decode[dto.ReportResponse](t, resp).Status)
}

func TestMultipartBodyLimitCountsCharacters(t *testing.T) {
	s := newTestServer(t)
	report := s.createReport(t)
	path := "/api/reports/" + report.ID.String() + "/messages"

	resp, err := s.app.Test(multipartRequest(t, s.reporter, path, strings.Repeat("é", 5000), "", ""), -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, err = s.app.Test(multipartRequest(t, s.reporter, path, strings.Repeat("é", 5001), "", ""), -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = s.do(t, &s.reporter, http.MethodPost, path, dto.PostMessageRequest{Body: strings.Repeat("é", 5000)})
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
}

func TestMultipartFileIsNotUploadedForMissingOrResolvedReport(t *testing.T) {
	s := newTestServer(t)

	missing := "/api/reports/" + uuid.NewString() + "/messages"
	resp, err := s.app.Test(multipartRequest(t, s.reporter, missing, "see file", "proof.png", "PNGDATA"), -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	report := s.createReport(t)
	_, err = s.threads.ResolveReport(context.Background(), s.reviewer, report.ID)
	require.NoError(t, err)
	resolved := "/api/reports/" + report.ID.String() + "/messages"
	resp, err = s.app.Test(multipartRequest(t, s.reporter, resolved, "see file", "proof.png", "PNGDATA"), -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	assert.Empty(t, s.uploader.uploaded)
}

func TestStreamSendsSnapshotThenLiveMessages(t *testing.T) {
	s := newTestServer(t)
	report := s.createReport(t)
	ctx := context.Background()

	_, err := s.threads.AppendMessage(ctx, s.reporter, report.ID, services.AppendInput{Body: "before connect"})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/api/reports/"+report.ID.String()+"/stream", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, s.reviewer.ID.String(), string(s.reviewer.Role)))

	type result struct {
		resp *http.Response
		err  error
	}
	done := make(chan result, 1)
	go func() {
		resp, err := s.app.Test(req, -1)
		done <- result{resp, err}
	}()

	require.Eventually(t, func() bool { return s.hub.Subscribers(report.ID) == 1 }, 2*time.Second, 10*time.Millisecond)
	_, err = s.threads.AppendMessage(ctx, s.reviewer, report.ID, services.AppendInput{Body: "after connect"})
	require.NoError(t, err)
	s.hub.Close()

	var res result
	select {
	case res = <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("stream did not end")
	}
	require.NoError(t, res.err)
	require.Equal(t, http.StatusOK, res.resp.StatusCode)
	assert.Equal(t, "text/event-stream", res.resp.Header.Get("Content-Type"))

	raw, err := io.ReadAll(res.resp.Body)
	require.NoError(t, err)
	body := string(raw)
	assert.Contains(t, body, "id: 1\nevent: message\ndata: ")
	assert.Contains(t, body, "id: 2\nevent: message\ndata: ")
	assert.Less(t, strings.Index(body, "before connect"), strings.Index(body, "after connect"))
	assert.Equal(t, 1, strings.Count(body, "before connect"))
}

func TestStreamAcrossRedisInstancesSeesMessageAppendedRightAfterConnect(t *testing.T) {
	mr := miniredis.RunT(t)
	newBroker := func() *realtime.RedisBroker {
		client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		b := realtime.NewRedisBroker(client, realtime.BrokerConfig{Prefix: "test:thread:"})
		t.Cleanup(func() {
			_ = b.Close()
			_ = client.Close()
		})
		return b
	}
	api, worker := newBroker(), newBroker()
	s := newTestServerWith(t, worker, api)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() { _ = s.app.Listener(ln) }()
	t.Cleanup(func() { _ = s.app.ShutdownWithTimeout(time.Second) })

	for i := 0; i < 5; i++ {
		report := s.createReport(t)

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://"+ln.Addr().String()+"/api/reports/"+report.ID.String()+"/stream", nil)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+signToken(t, s.reviewer.ID.String(), string(s.reviewer.Role)))
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		require.Equal(t, http.StatusOK, resp.StatusCode)

		// Headers arrive only after the handler subscribed and sent the snapshot.
		_, err = s.threads.AppendMessage(context.Background(), s.reporter, report.ID, services.AppendInput{Body: "right after connect"})
		require.NoError(t, err)

		found := false
		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			if strings.Contains(scanner.Text(), "right after connect") {
				found = true
				break
			}
		}
		cancel()
		resp.Body.Close()
		require.True(t, found, "stream never delivered the message")
	}
}

func TestStreamUnknownReport(t *testing.T) {
	s := newTestServer(t)

	missing := uuid.New()
	resp := s.do(t, &s.reporter, http.MethodGet, "/api/reports/"+missing.String()+"/stream", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, 0, s.hub.Subscribers(missing))
}

func TestAdminLogsIsReviewerOnly(t *testing.T) {
	s := newTestServer(t)

	resp := s.do(t, &s.reporter, http.MethodGet, "/api/admin/logs", nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp = s.do(t, &s.reviewer, http.MethodGet, "/api/admin/logs?level=error", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, decode[[]models.SystemLog](t, resp))

	resp = s.do(t, &s.reviewer, http.MethodGet, "/api/admin/logs?level=fatal", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
