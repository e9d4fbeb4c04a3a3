package api

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/kdimtricp/slugsei/internal/message"
	"github.com/kdimtricp/slugsei/internal/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPing(t *testing.T) {
	ts := setupTestServer(t)

	resp, err := http.Get(ts.Server.URL + "/ping")
	require.NoError(t, err)
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "pong", string(body))
}

func TestSessionWorkflow(t *testing.T) {
	ts := setupTestServer(t)

	resp, err := http.Get(ts.Server.URL + "/session")
	require.NoError(t, err)
	view := decodeSession(t, resp)
	assert.Equal(t, session.PhaseIdle, view.Phase)
	assert.True(t, view.CanUpload)
	assert.False(t, view.CanAnalyze)

	resp = ts.upload(t, "swing.mp4", []byte("fake mp4 content"))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	view = decodeSession(t, resp)
	assert.Equal(t, session.PhaseUploaded, view.Phase)
	assert.Equal(t, "vid-1", view.VideoID)
	assert.True(t, view.HasVideo)
	assert.True(t, view.CanAnalyze)

	resp = ts.post(t, "/session/analyze", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	view = decodeSession(t, resp)
	assert.Equal(t, session.PhaseAnalyzed, view.Phase)
	assert.Equal(t, map[string]string{"p1": "u1"}, view.Artifacts)
	assert.Equal(t, "https://x/y.mp4", view.ReferenceVideo)
	require.NotNil(t, view.Metrics)
	assert.Equal(t, 12.345, view.Metrics.LaunchAngle)

	n := len(view.History)
	require.GreaterOrEqual(t, n, 2)
	assert.Equal(t, "Nice swing", view.History[n-2].Body)
	assert.Equal(t, "https://x/y.mp4", view.History[n-2].ReferenceVideo)
	assert.Contains(t, view.History[n-1].Body, "Exit Velocity: 98.8 mph")

	resp = ts.post(t, "/session/chat", "application/json", strings.NewReader(`{"message":"Show me a pro swing"}`))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	view = decodeSession(t, resp)

	n = len(view.History)
	assert.Equal(t, message.SenderUser, view.History[n-2].Sender)
	answer := view.History[n-1]
	require.Len(t, answer.Segments, 2)
	assert.Equal(t, message.ReferenceLink, answer.Segments[1].Kind)
	assert.Equal(t, "https://cdn/a.mp4", answer.Segments[1].URL)
}

func TestUploadValidation(t *testing.T) {
	tests := []struct {
		name           string
		filename       string
		expectedStatus int
	}{
		{"mp4 accepted", "swing.mp4", http.StatusOK},
		{"mov accepted", "swing.MOV", http.StatusOK},
		{"text rejected", "notes.txt", http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := setupTestServer(t)

			resp := ts.upload(t, tt.filename, []byte("content"))
			defer resp.Body.Close()

			assert.Equal(t, tt.expectedStatus, resp.StatusCode)
		})
	}
}

func TestUploadSendsVideoContentType(t *testing.T) {
	tests := []struct {
		name        string
		filename    string
		contentType string
		wantSent    string
	}{
		{"generic browser type", "swing.mp4", "application/octet-stream", "video/mp4"},
		{"quicktime mov", "swing.mov", "video/quicktime", "video/mov"},
		{"unknown extension with video type", "swing.webm", "video/webm", "video/webm"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := setupTestServer(t)

			body, formType, err := createTypedUpload(tt.filename, tt.contentType, []byte("content"))
			require.NoError(t, err)
			resp := ts.post(t, "/session/upload", formType, body)
			view := decodeSession(t, resp)

			require.Equal(t, []string{tt.wantSent}, ts.Coach.uploadTypes)
			if videoTypes[tt.wantSent] {
				assert.Equal(t, session.PhaseUploaded, view.Phase)
			} else {
				assert.Equal(t, session.PhaseError, view.Phase)
				assert.Equal(t, "Upload failed: Invalid file type. Only videos are allowed.", view.History[len(view.History)-1].Body)
			}
		})
	}
}

func TestUploadTooLarge(t *testing.T) {
	ts := setupTestServer(t)
	ts.App.MaxUploadSize = 1024

	resp := ts.upload(t, "swing.mp4", make([]byte, 4096))
	defer resp.Body.Close()

	assert.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)
	assert.Equal(t, 0, ts.Coach.uploads)
}

func TestUploadMissingFile(t *testing.T) {
	ts := setupTestServer(t)

	resp := ts.post(t, "/session/upload", "application/x-www-form-urlencoded", strings.NewReader("title=x"))
	defer resp.Body.Close()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, session.PhaseIdle, ts.Machine.Snapshot().Phase)
}

func TestAnalyzeWithoutVideo(t *testing.T) {
	ts := setupTestServer(t)

	resp := ts.post(t, "/session/analyze", "", nil)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Empty(t, ts.Machine.Snapshot().History)
}

func TestAnalyzeFailureReportedInTranscript(t *testing.T) {
	ts := setupTestServer(t)
	ts.Coach.analyzeFail = true

	ts.upload(t, "swing.mp4", []byte("x")).Body.Close()
	resp := ts.post(t, "/session/analyze", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	view := decodeSession(t, resp)
	assert.Equal(t, session.PhaseError, view.Phase)
	assert.Equal(t, "Analysis failed: pose estimation failed", view.History[len(view.History)-1].Body)
	assert.True(t, view.CanAnalyze)
}

func TestAnalyzeWithoutFeedback(t *testing.T) {
	ts := setupTestServer(t)
	ts.Coach.feedbackFail = true

	ts.upload(t, "swing.mp4", []byte("x")).Body.Close()
	view := decodeSession(t, ts.post(t, "/session/analyze", "", nil))

	assert.Equal(t, session.PhaseAnalyzed, view.Phase)
	assert.NotNil(t, view.Metrics)
	assert.Empty(t, view.ReferenceVideo)
	assert.Contains(t, view.History[len(view.History)-2].Body, "coaching feedback is unavailable")
}

func TestChatValidation(t *testing.T) {
	ts := setupTestServer(t)

	resp := ts.post(t, "/session/chat", "application/x-www-form-urlencoded", strings.NewReader("message=+++"))
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp2 := ts.post(t, "/session/chat", "application/json", strings.NewReader(`{not json`))
	defer resp2.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp2.StatusCode)

	assert.Empty(t, ts.Machine.Snapshot().History)
}

func TestChatFormValue(t *testing.T) {
	ts := setupTestServer(t)

	resp := ts.post(t, "/session/chat", "application/x-www-form-urlencoded", strings.NewReader("message=hello+coach"))
	view := decodeSession(t, resp)

	require.Len(t, view.History, 2)
	assert.Equal(t, "hello coach", view.History[0].Body)
}

func TestReset(t *testing.T) {
	ts := setupTestServer(t)

	ts.upload(t, "swing.mp4", []byte("x")).Body.Close()

	for i := 0; i < 2; i++ {
		resp := ts.post(t, "/session/reset", "", nil)
		view := decodeSession(t, resp)
		assert.Equal(t, session.PhaseIdle, view.Phase)
		assert.Empty(t, view.History)
		assert.False(t, view.HasVideo)
	}
}

func TestVideoHandler_RangeRequests(t *testing.T) {
	ts := setupTestServer(t)

	resp, err := http.Get(ts.Server.URL + "/session/video")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode, "no video before upload")

	content := []byte(strings.Repeat("0123456789", 300))
	ts.upload(t, "swing.mp4", content).Body.Close()

	tests := []struct {
		name         string
		rangeHeader  string
		expectStatus int
		expectLen    int
	}{
		{"Full content request", "", http.StatusOK, len(content)},
		{"Range request", "bytes=0-1023", http.StatusPartialContent, 1024},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := http.NewRequest(http.MethodGet, ts.Server.URL+"/session/video", nil)
			require.NoError(t, err)
			if tt.rangeHeader != "" {
				req.Header.Set("Range", tt.rangeHeader)
			}

			resp, err := http.DefaultClient.Do(req)
			require.NoError(t, err)
			defer resp.Body.Close()

			body, _ := io.ReadAll(resp.Body)
			assert.Equal(t, tt.expectStatus, resp.StatusCode)
			assert.Len(t, body, tt.expectLen)
			assert.Equal(t, "bytes", resp.Header.Get("Accept-Ranges"))
			assert.Equal(t, "video/mp4", resp.Header.Get("Content-Type"))
		})
	}
}

func TestEventsHandler(t *testing.T) {
	ts := setupTestServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.Server.URL+"/session/events", nil)
	require.NoError(t, err)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	reader := bufio.NewReader(resp.Body)
	first := readEvent(t, reader)
	assert.Equal(t, session.PhaseIdle, first.Phase)

	require.NoError(t, ts.Machine.SendChat(context.Background(), "hi"))

	// The stream may coalesce the two chat transitions into one snapshot.
	var last sessionView
	for i := 0; i < 3 && len(last.History) < 2; i++ {
		last = readEvent(t, reader)
	}
	require.Len(t, last.History, 2)
	assert.Equal(t, "hi", last.History[0].Body)
}

func readEvent(t *testing.T, reader *bufio.Reader) sessionView {
	t.Helper()
	var event string
	for {
		line, err := reader.ReadString('\n')
		require.NoError(t, err)
		line = strings.TrimRight(line, "\n")

		switch {
		case strings.HasPrefix(line, "event: "):
			event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			require.Equal(t, "session", event)
			var view sessionView
			require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &view))
			return view
		}
	}
}
