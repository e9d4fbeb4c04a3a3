package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"sync"
	"testing"

	"github.com/kdimtricp/slugsei/internal/coach"
	"github.com/kdimtricp/slugsei/internal/session"
	"github.com/kdimtricp/slugsei/internal/storage"
	"github.com/stretchr/testify/require"
)

// fakeCoach stands in for the remote analysis and coaching service. Like
// the real one it only accepts upload parts typed as one of videoTypes.
type fakeCoach struct {
	mu           sync.Mutex
	analyzeFail  bool
	feedbackFail bool
	uploads      int
	uploadTypes  []string
}

var videoTypes = map[string]bool{
	"video/mp4": true,
	"video/mov": true,
	"video/avi": true,
	"video/mkv": true,
}

func (f *fakeCoach) handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/video/upload", func(w http.ResponseWriter, r *http.Request) {
		_, header, err := r.FormFile("file")
		if err != nil {
			writeJSON(w, http.StatusUnprocessableEntity, `{"detail":[{"msg":"Field required"}]}`)
			return
		}
		contentType := header.Header.Get("Content-Type")
		f.mu.Lock()
		f.uploadTypes = append(f.uploadTypes, contentType)
		f.mu.Unlock()
		if !videoTypes[contentType] {
			writeJSON(w, http.StatusBadRequest, `{"detail":"Invalid file type. Only videos are allowed."}`)
			return
		}
		f.mu.Lock()
		f.uploads++
		f.mu.Unlock()
		writeJSON(w, http.StatusOK, `{"video_id":"vid-1","status":"processed"}`)
	})

	mux.HandleFunc("/analysis/process", func(w http.ResponseWriter, r *http.Request) {
		if f.analyzeFail {
			writeJSON(w, http.StatusInternalServerError, `{"detail":"pose estimation failed"}`)
			return
		}
		writeJSON(w, http.StatusOK, `{"images":{"p1":"u1"},"analysis":{"launch_angle":12.345,"exit_velocity":98.765}}`)
	})

	mux.HandleFunc("/coaching/feedback", func(w http.ResponseWriter, r *http.Request) {
		if f.feedbackFail {
			writeJSON(w, http.StatusInternalServerError, `{}`)
			return
		}
		writeJSON(w, http.StatusOK, `{"feedback":{"feedback":"Nice swing","reference_video":"https://x/y.mp4"}}`)
	})

	mux.HandleFunc("/analysis/ask", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Question string `json:"question"`
		}
		json.NewDecoder(r.Body).Decode(&req)
		writeJSON(w, http.StatusOK, `{"answer":"Reference Player Video: https://cdn/a.mp4"}`)
	})

	return mux
}

func writeJSON(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	io.WriteString(w, body)
}

type TestServer struct {
	Server  *httptest.Server
	App     *App
	Coach   *fakeCoach
	Machine *session.Machine
	TempDir string
}

func setupTestServer(t *testing.T) *TestServer {
	t.Helper()

	fake := &fakeCoach{}
	remote := httptest.NewServer(fake.handler())
	t.Cleanup(remote.Close)

	tempDir := t.TempDir()
	localStorage, err := storage.NewLocalStorage(tempDir)
	require.NoError(t, err)

	client := coach.NewClient(coach.Config{BaseURL: remote.URL})
	machine := session.New(client, localStorage, session.Options{})

	app := &App{
		Machine:       machine,
		Storage:       localStorage,
		MaxUploadSize: 10 * 1024 * 1024,
	}

	server := httptest.NewServer(NewRouter(app))
	t.Cleanup(server.Close)

	return &TestServer{
		Server:  server,
		App:     app,
		Coach:   fake,
		Machine: machine,
		TempDir: tempDir,
	}
}

func createMultipartUpload(filename string, content []byte) (*bytes.Buffer, string, error) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	part, err := writer.CreateFormFile("video", filename)
	if err != nil {
		return nil, "", err
	}
	if _, err := io.Copy(part, bytes.NewReader(content)); err != nil {
		return nil, "", err
	}

	if err := writer.Close(); err != nil {
		return nil, "", err
	}

	return body, writer.FormDataContentType(), nil
}

// createTypedUpload is createMultipartUpload with an explicit part
// Content-Type, the way a browser labels the selected file.
func createTypedUpload(filename, contentType string, content []byte) (*bytes.Buffer, string, error) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="video"; filename="%s"`, filename))
	h.Set("Content-Type", contentType)
	part, err := writer.CreatePart(h)
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(content); err != nil {
		return nil, "", err
	}

	if err := writer.Close(); err != nil {
		return nil, "", err
	}

	return body, writer.FormDataContentType(), nil
}

func (ts *TestServer) upload(t *testing.T, filename string, content []byte) *http.Response {
	t.Helper()
	body, contentType, err := createMultipartUpload(filename, content)
	require.NoError(t, err)

	resp, err := http.Post(ts.Server.URL+"/session/upload", contentType, body)
	require.NoError(t, err)
	return resp
}

func (ts *TestServer) post(t *testing.T, path, contentType string, body io.Reader) *http.Response {
	t.Helper()
	resp, err := http.Post(ts.Server.URL+path, contentType, body)
	require.NoError(t, err)
	return resp
}

func decodeSession(t *testing.T, resp *http.Response) sessionView {
	t.Helper()
	defer resp.Body.Close()
	var view sessionView
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&view))
	return view
}
