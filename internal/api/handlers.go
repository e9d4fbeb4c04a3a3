package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/kdimtricp/slugsei/internal/coach"
	"github.com/kdimtricp/slugsei/internal/logger"
	"github.com/kdimtricp/slugsei/internal/message"
	"github.com/kdimtricp/slugsei/internal/session"
	"github.com/kdimtricp/slugsei/internal/storage"
)

type App struct {
	Machine       *session.Machine
	Storage       storage.Storage
	Logger        logger.ILogger
	MaxUploadSize int64
}

func PingHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("pong"))
}

type messageView struct {
	message.Message
	Segments []message.Segment `json:"segments"`
}

type sessionView struct {
	ID             string            `json:"id"`
	Phase          session.Phase     `json:"phase"`
	VideoID        string            `json:"video_id,omitempty"`
	HasVideo       bool              `json:"has_video"`
	CanUpload      bool              `json:"can_upload"`
	CanAnalyze     bool              `json:"can_analyze"`
	Artifacts      map[string]string `json:"artifacts"`
	Metrics        *coach.Metrics    `json:"metrics,omitempty"`
	ReferenceVideo string            `json:"reference_video,omitempty"`
	History        []messageView     `json:"history"`
}

func newSessionView(s session.Session) sessionView {
	history := make([]messageView, 0, len(s.History))
	for _, m := range s.History {
		history = append(history, messageView{Message: m, Segments: slices.Collect(m.Segments())})
	}

	return sessionView{
		ID:             s.ID,
		Phase:          s.Phase,
		VideoID:        s.VideoID,
		HasVideo:       s.Video != nil,
		CanUpload:      s.CanUpload(),
		CanAnalyze:     s.CanAnalyze(),
		Artifacts:      s.Artifacts,
		Metrics:        s.Metrics,
		ReferenceVideo: s.ReferenceVideo,
		History:        history,
	}
}

func (app *App) SessionHandler(w http.ResponseWriter, r *http.Request) {
	app.renderSession(w, http.StatusOK)
}

func (app *App) UploadHandler(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, app.MaxUploadSize)

	if err := r.ParseMultipartForm(app.MaxUploadSize); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			app.renderError(w, http.StatusRequestEntityTooLarge, "File too large")
			return
		}
		app.renderError(w, http.StatusBadRequest, "Invalid upload form")
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("video")
	if err != nil {
		app.renderError(w, http.StatusBadRequest, "Failed to get file")
		return
	}
	defer file.Close()

	// Browsers label .mov as video/quicktime and some send no video type at
	// all; the extension decides what the coaching service is told.
	contentType, ok := coach.VideoContentType(header.Filename)
	if !ok {
		contentType = header.Header.Get("Content-Type")
		if !strings.HasPrefix(contentType, "video/") {
			app.renderError(w, http.StatusBadRequest, "Only MP4, MOV, AVI or MKV video files are allowed")
			return
		}
	}

	err = app.Machine.StartUpload(r.Context(), session.Media{
		Filename:    header.Filename,
		ContentType: contentType,
		Reader:      file,
	})
	if err != nil {
		app.renderActionError(w, err)
		return
	}

	app.renderSession(w, http.StatusOK)
}

func (app *App) AnalyzeHandler(w http.ResponseWriter, r *http.Request) {
	if err := app.Machine.StartAnalysis(r.Context()); err != nil {
		app.renderActionError(w, err)
		return
	}
	app.renderSession(w, http.StatusOK)
}

type chatRequest struct {
	Message string `json:"message"`
}

func (app *App) ChatHandler(w http.ResponseWriter, r *http.Request) {
	var text string
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		var req chatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			app.renderError(w, http.StatusBadRequest, "Invalid request body")
			return
		}
		text = req.Message
	} else {
		text = r.FormValue("message")
	}

	if err := app.Machine.SendChat(r.Context(), text); err != nil {
		app.renderActionError(w, err)
		return
	}
	app.renderSession(w, http.StatusOK)
}

func (app *App) ResetHandler(w http.ResponseWriter, r *http.Request) {
	app.Machine.Reset()
	app.renderSession(w, http.StatusOK)
}

// EventsHandler streams a session snapshot every time a transition is
// committed, starting with the current one.
func (app *App) EventsHandler(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	updates, unsubscribe := app.Machine.Subscribe()
	defer unsubscribe()

	clientGone := r.Context().Done()

	for {
		select {
		case snapshot, ok := <-updates:
			if !ok {
				return
			}

			data, err := json.Marshal(newSessionView(snapshot))
			if err != nil {
				app.Logger.Error("api", "failed to marshal session update", map[string]interface{}{"error": err})
				continue
			}

			fmt.Fprintf(w, "event: session\ndata: %s\n\n", data)
			flusher.Flush()

		case <-clientGone:
			return
		}
	}
}

// VideoHandler serves the locally held copy of the uploaded video so the
// user can play it back.
func (app *App) VideoHandler(w http.ResponseWriter, r *http.Request) {
	handle := app.Machine.Snapshot().Video
	if handle == nil {
		http.NotFound(w, r)
		return
	}

	file, err := app.Storage.Open(handle)
	if err != nil {
		http.Error(w, "Video file not found", http.StatusNotFound)
		return
	}
	defer file.Close()

	var modTime time.Time
	if f, ok := file.(interface{ Stat() (os.FileInfo, error) }); ok {
		stat, err := f.Stat()
		if err != nil {
			http.Error(w, "Error accessing video file", http.StatusInternalServerError)
			return
		}
		modTime = stat.ModTime()
	}

	w.Header().Set("Content-Type", handle.ContentType)

	// ServeContent handles Range requests and 206 Partial Content.
	http.ServeContent(w, r, handle.Filename, modTime, file)
}

func (app *App) renderSession(w http.ResponseWriter, status int) {
	app.renderJSON(w, status, newSessionView(app.Machine.Snapshot()))
}

func (app *App) renderActionError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, session.ErrEmptyMessage), errors.Is(err, session.ErrNoMedia):
		status = http.StatusBadRequest
	case session.IsValidation(err):
		status = http.StatusConflict
	default:
		app.Logger.Error("api", "session action failed", map[string]interface{}{"error": err})
	}
	app.renderError(w, status, err.Error())
}

func (app *App) renderError(w http.ResponseWriter, status int, message string) {
	app.renderJSON(w, status, map[string]string{"error": message})
}

func (app *App) renderJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		app.Logger.Warn("api", "failed to write response", map[string]interface{}{"error": err.Error()})
	}
}
