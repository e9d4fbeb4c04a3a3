package session

import (
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/kdimtricp/slugsei/internal/coach"
	"github.com/kdimtricp/slugsei/internal/message"
	"github.com/kdimtricp/slugsei/internal/storage"
)

const (
	uploadReadyText   = "Video uploaded successfully! Click \"Analyze Video\" to get your swing breakdown."
	uploadFailedFmt   = "Upload failed: %s"
	analyzingText     = "Analyzing your swing... this may take a moment."
	analysisFailedFmt = "Analysis failed: %s"
	feedbackFailedFmt = "Analysis finished, but coaching feedback is unavailable: %s"
	chatFailedFmt     = "Sorry, I couldn't answer that: %s"
	chatStaleText     = "That answer was for your previous video. Please ask again about the new one."
)

// Event is a committed fact about the session. Reduce is the only place
// events turn into state.
type Event interface {
	Name() string
}

type UploadStarted struct {
	At time.Time
}

type UploadSucceeded struct {
	At      time.Time
	VideoID string
	Video   *storage.Handle
}

type UploadFailed struct {
	At     time.Time
	Reason string
}

type AnalysisStarted struct {
	At time.Time
}

// AnalysisSucceeded carries both stages of a successful analysis. The
// feedback stage may have failed independently; FeedbackErr is then its
// user-facing reason and Feedback is nil.
type AnalysisSucceeded struct {
	At          time.Time
	Result      coach.AnalysisResult
	Feedback    *coach.FeedbackResult
	FeedbackErr string
}

type AnalysisFailed struct {
	At     time.Time
	Reason string
}

type ChatSubmitted struct {
	At   time.Time
	Text string
}

type ChatAnswered struct {
	At     time.Time
	Answer string
}

type ChatFailed struct {
	At     time.Time
	Reason string
}

// ChatSuperseded replaces an answer that arrived after the video it was
// asked about had been replaced.
type ChatSuperseded struct {
	At time.Time
}

type Reset struct{}

func (UploadStarted) Name() string     { return "upload_started" }
func (UploadSucceeded) Name() string   { return "upload_succeeded" }
func (UploadFailed) Name() string      { return "upload_failed" }
func (AnalysisStarted) Name() string   { return "analysis_started" }
func (AnalysisSucceeded) Name() string { return "analysis_succeeded" }
func (AnalysisFailed) Name() string    { return "analysis_failed" }
func (ChatSubmitted) Name() string     { return "chat_submitted" }
func (ChatAnswered) Name() string      { return "chat_answered" }
func (ChatFailed) Name() string        { return "chat_failed" }
func (ChatSuperseded) Name() string    { return "chat_superseded" }
func (Reset) Name() string             { return "reset" }

// Reduce applies ev to s and returns the next session. s is not modified.
// An illegal transition returns s unchanged with a *ValidationError.
func Reduce(s Session, ev Event) (Session, error) {
	next := s

	switch e := ev.(type) {
	case UploadStarted:
		if !s.CanUpload() {
			return s, &ValidationError{Action: "start upload", Phase: s.Phase, Err: ErrInvalidPhase}
		}
		next.Phase = PhaseUploading
		next.VideoID = ""
		next.Video = nil
		next.Artifacts = map[string]string{}
		next.Metrics = nil
		next.ReferenceVideo = ""

	case UploadSucceeded:
		if s.Phase != PhaseUploading {
			return s, &ValidationError{Action: "complete upload", Phase: s.Phase, Err: ErrInvalidPhase}
		}
		if e.VideoID == "" {
			return s, &ValidationError{Action: "complete upload", Phase: s.Phase, Err: ErrNoVideo}
		}
		next.Phase = PhaseUploaded
		next.VideoID = e.VideoID
		next.Video = e.Video
		next.History = appendMessage(s.History, message.SenderSystem, uploadReadyText, "", e.At)

	case UploadFailed:
		if s.Phase != PhaseUploading {
			return s, &ValidationError{Action: "fail upload", Phase: s.Phase, Err: ErrInvalidPhase}
		}
		next.Phase = PhaseError
		next.History = appendMessage(s.History, message.SenderSystem, fmt.Sprintf(uploadFailedFmt, e.Reason), "", e.At)

	case AnalysisStarted:
		if s.Phase == PhaseAnalyzing {
			return s, &ValidationError{Action: "start analysis", Phase: s.Phase, Err: ErrAnalysisInFlight}
		}
		if s.VideoID == "" {
			return s, &ValidationError{Action: "start analysis", Phase: s.Phase, Err: ErrNoVideo}
		}
		if !s.CanAnalyze() {
			return s, &ValidationError{Action: "start analysis", Phase: s.Phase, Err: ErrInvalidPhase}
		}
		next.Phase = PhaseAnalyzing
		next.History = appendMessage(s.History, message.SenderSystem, analyzingText, "", e.At)

	case AnalysisSucceeded:
		if s.Phase != PhaseAnalyzing {
			return s, &ValidationError{Action: "complete analysis", Phase: s.Phase, Err: ErrInvalidPhase}
		}
		next.Phase = PhaseAnalyzed
		next.Artifacts = maps.Clone(e.Result.Artifacts)
		if next.Artifacts == nil {
			next.Artifacts = map[string]string{}
		}
		next.Metrics = e.Result.Metrics

		history := s.History
		switch {
		case e.FeedbackErr != "":
			history = appendMessage(history, message.SenderSystem, fmt.Sprintf(feedbackFailedFmt, e.FeedbackErr), "", e.At)
		case e.Feedback != nil:
			if e.Feedback.ReferenceVideo != "" {
				next.ReferenceVideo = e.Feedback.ReferenceVideo
			}
			if strings.TrimSpace(e.Feedback.Text) != "" {
				history = appendMessage(history, message.SenderSystem, e.Feedback.Text, e.Feedback.ReferenceVideo, e.At)
			}
		}
		if e.Result.Metrics != nil {
			history = appendMessage(history, message.SenderSystem, FormatMetrics(*e.Result.Metrics), "", e.At)
		}
		next.History = history

	case AnalysisFailed:
		if s.Phase != PhaseAnalyzing {
			return s, &ValidationError{Action: "fail analysis", Phase: s.Phase, Err: ErrInvalidPhase}
		}
		next.Phase = PhaseError
		next.History = appendMessage(s.History, message.SenderSystem, fmt.Sprintf(analysisFailedFmt, e.Reason), "", e.At)

	case ChatSubmitted:
		text := strings.TrimSpace(e.Text)
		if text == "" {
			return s, &ValidationError{Action: "send chat", Phase: s.Phase, Err: ErrEmptyMessage}
		}
		next.History = appendMessage(s.History, message.SenderUser, text, "", e.At)

	case ChatAnswered:
		next.History = appendMessage(s.History, message.SenderSystem, e.Answer, "", e.At)

	case ChatFailed:
		next.History = appendMessage(s.History, message.SenderSystem, fmt.Sprintf(chatFailedFmt, e.Reason), "", e.At)

	case ChatSuperseded:
		next.History = appendMessage(s.History, message.SenderSystem, chatStaleText, "", e.At)

	case Reset:
		next = newSession(s.ID)

	default:
		return s, fmt.Errorf("unknown event %T", ev)
	}

	return next, nil
}

// FormatMetrics renders swing metrics for the transcript.
func FormatMetrics(m coach.Metrics) string {
	return fmt.Sprintf("Swing Metrics:\nLaunch Angle: %.1f°\nExit Velocity: %.1f mph", m.LaunchAngle, m.ExitVelocity)
}

// appendMessage never writes into the backing array of history, so earlier
// snapshots stay valid.
func appendMessage(history []message.Message, sender message.Sender, body, referenceVideo string, at time.Time) []message.Message {
	seq := 1
	if n := len(history); n > 0 {
		seq = history[n-1].Seq + 1
	}
	return append(slices.Clip(history), message.Message{
		Seq:            seq,
		Sender:         sender,
		Body:           body,
		ReferenceVideo: referenceVideo,
		CreatedAt:      at,
	})
}
