package session

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kdimtricp/slugsei/internal/coach"
	"github.com/kdimtricp/slugsei/internal/logger"
	"github.com/kdimtricp/slugsei/internal/message"
	"github.com/kdimtricp/slugsei/internal/storage"
)

// Media is a video the user selected for upload.
type Media struct {
	Filename    string
	ContentType string
	Reader      io.Reader
}

type Options struct {
	// Greeting seeds a new session's transcript. Empty means no greeting.
	Greeting string
	Logger   logger.ILogger
	Now      func() time.Time
}

// Machine owns one Session and serializes every transition on it. Remote
// calls run without the lock held; their results are committed only if the
// session they were issued for is still current.
type Machine struct {
	service coach.Service
	store   storage.Storage
	log     logger.ILogger
	now     func() time.Time

	mu    sync.Mutex
	state Session
	// epoch changes on Reset; results from an older epoch are dropped.
	epoch uint64

	subsMu sync.Mutex
	subs   map[int]chan Session
	nextID int
}

func New(service coach.Service, store storage.Storage, opts Options) *Machine {
	if opts.Logger == nil {
		opts.Logger = logger.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	m := &Machine{
		service: service,
		store:   store,
		log:     opts.Logger,
		now:     opts.Now,
		state:   newSession(uuid.New().String()),
		subs:    make(map[int]chan Session),
	}

	if opts.Greeting != "" {
		m.state.History = appendMessage(m.state.History, message.SenderSystem, opts.Greeting, "", m.now())
	}

	return m
}

func (m *Machine) Snapshot() Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.Clone()
}

// Subscribe returns a channel that always holds the most recent snapshot
// not yet received. Slow readers skip intermediate states. The returned
// func unsubscribes and closes the channel.
func (m *Machine) Subscribe() (<-chan Session, func()) {
	ch := make(chan Session, 1)

	// Lock order matches commit: mu, then subsMu.
	m.mu.Lock()
	m.subsMu.Lock()
	id := m.nextID
	m.nextID++
	m.subs[id] = ch
	ch <- m.state.Clone()
	m.subsMu.Unlock()
	m.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			m.subsMu.Lock()
			delete(m.subs, id)
			m.subsMu.Unlock()
			close(ch)
		})
	}
}

// StartUpload stages media locally, uploads it and commits the outcome.
// The previous video handle is released as soon as the upload starts.
func (m *Machine) StartUpload(ctx context.Context, media Media) error {
	if media.Reader == nil || media.Filename == "" {
		return &ValidationError{Action: "start upload", Phase: m.Snapshot().Phase, Err: ErrNoMedia}
	}

	m.mu.Lock()
	previous := m.state.Video
	if err := m.commit(UploadStarted{At: m.now()}); err != nil {
		m.mu.Unlock()
		return err
	}
	epoch := m.epoch
	m.mu.Unlock()

	m.release(previous)

	contentType := media.ContentType
	if contentType == "" {
		contentType, _ = coach.VideoContentType(media.Filename)
	}

	handle, err := m.store.Stage(media.Reader, storage.FileInfo{
		Filename:    media.Filename,
		ContentType: contentType,
	})
	if err != nil {
		m.log.Error("session", "failed to stage video", map[string]interface{}{"error": err})
		m.finish(epoch, "", UploadFailed{At: m.now(), Reason: "could not read the selected video."})
		return nil
	}

	result, err := m.upload(ctx, handle)
	if err != nil {
		m.release(handle)
		m.finish(epoch, "", UploadFailed{At: m.now(), Reason: coach.ErrorMessage(err)})
		return nil
	}

	if !m.finish(epoch, "", UploadSucceeded{At: m.now(), VideoID: result.VideoID, Video: handle}) {
		m.release(handle)
	}
	return nil
}

func (m *Machine) upload(ctx context.Context, handle *storage.Handle) (*coach.UploadResult, error) {
	f, err := m.store.Open(handle)
	if err != nil {
		return nil, &coach.TransportError{Op: coach.OpUpload, Err: err}
	}
	defer f.Close()

	return m.service.Upload(ctx, handle.Filename, handle.ContentType, f)
}

// StartAnalysis runs analyze and then feedback for the current video, one
// after the other, and commits both results as a single transition.
func (m *Machine) StartAnalysis(ctx context.Context) error {
	m.mu.Lock()
	if err := m.commit(AnalysisStarted{At: m.now()}); err != nil {
		m.mu.Unlock()
		return err
	}
	epoch, videoID := m.epoch, m.state.VideoID
	m.mu.Unlock()

	result, err := m.service.Analyze(ctx, videoID)
	if err != nil {
		m.finish(epoch, videoID, AnalysisFailed{At: m.now(), Reason: coach.ErrorMessage(err)})
		return nil
	}

	done := AnalysisSucceeded{Result: *result}
	feedback, err := m.service.Feedback(ctx, videoID)
	if err != nil {
		done.FeedbackErr = coach.ErrorMessage(err)
	} else {
		done.Feedback = feedback
	}

	done.At = m.now()
	m.finish(epoch, videoID, done)
	return nil
}

// SendChat appends the user's message right away and the answer, or the
// failure, when ask returns. Concurrent sends are allowed.
func (m *Machine) SendChat(ctx context.Context, text string) error {
	question := strings.TrimSpace(text)

	m.mu.Lock()
	if err := m.commit(ChatSubmitted{At: m.now(), Text: question}); err != nil {
		m.mu.Unlock()
		return err
	}
	epoch, videoID := m.epoch, m.state.VideoID
	m.mu.Unlock()

	var ev Event
	answer, err := m.service.Ask(ctx, videoID, question)
	if err != nil {
		ev = ChatFailed{At: m.now(), Reason: coach.ErrorMessage(err)}
	} else {
		ev = ChatAnswered{At: m.now(), Answer: answer.Answer}
	}

	m.finishChat(epoch, videoID, ev)
	return nil
}

// Reset returns the session to Idle with an empty transcript and releases
// the video handle. Responses still in flight are discarded on arrival.
func (m *Machine) Reset() {
	m.mu.Lock()
	previous := m.state.Video
	_ = m.commit(Reset{})
	m.epoch++
	m.mu.Unlock()

	m.release(previous)
}

// finish commits ev if the session is still the one the request was issued
// for: same epoch and, when videoID is given, the same video.
func (m *Machine) finish(epoch uint64, videoID string, ev Event) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.epoch != epoch || (videoID != "" && m.state.VideoID != videoID) {
		m.log.Info("session", "dropping stale result", map[string]interface{}{
			"event":    ev.Name(),
			"video_id": videoID,
		})
		return false
	}

	if err := m.commit(ev); err != nil {
		m.log.Warn("session", "result no longer applicable", map[string]interface{}{
			"event": ev.Name(),
			"error": err.Error(),
		})
		return false
	}
	return true
}

// finishChat commits a chat reply. After a Reset the question is gone too,
// so the reply is dropped; if only the video changed, a notice replaces it
// so the question still gets a reply.
func (m *Machine) finishChat(epoch uint64, videoID string, ev Event) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.epoch != epoch {
		m.log.Info("session", "dropping stale result", map[string]interface{}{
			"event":    ev.Name(),
			"video_id": videoID,
		})
		return
	}

	if videoID != "" && m.state.VideoID != videoID {
		m.log.Info("session", "chat reply superseded by new video", map[string]interface{}{
			"event":    ev.Name(),
			"video_id": videoID,
		})
		ev = ChatSuperseded{At: m.now()}
	}

	if err := m.commit(ev); err != nil {
		m.log.Warn("session", "result no longer applicable", map[string]interface{}{
			"event": ev.Name(),
			"error": err.Error(),
		})
	}
}

// commit must be called with mu held.
func (m *Machine) commit(ev Event) error {
	from := m.state.Phase

	next, err := Reduce(m.state, ev)
	if err != nil {
		return err
	}
	if err := CheckInvariants(next); err != nil {
		m.log.Error("session", "invariant violated", map[string]interface{}{
			"event": ev.Name(),
			"error": err,
		})
		return fmt.Errorf("applying %s: %w", ev.Name(), err)
	}

	m.state = next
	m.log.Info("session", "transition committed", map[string]interface{}{
		"event":    ev.Name(),
		"from":     string(from),
		"to":       string(next.Phase),
		"video_id": next.VideoID,
		"messages": len(next.History),
	})

	m.publish(next.Clone())
	return nil
}

func (m *Machine) publish(s Session) {
	m.subsMu.Lock()
	defer m.subsMu.Unlock()

	for _, ch := range m.subs {
		select {
		case <-ch:
		default:
		}
		ch <- s
	}
}

func (m *Machine) release(h *storage.Handle) {
	if h == nil {
		return
	}
	if err := m.store.Release(h); err != nil {
		m.log.Warn("session", "failed to release video handle", map[string]interface{}{
			"handle": h.Name,
			"error":  err.Error(),
		})
	}
}
