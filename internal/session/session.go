package session

import (
	"fmt"
	"maps"
	"slices"

	"github.com/kdimtricp/slugsei/internal/coach"
	"github.com/kdimtricp/slugsei/internal/message"
	"github.com/kdimtricp/slugsei/internal/storage"
)

type Phase string

const (
	PhaseIdle      Phase = "idle"
	PhaseUploading Phase = "uploading"
	PhaseUploaded  Phase = "uploaded"
	PhaseAnalyzing Phase = "analyzing"
	PhaseAnalyzed  Phase = "analyzed"
	PhaseError     Phase = "error"
)

// Session is the complete state of one coaching workflow. Values handed out
// by a Machine are snapshots; changing them has no effect on the machine.
type Session struct {
	ID             string            `json:"id"`
	VideoID        string            `json:"video_id,omitempty"`
	Phase          Phase             `json:"phase"`
	Video          *storage.Handle   `json:"-"`
	Artifacts      map[string]string `json:"artifacts"`
	Metrics        *coach.Metrics    `json:"metrics,omitempty"`
	ReferenceVideo string            `json:"reference_video,omitempty"`
	History        []message.Message `json:"history"`
}

func newSession(id string) Session {
	return Session{
		ID:        id,
		Phase:     PhaseIdle,
		Artifacts: map[string]string{},
		History:   []message.Message{},
	}
}

func (s Session) Clone() Session {
	c := s
	c.Artifacts = maps.Clone(s.Artifacts)
	if c.Artifacts == nil {
		c.Artifacts = map[string]string{}
	}
	c.History = slices.Clone(s.History)
	if c.History == nil {
		c.History = []message.Message{}
	}
	if s.Metrics != nil {
		m := *s.Metrics
		c.Metrics = &m
	}
	if s.Video != nil {
		h := *s.Video
		c.Video = &h
	}
	return c
}

// CanAnalyze reports whether StartAnalysis would be accepted.
func (s Session) CanAnalyze() bool {
	if s.VideoID == "" {
		return false
	}
	switch s.Phase {
	case PhaseUploaded, PhaseAnalyzed, PhaseError:
		return true
	}
	return false
}

// CanUpload reports whether StartUpload would be accepted.
func (s Session) CanUpload() bool {
	switch s.Phase {
	case PhaseIdle, PhaseUploaded, PhaseAnalyzed, PhaseError:
		return true
	}
	return false
}

// CheckInvariants returns the first broken state invariant, if any.
func CheckInvariants(s Session) error {
	switch s.Phase {
	case PhaseUploading:
		if s.VideoID != "" {
			return fmt.Errorf("phase %s with video id %q", s.Phase, s.VideoID)
		}
	case PhaseAnalyzing, PhaseAnalyzed:
		if s.VideoID == "" {
			return fmt.Errorf("phase %s without video id", s.Phase)
		}
	}

	if len(s.Artifacts) > 0 {
		switch s.Phase {
		case PhaseAnalyzed, PhaseAnalyzing, PhaseError:
		default:
			return fmt.Errorf("phase %s with %d artifacts", s.Phase, len(s.Artifacts))
		}
	}

	for i := 1; i < len(s.History); i++ {
		if s.History[i].Seq <= s.History[i-1].Seq {
			return fmt.Errorf("history out of order at %d", i)
		}
	}

	return nil
}
