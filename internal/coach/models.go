package coach

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"strings"
)

// FallbackAnswer is used when the service answers a question without text.
const FallbackAnswer = "Sorry, I don't have an answer for that right now."

// videoTypes are the upload part types the service accepts, by extension.
var videoTypes = map[string]string{
	".mp4": "video/mp4",
	".mov": "video/mov",
	".avi": "video/avi",
	".mkv": "video/mkv",
}

// VideoContentType returns the upload content type for filename's
// extension, and false if the service does not accept that extension.
func VideoContentType(filename string) (string, bool) {
	ct, ok := videoTypes[strings.ToLower(filepath.Ext(filename))]
	return ct, ok
}

type Metrics struct {
	LaunchAngle  float64 `json:"launch_angle"`
	ExitVelocity float64 `json:"exit_velocity"`
}

type UploadResult struct {
	VideoID  string
	VideoURL string
}

type AnalysisResult struct {
	Artifacts map[string]string
	Metrics   *Metrics
}

type FeedbackResult struct {
	Text           string
	ReferenceVideo string
}

type AskResult struct {
	Answer string
}

type videoRequest struct {
	VideoID string `json:"video_id"`
}

type askRequest struct {
	VideoID  string `json:"video_id"`
	Question string `json:"question"`
}

type generateImagesRequest struct {
	VideoID      string  `json:"video_id"`
	LaunchAngle  float64 `json:"launch_angle"`
	ExitVelocity float64 `json:"exit_velocity"`
}

type uploadResponse struct {
	VideoID  string `json:"video_id"`
	VideoURL string `json:"video_url"`
}

type analysisResponse struct {
	Images   map[string]string `json:"images"`
	Analysis *struct {
		LaunchAngle  *float64 `json:"launch_angle"`
		ExitVelocity *float64 `json:"exit_velocity"`
	} `json:"analysis"`
}

type feedbackResponse struct {
	Feedback feedbackBody `json:"feedback"`
}

// feedbackBody accepts either {"feedback": "...", "reference_video": "..."}
// or a bare string, which older service builds return.
type feedbackBody struct {
	Feedback       string `json:"feedback"`
	ReferenceVideo string `json:"reference_video"`
}

func (f *feedbackBody) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		return json.Unmarshal(data, &f.Feedback)
	}
	type plain feedbackBody
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*f = feedbackBody(p)
	return nil
}

type askResponse struct {
	Answer string `json:"answer"`
}

type imagesResponse struct {
	Images map[string]string `json:"images"`
}

// errorResponse covers the shapes a failing service may return. detail is
// a string for application errors and a list for request validation errors.
type errorResponse struct {
	Detail  json.RawMessage `json:"detail"`
	Message string          `json:"message"`
	Error   string          `json:"error"`
}

func (e errorResponse) text() string {
	if len(e.Detail) > 0 {
		var s string
		if err := json.Unmarshal(e.Detail, &s); err == nil && s != "" {
			return s
		}
		var items []struct {
			Msg string `json:"msg"`
		}
		if err := json.Unmarshal(e.Detail, &items); err == nil && len(items) > 0 && items[0].Msg != "" {
			return items[0].Msg
		}
	}
	if e.Message != "" {
		return e.Message
	}
	return e.Error
}
