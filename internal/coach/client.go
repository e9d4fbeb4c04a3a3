package coach

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"github.com/kdimtricp/slugsei/internal/logger"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"
)

const (
	uploadPath         = "/video/upload"
	analyzePath        = "/analysis/process"
	feedbackPath       = "/coaching/feedback"
	askPath            = "/analysis/ask"
	generateImagesPath = "/analysis/generate-images"

	maxResponseSize = 10 << 20
)

// Service is the remote analysis and coaching API as seen by a session.
type Service interface {
	Upload(ctx context.Context, filename, contentType string, media io.Reader) (*UploadResult, error)
	Analyze(ctx context.Context, videoID string) (*AnalysisResult, error)
	Feedback(ctx context.Context, videoID string) (*FeedbackResult, error)
	Ask(ctx context.Context, videoID, question string) (*AskResult, error)
}

type Config struct {
	BaseURL            string
	Timeout            time.Duration
	BreakerMaxFailures int
	RequestsPerSecond  float64
	HTTPClient         *http.Client
	Logger             logger.ILogger
}

type Client struct {
	baseURL    string
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker
	limiter    *rate.Limiter
	log        logger.ILogger
}

func NewClient(cfg Config) *Client {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout == 0 {
			timeout = 60 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	maxFailures := cfg.BreakerMaxFailures
	if maxFailures <= 0 {
		maxFailures = 5
	}

	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}

	log := cfg.Logger
	if log == nil {
		log = logger.NewNop()
	}

	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: httpClient,
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    "coach-service",
			Timeout: 30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= uint32(maxFailures)
			},
			IsSuccessful: countsAsSuccess,
			OnStateChange: func(name string, from, to gobreaker.State) {
				log.Warn("coach", "circuit breaker state changed", map[string]interface{}{
					"breaker": name,
					"from":    from.String(),
					"to":      to.String(),
				})
			},
		}),
		limiter: rate.NewLimiter(limit, 1),
		log:     log,
	}
}

// countsAsSuccess keeps client-side mistakes (4xx) from tripping the breaker.
func countsAsSuccess(err error) bool {
	if err == nil {
		return true
	}
	var svcErr *ServiceError
	return errors.As(err, &svcErr) && svcErr.StatusCode >= 400 && svcErr.StatusCode < 500
}

// Upload sends media as the "file" form field. contentType is sent as the
// part's own Content-Type; the service rejects parts that are not a video.
func (c *Client) Upload(ctx context.Context, filename, contentType string, media io.Reader) (*UploadResult, error) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	part, err := writer.CreatePart(filePartHeader("file", filename, contentType))
	if err != nil {
		return nil, &TransportError{Op: OpUpload, Err: fmt.Errorf("failed to create form file: %w", err)}
	}
	if _, err := io.Copy(part, media); err != nil {
		return nil, &TransportError{Op: OpUpload, Err: fmt.Errorf("failed to read media: %w", err)}
	}
	if err := writer.Close(); err != nil {
		return nil, &TransportError{Op: OpUpload, Err: fmt.Errorf("failed to close form: %w", err)}
	}

	var resp uploadResponse
	if err := c.do(ctx, OpUpload, uploadPath, writer.FormDataContentType(), body.Bytes(), &resp); err != nil {
		return nil, err
	}

	if resp.VideoID == "" {
		return nil, &ServiceError{Op: OpUpload, StatusCode: http.StatusOK, Message: "upload response missing video_id"}
	}

	return &UploadResult{VideoID: resp.VideoID, VideoURL: resp.VideoURL}, nil
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

func filePartHeader(field, filename, contentType string) textproto.MIMEHeader {
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"; filename="%s"`,
		quoteEscaper.Replace(field), quoteEscaper.Replace(filename)))
	h.Set("Content-Type", contentType)
	return h
}

func (c *Client) Analyze(ctx context.Context, videoID string) (*AnalysisResult, error) {
	var resp analysisResponse
	if err := c.postJSON(ctx, OpAnalyze, analyzePath, videoRequest{VideoID: videoID}, &resp); err != nil {
		return nil, err
	}

	result := &AnalysisResult{Artifacts: resp.Images}
	if result.Artifacts == nil {
		result.Artifacts = map[string]string{}
	}
	if a := resp.Analysis; a != nil && a.LaunchAngle != nil && a.ExitVelocity != nil {
		result.Metrics = &Metrics{LaunchAngle: *a.LaunchAngle, ExitVelocity: *a.ExitVelocity}
	}

	return result, nil
}

func (c *Client) Feedback(ctx context.Context, videoID string) (*FeedbackResult, error) {
	var resp feedbackResponse
	if err := c.postJSON(ctx, OpFeedback, feedbackPath, videoRequest{VideoID: videoID}, &resp); err != nil {
		return nil, err
	}

	return &FeedbackResult{
		Text:           resp.Feedback.Feedback,
		ReferenceVideo: resp.Feedback.ReferenceVideo,
	}, nil
}

func (c *Client) Ask(ctx context.Context, videoID, question string) (*AskResult, error) {
	var resp askResponse
	if err := c.postJSON(ctx, OpAsk, askPath, askRequest{VideoID: videoID, Question: question}, &resp); err != nil {
		return nil, err
	}

	answer := resp.Answer
	if strings.TrimSpace(answer) == "" {
		answer = FallbackAnswer
	}

	return &AskResult{Answer: answer}, nil
}

// GenerateImages asks the service to render chart images for the given
// metrics. The result maps artifact keys to image URLs.
func (c *Client) GenerateImages(ctx context.Context, videoID string, m Metrics) (map[string]string, error) {
	req := generateImagesRequest{
		VideoID:      videoID,
		LaunchAngle:  m.LaunchAngle,
		ExitVelocity: m.ExitVelocity,
	}

	var resp imagesResponse
	if err := c.postJSON(ctx, OpGenerateImages, generateImagesPath, req, &resp); err != nil {
		return nil, err
	}

	if resp.Images == nil {
		return map[string]string{}, nil
	}
	return resp.Images, nil
}

func (c *Client) postJSON(ctx context.Context, op, path string, payload, out interface{}) error {
	jsonData, err := json.Marshal(payload)
	if err != nil {
		return &TransportError{Op: op, Err: fmt.Errorf("failed to marshal request: %w", err)}
	}
	return c.do(ctx, op, path, "application/json", jsonData, out)
}

func (c *Client) do(ctx context.Context, op, path, contentType string, body []byte, out interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return &TransportError{Op: op, Err: fmt.Errorf("rate limiter: %w", err)}
	}

	start := time.Now()
	_, err := c.breaker.Execute(func() (interface{}, error) {
		return nil, c.roundTrip(ctx, op, path, contentType, body, out)
	})

	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		err = &TransportError{Op: op, Err: err}
	}

	details := map[string]interface{}{
		"op":       op,
		"path":     path,
		"duration": time.Since(start).String(),
	}
	if err != nil {
		details["error"] = err
		c.log.Warn("coach", "request failed", details)
		return err
	}
	c.log.Debug("coach", "request completed", details)
	return nil
}

func (c *Client) roundTrip(ctx context.Context, op, path, contentType string, body []byte, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return &TransportError{Op: op, Err: fmt.Errorf("failed to create request: %w", err)}
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &TransportError{Op: op, Err: fmt.Errorf("failed to make request: %w", err)}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return &TransportError{Op: op, Err: fmt.Errorf("failed to read response: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := fallbackMessage(op)
		var errResp errorResponse
		if json.Unmarshal(respBody, &errResp) == nil {
			if text := errResp.text(); text != "" {
				msg = text
			}
		}
		return &ServiceError{Op: op, StatusCode: resp.StatusCode, Message: msg}
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return &ServiceError{
			Op:         op,
			StatusCode: resp.StatusCode,
			Message:    fmt.Sprintf("malformed response: %v", err),
		}
	}

	return nil
}
