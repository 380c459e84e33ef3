// Package vision talks to an OpenAI-compatible Responses API and prepares
// images for it.
package vision

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/soypete/alttext/pkg/metrics"
)

const (
	DefaultBaseURL = "https://api.openai.com/v1"
	DefaultModel   = "gpt-4.1-nano"
	DefaultTimeout = 60 * time.Second

	// maxResponseBytes bounds how much of a response body is read.
	maxResponseBytes = 4 << 20
)

// Detail is the image analysis fidelity hint.
type Detail string

const (
	DetailLow  Detail = "low"
	DetailHigh Detail = "high"
	DetailAuto Detail = "auto"
)

// ParseDetail validates a detail level. Empty input maps to low.
func ParseDetail(s string) (Detail, error) {
	switch d := Detail(strings.ToLower(strings.TrimSpace(s))); d {
	case "":
		return DetailLow, nil
	case DetailLow, DetailHigh, DetailAuto:
		return d, nil
	default:
		return "", fmt.Errorf("invalid image detail %q (must be low, high or auto)", s)
	}
}

// Image is the picture sent with a request: a public URL or inline bytes.
type Image struct {
	URL      string
	Data     []byte
	MimeType string
}

// Reference returns the value sent as image_url: the URL, or a base64 data URI.
func (i Image) Reference() string {
	if i.URL != "" {
		return i.URL
	}
	mime := i.MimeType
	if mime == "" {
		mime = "application/octet-stream"
	}
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(i.Data)
}

// Request is a single generation call. Empty Model and Detail use the client
// defaults.
type Request struct {
	Model  string
	Prompt string
	Image  Image
	Detail Detail
}

// Options configures a Client.
type Options struct {
	APIKey     string
	BaseURL    string
	Model      string
	Detail     Detail
	Timeout    time.Duration
	HTTPClient *http.Client
	Logger     zerolog.Logger
}

// Client calls the Responses API. It never retries.
type Client struct {
	apiKey  string
	baseURL string
	model   string
	detail  Detail
	client  *http.Client
	logger  zerolog.Logger
}

// NewClient creates a client.
func NewClient(opts Options) (*Client, error) {
	if strings.TrimSpace(opts.APIKey) == "" {
		return nil, errors.New("openai api key is required")
	}
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	model := strings.TrimSpace(opts.Model)
	if model == "" {
		model = DefaultModel
	}
	detail := opts.Detail
	if detail == "" {
		detail = DetailLow
	}
	client := opts.HTTPClient
	if client == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = DefaultTimeout
		}
		client = &http.Client{Timeout: timeout}
	}
	return &Client{
		apiKey:  strings.TrimSpace(opts.APIKey),
		baseURL: baseURL,
		model:   model,
		detail:  detail,
		client:  client,
		logger:  opts.Logger,
	}, nil
}

// Model returns the default model name.
func (c *Client) Model() string { return c.model }

type responsesRequest struct {
	Model string           `json:"model"`
	Input []responsesInput `json:"input"`
}

type responsesInput struct {
	Role    string             `json:"role"`
	Content []responsesContent `json:"content"`
}

type responsesContent struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	ImageURL string `json:"image_url,omitempty"`
	Detail   string `json:"detail,omitempty"`
}

type vendorError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    any    `json:"code"`
}

type responsesResponse struct {
	Output []struct {
		Type    string `json:"type"`
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
	} `json:"output"`
	OutputText string `json:"output_text"`
	Choices    []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *vendorError `json:"error"`
}

func (c *Client) buildPayload(req Request) responsesRequest {
	model := req.Model
	if model == "" {
		model = c.model
	}
	detail := req.Detail
	if detail == "" {
		detail = c.detail
	}
	return responsesRequest{
		Model: model,
		Input: []responsesInput{{
			Role: "user",
			Content: []responsesContent{
				{Type: "input_text", Text: req.Prompt},
				{Type: "input_image", ImageURL: req.Image.Reference(), Detail: string(detail)},
			},
		}},
	}
}

// Generate performs one Responses API call and classifies the outcome.
func (c *Client) Generate(ctx context.Context, req Request) Result {
	start := time.Now()
	res := c.generate(ctx, req)
	metrics.GenerationDuration.Observe(time.Since(start).Seconds())

	if gerr := res.Err(); gerr != nil {
		metrics.GenerationsTotal.WithLabelValues(string(gerr.Kind)).Inc()
		c.logger.Warn().
			Str("kind", string(gerr.Kind)).
			Int("status", gerr.StatusCode).
			Dur("elapsed", time.Since(start)).
			Msg("vision: generation failed: " + gerr.Message)
		return res
	}
	metrics.GenerationsTotal.WithLabelValues("success").Inc()
	c.logger.Debug().Dur("elapsed", time.Since(start)).Msg("vision: generation succeeded")
	return res
}

func (c *Client) generate(ctx context.Context, req Request) Result {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(c.buildPayload(req)); err != nil {
		return Failure(ErrorTransport, fmt.Sprintf("encode request: %v", err))
	}

	endpoint := c.baseURL + "/responses"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, &buf)
	if err != nil {
		return Failure(ErrorTransport, fmt.Sprintf("build request: %v", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return Failure(ErrorTransport, err.Error())
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return failureWithStatus(ErrorTransport, fmt.Sprintf("read response: %v", err), resp.StatusCode)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return classifyStatus(resp.StatusCode, body)
	}

	return ParseResponse(body)
}

// classifyStatus maps a non-2xx response. A vendor error message is preferred
// over the HTTP status text.
func classifyStatus(status int, body []byte) Result {
	var envelope struct {
		Error *vendorError `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Error != nil && strings.TrimSpace(envelope.Error.Message) != "" {
		return failureWithStatus(ErrorVendorRejected, strings.TrimSpace(envelope.Error.Message), status)
	}
	msg := fmt.Sprintf("HTTP %d %s", status, http.StatusText(status))
	if status >= 500 {
		return failureWithStatus(ErrorTransport, msg, status)
	}
	return failureWithStatus(ErrorVendorRejected, msg, status)
}

// ParseResponse extracts generated text from a 2xx body. It scans structured
// output blocks, then the flat output_text field, then legacy chat choices,
// and returns the first non-blank text.
func ParseResponse(body []byte) Result {
	var out responsesResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return Failure(ErrorMalformedResponse, fmt.Sprintf("decode response: %v", err))
	}
	if out.Error != nil && strings.TrimSpace(out.Error.Message) != "" {
		return Failure(ErrorVendorRejected, strings.TrimSpace(out.Error.Message))
	}

	for _, block := range out.Output {
		for _, part := range block.Content {
			if part.Type != "output_text" {
				continue
			}
			if text := strings.TrimSpace(part.Text); text != "" {
				return Success(text)
			}
		}
	}
	if text := strings.TrimSpace(out.OutputText); text != "" {
		return Success(text)
	}
	if len(out.Choices) > 0 {
		if text := strings.TrimSpace(out.Choices[0].Message.Content); text != "" {
			return Success(text)
		}
	}
	return Failure(ErrorEmptyOutput, "response contained no generated text")
}
