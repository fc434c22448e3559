package services

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"synchro/backend/internal/logging"
	"synchro/backend/pkg/models"
)

const stepInferencePrompt = `You are analyzing ordered screenshots from a screen recording of a business process.
Identify the discrete user actions the recording shows, in order.
Respond with ONLY a JSON object of the form:
{"steps": [{"type": "click|input|navigate|wait|decision", "action": "<short label>", "description": "<one or two sentences>", "confidence": <0-100>}]}
Do not include any other text.`

// retryDelay is the pause before advancing to the next fallback model after
// a transient failure.
const retryDelay = 2 * time.Second

// apiError is a non-2xx response from the model service.
type apiError struct {
	StatusCode int
	Body       string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("model service returned status %d: %s", e.StatusCode, e.Body)
}

// transient reports whether the failure indicates a temporarily overloaded
// service, which is worth retrying on the next model in the fallback list.
func (e *apiError) transient() bool {
	return e.StatusCode == http.StatusServiceUnavailable ||
		e.StatusCode == http.StatusTooManyRequests ||
		strings.Contains(e.Body, "UNAVAILABLE") ||
		strings.Contains(e.Body, "overloaded")
}

// GeminiClient calls the Gemini generateContent REST API with an ordered
// model fallback list.
type GeminiClient struct {
	apiKey     string
	baseURL    string
	models     []string
	httpClient *http.Client
	logger     *logging.Logger
	retryDelay time.Duration
}

// NewGeminiClient creates a new GeminiClient.
func NewGeminiClient(apiKey, baseURL string, modelList []string, logger *logging.Logger) *GeminiClient {
	return &GeminiClient{
		apiKey:     apiKey,
		baseURL:    strings.TrimRight(baseURL, "/"),
		models:     modelList,
		httpClient: &http.Client{Timeout: 120 * time.Second},
		logger:     logger,
		retryDelay: retryDelay,
	}
}

type generatePart struct {
	Text       string      `json:"text,omitempty"`
	InlineData *inlineData `json:"inline_data,omitempty"`
}

type inlineData struct {
	MimeType string `json:"mime_type"`
	Data     string `json:"data"`
}

type generateRequest struct {
	Contents []struct {
		Parts []generatePart `json:"parts"`
	} `json:"contents"`
}

type generateResponse struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
}

// InferSteps encodes the frames inline, prompts each model in the fallback
// list in order, and parses the structured step list out of the response.
// A transient failure (overloaded service) advances to the next model after
// a short delay; any other failure is terminal. Exhausting the list returns
// an aggregate error wrapping the last cause.
func (c *GeminiClient) InferSteps(ctx context.Context, framePaths []string) ([]models.InferredStep, error) {
	if len(framePaths) == 0 {
		return nil, fmt.Errorf("no frames to analyze")
	}

	parts := []generatePart{{Text: stepInferencePrompt}}
	for _, path := range framePaths {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read frame %s: %w", path, err)
		}
		parts = append(parts, generatePart{InlineData: &inlineData{
			MimeType: "image/jpeg",
			Data:     base64.StdEncoding.EncodeToString(data),
		}})
	}

	var req generateRequest
	req.Contents = make([]struct {
		Parts []generatePart `json:"parts"`
	}, 1)
	req.Contents[0].Parts = parts

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request body: %w", err)
	}

	var lastErr error
	for i, model := range c.models {
		steps, err := c.generate(ctx, model, body)
		if err == nil {
			return steps, nil
		}
		lastErr = err

		var ae *apiError
		if errors.As(err, &ae) && ae.transient() && i < len(c.models)-1 {
			c.logger.Warn("model overloaded, falling back", "model", model, "next", c.models[i+1])
			select {
			case <-time.After(c.retryDelay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			continue
		}
		break
	}

	return nil, fmt.Errorf("all models failed to infer steps: %w", lastErr)
}

func (c *GeminiClient) generate(ctx context.Context, model string, body []byte) ([]models.InferredStep, error) {
	url := fmt.Sprintf("%s/models/%s:generateContent?key=%s", c.baseURL, model, c.apiKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to call model %s: %w", model, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &apiError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	var parsed generateResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("failed to decode response body: %w", err)
	}
	if len(parsed.Candidates) == 0 || len(parsed.Candidates[0].Content.Parts) == 0 {
		return nil, fmt.Errorf("model %s returned no candidates", model)
	}

	return parseSteps(parsed.Candidates[0].Content.Parts[0].Text)
}

// parseSteps digs the {"steps": [...]} object out of free-form model
// output: a fenced code block first, then the outermost brace span, then
// the raw text.
func parseSteps(text string) ([]models.InferredStep, error) {
	candidates := make([]string, 0, 3)

	if fenced := extractFencedBlock(text); fenced != "" {
		candidates = append(candidates, fenced)
	}
	if start, end := strings.Index(text, "{"), strings.LastIndex(text, "}"); start >= 0 && end > start {
		candidates = append(candidates, text[start:end+1])
	}
	candidates = append(candidates, text)

	var lastErr error
	for _, candidate := range candidates {
		var payload struct {
			Steps []models.InferredStep `json:"steps"`
		}
		if err := json.Unmarshal([]byte(candidate), &payload); err != nil {
			lastErr = err
			continue
		}
		if payload.Steps == nil {
			lastErr = fmt.Errorf("parsed object has no steps array")
			continue
		}
		return normalizeSteps(payload.Steps), nil
	}

	return nil, fmt.Errorf("could not parse steps from model output: %w", lastErr)
}

func extractFencedBlock(text string) string {
	start := strings.Index(text, "```")
	if start < 0 {
		return ""
	}
	rest := text[start+3:]
	// skip an optional language tag on the fence line
	if nl := strings.Index(rest, "\n"); nl >= 0 {
		rest = rest[nl+1:]
	}
	end := strings.Index(rest, "```")
	if end < 0 {
		return ""
	}
	return strings.TrimSpace(rest[:end])
}

// normalizeSteps clamps confidences to 0-100 and coerces unknown types to
// click so downstream enum checks hold.
func normalizeSteps(steps []models.InferredStep) []models.InferredStep {
	for i := range steps {
		steps[i].Type = models.StepType(strings.ToLower(strings.TrimSpace(string(steps[i].Type))))
		if !models.ValidStepType(steps[i].Type) {
			steps[i].Type = models.StepTypeClick
		}
		if steps[i].Confidence < 0 {
			steps[i].Confidence = 0
		}
		if steps[i].Confidence > 100 {
			steps[i].Confidence = 100
		}
	}
	return steps
}
