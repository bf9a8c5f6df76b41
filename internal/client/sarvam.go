package client

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"github.com/windfall/langodyssey/internal/errors"
	"github.com/windfall/langodyssey/internal/observe"
	"github.com/windfall/langodyssey/internal/resilience"
)

const sarvamProvider = "sarvam"

// languageCodes maps learner-facing language names to vendor locale codes.
var languageCodes = map[string]string{
	"hindi":     "hi-IN",
	"bengali":   "bn-IN",
	"kannada":   "kn-IN",
	"malayalam": "ml-IN",
	"marathi":   "mr-IN",
	"odia":      "od-IN",
	"punjabi":   "pa-IN",
	"tamil":     "ta-IN",
	"telugu":    "te-IN",
	"gujarati":  "gu-IN",
	"english":   "en-IN",
}

// LanguageCode returns the vendor code for a language name. Unknown names
// are returned unchanged so callers may pass codes directly.
func LanguageCode(language string) string {
	if code, ok := languageCodes[strings.ToLower(strings.TrimSpace(language))]; ok {
		return code
	}
	return language
}

// SarvamClient calls the Sarvam speech REST API for transcription,
// synthesis and translation.
type SarvamClient struct {
	baseURL string
	apiKey  string
	client  *http.Client
	breaker *resilience.CircuitBreaker
	metrics *observe.Metrics
}

// NewSarvamClient creates a new speech vendor client.
func NewSarvamClient(baseURL, apiKey string, timeout time.Duration) *SarvamClient {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &SarvamClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client:  &http.Client{Timeout: timeout},
	}
}

// WithBreaker routes every call through cb.
func (c *SarvamClient) WithBreaker(cb *resilience.CircuitBreaker) *SarvamClient {
	c.breaker = cb
	return c
}

// WithMetrics records latency and outcome of every call.
func (c *SarvamClient) WithMetrics(m *observe.Metrics) *SarvamClient {
	c.metrics = m
	return c
}

// Configured reports whether an API key is set.
func (c *SarvamClient) Configured() bool {
	return c.apiKey != ""
}

type sttResponse struct {
	Transcript   string `json:"transcript"`
	LanguageCode string `json:"language_code"`
}

type ttsRequest struct {
	Input              string `json:"input"`
	TargetLanguageCode string `json:"target_language_code,omitempty"`
}

type ttsResponse struct {
	Audios []string `json:"audios"`
	Audio  string   `json:"audio"`
}

type translateRequest struct {
	Input              string `json:"input"`
	SourceLanguageCode string `json:"source_language_code"`
	TargetLanguageCode string `json:"target_language_code"`
}

type translateResponse struct {
	TranslatedText string `json:"translated_text"`
}

// SpeechToText transcribes a WAV recording. language may be empty.
func (c *SarvamClient) SpeechToText(ctx context.Context, audio []byte, language string) (string, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", `form-data; name="file"; filename="audio.wav"`)
	header.Set("Content-Type", "audio/wav")
	part, err := writer.CreatePart(header)
	if err != nil {
		return "", fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := part.Write(audio); err != nil {
		return "", fmt.Errorf("failed to write audio data: %w", err)
	}
	if language != "" {
		_ = writer.WriteField("language_code", LanguageCode(language))
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("failed to close multipart writer: %w", err)
	}

	var result sttResponse
	err = c.call(ctx, observe.KindSTT, "/speech-to-text", writer.FormDataContentType(), body.Bytes(), &result)
	if err != nil {
		return "", err
	}
	return result.Transcript, nil
}

// TextToSpeech synthesises text and returns the decoded WAV bytes.
func (c *SarvamClient) TextToSpeech(ctx context.Context, text, language string) ([]byte, error) {
	payload, err := json.Marshal(ttsRequest{Input: text, TargetLanguageCode: LanguageCode(language)})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	var result ttsResponse
	if err := c.call(ctx, observe.KindTTS, "/text-to-speech", "application/json", payload, &result); err != nil {
		return nil, err
	}

	encoded := result.Audio
	if len(result.Audios) > 0 {
		encoded = result.Audios[0]
	}
	if encoded == "" {
		return nil, errors.New(errors.ErrSpeechService, "text-to-speech returned no audio")
	}
	audio, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, errors.Wrap(errors.ErrSpeechService, "failed to decode synthesised audio", err)
	}
	return audio, nil
}

// Translate translates text into the target language, auto-detecting the source.
func (c *SarvamClient) Translate(ctx context.Context, text, targetLanguage string) (string, error) {
	payload, err := json.Marshal(translateRequest{
		Input:              text,
		SourceLanguageCode: "auto",
		TargetLanguageCode: LanguageCode(targetLanguage),
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	var result translateResponse
	if err := c.call(ctx, observe.KindTranslate, "/translate", "application/json", payload, &result); err != nil {
		return "", err
	}
	return result.TranslatedText, nil
}

// call posts body to path and decodes the JSON response into out.
func (c *SarvamClient) call(ctx context.Context, kind, path, contentType string, body []byte, out interface{}) error {
	if c.apiKey == "" {
		return errors.New(errors.ErrAIService, "speech vendor credentials not configured")
	}

	start := time.Now()
	err := c.breaker.Execute(func() error {
		return c.post(ctx, path, contentType, body, out)
	})
	c.metrics.ObserveCall(ctx, sarvamProvider, kind, start, err)

	if err == resilience.ErrCircuitOpen {
		return errors.Wrap(errors.ErrSpeechService, "speech vendor temporarily unavailable", err)
	}
	return err
}

func (c *SarvamClient) post(ctx context.Context, path, contentType string, body []byte, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("api-subscription-key", c.apiKey)
	req.Header.Set("Content-Type", contentType)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("sarvam api error %d: %s", resp.StatusCode, string(respBody))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
