package backend

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strconv"
	"strings"
	"time"

	"github.com/susurrus-chat/susurrus/pkg/audio/opus"
)

const (
	defaultTimeout = 60 * time.Second

	// apiKeyHeader authenticates widget requests against the backend.
	apiKeyHeader = "X-API-Key"
)

// Option is a functional option for configuring the HTTP Client.
type Option func(*HTTPClient)

// WithHTTPClient sets the underlying http.Client. Useful for tests and for
// custom transports.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *HTTPClient) {
		c.httpClient = hc
	}
}

// WithAudioStore sets the store used to mint references for inline audio
// payloads. Without a store, inline payloads are dropped and only
// backend-served audio URLs are surfaced.
func WithAudioStore(store *AudioStore) Option {
	return func(c *HTTPClient) {
		c.store = store
	}
}

// WithOpusUpload compresses voice clips with Opus before upload instead of
// shipping raw PCM. The backend must support the length-prefixed packet
// format produced by [opus.Encoder].
func WithOpusUpload() Option {
	return func(c *HTTPClient) {
		c.opusUpload = true
	}
}

// HTTPClient implements [Client] against the backend's HTTP API.
type HTTPClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	store      *AudioStore
	opusUpload bool
}

// NewHTTPClient creates a backend client. baseURL and apiKey must be
// non-empty.
func NewHTTPClient(baseURL, apiKey string, opts ...Option) (*HTTPClient, error) {
	if baseURL == "" {
		return nil, errors.New("backend: baseURL must not be empty")
	}
	if apiKey == "" {
		return nil, errors.New("backend: apiKey must not be empty")
	}
	c := &HTTPClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// Ensure HTTPClient implements Client at compile time.
var _ Client = (*HTTPClient)(nil)

// ---- wire types ----

type voiceInteractResponse struct {
	Transcript     string `json:"transcript"`
	ReplyText      string `json:"reply_text"`
	ReplyAudioURL  string `json:"reply_audio_url,omitempty"`
	ReplyAudio     string `json:"reply_audio,omitempty"` // base64
	ReplyAudioMIME string `json:"reply_audio_mime,omitempty"`
	MessageID      string `json:"message_id"`
}

type speechRequest struct {
	Text         string `json:"text"`
	LanguageCode string `json:"language_code,omitempty"`
}

type speechResponse struct {
	AudioURL  string `json:"audio_url,omitempty"`
	Audio     string `json:"audio,omitempty"` // base64
	AudioMIME string `json:"audio_mime,omitempty"`
}

type queryRequest struct {
	Text      string        `json:"text"`
	ImageRef  string        `json:"image_ref,omitempty"`
	History   []historyItem `json:"history,omitempty"`
	SessionID string        `json:"session_id"`
}

type historyItem struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type queryResponse struct {
	ReplyText string `json:"reply_text"`
	MessageID string `json:"message_id"`
}

type summarizeRequest struct {
	Content        string `json:"content"`
	ContentType    string `json:"content_type,omitempty"`
	TargetLanguage string `json:"target_language,omitempty"`
}

type summarizeResponse struct {
	Summary   string `json:"summary"`
	MessageID string `json:"message_id"`
}

type feedbackRequest struct {
	MessageID string `json:"message_id"`
	Rating    int    `json:"rating"`
	Comment   string `json:"comment,omitempty"`
}

// ---- operations ----

// FetchWidgetConfig loads the configuration for widgetID.
func (c *HTTPClient) FetchWidgetConfig(ctx context.Context, widgetID string) (WidgetConfig, error) {
	var cfg WidgetConfig
	err := c.doJSON(ctx, "fetch-widget-config", http.MethodGet,
		fmt.Sprintf("%s/widgets/%s/config", c.baseURL, widgetID), nil, &cfg)
	return cfg, err
}

// VoiceInteract uploads the clip as a multipart form and returns the
// backend's transcript plus reply. Inline reply audio is decoded and stored
// through the audio store; URL-referenced audio passes through as-is.
func (c *HTTPClient) VoiceInteract(ctx context.Context, req VoiceInteractRequest) (VoiceInteractResult, error) {
	const op = "voice-interact"

	payload := req.Clip.PCM
	encoding, filename, partType := "pcm", "clip.pcm", "application/octet-stream"
	sampleRate, channels := req.Clip.SampleRate, req.Clip.Channels
	if c.opusUpload {
		enc, err := opus.NewEncoder()
		if err != nil {
			return VoiceInteractResult{}, fmt.Errorf("backend: %s: %w", op, err)
		}
		payload, err = enc.EncodeClip(req.Clip)
		if err != nil {
			return VoiceInteractResult{}, fmt.Errorf("backend: %s: %w", op, err)
		}
		encoding, filename, partType = "opus", "clip.opus", "audio/opus"
		sampleRate, channels = opus.SampleRate, opus.Channels
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	_ = mw.WriteField("language_code", req.LanguageCode)
	_ = mw.WriteField("session_id", req.SessionID)
	_ = mw.WriteField("sample_rate", strconv.Itoa(sampleRate))
	_ = mw.WriteField("channels", strconv.Itoa(channels))
	_ = mw.WriteField("encoding", encoding)

	hdr := make(textproto.MIMEHeader)
	hdr.Set("Content-Disposition", fmt.Sprintf(`form-data; name="audio"; filename=%q`, filename))
	hdr.Set("Content-Type", partType)
	part, err := mw.CreatePart(hdr)
	if err != nil {
		return VoiceInteractResult{}, fmt.Errorf("backend: %s: build form: %w", op, err)
	}
	if _, err := part.Write(payload); err != nil {
		return VoiceInteractResult{}, fmt.Errorf("backend: %s: build form: %w", op, err)
	}
	if err := mw.Close(); err != nil {
		return VoiceInteractResult{}, fmt.Errorf("backend: %s: build form: %w", op, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/voice-interact", &body)
	if err != nil {
		return VoiceInteractResult{}, fmt.Errorf("backend: %s: %w", op, err)
	}
	httpReq.Header.Set("Content-Type", mw.FormDataContentType())

	var wire voiceInteractResponse
	if err := c.send(httpReq, op, &wire); err != nil {
		return VoiceInteractResult{}, err
	}

	res := VoiceInteractResult{
		Transcript:    wire.Transcript,
		ReplyText:     wire.ReplyText,
		ReplyAudioRef: wire.ReplyAudioURL,
		MessageID:     wire.MessageID,
	}
	if res.ReplyAudioRef == "" && wire.ReplyAudio != "" {
		ref, err := c.storeInline(wire.ReplyAudio, wire.ReplyAudioMIME, op)
		if err != nil {
			return VoiceInteractResult{}, err
		}
		res.ReplyAudioRef = ref
	}
	return res, nil
}

// SynthesizeSpeech produces spoken audio for a text.
func (c *HTTPClient) SynthesizeSpeech(ctx context.Context, req SpeechRequest) (SpeechResult, error) {
	const op = "synthesize-speech"
	var wire speechResponse
	err := c.doJSON(ctx, op, http.MethodPost, c.baseURL+"/speech",
		speechRequest{Text: req.Text, LanguageCode: req.LanguageCode}, &wire)
	if err != nil {
		return SpeechResult{}, err
	}
	res := SpeechResult{AudioRef: wire.AudioURL, MIMEType: wire.AudioMIME}
	if res.AudioRef == "" && wire.Audio != "" {
		ref, err := c.storeInline(wire.Audio, wire.AudioMIME, op)
		if err != nil {
			return SpeechResult{}, err
		}
		res.AudioRef = ref
	}
	return res, nil
}

// Query sends a text question with conversation history.
func (c *HTTPClient) Query(ctx context.Context, req QueryRequest) (QueryResult, error) {
	wire := queryRequest{
		Text:      req.Text,
		ImageRef:  req.ImageRef,
		SessionID: req.SessionID,
		History:   make([]historyItem, 0, len(req.History)),
	}
	for _, m := range req.History {
		wire.History = append(wire.History, historyItem{Role: string(m.Role), Content: m.Content})
	}
	var resp queryResponse
	if err := c.doJSON(ctx, "query", http.MethodPost, c.baseURL+"/query", wire, &resp); err != nil {
		return QueryResult{}, err
	}
	return QueryResult{ReplyText: resp.ReplyText, MessageID: resp.MessageID}, nil
}

// Summarize produces a summary of the given content.
func (c *HTTPClient) Summarize(ctx context.Context, req SummarizeRequest) (SummarizeResult, error) {
	var resp summarizeResponse
	err := c.doJSON(ctx, "summarize", http.MethodPost, c.baseURL+"/summarize", summarizeRequest{
		Content:        req.Content,
		ContentType:    req.ContentType,
		TargetLanguage: req.TargetLanguage,
	}, &resp)
	if err != nil {
		return SummarizeResult{}, err
	}
	return SummarizeResult{Summary: resp.Summary, MessageID: resp.MessageID}, nil
}

// SendFeedback records a rating for an assistant message.
func (c *HTTPClient) SendFeedback(ctx context.Context, fb Feedback) error {
	return c.doJSON(ctx, "feedback", http.MethodPost, c.baseURL+"/feedback", feedbackRequest{
		MessageID: fb.MessageID,
		Rating:    fb.Rating,
		Comment:   fb.Comment,
	}, nil)
}

// ---- helpers ----

// doJSON sends a JSON request and decodes a JSON response into out (skipped
// when out is nil).
func (c *HTTPClient) doJSON(ctx context.Context, op, method, url string, in, out any) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("backend: %s: encode request: %w", op, err)
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return fmt.Errorf("backend: %s: %w", op, err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.send(req, op, out)
}

// send executes req, classifies transport and status failures, and decodes the
// body into out when out is non-nil. Context cancellation passes through as
// context.Canceled so callers can treat it as benign.
func (c *HTTPClient) send(req *http.Request, op string, out any) error {
	req.Header.Set(apiKeyHeader, c.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctxErr := req.Context().Err(); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("backend: %s: %w: %w", op, ErrNetwork, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		// Drain so the connection can be reused.
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return &StatusError{Op: op, Code: resp.StatusCode}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("backend: %s: decode response: %w", op, err)
	}
	return nil
}

// storeInline decodes a base64 audio payload and mints a reference for it.
func (c *HTTPClient) storeInline(b64, mimeType, op string) (string, error) {
	data, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return "", fmt.Errorf("backend: %s: decode reply audio: %w", op, err)
	}
	if c.store == nil {
		return "", nil
	}
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	return c.store.Put(data, mimeType), nil
}
