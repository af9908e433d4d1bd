package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
)

// ElevenLabsSynthesizer streams question audio from the ElevenLabs HTTP
// streaming endpoint as 48kHz PCM. The kiosk serves English and Tamil
// visitors, so the voice is chosen per request from the language hint.
type ElevenLabsSynthesizer struct {
	apiKey  string
	voiceEN string
	voiceTA string
	modelID string

	// replaced in tests
	httpClient *http.Client
	baseURL    string
}

func NewElevenLabsSynthesizer(apiKey, voiceEN, voiceTA, modelID string) *ElevenLabsSynthesizer {
	if modelID == "" {
		modelID = "eleven_multilingual_v2"
	}
	return &ElevenLabsSynthesizer{
		apiKey:     apiKey,
		voiceEN:    voiceEN,
		voiceTA:    voiceTA,
		modelID:    modelID,
		httpClient: &http.Client{Timeout: 0},
		baseURL:    "https://api.elevenlabs.io",
	}
}

func (e *ElevenLabsSynthesizer) voiceFor(language string) string {
	if language == "ta" && e.voiceTA != "" {
		return e.voiceTA
	}
	return e.voiceEN
}

func (e *ElevenLabsSynthesizer) Synthesize(ctx context.Context, text, language string) (<-chan []byte, <-chan error) {
	pcmCh := make(chan []byte, 4096)
	errCh := make(chan error, 1)
	go func() {
		defer close(pcmCh)
		defer close(errCh)
		voice := e.voiceFor(language)
		if e.apiKey == "" || voice == "" {
			errCh <- fmt.Errorf("elevenlabs: api key or voice id missing")
			return
		}
		if text == "" {
			return
		}
		if err := e.httpStream(ctx, voice, text, pcmCh); err != nil {
			errCh <- err
		}
	}()
	return pcmCh, errCh
}

func (e *ElevenLabsSynthesizer) httpStream(ctx context.Context, voice, text string, pcmCh chan<- []byte) error {
	base, err := url.Parse(e.baseURL)
	if err != nil {
		return err
	}
	u := *base
	u.Path = "/v1/text-to-speech/" + voice + "/stream"
	q := u.Query()
	q.Set("model_id", e.modelID)
	q.Set("output_format", "pcm_48000")
	q.Set("optimize_streaming_latency", "2")
	u.RawQuery = q.Encode()

	body := map[string]any{
		"model_id": e.modelID,
		"text":     text,
		"voice_settings": map[string]any{
			"stability":         0.4,
			"similarity_boost":  0.7,
			"style":             0.0,
			"use_speaker_boost": true,
		},
		"generation_config": map[string]any{
			"chunk_length_schedule": []int{80, 120, 160, 200},
		},
	}
	buf, _ := json.Marshal(body)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewReader(buf))
	if err != nil {
		return err
	}
	req.Header.Set("xi-api-key", e.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("elevenlabs: stream request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("elevenlabs: status=%d body=%s", resp.StatusCode, string(b))
	}

	chunk := make([]byte, 4096)
	for {
		n, rerr := resp.Body.Read(chunk)
		if n > 0 {
			out := make([]byte, n)
			copy(out, chunk[:n])
			select {
			case pcmCh <- out:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if rerr != nil {
			if rerr == io.EOF {
				return nil
			}
			return fmt.Errorf("elevenlabs: stream read: %w", rerr)
		}
	}
}
