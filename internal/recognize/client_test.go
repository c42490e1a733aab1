package recognize

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maauso/langsplit/internal/audio"
)

func testRange() audio.Range {
	data := make([]int, 16000)
	for i := range data {
		data[i] = (i % 100) * 100
	}
	return audio.NewBuffer(data, 16000, 1, 16).Full()
}

func newTestClient(t *testing.T, handler http.HandlerFunc) *HTTPClient {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := NewClient("test-key",
		WithBaseURL(server.URL+"/v1/speech:recognize"),
		WithTempDir(t.TempDir()),
		WithBaseBackoff(time.Millisecond),
	)
	require.NoError(t, err)
	return client
}

func TestNewClient(t *testing.T) {
	_, err := NewClient("")
	assert.ErrorIs(t, err, ErrAPIKeyRequired)

	client, err := NewClient("key", WithMaxRetries(7), WithMaxAlternatives(2))
	require.NoError(t, err)
	assert.Equal(t, DefaultBaseURL, client.baseURL)
	assert.Equal(t, 7, client.maxRetries)
	assert.Equal(t, 2, client.maxAlts)
}

func TestHTTPClient_Recognize_Success(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/speech:recognize", r.URL.Path)
		assert.Equal(t, "test-key", r.URL.Query().Get("key"))

		var req recognizeRequest
		if !assert.NoError(t, json.NewDecoder(r.Body).Decode(&req)) {
			return
		}
		assert.Equal(t, "pt-BR", req.Config.LanguageCode)
		assert.Equal(t, 16000, req.Config.SampleRateHertz)
		assert.Equal(t, "LINEAR16", req.Config.Encoding)

		content, err := base64.StdEncoding.DecodeString(req.Audio.Content)
		if assert.NoError(t, err) && assert.Greater(t, len(content), 4) {
			assert.Equal(t, "RIFF", string(content[:4]))
		}

		_ = json.NewEncoder(w).Encode(map[string]any{
			"results": []any{
				map[string]any{"alternatives": []any{
					map[string]any{"transcript": "bom dia", "confidence": 0.91},
					map[string]any{"transcript": "bom diá"},
				}},
			},
		})
	})

	alts, err := client.Recognize(context.Background(), testRange(), "pt-BR")
	require.NoError(t, err)
	assert.Equal(t, []Alternative{
		{Text: "bom dia", Confidence: 0.91},
		{Text: "bom diá", Confidence: 0},
	}, alts)
}

func TestHTTPClient_Recognize_NoResult(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	})

	_, err := client.Recognize(context.Background(), testRange(), "en-US")
	assert.ErrorIs(t, err, ErrNoResult)
}

func TestHTTPClient_Recognize_EmptyRange(t *testing.T) {
	client, err := NewClient("key")
	require.NoError(t, err)

	_, err = client.Recognize(context.Background(), testRange().Sub(0, 0), "en-US")
	assert.ErrorIs(t, err, ErrNoResult)
}

func TestHTTPClient_Recognize_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"results":[{"alternatives":[{"transcript":"hello","confidence":0.9}]}]}`))
	})

	alts, err := client.Recognize(context.Background(), testRange(), "en-US")
	require.NoError(t, err)
	assert.Len(t, alts, 1)
	assert.Equal(t, int32(3), calls.Load())
}

func TestHTTPClient_Recognize_RateLimitExhaustsRetries(t *testing.T) {
	var calls atomic.Int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	})
	client.maxRetries = 2

	_, err := client.Recognize(context.Background(), testRange(), "en-US")
	assert.ErrorIs(t, err, ErrRateLimited)
	assert.Equal(t, int32(3), calls.Load())
}

func TestHTTPClient_Recognize_ClientErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"bad language"}`))
	})

	_, err := client.Recognize(context.Background(), testRange(), "xx")
	assert.ErrorIs(t, err, ErrRequestFailed)
	assert.Equal(t, int32(1), calls.Load())
}

type blockingRecognizer struct{}

func (blockingRecognizer) Recognize(ctx context.Context, _ audio.Range, _ string) ([]Alternative, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

type fixedRecognizer struct{ alts []Alternative }

func (f fixedRecognizer) Recognize(context.Context, audio.Range, string) ([]Alternative, error) {
	return f.alts, nil
}

func TestWithTimeout(t *testing.T) {
	r := WithTimeout(blockingRecognizer{}, 10*time.Millisecond)

	start := time.Now()
	_, err := r.Recognize(context.Background(), testRange(), "en-US")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)

	fixed := fixedRecognizer{alts: []Alternative{{Text: "ok", Confidence: 1}}}
	assert.Equal(t, fixed, WithTimeout(fixed, 0), "non-positive timeout returns the recognizer unchanged")

	alts, err := WithTimeout(fixed, time.Second).Recognize(context.Background(), testRange(), "en-US")
	require.NoError(t, err)
	assert.Equal(t, fixed.alts, alts)
}
