package transcribe

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"cloud.google.com/go/speech/apiv1/speechpb"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestSimulatorRotatesPhrases(t *testing.T) {
	sim := NewSimulator()
	ctx := context.Background()
	received := time.UnixMilli(1_700_000_000_000)

	for i := 0; i < len(SimulatedPhrases)+2; i++ {
		res, err := sim.Transcribe(ctx, Chunk{Data: make([]byte, 1000), Size: 1000, ReceivedAt: received})
		if err != nil {
			t.Fatalf("Transcribe failed: %v", err)
		}
		want := SimulatedPhrases[i%len(SimulatedPhrases)]
		if res.Text != want {
			t.Fatalf("chunk %d: expected %q, got %q", i, want, res.Text)
		}
		if res.Confidence < minSimulatedConfidence || res.Confidence > maxSimulatedConfidence {
			t.Fatalf("chunk %d: confidence %v out of bounds", i, res.Confidence)
		}
	}
}

func TestSimulatorIsReproducible(t *testing.T) {
	chunks := []Chunk{
		{Data: []byte{1}, Size: 1000, ReceivedAt: time.UnixMilli(10)},
		{Data: []byte{1, 2}, Size: 2048, ReceivedAt: time.UnixMilli(20)},
		{Data: []byte{1, 2, 3}, Size: 512, ReceivedAt: time.UnixMilli(30)},
	}

	run := func() []Result {
		sim := NewSimulator()
		var out []Result
		for _, c := range chunks {
			res, err := sim.Transcribe(context.Background(), c)
			if err != nil {
				t.Fatalf("Transcribe failed: %v", err)
			}
			out = append(out, res)
		}
		return out
	}

	first, second := run(), run()
	for i := range first {
		if first[i] != second[i] {
			t.Fatalf("result %d differs between runs: %+v vs %+v", i, first[i], second[i])
		}
	}
}

func TestSimulatorPhraseFollowsCallOrder(t *testing.T) {
	confidences := map[float64]bool{}
	for i := 0; i < 10; i++ {
		size := 1000 + i
		res, err := NewSimulator().Transcribe(context.Background(), Chunk{
			Data:       make([]byte, size),
			Size:       size,
			ReceivedAt: time.UnixMilli(1_700_000_000_000 + int64(i)*250),
		})
		if err != nil {
			t.Fatalf("Transcribe failed: %v", err)
		}
		if res.Text != SimulatedPhrases[0] {
			t.Fatalf("first call with size %d: expected %q, got %q", size, SimulatedPhrases[0], res.Text)
		}
		confidences[res.Confidence] = true
	}
	if len(confidences) < 2 {
		t.Fatalf("expected confidence to vary with the chunk, got %v", confidences)
	}
}

func TestSimulatorRejectsEmptyChunk(t *testing.T) {
	if _, err := NewSimulator().Transcribe(context.Background(), Chunk{}); !errors.Is(err, ErrEmptyAudio) {
		t.Fatalf("expected ErrEmptyAudio, got %v", err)
	}
}

type stubbornAdapter struct {
	release chan struct{}
}

func (s *stubbornAdapter) Name() string { return "stubborn" }

func (s *stubbornAdapter) Transcribe(context.Context, Chunk) (Result, error) {
	<-s.release
	return Result{Text: "too late"}, nil
}

func TestWithTimeoutEnforcesCeiling(t *testing.T) {
	slow := &stubbornAdapter{release: make(chan struct{})}
	defer close(slow.release)

	adapter := WithTimeout(slow, 20*time.Millisecond)
	if adapter.Name() != "stubborn" {
		t.Fatalf("expected wrapped name, got %q", adapter.Name())
	}

	start := time.Now()
	_, err := adapter.Transcribe(context.Background(), Chunk{Data: []byte{1}})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if time.Since(start) > time.Second {
		t.Fatalf("timeout wrapper did not return promptly")
	}
}

func TestWithTimeoutPassesResults(t *testing.T) {
	adapter := WithTimeout(NewSimulator(), time.Second)
	res, err := adapter.Transcribe(context.Background(), Chunk{Data: []byte{1}, Size: 1})
	if err != nil || res.Text != SimulatedPhrases[0] {
		t.Fatalf("unexpected result %+v, %v", res, err)
	}
}

func TestDecodeDeepgramLabelsSpeakers(t *testing.T) {
	raw := []byte(`{"results":{"channels":[{"alternatives":[{
		"transcript":"hello there hi",
		"confidence":0.93,
		"words":[
			{"word":"hello","punctuated_word":"Hello","start":0,"end":0.4,"speaker":0},
			{"word":"there","punctuated_word":"there.","start":0.4,"end":0.8,"speaker":0},
			{"word":"hi","punctuated_word":"Hi!","start":1.0,"end":1.2,"speaker":1}
		]}]}]}}`)

	res, err := decodeDeepgram(raw)
	if err != nil {
		t.Fatalf("decodeDeepgram failed: %v", err)
	}
	if res.Text != "Speaker 0: Hello there.\nSpeaker 1: Hi!" {
		t.Fatalf("unexpected text %q", res.Text)
	}
	if res.Confidence != 0.93 {
		t.Fatalf("unexpected confidence %v", res.Confidence)
	}
}

func TestDecodeDeepgramWithoutWords(t *testing.T) {
	res, err := decodeDeepgram([]byte(`{"results":{"channels":[{"alternatives":[{"transcript":" plain text ","confidence":1.4}]}]}}`))
	if err != nil {
		t.Fatalf("decodeDeepgram failed: %v", err)
	}
	if res.Text != "plain text" || res.Confidence != 1 {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestDecodeDeepgramNoSpeech(t *testing.T) {
	for _, raw := range []string{
		`{"results":{"channels":[]}}`,
		`{"results":{"channels":[{"alternatives":[{"transcript":"","confidence":0}]}]}}`,
	} {
		if _, err := decodeDeepgram([]byte(raw)); !errors.Is(err, ErrNoSpeech) {
			t.Fatalf("expected ErrNoSpeech for %s, got %v", raw, err)
		}
	}
}

func TestWhisperTranscribe(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/audio/transcriptions" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parse multipart: %v", err)
		}
		if got := r.FormValue("language"); got != "en" {
			t.Errorf("expected language en, got %q", got)
		}
		if _, header, err := r.FormFile("file"); err != nil || header.Filename != "chunk.wav" {
			t.Errorf("expected chunk.wav upload, got %v %v", header, err)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"text": " We should ship it. ",
			"segments": []map[string]any{
				{"id": 0, "avg_logprob": -0.1, "text": "We should ship it."},
				{"id": 1, "avg_logprob": -0.3, "text": ""},
			},
		})
	}))
	defer server.Close()

	w := NewWhisper("test-key", "", "en-US", server.URL+"/v1")
	res, err := w.Transcribe(context.Background(), Chunk{Data: []byte("RIFF"), Format: FormatWAV})
	if err != nil {
		t.Fatalf("Transcribe failed: %v", err)
	}
	if res.Text != "We should ship it." {
		t.Fatalf("unexpected text %q", res.Text)
	}
	if res.Confidence < 0.81 || res.Confidence > 0.83 {
		t.Fatalf("expected confidence near exp(-0.2), got %v", res.Confidence)
	}
}

func TestWhisperEmptyText(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"text":"   "}`))
	}))
	defer server.Close()

	w := NewWhisper("test-key", "whisper-1", "en", server.URL+"/v1")
	if _, err := w.Transcribe(context.Background(), Chunk{Data: []byte{1}}); !errors.Is(err, ErrNoSpeech) {
		t.Fatalf("expected ErrNoSpeech, got %v", err)
	}
}

func TestGoogleTranscribe(t *testing.T) {
	var captured *speechpb.RecognizeRequest
	g := &Google{
		language: "en-US",
		recognize: func(_ context.Context, req *speechpb.RecognizeRequest) (*speechpb.RecognizeResponse, error) {
			captured = req
			return &speechpb.RecognizeResponse{Results: []*speechpb.SpeechRecognitionResult{
				{Alternatives: []*speechpb.SpeechRecognitionAlternative{{Transcript: "first part", Confidence: 0.8}}},
				{Alternatives: nil},
				{Alternatives: []*speechpb.SpeechRecognitionAlternative{{Transcript: "second part", Confidence: 0.6}}},
			}}, nil
		},
	}

	res, err := g.Transcribe(context.Background(), Chunk{Data: []byte{1, 2}})
	if err != nil {
		t.Fatalf("Transcribe failed: %v", err)
	}
	if res.Text != "first part second part" {
		t.Fatalf("unexpected text %q", res.Text)
	}
	if res.Confidence < 0.69 || res.Confidence > 0.71 {
		t.Fatalf("expected averaged confidence, got %v", res.Confidence)
	}
	if captured.GetConfig().GetEncoding() != speechpb.RecognitionConfig_WEBM_OPUS {
		t.Fatalf("expected webm encoding, got %v", captured.GetConfig().GetEncoding())
	}
	if captured.GetAudio().GetContent() == nil {
		t.Fatal("expected inline audio content")
	}
}

func TestGoogleClassifiesErrors(t *testing.T) {
	g := &Google{recognize: func(context.Context, *speechpb.RecognizeRequest) (*speechpb.RecognizeResponse, error) {
		return nil, status.Error(codes.Unavailable, "backend down")
	}}

	_, err := g.Transcribe(context.Background(), Chunk{Data: []byte{1}, Format: FormatWAV})
	if !errors.Is(err, ErrTransient) {
		t.Fatalf("expected ErrTransient, got %v", err)
	}
	if !strings.Contains(err.Error(), "backend down") {
		t.Fatalf("expected original message, got %v", err)
	}

	g.recognize = func(context.Context, *speechpb.RecognizeRequest) (*speechpb.RecognizeResponse, error) {
		return nil, status.Error(codes.InvalidArgument, "bad audio")
	}
	_, err = g.Transcribe(context.Background(), Chunk{Data: []byte{1}})
	if err == nil || errors.Is(err, ErrTransient) {
		t.Fatalf("expected permanent error, got %v", err)
	}
}

func TestGoogleNoSpeech(t *testing.T) {
	g := &Google{recognize: func(context.Context, *speechpb.RecognizeRequest) (*speechpb.RecognizeResponse, error) {
		return &speechpb.RecognizeResponse{}, nil
	}}
	if _, err := g.Transcribe(context.Background(), Chunk{Data: []byte{1}}); !errors.Is(err, ErrNoSpeech) {
		t.Fatalf("expected ErrNoSpeech, got %v", err)
	}
}
