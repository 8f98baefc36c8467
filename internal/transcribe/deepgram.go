package transcribe

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	api "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/rest"
	interfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/interfaces"
	client "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/listen"
)

var deepgramInit sync.Once

// Deepgram transcribes each chunk with Deepgram's pre-recorded REST API.
type Deepgram struct {
	dg      *api.Client
	options *interfaces.PreRecordedTranscriptionOptions
}

func NewDeepgram(apiKey, model, language string) *Deepgram {
	deepgramInit.Do(func() {
		client.Init(client.InitLib{LogLevel: client.LogLevelDefault})
	})
	if model == "" {
		model = "nova-2"
	}

	c := client.NewREST(apiKey, &interfaces.ClientOptions{})
	return &Deepgram{
		dg: api.New(c),
		options: &interfaces.PreRecordedTranscriptionOptions{
			Model:       model,
			Language:    language,
			Diarize:     true,
			Punctuate:   true,
			SmartFormat: true,
		},
	}
}

func (d *Deepgram) Name() string { return "deepgram" }

func (d *Deepgram) Transcribe(ctx context.Context, chunk Chunk) (Result, error) {
	if len(chunk.Data) == 0 {
		return Result{}, ErrEmptyAudio
	}

	res, err := d.dg.FromStream(ctx, bytes.NewReader(chunk.Data), d.options)
	if err != nil {
		return Result{}, fmt.Errorf("deepgram transcription: %w", err)
	}

	raw, err := json.Marshal(res)
	if err != nil {
		return Result{}, fmt.Errorf("encode deepgram response: %w", err)
	}
	return decodeDeepgram(raw)
}

type deepgramResponse struct {
	Results struct {
		Channels []struct {
			Alternatives []struct {
				Transcript string  `json:"transcript"`
				Confidence float64 `json:"confidence"`
				Words      []struct {
					PunctuatedWord string  `json:"punctuated_word"`
					Word           string  `json:"word"`
					Start          float64 `json:"start"`
					End            float64 `json:"end"`
					Speaker        *int    `json:"speaker"`
				} `json:"words"`
			} `json:"alternatives"`
		} `json:"channels"`
	} `json:"results"`
}

// decodeDeepgram extracts the first alternative of the first channel,
// labeling speakers when diarization found more than one.
func decodeDeepgram(raw []byte) (Result, error) {
	var resp deepgramResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return Result{}, fmt.Errorf("decode deepgram response: %w", err)
	}
	if len(resp.Results.Channels) == 0 || len(resp.Results.Channels[0].Alternatives) == 0 {
		return Result{}, ErrNoSpeech
	}

	alt := resp.Results.Channels[0].Alternatives[0]
	text := strings.TrimSpace(alt.Transcript)

	if len(alt.Words) > 0 {
		words := make([]Word, 0, len(alt.Words))
		for _, w := range alt.Words {
			pw := w.PunctuatedWord
			if pw == "" {
				pw = w.Word
			}
			words = append(words, Word{Speaker: w.Speaker, PunctuatedWord: pw, Start: w.Start, End: w.End})
		}
		if labeled := LabeledText(GroupWordsBySpeaker(words)); labeled != "" {
			text = labeled
		}
	}

	if text == "" {
		return Result{}, ErrNoSpeech
	}
	return Result{Text: text, Confidence: clampConfidence(alt.Confidence)}, nil
}
