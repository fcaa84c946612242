package voice

import (
	"context"
	"strings"

	"github.com/ent0n29/langhub/internal/audio"
)

const (
	mockSampleRate   = 16000
	mockMSPerRune    = 40
	mockMaxClipMS    = 10000
	MockAudioFormat  = "wav_pcm_16000"
	MockProviderName = "mock"
)

// MockProvider synthesizes silent WAV clips sized to the input text. It is the
// fallback used when no hosted provider is configured.
type MockProvider struct {
	name string
}

func NewMockProvider() *MockProvider { return &MockProvider{name: MockProviderName} }

// NewNamedMockProvider registers the mock under a custom provider name, which
// lets local setups mirror a multi-provider route table.
func NewNamedMockProvider(name string) *MockProvider {
	if strings.TrimSpace(name) == "" {
		name = MockProviderName
	}
	return &MockProvider{name: name}
}

func (p *MockProvider) Name() string { return p.name }

func (p *MockProvider) Synthesize(ctx context.Context, req SynthesisRequest) (Audio, error) {
	if err := ctx.Err(); err != nil {
		return Audio{}, &ProviderError{Provider: p.name, Code: "canceled", Detail: err.Error(), Cause: err}
	}
	text := strings.TrimSpace(req.Text)
	if text == "" {
		return Audio{}, &ProviderError{Provider: p.name, Code: "empty_text", Detail: "text is required"}
	}
	ms := len([]rune(text)) * mockMSPerRune
	if ms > mockMaxClipMS {
		ms = mockMaxClipMS
	}
	pcm := make([]byte, mockSampleRate*2*ms/1000)
	wav, err := audio.EncodeWAVPCM16LE(pcm, mockSampleRate)
	if err != nil {
		return Audio{}, &ProviderError{Provider: p.name, Code: "encode_failed", Detail: err.Error(), Cause: err}
	}
	return Audio{Data: wav, Format: MockAudioFormat}, nil
}
