package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
)

const MockName = "mock"

// MockGenerator implements both generator interfaces for tests.
type MockGenerator struct {
	// StoryboardJSON is returned verbatim when set.
	StoryboardJSON json.RawMessage
	// ImageData is returned for every image request.
	ImageData []byte

	// FailStoryboard / FailImage force errors.
	FailStoryboard bool
	FailImage      bool
	// FailImageFirst fails the first N image requests, then succeeds.
	FailImageFirst int

	storyboardCalls atomic.Int64
	imageCalls      atomic.Int64

	mu              sync.Mutex
	lastImagePrompt string
}

// NewMockGenerator creates a mock with a minimal valid storyboard.
func NewMockGenerator() *MockGenerator {
	return &MockGenerator{
		StoryboardJSON: json.RawMessage(`{
			"title": "Mock Storyboard",
			"characters": [{"name": "Aria", "role": "protagonist"}],
			"scenes": [{"id": "tavern", "name": "The Tavern", "type": "interior"}],
			"panels": [{"sceneId": "tavern", "description": "Aria enters", "characters": ["Aria"]}]
		}`),
		ImageData: []byte("png-bytes"),
	}
}

func (m *MockGenerator) Name() string {
	return MockName
}

func (m *MockGenerator) GenerateStoryboard(ctx context.Context, req StoryboardRequest) (json.RawMessage, error) {
	m.storyboardCalls.Add(1)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if m.FailStoryboard {
		return nil, fmt.Errorf("mock storyboard failure")
	}
	return m.StoryboardJSON, nil
}

func (m *MockGenerator) GenerateImage(ctx context.Context, req ImageRequest) (*ImageResult, error) {
	call := m.imageCalls.Add(1)
	m.mu.Lock()
	m.lastImagePrompt = req.Prompt
	m.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if m.FailImage || call <= int64(m.FailImageFirst) {
		return nil, fmt.Errorf("mock image failure")
	}
	return &ImageResult{Data: m.ImageData, MIME: "image/png"}, nil
}

// StoryboardCalls reports how many storyboard generations ran.
func (m *MockGenerator) StoryboardCalls() int {
	return int(m.storyboardCalls.Load())
}

// ImageCalls reports how many image generations ran.
func (m *MockGenerator) ImageCalls() int {
	return int(m.imageCalls.Load())
}

// LastImagePrompt returns the prompt of the most recent image request.
func (m *MockGenerator) LastImagePrompt() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastImagePrompt
}

var (
	_ StoryboardGenerator = (*MockGenerator)(nil)
	_ ImageGenerator      = (*MockGenerator)(nil)
)
