package pipeline

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/sells-group/lookup-bot/internal/model"
	"github.com/sells-group/lookup-bot/internal/resilience"
)

// --- Search Mock ---

type mockSearchClient struct {
	mock.Mock
}

func (m *mockSearchClient) Search(ctx context.Context, query string) resilience.Result[[]string] {
	args := m.Called(ctx, query)
	return args.Get(0).(resilience.Result[[]string])
}

func (m *mockSearchClient) Ask(ctx context.Context, query string) resilience.Result[string] {
	args := m.Called(ctx, query)
	return args.Get(0).(resilience.Result[string])
}

// --- Extractor Mock ---

type mockExtractor struct {
	mock.Mock
}

func (m *mockExtractor) Extract(ctx context.Context, query, corpus string) resilience.Result[model.Extraction] {
	args := m.Called(ctx, query, corpus)
	return args.Get(0).(resilience.Result[model.Extraction])
}
