package main

import (
	"context"
	"sync"

	"github.com/stretchr/testify/mock"

	"github.com/sells-group/lookup-bot/internal/model"
	"github.com/sells-group/lookup-bot/internal/pipeline"
	"github.com/sells-group/lookup-bot/pkg/telegram"
)

// --- Telegram Mock ---

type mockBot struct {
	mock.Mock
}

func (m *mockBot) SendMessage(ctx context.Context, chatID int64, text string) (int64, error) {
	args := m.Called(ctx, chatID, text)
	return args.Get(0).(int64), args.Error(1)
}

func (m *mockBot) EditMessageText(ctx context.Context, chatID, messageID int64, text string) error {
	return m.Called(ctx, chatID, messageID, text).Error(0)
}

func (m *mockBot) DeleteMessage(ctx context.Context, chatID, messageID int64) error {
	return m.Called(ctx, chatID, messageID).Error(0)
}

func (m *mockBot) SendChatAction(ctx context.Context, chatID int64, action string) error {
	return m.Called(ctx, chatID, action).Error(0)
}

func (m *mockBot) SetWebhook(ctx context.Context, cfg telegram.WebhookConfig) error {
	return m.Called(ctx, cfg).Error(0)
}

func (m *mockBot) SetMyCommands(ctx context.Context, cmds []telegram.BotCommand) error {
	return m.Called(ctx, cmds).Error(0)
}

// --- Runner Mock ---

type mockRunner struct {
	mock.Mock
}

func (m *mockRunner) Run(ctx context.Context, query string, onProgress pipeline.ProgressFunc) (*pipeline.Result, error) {
	args := m.Called(ctx, query, onProgress)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*pipeline.Result), args.Error(1)
}

// --- Dispatcher ---

type recordingDispatcher struct {
	mu      sync.Mutex
	updates []telegram.Update
}

func (d *recordingDispatcher) Dispatch(_ context.Context, u telegram.Update) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.updates = append(d.updates, u)
}

// --- Recorder ---

type memoryRecorder struct {
	mu     sync.Mutex
	events []model.StatEvent
}

func (r *memoryRecorder) Record(ev model.StatEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}
