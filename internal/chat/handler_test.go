package chat

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/lookup-bot/internal/model"
	"github.com/sells-group/lookup-bot/internal/pipeline"
	"github.com/sells-group/lookup-bot/internal/resilience"
	"github.com/sells-group/lookup-bot/pkg/telegram"
)

const chatID = int64(42)

func textUpdate(text string) telegram.Update {
	return telegram.Update{Message: &telegram.Message{MessageID: 1, Chat: telegram.Chat{ID: chatID}, Text: text}}
}

func answered(answer string) *pipeline.Result {
	return &pipeline.Result{RunID: "run-1", Corpus: "Jane Doe runs Acme", Answer: answer}
}

// callProgress makes the runner mock invoke the progress callback.
func callProgress(args mock.Arguments) {
	fn := args.Get(2).(pipeline.ProgressFunc)
	_ = fn(args.Get(0).(context.Context))
}

func TestHandleUpdate_FirstSession(t *testing.T) {
	bot := new(mockBot)
	bot.On("SendMessage", mock.Anything, chatID, GreetingText).Return(int64(5), nil)
	bot.On("SendChatAction", mock.Anything, chatID, telegram.ActionTyping).Return(nil)
	bot.On("SendMessage", mock.Anything, chatID, StatusSearching).Return(int64(10), nil)
	bot.On("EditMessageText", mock.Anything, chatID, int64(10), StatusThinking).Return(nil)
	bot.On("SendMessage", mock.Anything, chatID, "Точное совпадение: Jane Doe, CEO").Return(int64(11), nil)
	bot.On("DeleteMessage", mock.Anything, chatID, int64(10)).Return(nil)

	runner := new(mockRunner)
	runner.On("Run", mock.Anything, "CEO Acme", mock.Anything).
		Run(callProgress).
		Return(answered("Точное совпадение: Jane Doe, CEO"), nil)

	greeter := new(mockGreeter)
	greeter.On("Add", chatID).Return(true, nil)

	rec := &memoryRecorder{}
	h := NewHandler(bot, runner, greeter, rec, Options{})
	h.HandleUpdate(context.Background(), textUpdate("  CEO Acme "))

	assert.Equal(t, []string{
		"SendMessage", "SendChatAction", "SendMessage", "EditMessageText", "SendMessage", "DeleteMessage",
	}, bot.methods())
	bot.AssertExpectations(t)
	runner.AssertExpectations(t)

	events := rec.all()
	require.Len(t, events, 1)
	assert.Equal(t, model.StatSourceTelegram, events[0].Source)
	assert.Equal(t, chatID, events[0].ChatID)
	assert.Equal(t, "run-1", events[0].RunID)
	assert.Equal(t, 8, events[0].QueryLen)
	assert.True(t, events[0].OK)
	assert.Equal(t, len([]rune("Jane Doe runs Acme")), events[0].CorpusLen)
	assert.Equal(t, len([]rune("Точное совпадение: Jane Doe, CEO")), events[0].OutputLen)
}

func TestHandleUpdate_AlreadyGreeted(t *testing.T) {
	bot := new(mockBot)
	bot.On("SendChatAction", mock.Anything, mock.Anything, mock.Anything).Return(nil)
	bot.On("SendMessage", mock.Anything, chatID, StatusSearching).Return(int64(10), nil)
	bot.On("SendMessage", mock.Anything, chatID, "answer").Return(int64(11), nil)
	bot.On("DeleteMessage", mock.Anything, chatID, int64(10)).Return(nil)

	runner := new(mockRunner)
	runner.On("Run", mock.Anything, mock.Anything, mock.Anything).Return(answered("answer"), nil)
	greeter := new(mockGreeter)
	greeter.On("Add", chatID).Return(false, nil)

	NewHandler(bot, runner, greeter, nil, Options{}).HandleUpdate(context.Background(), textUpdate("CEO Acme"))

	bot.AssertNotCalled(t, "SendMessage", mock.Anything, chatID, GreetingText)
	bot.AssertExpectations(t)
}

func TestHandleUpdate_GreetPersistFailureStillGreets(t *testing.T) {
	bot := new(mockBot)
	bot.On("SendMessage", mock.Anything, mock.Anything, mock.Anything).Return(int64(1), nil)
	bot.On("SendChatAction", mock.Anything, mock.Anything, mock.Anything).Return(nil)
	bot.On("DeleteMessage", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	runner := new(mockRunner)
	runner.On("Run", mock.Anything, mock.Anything, mock.Anything).Return(answered("answer"), nil)
	greeter := new(mockGreeter)
	greeter.On("Add", chatID).Return(true, resilience.Errorf(resilience.KindPersistence, "store: save greeted", "disk full"))

	NewHandler(bot, runner, greeter, nil, Options{}).HandleUpdate(context.Background(), textUpdate("CEO Acme"))

	bot.AssertCalled(t, "SendMessage", mock.Anything, chatID, GreetingText)
	bot.AssertCalled(t, "SendMessage", mock.Anything, chatID, "answer")
}

func TestHandleUpdate_FailuresSendSentinel(t *testing.T) {
	tests := []struct {
		name  string
		setup func(r *mockRunner)
	}{
		{"error", func(r *mockRunner) {
			r.On("Run", mock.Anything, mock.Anything, mock.Anything).
				Return(nil, resilience.Errorf(resilience.KindConfig, "pipeline: run", "no search service configured"))
		}},
		{"panic", func(r *mockRunner) {
			r.On("Run", mock.Anything, mock.Anything, mock.Anything).Panic("boom")
		}},
		{"empty result", func(r *mockRunner) {
			r.On("Run", mock.Anything, mock.Anything, mock.Anything).Return(&pipeline.Result{}, nil)
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bot := new(mockBot)
			bot.On("SendChatAction", mock.Anything, mock.Anything, mock.Anything).Return(nil)
			bot.On("SendMessage", mock.Anything, chatID, StatusSearching).Return(int64(10), nil)
			bot.On("SendMessage", mock.Anything, chatID, pipeline.NoAnswer).Return(int64(11), nil)
			bot.On("DeleteMessage", mock.Anything, chatID, int64(10)).Return(nil)

			runner := new(mockRunner)
			tt.setup(runner)
			greeter := new(mockGreeter)
			greeter.On("Add", chatID).Return(false, nil)
			rec := &memoryRecorder{}

			NewHandler(bot, runner, greeter, rec, Options{}).HandleUpdate(context.Background(), textUpdate("CEO Acme"))

			bot.AssertExpectations(t)
			require.Len(t, rec.all(), 1)
			assert.False(t, rec.all()[0].OK)
		})
	}
}

func TestHandleUpdate_StatusSendFails(t *testing.T) {
	bot := new(mockBot)
	bot.On("SendChatAction", mock.Anything, mock.Anything, mock.Anything).Return(errors.New("network"))
	bot.On("SendMessage", mock.Anything, chatID, StatusSearching).Return(int64(0), errors.New("network"))
	bot.On("SendMessage", mock.Anything, chatID, "answer").Return(int64(11), nil)

	runner := new(mockRunner)
	runner.On("Run", mock.Anything, mock.Anything, mock.Anything).Run(callProgress).Return(answered("answer"), nil)
	greeter := new(mockGreeter)
	greeter.On("Add", chatID).Return(false, nil)

	NewHandler(bot, runner, greeter, nil, Options{}).HandleUpdate(context.Background(), textUpdate("CEO Acme"))

	bot.AssertNotCalled(t, "EditMessageText", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	bot.AssertNotCalled(t, "DeleteMessage", mock.Anything, mock.Anything, mock.Anything)
	bot.AssertCalled(t, "SendMessage", mock.Anything, chatID, "answer")
}

func TestHandleUpdate_LongAnswerIsChunked(t *testing.T) {
	answer := strings.Repeat("я", 10000)

	var chunks []string
	bot := new(mockBot)
	bot.On("SendChatAction", mock.Anything, mock.Anything, mock.Anything).Return(nil)
	bot.On("SendMessage", mock.Anything, chatID, StatusSearching).Return(int64(10), nil)
	bot.On("SendMessage", mock.Anything, chatID, mock.MatchedBy(func(s string) bool { return strings.HasPrefix(s, "я") })).
		Run(func(args mock.Arguments) { chunks = append(chunks, args.String(2)) }).
		Return(int64(11), nil)
	bot.On("DeleteMessage", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	runner := new(mockRunner)
	runner.On("Run", mock.Anything, mock.Anything, mock.Anything).Return(answered(answer), nil)
	greeter := new(mockGreeter)
	greeter.On("Add", chatID).Return(false, nil)

	NewHandler(bot, runner, greeter, nil, Options{MaxMessageLen: 4096}).HandleUpdate(context.Background(), textUpdate("CEO Acme"))

	require.Len(t, chunks, 3)
	assert.Equal(t, answer, strings.Join(chunks, ""))
	for _, c := range chunks {
		assert.LessOrEqual(t, len([]rune(c)), 4096)
	}
}

func TestHandleUpdate_Commands(t *testing.T) {
	bot := new(mockBot)
	bot.On("SendMessage", mock.Anything, chatID, GreetingText).Return(int64(1), nil)
	bot.On("SendMessage", mock.Anything, chatID, HelpText).Return(int64(2), nil)
	runner := new(mockRunner)
	greeter := new(mockGreeter)
	greeter.On("Add", chatID).Return(true, nil)

	h := NewHandler(bot, runner, greeter, nil, Options{})
	h.HandleUpdate(context.Background(), textUpdate("/start"))
	h.HandleUpdate(context.Background(), textUpdate("/help@lookup_bot"))

	bot.AssertExpectations(t)
	greeter.AssertNumberOfCalls(t, "Add", 1)
	runner.AssertNotCalled(t, "Run", mock.Anything, mock.Anything, mock.Anything)
}

func TestHandleUpdate_Ignored(t *testing.T) {
	bot := new(mockBot)
	runner := new(mockRunner)
	greeter := new(mockGreeter)
	h := NewHandler(bot, runner, greeter, nil, Options{})

	h.HandleUpdate(context.Background(), telegram.Update{UpdateID: 1})
	h.HandleUpdate(context.Background(), textUpdate("   "))
	h.HandleUpdate(context.Background(), telegram.Update{Message: &telegram.Message{Text: "CEO Acme"}})

	assert.Empty(t, bot.Calls)
	assert.Empty(t, greeter.Calls)
}

func TestHandleUpdate_EditedMessage(t *testing.T) {
	bot := new(mockBot)
	bot.On("SendMessage", mock.Anything, chatID, HelpText).Return(int64(2), nil)

	h := NewHandler(bot, new(mockRunner), new(mockGreeter), nil, Options{})
	h.HandleUpdate(context.Background(), telegram.Update{EditedMessage: &telegram.Message{Chat: telegram.Chat{ID: chatID}, Text: "/help"}})

	bot.AssertExpectations(t)
}

func TestDispatch_BoundsConcurrency(t *testing.T) {
	bot := new(mockBot)
	bot.On("SendChatAction", mock.Anything, mock.Anything, mock.Anything).Return(nil)
	bot.On("SendMessage", mock.Anything, mock.Anything, mock.Anything).Return(int64(1), nil)
	bot.On("EditMessageText", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)
	bot.On("DeleteMessage", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	var active, peak atomic.Int32
	var mu sync.Mutex
	runner := new(mockRunner)
	runner.On("Run", mock.Anything, mock.Anything, mock.Anything).
		Run(func(mock.Arguments) {
			n := active.Add(1)
			mu.Lock()
			if n > peak.Load() {
				peak.Store(n)
			}
			mu.Unlock()
			time.Sleep(20 * time.Millisecond)
			active.Add(-1)
		}).
		Return(answered("answer"), nil)
	greeter := new(mockGreeter)
	greeter.On("Add", mock.Anything).Return(false, nil)
	rec := &memoryRecorder{}

	h := NewHandler(bot, runner, greeter, rec, Options{MaxConcurrent: 2})
	for range 6 {
		h.Dispatch(context.Background(), textUpdate("CEO Acme"))
	}
	h.Wait()

	assert.LessOrEqual(t, peak.Load(), int32(2))
	assert.Len(t, rec.all(), 6)
	runner.AssertNumberOfCalls(t, "Run", 6)
}
