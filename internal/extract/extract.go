// Package extract asks a language model who holds a position and
// normalizes its JSON answer.
package extract

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/lookup-bot/internal/model"
	"github.com/sells-group/lookup-bot/internal/resilience"
	"github.com/sells-group/lookup-bot/internal/tokens"
)

// SystemPrompt instructs the model to answer with JSON only.
const SystemPrompt = "Ты помощник-экстрактор данных. Возвращай только валидный JSON без комментариев."

const promptTemplate = `Извлеки из текста наиболее актуальную информацию, кто сейчас %QUERY%.
Верни JSON-объект строго такого вида:
{
  "type": "exact" | "alternative" | "none",
  "candidates": [{"full_name": string, "position": string, "email": string | null}]
}
Правила:
- "exact" для точного совпадения; "alternative" если точного нет, но есть близкие должности; "none" если данных нет.
- "candidates" может содержать несколько объектов. Email указывай если есть, иначе null.
- Не добавляй пояснений, текста вне JSON и не нарушай структуру.
Текст:

`

// Prompt returns the instruction prefix for query. The corpus is appended
// after it.
func Prompt(query string) string {
	return strings.Replace(promptTemplate, "%QUERY%", strings.TrimSpace(query), 1)
}

// Completer sends one system+user exchange to a language model and returns
// the raw reply text. Errors are classified with resilience kinds.
type Completer interface {
	Complete(ctx context.Context, system, user string) (string, error)
}

// Extractor turns a corpus into a structured answer.
type Extractor struct {
	llm     Completer
	budget  *tokens.Budgeter
	breaker *resilience.CircuitBreaker
}

// Option configures an Extractor.
type Option func(*Extractor)

// WithBreaker guards model calls with cb.
func WithBreaker(cb *resilience.CircuitBreaker) Option {
	return func(e *Extractor) {
		e.breaker = cb
	}
}

// New creates an Extractor. A nil llm means no model is configured and
// every call reports KindConfig. A nil budget sends the corpus untrimmed.
func New(llm Completer, budget *tokens.Budgeter, opts ...Option) *Extractor {
	e := &Extractor{llm: llm, budget: budget}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Extract asks the model who matches query according to corpus. It never
// returns an error: failures come back as a failed Result.
func (e *Extractor) Extract(ctx context.Context, query, corpus string) resilience.Result[model.Extraction] {
	const op = "extract"
	corpus = strings.TrimSpace(corpus)
	if corpus == "" {
		return resilience.Empty[model.Extraction]()
	}
	if e.llm == nil {
		zap.L().Warn("extract: no language model configured")
		return resilience.Failed[model.Extraction](resilience.Errorf(resilience.KindConfig, op, "llm not configured"))
	}

	prefix := Prompt(query)
	body := corpus
	if e.budget != nil {
		var st tokens.Stats
		body, st = e.budget.Trim(prefix, corpus)
		zap.L().Debug("extract: token budget",
			zap.Int("prefix_tokens", st.PrefixTokens),
			zap.Int("body_tokens", st.BodyTokens),
			zap.Int("budget", st.Budget),
			zap.Int("kept", st.Kept),
			zap.Int("total_after", st.TotalAfter),
		)
	}

	started := time.Now()
	var raw string
	call := func(ctx context.Context) error {
		var err error
		raw, err = e.llm.Complete(ctx, SystemPrompt, prefix+body)
		return err
	}
	var err error
	if e.breaker != nil {
		err = e.breaker.Execute(ctx, call)
	} else {
		err = call(ctx)
	}
	if err != nil {
		zap.L().Warn("extract: model call failed", zap.Error(err), zap.Duration("elapsed", time.Since(started)))
		return resilience.Failed[model.Extraction](err)
	}

	ex, err := Normalize(raw)
	if err != nil {
		zap.L().Warn("extract: model returned non-JSON", zap.Error(err))
		return resilience.Failed[model.Extraction](resilience.Wrap(resilience.KindMalformed, op, err))
	}

	zap.L().Info("extract done",
		zap.String("type", string(ex.Kind)),
		zap.Int("candidates", len(ex.Candidates)),
		zap.Duration("elapsed", time.Since(started)),
	)
	if ex.Empty() {
		return resilience.Empty[model.Extraction]()
	}
	return resilience.OK(ex)
}

type rawExtraction struct {
	Type       any             `json:"type"`
	Candidates json.RawMessage `json:"candidates"`
}

// Normalize parses a model reply. Unknown types become none, candidates
// without a name or position are dropped, blank emails are cleared. Text
// around the outermost JSON object (such as code fences) is ignored.
func Normalize(reply string) (model.Extraction, error) {
	start := strings.Index(reply, "{")
	end := strings.LastIndex(reply, "}")
	if start < 0 || end < start {
		return model.Extraction{}, eris.New("extract: no json object in reply")
	}

	var raw rawExtraction
	if err := json.Unmarshal([]byte(reply[start:end+1]), &raw); err != nil {
		return model.Extraction{}, eris.Wrap(err, "extract: unmarshal reply")
	}

	ex := model.Extraction{Kind: model.ExtractionNone}
	if s, ok := raw.Type.(string); ok && model.ExtractionKind(s).Valid() {
		ex.Kind = model.ExtractionKind(s)
	}

	var items []any
	if len(raw.Candidates) > 0 {
		// Anything other than an array means no candidates.
		_ = json.Unmarshal(raw.Candidates, &items)
	}
	for _, item := range items {
		obj, ok := item.(map[string]any)
		if !ok {
			continue
		}
		c := model.Candidate{
			FullName: stringField(obj, "full_name"),
			Position: stringField(obj, "position"),
			Email:    stringField(obj, "email"),
		}
		if c.FullName == "" || c.Position == "" {
			continue
		}
		ex.Candidates = append(ex.Candidates, c)
	}

	if ex.Kind == model.ExtractionNone {
		ex.Candidates = nil
	}
	return ex, nil
}

func stringField(obj map[string]any, key string) string {
	s, _ := obj[key].(string)
	return strings.TrimSpace(s)
}

// Format renders an extraction for the user. None, unknown kinds and
// extractions without candidates render as "".
func Format(ex model.Extraction) string {
	if ex.Empty() || !ex.Kind.Valid() {
		return ""
	}
	if ex.Kind == model.ExtractionExact {
		return "Точное совпадение: " + formatCandidate(ex.Candidates[0])
	}
	return "Точное совпадение не найдено, альтернатива:\n" + formatLines(ex.Candidates)
}

func formatLines(cs []model.Candidate) string {
	lines := make([]string, len(cs))
	for i, c := range cs {
		lines[i] = formatCandidate(c)
	}
	return strings.Join(lines, "\n")
}

func formatCandidate(c model.Candidate) string {
	s := c.FullName + ", " + c.Position
	if c.Email != "" {
		s += ", " + c.Email
	}
	return s
}
