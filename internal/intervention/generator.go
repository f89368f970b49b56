package intervention

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"pillars-watch/internal/database"
	"pillars-watch/internal/logger"
	"pillars-watch/internal/utils"
)

// MaxMessageRunes - ограничение Telegram на длину сообщения
const MaxMessageRunes = 4096

var ErrMalformedOutput = errors.New("некорректный ответ генерации")

// TextGenerator - внешний сервис генерации текста. Считается ненадёжным.
type TextGenerator interface {
	Generate(ctx context.Context, prompt string, maxOutput int) (string, error)
}

// Draft - текст интервенции до отправки
type Draft struct {
	Pattern database.Pattern
	Meta    database.UserMeta
	Text    string
	Method  database.GenerationMethod
}

type Generator struct {
	llm       TextGenerator
	timeout   time.Duration
	maxOutput int
	log       *logger.Logger
}

// NewGenerator создаёт генератор; llm может быть nil - тогда используются только шаблоны
func NewGenerator(llm TextGenerator, timeout time.Duration, maxOutput int, log *logger.Logger) *Generator {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	if maxOutput <= 0 {
		maxOutput = 400
	}
	return &Generator{
		llm:       llm,
		timeout:   timeout,
		maxOutput: maxOutput,
		log:       log,
	}
}

// Generate никогда не возвращает ошибку: любой сбой генерации заменяется шаблоном типа паттерна
func (g *Generator) Generate(ctx context.Context, p database.Pattern, meta database.UserMeta) Draft {
	draft := Draft{Pattern: p, Meta: meta}

	switch {
	case p.Type == database.PatternAbsence:
		draft.Text = AbsenceMessage(p, meta)
		draft.Method = database.MethodTemplate
		return draft
	case IsTemplateOnly(p.Type):
		draft.Text = IncidentMessage(p, meta)
		draft.Method = database.MethodTemplate
		return draft
	case g.llm == nil:
		draft.Text = FallbackMessage(p, meta)
		draft.Method = database.MethodTemplate
		return draft
	}

	text, err := g.generate(ctx, p, meta)
	if err != nil {
		g.log.Warn("⚠️ Генерация не удалась, используется шаблон",
			"user_id", meta.UserID, "pattern", p.Type, "severity", p.Severity, "err", err)
		draft.Text = FallbackMessage(p, meta)
		draft.Method = database.MethodGeneratedWithFallback
		return draft
	}

	draft.Text = text
	draft.Method = database.MethodGenerated
	return draft
}

func (g *Generator) generate(ctx context.Context, p database.Pattern, meta database.UserMeta) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	type result struct {
		text string
		err  error
	}
	// Сервис может не уважать контекст; воркер не должен ждать дольше таймаута
	done := make(chan result, 1)
	go func() {
		text, err := g.llm.Generate(ctx, BuildPrompt(p, meta), g.maxOutput)
		done <- result{text, err}
	}()

	select {
	case <-ctx.Done():
		return "", fmt.Errorf("таймаут генерации: %w", ctx.Err())
	case r := <-done:
		if r.err != nil {
			return "", r.err
		}
		return sanitize(r.text)
	}
}

func sanitize(text string) (string, error) {
	text = strings.TrimSpace(text)
	text = strings.Trim(text, "\"«»")
	text = strings.TrimSpace(text)
	if text == "" {
		return "", fmt.Errorf("%w: пустой текст", ErrMalformedOutput)
	}
	if utf8.RuneCountInString(text) > MaxMessageRunes {
		return "", fmt.Errorf("%w: %d символов", ErrMalformedOutput, utf8.RuneCountInString(text))
	}
	if strings.Contains(text, "{{") || strings.Contains(text, "<nil>") {
		return "", fmt.Errorf("%w: незаполненные поля", ErrMalformedOutput)
	}
	return text, nil
}

const maxEvidenceRunes = 600

// BuildPrompt собирает ограниченный по размеру промпт из типа паттерна, фактов и контекста пользователя
func BuildPrompt(p database.Pattern, meta database.UserMeta) string {
	evidence := p.Evidence.Summary
	if utf8.RuneCountInString(evidence) > maxEvidenceRunes {
		evidence = string([]rune(evidence)[:maxEvidenceRunes]) + "…"
	}

	var b strings.Builder
	b.WriteString("Ты - поддерживающий, но прямой коуч по привычкам. Пиши по-русски, на «ты», без приветствий и markdown.\n")
	b.WriteString("Одно короткое сообщение в Telegram: 2-4 предложения, максимум 600 символов.\n")
	b.WriteString("Опирайся на конкретные цифры ниже, не хвали абстрактно. Закончи одним конкретным действием на сегодня.\n\n")
	b.WriteString(fmt.Sprintf("Паттерн: %s (%s)\n", utils.GetPatternName(string(p.Type)), p.Type))
	b.WriteString(fmt.Sprintf("Серьёзность: %s\n", p.Severity))
	b.WriteString(fmt.Sprintf("Факты: %s\n", evidence))
	if len(p.Evidence.Dates) > 0 {
		b.WriteString(fmt.Sprintf("Даты: %s\n", strings.Join(lastN(p.Evidence.Dates, 7), ", ")))
	}
	b.WriteString(fmt.Sprintf("Имя: %s\n", displayName(meta.Name)))
	b.WriteString(fmt.Sprintf("Серия отметок: %d дн., рекорд: %d дн.\n", meta.StreakDays, meta.BestStreak))
	return b.String()
}

func lastN(items []string, n int) []string {
	if len(items) <= n {
		return items
	}
	return items[len(items)-n:]
}
