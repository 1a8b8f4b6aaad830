// Package review runs unattended "shadow" code reviews: when the working
// tree changes, the current git diff is sent to the local model with a fixed
// reviewer persona and the response is classified by severity.
package review

import (
	"context"
	"hash/fnv"
	"strings"
	"sync"
	"time"

	"github.com/everstacklabs/vigil/internal/gateway"
)

// Prompt is the fixed reviewer persona for shadow reviews.
const Prompt = "Review this diff for problems. Flag hardcoded credentials, " +
	"injection risks, obvious bugs, and leftover debug statements. Be terse. " +
	"Start your response with one of [OK], [WARNING], or [CRITICAL]."

// Severity classifies a review outcome.
type Severity string

const (
	SeveritySafe     Severity = "safe"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
	SeverityError    Severity = "error"
)

// Result is a classified review.
type Result struct {
	Severity Severity `yaml:"severity"`
	Message  string   `yaml:"message"`
}

// Chatter is the slice of the gateway client the scheduler needs.
type Chatter interface {
	Chat(ctx context.Context, req gateway.ChatRequest) string
	Connected() bool
}

// DiffSource supplies review subjects. Implementations return diff text, a
// "(no …)" sentinel, or an "Error: …" string — never an error value.
type DiffSource interface {
	UnstagedDiff() string
	StagedDiff() string
}

// Scheduler gates automatic review invocations: enablement, a reentrancy
// guard, connectivity, subject presence, and content-hash dedup. It is
// constructed once and shared by reference; all state lives behind one lock.
type Scheduler struct {
	gw    Chatter
	diffs DiffSource

	mu        sync.Mutex
	enabled   bool
	reviewing bool
	model     string
	lastHash  uint64
	lastRun   time.Time
}

// NewScheduler creates a disabled scheduler; call SetEnabled to arm it.
func NewScheduler(gw Chatter, diffs DiffSource) *Scheduler {
	return &Scheduler{gw: gw, diffs: diffs}
}

// SetEnabled arms or disarms automatic reviews.
func (s *Scheduler) SetEnabled(enabled bool) {
	s.mu.Lock()
	s.enabled = enabled
	s.mu.Unlock()
}

// Enabled reports whether automatic reviews are armed.
func (s *Scheduler) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enabled
}

// SetModel selects the model used for automatic reviews.
func (s *Scheduler) SetModel(model string) {
	s.mu.Lock()
	s.model = model
	s.mu.Unlock()
}

// Model returns the selected model id, or "".
func (s *Scheduler) Model() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.model
}

// RunShadowReview performs one gated review attempt. It is safe to call on
// every poll tick: when any gate rejects, it returns ok=false with no side
// effects. A degraded chat ("Error: …" response) still classifies and
// leaves the enabled state untouched so the user can retry or disarm.
func (s *Scheduler) RunShadowReview(ctx context.Context) (Result, bool) {
	s.mu.Lock()
	if !s.enabled || s.reviewing || s.model == "" {
		s.mu.Unlock()
		return Result{}, false
	}
	model := s.model
	s.mu.Unlock()

	if !s.gw.Connected() {
		return Result{}, false
	}

	subject := Subject(s.diffs)
	if subject == "" {
		return Result{}, false
	}

	hash := hashSubject(subject)

	s.mu.Lock()
	if s.reviewing || hash == s.lastHash {
		s.mu.Unlock()
		return Result{}, false
	}
	s.reviewing = true
	s.lastHash = hash
	s.lastRun = time.Now()
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.reviewing = false
		s.mu.Unlock()
	}()

	response := s.gw.Chat(ctx, gateway.ChatRequest{
		Prompt:  Prompt,
		Context: subject,
		Model:   model,
	})
	return Result{Severity: Classify(response), Message: response}, true
}

// Subject picks the review subject: the unstaged diff, falling back to the
// staged diff. Sentinel and error strings from the diff source count as
// empty — there is nothing to review in them.
func Subject(diffs DiffSource) string {
	if subject := normalizeDiff(diffs.UnstagedDiff()); subject != "" {
		return subject
	}
	return normalizeDiff(diffs.StagedDiff())
}

func normalizeDiff(text string) string {
	text = strings.TrimSpace(text)
	switch {
	case text == "", text == "(no unstaged changes)", text == "(nothing staged)":
		return ""
	case strings.HasPrefix(text, "Error:"):
		return ""
	}
	return text
}

func hashSubject(subject string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(subject))
	return h.Sum64()
}

// Classify maps a raw chat response to a severity. Tag matching is
// case-insensitive; an error-prefixed response outranks any tag.
func Classify(response string) Severity {
	if strings.HasPrefix(response, "Error:") {
		return SeverityError
	}
	upper := strings.ToUpper(response)
	switch {
	case strings.Contains(upper, "[CRITICAL]"):
		return SeverityCritical
	case strings.Contains(upper, "[WARNING]"):
		return SeverityWarning
	}
	return SeveritySafe
}
