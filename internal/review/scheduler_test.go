package review

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/everstacklabs/vigil/internal/gateway"
)

type fakeChatter struct {
	connected bool
	response  string
	calls     atomic.Int64
}

func (f *fakeChatter) Chat(_ context.Context, _ gateway.ChatRequest) string {
	f.calls.Add(1)
	return f.response
}

func (f *fakeChatter) Connected() bool { return f.connected }

type fakeDiffs struct {
	unstaged string
	staged   string
}

func (f *fakeDiffs) UnstagedDiff() string { return f.unstaged }
func (f *fakeDiffs) StagedDiff() string   { return f.staged }

func newArmedScheduler(gw Chatter, diffs DiffSource) *Scheduler {
	s := NewScheduler(gw, diffs)
	s.SetEnabled(true)
	s.SetModel("qwen-7b")
	return s
}

func TestRunShadowReview_HappyPath(t *testing.T) {
	gw := &fakeChatter{connected: true, response: "[OK] LGTM"}
	s := newArmedScheduler(gw, &fakeDiffs{unstaged: "diff --git a/x b/x\n+1"})

	result, ok := s.RunShadowReview(context.Background())
	if !ok {
		t.Fatal("expected a review to run")
	}
	if result.Severity != SeveritySafe {
		t.Errorf("severity = %q, want safe", result.Severity)
	}
	if result.Message != "[OK] LGTM" {
		t.Errorf("message = %q", result.Message)
	}
}

func TestRunShadowReview_Gates(t *testing.T) {
	diff := &fakeDiffs{unstaged: "diff --git a/x b/x\n+1"}

	tests := []struct {
		name  string
		setup func() *Scheduler
	}{
		{
			"disabled",
			func() *Scheduler {
				s := newArmedScheduler(&fakeChatter{connected: true, response: "[OK]"}, diff)
				s.SetEnabled(false)
				return s
			},
		},
		{
			"no model selected",
			func() *Scheduler {
				s := newArmedScheduler(&fakeChatter{connected: true, response: "[OK]"}, diff)
				s.SetModel("")
				return s
			},
		},
		{
			"disconnected",
			func() *Scheduler {
				return newArmedScheduler(&fakeChatter{connected: false, response: "[OK]"}, diff)
			},
		},
		{
			"nothing to review",
			func() *Scheduler {
				return newArmedScheduler(&fakeChatter{connected: true, response: "[OK]"},
					&fakeDiffs{unstaged: "(no unstaged changes)", staged: "(nothing staged)"})
			},
		},
		{
			"diff source error",
			func() *Scheduler {
				return newArmedScheduler(&fakeChatter{connected: true, response: "[OK]"},
					&fakeDiffs{unstaged: "Error: not a git repository", staged: ""})
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, ok := tt.setup().RunShadowReview(context.Background()); ok {
				t.Error("expected no-op")
			}
		})
	}
}

func TestRunShadowReview_StagedFallback(t *testing.T) {
	gw := &fakeChatter{connected: true, response: "[OK]"}
	s := newArmedScheduler(gw, &fakeDiffs{
		unstaged: "(no unstaged changes)",
		staged:   "diff --git a/x b/x\n+staged",
	})

	if _, ok := s.RunShadowReview(context.Background()); !ok {
		t.Fatal("expected fallback to the staged diff")
	}
	if gw.calls.Load() != 1 {
		t.Errorf("chat calls = %d, want 1", gw.calls.Load())
	}
}

func TestRunShadowReview_DedupUnchangedDiff(t *testing.T) {
	gw := &fakeChatter{connected: true, response: "[OK]"}
	diffs := &fakeDiffs{unstaged: "diff --git a/x b/x\n+1"}
	s := newArmedScheduler(gw, diffs)

	if _, ok := s.RunShadowReview(context.Background()); !ok {
		t.Fatal("first review should run")
	}
	if _, ok := s.RunShadowReview(context.Background()); ok {
		t.Error("unchanged diff must not be re-reviewed")
	}
	if gw.calls.Load() != 1 {
		t.Errorf("chat calls = %d, want exactly 1", gw.calls.Load())
	}

	diffs.unstaged = "diff --git a/x b/x\n+2"
	if _, ok := s.RunShadowReview(context.Background()); !ok {
		t.Error("a new diff should run again")
	}
	if gw.calls.Load() != 2 {
		t.Errorf("chat calls = %d, want 2", gw.calls.Load())
	}
}

func TestRunShadowReview_ErrorResponseKeepsEnabled(t *testing.T) {
	gw := &fakeChatter{connected: true, response: "Error: 503 Service Unavailable"}
	s := newArmedScheduler(gw, &fakeDiffs{unstaged: "diff --git a/x b/x\n+1"})

	result, ok := s.RunShadowReview(context.Background())
	if !ok {
		t.Fatal("expected a review to run")
	}
	if result.Severity != SeverityError {
		t.Errorf("severity = %q, want error", result.Severity)
	}
	if !s.Enabled() {
		t.Error("a failed review must not disarm the scheduler")
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		response string
		want     Severity
	}{
		{"[CRITICAL] hardcoded AWS key on line 3", SeverityCritical},
		{"[critical] lower case tag", SeverityCritical},
		{"[WARNING] leftover fmt.Println", SeverityWarning},
		{"[Warning] mixed case", SeverityWarning},
		{"LGTM", SeveritySafe},
		{"[OK] clean change", SeveritySafe},
		{"Error: Can't connect to LM Studio. Is it running?", SeverityError},
		{"prose mentioning [WARNING] midway", SeverityWarning},
	}

	for _, tt := range tests {
		t.Run(tt.response, func(t *testing.T) {
			if got := Classify(tt.response); got != tt.want {
				t.Errorf("Classify(%q) = %q, want %q", tt.response, got, tt.want)
			}
		})
	}
}
