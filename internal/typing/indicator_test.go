package typing

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestNewIndicator_Defaults(t *testing.T) {
	ind := NewIndicator(Config{})

	if ind.config.TTL != DefaultTTL {
		t.Errorf("TTL = %v, want %v", ind.config.TTL, DefaultTTL)
	}
	if ind.config.SilentToken != DefaultSilentToken {
		t.Errorf("SilentToken = %q, want %q", ind.config.SilentToken, DefaultSilentToken)
	}
}

func TestIndicator_OnReplyStart(t *testing.T) {
	var shows int32

	ind := NewIndicator(Config{
		Show: func() { atomic.AddInt32(&shows, 1) },
		TTL:  time.Second,
	})
	defer ind.Cleanup()

	ind.OnReplyStart()

	if !ind.IsVisible() {
		t.Error("expected indicator to be visible")
	}
	if got := atomic.LoadInt32(&shows); got != 1 {
		t.Errorf("expected 1 show call, got %d", got)
	}

	// Calling again is a no-op while already visible
	ind.OnReplyStart()
	if got := atomic.LoadInt32(&shows); got != 1 {
		t.Errorf("expected 1 show call after second start, got %d", got)
	}
}

func TestIndicator_HideOnCleanup(t *testing.T) {
	var hides int32

	ind := NewIndicator(Config{
		Show: func() {},
		Hide: func() { atomic.AddInt32(&hides, 1) },
		TTL:  time.Second,
	})

	ind.OnReplyStart()
	ind.Cleanup()

	if got := atomic.LoadInt32(&hides); got != 1 {
		t.Errorf("expected 1 hide call, got %d", got)
	}
	if !ind.IsSealed() {
		t.Error("expected sealed after cleanup")
	}

	// Second cleanup does not hide again
	ind.Cleanup()
	if got := atomic.LoadInt32(&hides); got != 1 {
		t.Errorf("expected 1 hide call after double cleanup, got %d", got)
	}
}

func TestIndicator_NeverShownNoHide(t *testing.T) {
	var hides int32

	ind := NewIndicator(Config{
		Hide: func() { atomic.AddInt32(&hides, 1) },
		TTL:  time.Second,
	})

	ind.Cleanup()

	if got := atomic.LoadInt32(&hides); got != 0 {
		t.Errorf("expected no hide call when never shown, got %d", got)
	}
}

func TestIndicator_StopsWhenRunCompleteAndIdle(t *testing.T) {
	var hides int32

	ind := NewIndicator(Config{
		Show: func() {},
		Hide: func() { atomic.AddInt32(&hides, 1) },
		TTL:  time.Second,
	})

	ind.OnReplyStart()

	// One signal alone keeps the indicator up
	ind.MarkRunComplete()
	if ind.IsSealed() {
		t.Fatal("sealed after run complete alone")
	}
	if got := atomic.LoadInt32(&hides); got != 0 {
		t.Errorf("expected no hide yet, got %d", got)
	}

	ind.MarkDeliveryIdle()
	if !ind.IsSealed() {
		t.Error("expected sealed after run complete and delivery idle")
	}
	if got := atomic.LoadInt32(&hides); got != 1 {
		t.Errorf("expected 1 hide call, got %d", got)
	}
}

func TestIndicator_IdleBeforeComplete(t *testing.T) {
	ind := NewIndicator(Config{Show: func() {}, TTL: time.Second})
	defer ind.Cleanup()

	ind.OnReplyStart()
	ind.MarkDeliveryIdle()

	if ind.IsSealed() {
		t.Error("sealed after delivery idle alone")
	}

	ind.MarkRunComplete()
	if !ind.IsSealed() {
		t.Error("expected sealed once both signals arrived")
	}
}

func TestIndicator_LateStartAfterRunComplete(t *testing.T) {
	var shows int32

	ind := NewIndicator(Config{
		Show: func() { atomic.AddInt32(&shows, 1) },
		TTL:  time.Second,
	})
	defer ind.Cleanup()

	ind.MarkRunComplete()
	ind.OnReplyStart()

	if ind.IsVisible() {
		t.Error("late start after run complete should not show indicator")
	}
	if got := atomic.LoadInt32(&shows); got != 0 {
		t.Errorf("expected no show calls, got %d", got)
	}
}

func TestIndicator_SealedIgnoresCalls(t *testing.T) {
	var shows int32

	ind := NewIndicator(Config{
		Show: func() { atomic.AddInt32(&shows, 1) },
		TTL:  time.Second,
	})

	ind.Cleanup()

	ind.OnReplyStart()
	ind.OnText("hello there")
	ind.OnActivity()

	if ind.IsVisible() {
		t.Error("sealed indicator became visible")
	}
	if got := atomic.LoadInt32(&shows); got != 0 {
		t.Errorf("expected no show calls on sealed indicator, got %d", got)
	}
}

func TestIndicator_OnText(t *testing.T) {
	tests := []struct {
		name string
		text string
		want bool
	}{
		{"normal text", "Working on it", true},
		{"empty", "", false},
		{"whitespace only", "   \n", false},
		{"silent token alone", "NO_REPLY", false},
		{"silent token prefix", "NO_REPLY: nothing to do", false},
		{"silent token suffix", "done here NO_REPLY", false},
		{"token embedded in word", "NO_REPLYING is not the token", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ind := NewIndicator(Config{Show: func() {}, TTL: time.Second})
			defer ind.Cleanup()

			ind.OnText(tt.text)

			if got := ind.IsVisible(); got != tt.want {
				t.Errorf("visible = %v, want %v for %q", got, tt.want, tt.text)
			}
		})
	}
}

func TestIndicator_TTLHides(t *testing.T) {
	var hides int32

	ind := NewIndicator(Config{
		Show: func() {},
		Hide: func() { atomic.AddInt32(&hides, 1) },
		TTL:  30 * time.Millisecond,
	})

	ind.OnReplyStart()

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if ind.IsSealed() {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	if !ind.IsSealed() {
		t.Fatal("expected TTL to seal the indicator")
	}
	if got := atomic.LoadInt32(&hides); got != 1 {
		t.Errorf("expected 1 hide call from TTL, got %d", got)
	}
}

func TestIndicator_ActivityExtendsTTL(t *testing.T) {
	ind := NewIndicator(Config{
		Show: func() {},
		TTL:  60 * time.Millisecond,
	})
	defer ind.Cleanup()

	ind.OnReplyStart()

	// Keep refreshing past the original TTL window
	for range 5 {
		time.Sleep(25 * time.Millisecond)
		ind.OnActivity()
	}

	if ind.IsSealed() {
		t.Error("indicator sealed despite continuous activity")
	}
}

func TestIsSilentReplyText(t *testing.T) {
	tests := []struct {
		name  string
		text  string
		token string
		want  bool
	}{
		{"exact token", "NO_REPLY", "NO_REPLY", true},
		{"prefix with punctuation", "NO_REPLY.", "NO_REPLY", true},
		{"suffix", "nothing needed NO_REPLY", "NO_REPLY", true},
		{"leading whitespace", "  NO_REPLY", "NO_REPLY", true},
		{"mid-text only", "the NO_REPLY token is special here", "NO_REPLY", false},
		{"different text", "hello", "NO_REPLY", false},
		{"empty token", "NO_REPLY", "", false},
		{"empty text", "", "NO_REPLY", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isSilentReplyText(tt.text, tt.token); got != tt.want {
				t.Errorf("isSilentReplyText(%q, %q) = %v, want %v", tt.text, tt.token, got, tt.want)
			}
		})
	}
}
