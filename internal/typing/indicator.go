// Package typing manages the working indicator shown while a reply is
// being produced. Slack gives bots no typing event, so the bridge toggles
// a reaction on the inbound message instead: shown when the reply starts,
// removed once the run completes and delivery drains.
package typing

import (
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"
)

// DefaultTTL stops the indicator after this much inactivity. A stream
// that stalls should not leave the reaction up forever.
const DefaultTTL = 2 * time.Minute

// DefaultSilentToken suppresses the indicator when the reply text is a
// silent no-op marker.
const DefaultSilentToken = "NO_REPLY"

// Config configures the indicator behavior.
type Config struct {
	// Show displays the indicator (adds the reaction).
	Show func()

	// Hide removes the indicator.
	Hide func()

	// TTL is the inactivity window after which the indicator is removed.
	// Zero selects DefaultTTL; negative disables the timer.
	TTL time.Duration

	// SilentToken, when present in reply text, suppresses the indicator.
	SilentToken string

	// Log is called for diagnostic messages.
	Log func(message string)
}

// Indicator tracks indicator state for one in-flight reply.
//
// The indicator coordinates several events:
//   - Reply start shows the indicator once
//   - Stream activity refreshes the TTL timer
//   - The TTL timer hides the indicator after extended inactivity
//   - Run completion plus delivery drain triggers cleanup
//
// A sealed indicator ignores all further calls. Sealing matters because
// stream callbacks can fire late, after cleanup already ran, and must
// not resurface the reaction.
type Indicator struct {
	mu sync.Mutex

	config Config

	visible      bool
	runComplete  bool
	deliveryIdle bool
	sealed       bool

	ttlTimer *time.Timer
}

// NewIndicator creates an indicator. Zero-value config fields get defaults.
func NewIndicator(config Config) *Indicator {
	if config.TTL == 0 {
		config.TTL = DefaultTTL
	}
	if config.SilentToken == "" {
		config.SilentToken = DefaultSilentToken
	}
	return &Indicator{config: config}
}

// OnReplyStart shows the indicator when a reply begins. Idempotent.
func (i *Indicator) OnReplyStart() {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.showLocked()
}

// OnActivity refreshes the TTL timer. Call on each stream fragment so the
// indicator survives long tool executions.
func (i *Indicator) OnActivity() {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.sealed || !i.visible {
		return
	}
	i.refreshTTLLocked()
}

// OnText shows the indicator for reply text unless the text is a silent
// marker.
func (i *Indicator) OnText(text string) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return
	}
	if isSilentReplyText(trimmed, i.config.SilentToken) {
		return
	}

	i.mu.Lock()
	defer i.mu.Unlock()
	i.showLocked()
	i.refreshTTLLocked()
}

// MarkRunComplete signals the model run has finished. The indicator is
// removed once delivery is also idle.
func (i *Indicator) MarkRunComplete() {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.runComplete = true
	i.maybeStopLocked()
}

// MarkDeliveryIdle signals all pending card patches have drained.
func (i *Indicator) MarkDeliveryIdle() {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.deliveryIdle = true
	i.maybeStopLocked()
}

// Cleanup hides the indicator and seals it. After cleanup the indicator
// cannot be reshown.
func (i *Indicator) Cleanup() {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.sealed {
		return
	}
	i.cleanupLocked()
}

// IsVisible reports whether the indicator is currently shown.
func (i *Indicator) IsVisible() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.visible && !i.sealed
}

// IsSealed reports whether the indicator has been cleaned up.
func (i *Indicator) IsSealed() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.sealed
}

func (i *Indicator) showLocked() {
	if i.sealed {
		return
	}
	// Late callbacks after the run completed must not resurface the indicator.
	if i.runComplete {
		return
	}
	if i.visible {
		return
	}
	i.visible = true
	if i.config.Show != nil {
		i.config.Show()
	}
	i.refreshTTLLocked()
}

func (i *Indicator) refreshTTLLocked() {
	if i.sealed || i.config.TTL < 0 {
		return
	}
	if i.ttlTimer != nil {
		i.ttlTimer.Stop()
	}
	i.ttlTimer = time.AfterFunc(i.config.TTL, func() {
		i.mu.Lock()
		if i.sealed || !i.visible {
			i.mu.Unlock()
			return
		}
		i.log(fmt.Sprintf("indicator TTL reached (%s); removing", i.config.TTL))
		i.cleanupLocked()
		i.mu.Unlock()
	})
}

func (i *Indicator) maybeStopLocked() {
	if !i.visible {
		return
	}
	// Stop only when the run is done and nothing is left to deliver.
	if i.runComplete && i.deliveryIdle {
		i.cleanupLocked()
	}
}

func (i *Indicator) cleanupLocked() {
	if i.ttlTimer != nil {
		i.ttlTimer.Stop()
		i.ttlTimer = nil
	}
	if i.visible && i.config.Hide != nil {
		i.config.Hide()
	}
	i.visible = false
	i.sealed = true
}

func (i *Indicator) log(message string) {
	if i.config.Log != nil {
		i.config.Log(message)
	}
}

// isSilentReplyText checks if text carries the silent token at its start
// or end.
func isSilentReplyText(text string, token string) bool {
	if text == "" || token == "" {
		return false
	}

	escaped := regexp.QuoteMeta(token)

	prefixPattern := regexp.MustCompile(`^\s*` + escaped + `(?:$|\W)`)
	if prefixPattern.MatchString(text) {
		return true
	}

	suffixPattern := regexp.MustCompile(`\b` + escaped + `\b\W*$`)
	return suffixPattern.MatchString(text)
}
