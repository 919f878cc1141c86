package cards

import (
	"strings"
	"testing"
	"time"
)

func TestFallback_PlainTextChunks(t *testing.T) {
	// First post is the failed card creation, second the failed
	// standalone card; plain text chunks go through.
	sender := &fakeSender{failPosts: 2}
	reply := newTestReply(sender, Config{MaxChunkSize: 80})

	long := strings.Repeat("Some sentence that pads the reply out. ", 8)
	reply.OnTextFragment(long)
	waitFor(t, reply.Failed, "streaming failure never recorded")

	reply.OnFinalText("The end.")
	waitFor(t, func() bool { return sender.callCount() >= 2 }, "chunked fallback never delivered")

	calls := sender.snapshot()
	var joined strings.Builder
	for _, call := range calls {
		if call.op != "post" {
			t.Fatalf("fallback produced %q call, want posts only", call.op)
		}
		if len(call.text) > 80 {
			t.Errorf("chunk exceeds size bound: %d bytes", len(call.text))
		}
		joined.WriteString(call.text)
		joined.WriteString(" ")
	}
	if !strings.Contains(joined.String(), "The end.") {
		t.Errorf("chunked delivery lost the final fragment: %q", joined.String())
	}
}

func TestFallback_ConvertsTables(t *testing.T) {
	// Only the standalone card attempt fails; there is no prior create
	// because the reply finalizes before any streaming patch.
	sender := &fakeSender{failPosts: 1}
	reply := newTestReply(sender, Config{})

	reply.OnFinalText("Results:\n\n| lang | count |\n| --- | --- |\n| go | 3 |")
	waitFor(t, func() bool { return sender.callCount() >= 1 }, "fallback never delivered")

	text := sender.snapshot()[0].text
	if strings.Contains(text, "| --- |") {
		t.Errorf("plain text delivery kept raw table markup: %q", text)
	}
	if !strings.Contains(text, "• lang: go | count: 3") {
		t.Errorf("plain text delivery = %q, want bulleted table rows", text)
	}
}

func TestFallback_OncePerReply(t *testing.T) {
	sender := &fakeSender{failAllUpd: true}
	reply := newTestReply(sender, Config{})

	reply.OnTextFragment("body")
	waitFor(t, func() bool { return sender.callCount() >= 1 }, "card never created")

	reply.OnFinalText("end")
	waitFor(t, reply.Finalized, "reply never finalized")
	waitFor(t, func() bool { return sender.callCount() >= 2 }, "fallback never delivered")

	count := sender.callCount()
	reply.OnIdle()
	reply.OnFinalText("again")
	time.Sleep(30 * time.Millisecond)
	if sender.callCount() != count {
		t.Errorf("calls after redundant completion = %d, want %d", sender.callCount(), count)
	}
}
