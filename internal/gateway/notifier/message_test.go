package notifier

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRenderMarkdown(t *testing.T) {
	msg := StructuredMessage{
		Icon:  "❌",
		Title: "strategy failed",
		Sections: []MessageSection{{
			Title: "strategy",
			Lines: []string{"name: eth-range", "", "fault: INVALID_RESPONSE_SCHEMA"},
		}},
		Footer:    "schema mismatch on /v1/pubticker",
		Timestamp: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}

	out := msg.RenderMarkdown()
	assert.True(t, strings.HasPrefix(out, "❌ strategy failed"))
	assert.Contains(t, out, "- name: eth-range")
	assert.Contains(t, out, "- fault: INVALID_RESPONSE_SCHEMA")
	assert.Contains(t, out, "schema mismatch")
	assert.Contains(t, out, "time: 2026-03-01")
	assert.NotContains(t, out, "- \n", "blank lines are dropped")
}

func TestRenderMarkdownTruncates(t *testing.T) {
	msg := StructuredMessage{
		Title: "big",
		Sections: []MessageSection{{
			Lines: []string{strings.Repeat("x", 5000)},
		}},
	}
	out := msg.RenderMarkdown()
	assert.LessOrEqual(t, len(out), maxStructuredMessageLen+3)
	assert.True(t, strings.HasSuffix(out, "..."))
}

func TestRenderMarkdownEscapesCodeFences(t *testing.T) {
	msg := StructuredMessage{
		Title:    "note",
		Sections: []MessageSection{{Lines: []string{"body ``` injection"}}},
	}
	assert.Contains(t, msg.RenderMarkdown(), "'''")
}
