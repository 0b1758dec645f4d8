package analysis

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/jonathan/stack-scout/internal/types"
)

func TestMentions(t *testing.T) {
	tests := []struct {
		text          string
		wantOutreach  bool
		wantSalesLoft bool
	}{
		{"Experience with Outreach.io required", true, false},
		{"Proficiency in SalesLoft sequences", false, true},
		{"Strong cold outreach skills", false, false},
		{"Own sales outreach and customer outreach efforts", false, false},
		{"Outreach is the heart of this role", false, false},
		{"Tools: Salesforce, Outreach, Gong, ZoomInfo", true, false},
		{"Hands-on with the Outreach platform", true, false},
		{"Our stack includes Outreach and Sales Loft", true, true},
		{"Gong/Outreach experience a plus", true, false},
		{"OUTREACH.IO power user", true, false},
		{"salesloft admin", false, true},
		{"Tech stack:\n- Salesforce\n- Outreach\n- Gong", true, false},
		{"Tech stack:\nSalesforce\nOutreach\nGong", true, false},
		{"Proficiency in Outreach, Salesforce, and Gong is a plus.", true, false},
		{"Outreach, Salesforce and ZoomInfo experience required.", true, false},
		{"1. Outreach\n2. Salesforce", true, false},
		{"Responsibilities: Outreach to prospects via cold calls.", false, false},
		{"Prospecting and Outreach to new accounts", false, false},
		{"- Outreach with prospects over phone and email", false, false},
		{"Outreach\nYou will own pipeline generation.", false, false},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			o, s := Mentions(tt.text)
			assert.Equal(t, tt.wantOutreach, o, "outreach")
			assert.Equal(t, tt.wantSalesLoft, s, "salesloft")
		})
	}
}

func TestReconcile(t *testing.T) {
	both := types.AnalysisVerdict{UsesTool: true, ToolDetected: types.ToolBoth, SignalType: types.SignalRequired, Context: "Outreach.io and SalesLoft"}

	v, changed := Reconcile(both, "We use Outreach.io and SalesLoft")
	assert.False(t, changed)
	assert.Equal(t, both, v)

	v, changed = Reconcile(both, "We use Outreach.io daily")
	assert.True(t, changed)
	assert.Equal(t, types.ToolOutreach, v.ToolDetected)
	assert.Equal(t, types.SignalRequired, v.SignalType)

	v, changed = Reconcile(both, "cold outreach only")
	assert.True(t, changed)
	assert.Equal(t, types.NegativeVerdict(), v)

	outreach := types.AnalysisVerdict{UsesTool: true, ToolDetected: types.ToolOutreach, SignalType: types.SignalStackMention, Context: "Outreach"}
	for _, desc := range []string{
		"Tech stack:\n- Salesforce\n- Outreach\n- Gong",
		"Proficiency in Outreach, Salesforce, and Gong is a plus.",
		"Outreach, Salesforce and ZoomInfo experience required.",
	} {
		v, changed = Reconcile(outreach, desc)
		assert.False(t, changed, desc)
		assert.Equal(t, types.ToolOutreach, v.ToolDetected, desc)
	}

	for _, desc := range []string{
		"Responsibilities: Outreach to prospects via cold calls.",
		"Prospecting and Outreach to new accounts",
	} {
		v, changed = Reconcile(outreach, desc)
		assert.True(t, changed, desc)
		assert.Equal(t, types.NegativeVerdict(), v, desc)
	}

	neg := types.NegativeVerdict()
	v, changed = Reconcile(neg, "Outreach.io")
	assert.False(t, changed)
	assert.Equal(t, neg, v)
}

func TestSnippetAndTruncate(t *testing.T) {
	assert.Equal(t, "", Snippet("abc", -1))
	text := "First sentence. Second mentions SalesLoft here.\nNext line"
	assert.Equal(t, "Second mentions SalesLoft here.", Snippet(text, strings.Index(text, "SalesLoft")))

	long := strings.Repeat("é", 250)
	assert.Equal(t, types.MaxContextLength, len([]rune(TruncateContext(long))))
	assert.Equal(t, "short", TruncateContext("  short "))
}
