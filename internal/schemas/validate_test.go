package schemas

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateVerdict(t *testing.T) {
	tests := []struct {
		name      string
		doc       string
		wantField string
		syntax    bool
	}{
		{name: "positive", doc: `{"uses_tool": true, "tool_detected": "Outreach.io", "signal_type": "required", "context": "Outreach.io"}`},
		{name: "negative", doc: `{"uses_tool": false, "tool_detected": "none", "signal_type": "none", "context": ""}`},
		{name: "null context and extras", doc: `{"uses_tool": false, "tool_detected": "none", "context": null, "reasoning": "x"}`},
		{name: "missing uses_tool", doc: `{"tool_detected": "none"}`, wantField: "(root)"},
		{name: "unknown tool", doc: `{"uses_tool": true, "tool_detected": "HubSpot"}`, wantField: "tool_detected"},
		{name: "string boolean", doc: `{"uses_tool": "yes", "tool_detected": "none"}`, wantField: "uses_tool"},
		{name: "bad signal", doc: `{"uses_tool": true, "tool_detected": "Both", "signal_type": "strong"}`, wantField: "signal_type"},
		{name: "array", doc: `[]`, wantField: "(root)"},
		{name: "truncated", doc: `{"uses_tool": true,`, syntax: true},
		{name: "prose", doc: `I think they use Outreach`, syntax: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateVerdict(tt.doc)
			switch {
			case tt.syntax:
				var se *SyntaxError
				assert.ErrorAs(t, err, &se)
			case tt.wantField != "":
				var ve *ValidationError
				require.ErrorAs(t, err, &ve)
				var fields []string
				for _, e := range ve.Errors {
					fields = append(fields, e.Field)
				}
				assert.Contains(t, fields, tt.wantField)
			default:
				assert.NoError(t, err)
			}
		})
	}
}
