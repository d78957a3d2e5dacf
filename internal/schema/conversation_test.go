package schema

import "testing"

func TestValidateConversationDocument(t *testing.T) {
	valid := []string{
		`[{"role":"user","content":"I'm in Seattle and need food"}]`,
		`[{"role":"system","content":"be kind"},{"role":"user","content":"hi"},
		  {"role":"assistant","content":"","tool_calls":[{"id":"c1","name":"list_eligible_resources","arguments":{}}]},
		  {"role":"tool","tool_call_id":"c1","content":"report"},
		  {"role":"assistant","content":"Here is what I found"}]`,
	}
	for _, doc := range valid {
		if err := ValidateConversationDocument([]byte(doc)); err != nil {
			t.Fatalf("expected valid, got %v for %s", err, doc)
		}
	}

	invalid := map[string]string{
		"empty":            `[]`,
		"not an array":     `{"role":"user","content":"hi"}`,
		"unknown role":     `[{"role":"moderator","content":"hi"}]`,
		"blank user":       `[{"role":"user","content":""}]`,
		"tool without id":  `[{"role":"tool","content":"report"}]`,
		"call without id":  `[{"role":"assistant","tool_calls":[{"name":"x"}]}]`,
		"malformed json":   `[{"role":`,
		"content not text": `[{"role":"user","content":42}]`,
	}
	for name, doc := range invalid {
		if err := ValidateConversationDocument([]byte(doc)); err == nil {
			t.Fatalf("%s: expected validation error", name)
		}
	}
}

func TestConversationSchemaCopy(t *testing.T) {
	a := ConversationSchema()
	a[0] = 'x'
	if ConversationSchema()[0] == 'x' {
		t.Fatalf("ConversationSchema must return a copy")
	}
}
