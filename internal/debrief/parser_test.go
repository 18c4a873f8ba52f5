package debrief

import (
	"errors"
	"testing"
)

// TestParseWithDelimiter tests the canonical narrative + data split
func TestParseWithDelimiter(t *testing.T) {
	raw := `The cantina falls silent as you enter.

---SYSTEM_DATA_FOLLOWS---
{"npcs":[{"name":"Korr","role":"Contact"}]}`

	parsed, err := Parse(raw)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if parsed.Narrative != "The cantina falls silent as you enter." {
		t.Errorf("Unexpected narrative: %q", parsed.Narrative)
	}
	if parsed.Payload == nil || len(parsed.Payload.NPCs) != 1 {
		t.Fatal("Expected one NPC in payload")
	}
	if parsed.Payload.NPCs[0].Name != "Korr" {
		t.Errorf("Expected NPC Korr, got '%s'", parsed.Payload.NPCs[0].Name)
	}
}

// TestParseLegacyDelimiter tests that the old marker is still accepted
func TestParseLegacyDelimiter(t *testing.T) {
	raw := `A blaster bolt scorches the wall.
SYSTEM_UPDATE:
{"character":{"current_hp":12}}`

	parsed, err := Parse(raw)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if parsed.Payload == nil || parsed.Payload.Character == nil {
		t.Fatal("Expected character update in payload")
	}
	if parsed.Payload.Character.CurrentHP == nil || *parsed.Payload.Character.CurrentHP != 12 {
		t.Error("Expected current_hp 12")
	}
}

// TestParseToleratesProseAroundJSON tests the greedy object extraction
func TestParseToleratesProseAroundJSON(t *testing.T) {
	raw := `Story text.
---SYSTEM_DATA_FOLLOWS---
Here is the update you asked for:
{"npcs":[{"name":"Korr"}]}
Let me know if you need more.`

	parsed, err := Parse(raw)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if parsed.Payload == nil || len(parsed.Payload.NPCs) != 1 {
		t.Fatal("Expected NPC extracted despite surrounding prose")
	}
}

// TestParsePureNarrative tests that prose without a marker is not an error
func TestParsePureNarrative(t *testing.T) {
	parsed, err := Parse("You rest for the night. Nothing happens.")
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if parsed.Payload != nil {
		t.Error("Expected no payload for pure narrative")
	}
	if parsed.Narrative == "" {
		t.Error("Expected narrative kept")
	}
}

// TestParseBareJSON tests a response that is only a JSON document
func TestParseBareJSON(t *testing.T) {
	parsed, err := Parse(`{"npcs":[{"name":"Korr"}]}`)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if parsed.Payload == nil || len(parsed.Payload.NPCs) != 1 {
		t.Fatal("Expected payload from bare JSON")
	}
}

// TestParseMalformedJSON tests the recoverable parse error
func TestParseMalformedJSON(t *testing.T) {
	raw := `Story.
---SYSTEM_DATA_FOLLOWS---
{"npcs": [broken}`

	_, err := Parse(raw)
	if err == nil {
		t.Fatal("Expected parse error")
	}
	if !errors.Is(err, ErrParse) {
		t.Errorf("Expected ErrParse, got %v", err)
	}
}

// TestParseMissingJSONAfterDelimiter tests a marker with no object
func TestParseMissingJSONAfterDelimiter(t *testing.T) {
	_, err := Parse("Story.\n---SYSTEM_DATA_FOLLOWS---\nnothing structured here")
	if !errors.Is(err, ErrParse) {
		t.Errorf("Expected ErrParse, got %v", err)
	}
}
