package debrief

import (
	"context"
	"errors"
	"testing"

	"github.com/tombdbad/sw5e-campaign-server/internal/game"
)

func newTestReconciler() (*Reconciler, string, string) {
	characters := game.NewCharacterStore()
	campaigns := game.NewCampaignStore()

	ch := characters.Create(&game.Character{Name: "Dara", Level: 3, MaxHP: 24, CurrentHP: 24})
	c := campaigns.Create(&game.Campaign{Name: "Shadows of the Rim", CharacterID: ch.ID})

	r := &Reconciler{Characters: characters, Campaigns: campaigns}
	return r, c.ID, ch.ID
}

// TestReconcileFullPayload tests a response touching every collection
func TestReconcileFullPayload(t *testing.T) {
	r, campaignID, characterID := newTestReconciler()

	raw := `The raid succeeds, but Dara takes a hit.

---SYSTEM_DATA_FOLLOWS---
{
  "locations": [{"name": "Raider camp", "type": "outpost"}],
  "character": {"current_hp": 17},
  "objectives": [{"title": "Track the raiders", "objectives": [{"description": "Find the camp", "completed": true}]}],
  "npcs": [{"name": "Vex", "role": "Raider captain"}]
}`

	result := r.Reconcile(context.Background(), campaignID, characterID, raw)

	if result.Status != StatusOK {
		t.Fatalf("Expected ok, got '%s' (failures: %v)", result.Status, result.Failures)
	}
	if result.Counts["locations"].New != 1 {
		t.Error("Expected one new location")
	}
	if result.Counts["character"].Updated != 1 {
		t.Error("Expected one character update")
	}
	if result.Counts["objectives"].New != 1 {
		t.Error("Expected one new quest")
	}
	if result.Counts["npcs"].Updated+result.Counts["npcs"].New < 1 {
		t.Error("Expected NPC counted")
	}

	ch, _ := r.Characters.Get(characterID)
	if ch.CurrentHP != 17 {
		t.Errorf("Expected hp 17, got %d", ch.CurrentHP)
	}
	c, _ := r.Campaigns.Get(campaignID)
	if len(c.Locations) != 1 || len(c.Quests) != 1 || len(c.NPCs) != 1 {
		t.Errorf("Expected 1 location, 1 quest, 1 npc; got %d/%d/%d",
			len(c.Locations), len(c.Quests), len(c.NPCs))
	}
}

// TestReconcileMalformedLeavesStoresUntouched tests that a parse error
// produces a tagged result and no state change
func TestReconcileMalformedLeavesStoresUntouched(t *testing.T) {
	r, campaignID, characterID := newTestReconciler()

	raw := `The story continues.
---SYSTEM_DATA_FOLLOWS---
{"npcs": [broken}`

	result := r.Reconcile(context.Background(), campaignID, characterID, raw)

	if result.Status != StatusParseError {
		t.Fatalf("Expected parse_error, got '%s'", result.Status)
	}
	if result.Narrative != "The story continues." {
		t.Errorf("Expected narrative preview kept, got %q", result.Narrative)
	}

	c, _ := r.Campaigns.Get(campaignID)
	if len(c.NPCs) != 0 {
		t.Error("Expected no NPCs applied after parse error")
	}
	ch, _ := r.Characters.Get(characterID)
	if ch.Version != 1 {
		t.Error("Expected character untouched after parse error")
	}
}

// TestReconcilePartialFailure tests that one bad entity does not block the
// rest and the result is tagged partial
func TestReconcilePartialFailure(t *testing.T) {
	r, campaignID, _ := newTestReconciler()

	// Unknown character id fails; the NPC must still land
	raw := `---SYSTEM_DATA_FOLLOWS---
{"character": {"id": "no-such-character", "current_hp": 5}, "npcs": [{"name": "Vex"}]}`

	result := r.Reconcile(context.Background(), campaignID, "also-missing", raw)

	if result.Status != StatusPartial {
		t.Fatalf("Expected partial_failure, got '%s'", result.Status)
	}
	if len(result.Failures) != 1 {
		t.Fatalf("Expected 1 failure, got %d", len(result.Failures))
	}
	if result.Failures[0].Collection != "character" {
		t.Errorf("Expected character failure, got '%s'", result.Failures[0].Collection)
	}

	c, _ := r.Campaigns.Get(campaignID)
	if len(c.NPCs) != 1 {
		t.Error("Expected NPC applied despite character failure")
	}
}

// TestReconcileCommitFailureRollsBack tests the optimistic update path
func TestReconcileCommitFailureRollsBack(t *testing.T) {
	r, campaignID, characterID := newTestReconciler()
	r.Commit = func(ctx context.Context, c *game.Character) error {
		return errors.New("db down")
	}

	raw := `---SYSTEM_DATA_FOLLOWS---
{"character": {"current_hp": 1}}`

	result := r.Reconcile(context.Background(), campaignID, characterID, raw)

	if result.Status != StatusPartial {
		t.Fatalf("Expected partial_failure, got '%s'", result.Status)
	}

	ch, _ := r.Characters.Get(characterID)
	if ch.CurrentHP != 24 {
		t.Errorf("Expected hp rolled back to 24, got %d", ch.CurrentHP)
	}
	if r.Characters.LastError() == "" {
		t.Error("Expected last error recorded on the store")
	}
}

// TestReconcileQuestCompletion tests the quest completed flag mapping
func TestReconcileQuestCompletion(t *testing.T) {
	r, campaignID, characterID := newTestReconciler()

	quest, _, _ := r.Campaigns.UpsertQuest(campaignID, game.Quest{
		Title:      "Track the raiders",
		Status:     game.QuestActive,
		Objectives: []game.Objective{{ID: "o1", Description: "Find the camp"}},
	})

	raw := `---SYSTEM_DATA_FOLLOWS---
{"objectives": [{"id": "` + quest.ID + `", "completed": true}]}`

	result := r.Reconcile(context.Background(), campaignID, characterID, raw)
	if result.Status != StatusOK {
		t.Fatalf("Expected ok, got '%s' (failures: %v)", result.Status, result.Failures)
	}

	c, _ := r.Campaigns.Get(campaignID)
	if c.Quests[0].Status != game.QuestCompleted {
		t.Errorf("Expected quest completed, got '%s'", c.Quests[0].Status)
	}
	if len(c.Quests[0].Objectives) != 1 {
		t.Error("Expected existing objectives kept")
	}
}

// TestEscalationKeyMinorAddsPersonality tests the first rung of the ladder
func TestEscalationKeyMinorAddsPersonality(t *testing.T) {
	r, campaignID, characterID := newTestReconciler()

	raw := `---SYSTEM_DATA_FOLLOWS---
{"npcs": [{"name": "Korr", "classification": "keyMinor"}]}`

	if result := r.Reconcile(context.Background(), campaignID, characterID, raw); result.Status != StatusOK {
		t.Fatalf("Expected ok, got '%s'", result.Status)
	}

	c, _ := r.Campaigns.Get(campaignID)
	npc := c.NPCs[0]
	if npc.Personality == nil {
		t.Fatal("Expected personality skeleton at keyMinor")
	}
	if npc.Personality.Disposition != "neutral" {
		t.Errorf("Expected neutral disposition, got '%s'", npc.Personality.Disposition)
	}
	if npc.Abilities != nil {
		t.Error("Expected no abilities below key")
	}
}

// TestEscalationKeyUsesTemplate tests role-based template lookup at key
func TestEscalationKeyUsesTemplate(t *testing.T) {
	r, campaignID, characterID := newTestReconciler()

	raw := `---SYSTEM_DATA_FOLLOWS---
{"npcs": [{"name": "Captain Vex", "role": "Smuggler", "classification": "key"}]}`

	if result := r.Reconcile(context.Background(), campaignID, characterID, raw); result.Status != StatusOK {
		t.Fatalf("Expected ok, got '%s'", result.Status)
	}

	c, _ := r.Campaigns.Get(campaignID)
	npc := c.NPCs[0]
	if npc.Abilities == nil {
		t.Fatal("Expected abilities at key")
	}
	if npc.Abilities.Dexterity != 16 {
		t.Errorf("Expected smuggler template dex 16, got %d", npc.Abilities.Dexterity)
	}
	if len(npc.Skills) == 0 {
		t.Error("Expected template skills")
	}
}

// TestEscalationKeyFallsBackToDefaults tests unknown roles get all 10s
func TestEscalationKeyFallsBackToDefaults(t *testing.T) {
	r, campaignID, characterID := newTestReconciler()

	raw := `---SYSTEM_DATA_FOLLOWS---
{"npcs": [{"name": "Nameless", "role": "Hermit", "classification": "key"}]}`

	r.Reconcile(context.Background(), campaignID, characterID, raw)

	c, _ := r.Campaigns.Get(campaignID)
	npc := c.NPCs[0]
	if npc.Abilities == nil {
		t.Fatal("Expected abilities at key")
	}
	if *npc.Abilities != game.DefaultAbilityScores() {
		t.Errorf("Expected default scores, got %+v", *npc.Abilities)
	}
}

// TestEscalationCompanionAddsStatBlock tests the top rung
func TestEscalationCompanionAddsStatBlock(t *testing.T) {
	r, campaignID, characterID := newTestReconciler()

	raw := `---SYSTEM_DATA_FOLLOWS---
{"npcs": [{"name": "R7-K2", "role": "Astromech droid", "classification": "companion"}]}`

	r.Reconcile(context.Background(), campaignID, characterID, raw)

	c, _ := r.Campaigns.Get(campaignID)
	npc := c.NPCs[0]
	if npc.Personality == nil || npc.Abilities == nil || npc.StatBlock == nil {
		t.Fatal("Expected all rungs applied at companion")
	}
	if npc.StatBlock.HitPoints < 1 {
		t.Errorf("Expected positive hit points, got %d", npc.StatBlock.HitPoints)
	}
}

// TestEscalationPreservesExistingFields tests that a later upgrade never
// replaces detail set earlier
func TestEscalationPreservesExistingFields(t *testing.T) {
	r, campaignID, characterID := newTestReconciler()

	npc, _, _ := r.Campaigns.UpsertNPC(campaignID, game.NPC{
		Name:           "Korr",
		Classification: game.ClassificationKeyMinor,
		Personality:    &game.Personality{Disposition: "hostile", Quirks: []string{"never blinks"}},
	})

	raw := `---SYSTEM_DATA_FOLLOWS---
{"npcs": [{"id": "` + npc.ID + `", "classification": "key"}]}`

	r.Reconcile(context.Background(), campaignID, characterID, raw)

	got, _ := r.Campaigns.GetNPC(campaignID, npc.ID)
	if got.Classification != game.ClassificationKey {
		t.Errorf("Expected classification key, got '%s'", got.Classification)
	}
	if got.Personality.Disposition != "hostile" {
		t.Error("Expected existing personality kept through escalation")
	}
	if got.Abilities == nil {
		t.Error("Expected abilities added at key")
	}
}
