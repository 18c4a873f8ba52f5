package db

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/tombdbad/sw5e-campaign-server/internal/debrief"
	"github.com/tombdbad/sw5e-campaign-server/internal/game"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := NewDB(DriverSQLite, ":memory:")
	if err != nil {
		t.Fatalf("NewDB failed: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// TestUnsupportedDriver tests driver validation
func TestUnsupportedDriver(t *testing.T) {
	if _, err := NewDB("mysql", "dsn"); err == nil {
		t.Error("Expected error for unsupported driver")
	}
}

// TestCharacterRoundTrip tests save, load and delete
func TestCharacterRoundTrip(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	c := &game.Character{ID: "c1", Name: "Dara", Level: 3, Version: 2, MaxHP: 24, CurrentHP: 17}
	if err := db.SaveCharacter(ctx, "s1", c); err != nil {
		t.Fatalf("SaveCharacter failed: %v", err)
	}

	// Second save for the same id must update, not duplicate
	c.CurrentHP = 20
	c.Version = 3
	if err := db.SaveCharacter(ctx, "s1", c); err != nil {
		t.Fatalf("SaveCharacter failed: %v", err)
	}

	loaded, err := db.LoadCharacters(ctx, "s1")
	if err != nil {
		t.Fatalf("LoadCharacters failed: %v", err)
	}
	if len(loaded) != 1 {
		t.Fatalf("Expected 1 character, got %d", len(loaded))
	}
	if loaded[0].CurrentHP != 20 || loaded[0].Version != 3 {
		t.Errorf("Expected latest copy loaded, got hp=%d version=%d", loaded[0].CurrentHP, loaded[0].Version)
	}

	if err := db.DeleteCharacter(ctx, "c1"); err != nil {
		t.Fatalf("DeleteCharacter failed: %v", err)
	}
	loaded, _ = db.LoadCharacters(ctx, "s1")
	if len(loaded) != 0 {
		t.Error("Expected character deleted")
	}
}

// TestCampaignRoundTrip tests nested collections survive the document store
func TestCampaignRoundTrip(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	c := &game.Campaign{
		ID:      "cp1",
		Name:    "Shadows of the Rim",
		Version: 1,
		NPCs:    []game.NPC{{ID: "n1", Name: "Korr", Classification: game.ClassificationKey}},
		Quests: []game.Quest{{
			ID:         "q1",
			Title:      "Find the holocron",
			Status:     game.QuestActive,
			Objectives: []game.Objective{{ID: "o1", Description: "Reach the ruins"}},
		}},
	}
	if err := db.SaveCampaign(ctx, "s1", c); err != nil {
		t.Fatalf("SaveCampaign failed: %v", err)
	}

	loaded, err := db.LoadCampaigns(ctx, "s1")
	if err != nil {
		t.Fatalf("LoadCampaigns failed: %v", err)
	}
	if len(loaded) != 1 {
		t.Fatalf("Expected 1 campaign, got %d", len(loaded))
	}
	if len(loaded[0].NPCs) != 1 || loaded[0].NPCs[0].Classification != game.ClassificationKey {
		t.Error("Expected NPC collection restored")
	}
	if len(loaded[0].Quests) != 1 || len(loaded[0].Quests[0].Objectives) != 1 {
		t.Error("Expected quest objectives restored")
	}
}

// TestDebriefResponseLifecycle tests envelope save and response attachment
func TestDebriefResponseLifecycle(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	e := &debrief.Envelope{
		ID:          "d1",
		SessionID:   "s1",
		RequestType: debrief.RequestCampaignUpdate,
		Prompt:      "Continue the story.",
	}
	if err := db.SaveDebrief(ctx, e); err != nil {
		t.Fatalf("SaveDebrief failed: %v", err)
	}

	got, err := db.GetDebrief(ctx, "d1")
	if err != nil {
		t.Fatalf("GetDebrief failed: %v", err)
	}
	if !got.Pending() {
		t.Error("Expected envelope pending before response")
	}

	result := &debrief.Result{Status: debrief.StatusOK, Narrative: "The raid succeeds."}
	if err := db.SetDebriefResponse(ctx, "d1", result); err != nil {
		t.Fatalf("SetDebriefResponse failed: %v", err)
	}

	got, _ = db.GetDebrief(ctx, "d1")
	if got.Pending() {
		t.Error("Expected envelope responded")
	}
	if got.Response.Narrative != "The raid succeeds." {
		t.Errorf("Unexpected narrative: %q", got.Response.Narrative)
	}
	if got.RespondedAt == nil {
		t.Error("Expected responded_at set")
	}

	if err := db.SetDebriefResponse(ctx, "missing", result); err == nil {
		t.Error("Expected error for unknown debrief")
	}

	ids, err := db.ListDebriefs(ctx, "s1")
	if err != nil {
		t.Fatalf("ListDebriefs failed: %v", err)
	}
	if len(ids) != 1 || ids[0] != "d1" {
		t.Errorf("Expected [d1], got %v", ids)
	}
}

// TestSessionOwnership tests the ownership table
func TestSessionOwnership(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	if err := db.SaveSessionOwnership(ctx, "s1", "u1"); err != nil {
		t.Fatalf("SaveSessionOwnership failed: %v", err)
	}
	// Re-claim overwrites
	if err := db.SaveSessionOwnership(ctx, "s1", "u2"); err != nil {
		t.Fatalf("SaveSessionOwnership failed: %v", err)
	}

	owner, err := db.GetSessionOwner(ctx, "s1")
	if err != nil {
		t.Fatalf("GetSessionOwner failed: %v", err)
	}
	if owner != "u2" {
		t.Errorf("Expected owner u2, got '%s'", owner)
	}

	sessions, err := db.GetUserSessions(ctx, "u2")
	if err != nil {
		t.Fatalf("GetUserSessions failed: %v", err)
	}
	if len(sessions) != 1 || sessions[0] != "s1" {
		t.Errorf("Expected [s1], got %v", sessions)
	}
}

// TestSyncQueueDedup tests that repeated ops for one entity collapse
func TestSyncQueueDedup(t *testing.T) {
	q := NewSyncQueue()

	q.Enqueue(&SyncOp{SessionID: "s1", EntityType: "character", EntityID: "c1", Action: ActionUpsert, Payload: json.RawMessage(`{"v":1}`)})
	q.Enqueue(&SyncOp{SessionID: "s1", EntityType: "character", EntityID: "c1", Action: ActionUpsert, Payload: json.RawMessage(`{"v":2}`)})
	q.Enqueue(&SyncOp{SessionID: "s1", EntityType: "campaign", EntityID: "cp1", Action: ActionUpsert})

	if q.Count() != 2 {
		t.Fatalf("Expected 2 pending ops, got %d", q.Count())
	}

	ops := q.Drain()
	if len(ops) != 2 {
		t.Fatalf("Expected 2 drained ops, got %d", len(ops))
	}
	if string(ops[0].Payload) != `{"v":2}` {
		t.Error("Expected latest payload to win")
	}
	if q.Count() != 0 {
		t.Error("Expected queue empty after drain")
	}
}

// TestSyncQueueFlush tests the flush-to-log path
func TestSyncQueueFlush(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	q := NewSyncQueue()

	q.Enqueue(&SyncOp{SessionID: "s1", EntityType: "character", EntityID: "c1", Action: ActionUpsert})
	q.Enqueue(&SyncOp{SessionID: "s1", EntityType: "campaign", EntityID: "cp1", Action: ActionDelete})

	if err := q.Flush(ctx, db); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}
	if q.Count() != 0 {
		t.Error("Expected queue empty after flush")
	}

	ops, err := db.SyncLogSince(ctx, "s1", time.Time{})
	if err != nil {
		t.Fatalf("SyncLogSince failed: %v", err)
	}
	if len(ops) != 2 {
		t.Errorf("Expected 2 log entries, got %d", len(ops))
	}
}
