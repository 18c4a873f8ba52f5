package debrief

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/tombdbad/sw5e-campaign-server/internal/events"
	"github.com/tombdbad/sw5e-campaign-server/internal/game"
)

type fakeStore struct {
	saved    []*Envelope
	saveErr  error
	setCalls int
}

func (f *fakeStore) SaveDebrief(ctx context.Context, e *Envelope) error {
	if f.saveErr != nil {
		return f.saveErr
	}
	f.saved = append(f.saved, e)
	return nil
}

func (f *fakeStore) SetDebriefResponse(ctx context.Context, id string, result *Result) error {
	f.setCalls++
	return nil
}

func newTestCompiler() (*Compiler, string, string) {
	characters := game.NewCharacterStore()
	campaigns := game.NewCampaignStore()

	ch := characters.Create(&game.Character{
		Name: "Dara", Species: "Twi'lek", Class: "Scout", Level: 3,
		Backstory: "Her father, Joran, smuggled spice until the Empire caught him.",
	})
	c := campaigns.Create(&game.Campaign{Name: "Shadows of the Rim", CharacterID: ch.ID})
	campaigns.UpsertNPC(c.ID, game.NPC{Name: "Korr", Role: "Contact"})
	campaigns.UpsertQuest(c.ID, game.Quest{Title: "Find the holocron", Status: game.QuestActive})

	compiler := &Compiler{Characters: characters, Campaigns: campaigns, Bus: events.NewBus()}
	return compiler, ch.ID, c.ID
}

// TestCompileMinimalSections tests that an all-false section set still
// carries character id and name
func TestCompileMinimalSections(t *testing.T) {
	compiler, characterID, campaignID := newTestCompiler()

	envelope, err := compiler.Compile(context.Background(), "s1", characterID, campaignID, Config{
		RequestType: RequestCampaignUpdate,
	})
	if err != nil {
		t.Fatalf("Compile failed: %v", err)
	}

	if envelope.Character.ID != characterID || envelope.Character.Name != "Dara" {
		t.Error("Expected character id and name always present")
	}
	if envelope.Character.Level != 0 || envelope.Character.Abilities != nil {
		t.Error("Expected details omitted when not requested")
	}
	if envelope.Campaign.NPCs != nil || envelope.Campaign.Quests != nil {
		t.Error("Expected campaign collections omitted when not requested")
	}
	if !envelope.Pending() {
		t.Error("Expected new envelope pending")
	}
}

// TestCompileFullSections tests projections and the narrative profile
func TestCompileFullSections(t *testing.T) {
	compiler, characterID, campaignID := newTestCompiler()

	envelope, err := compiler.Compile(context.Background(), "s1", characterID, campaignID, Config{
		RequestType: RequestNPCInteraction,
		Sections:    Sections{CharacterDetails: true, NPCs: true, Locations: true, Quests: true, GameState: true},
	})
	if err != nil {
		t.Fatalf("Compile failed: %v", err)
	}

	if envelope.Character.Profile == nil {
		t.Fatal("Expected narrative profile with character details")
	}
	if len(envelope.Character.Profile.Entities) == 0 {
		t.Error("Expected named entities from backstory")
	}
	if len(envelope.Campaign.NPCs) != 1 || len(envelope.Campaign.Quests) != 1 {
		t.Error("Expected campaign collections projected")
	}
}

// TestCompilePromptContainsFormat tests the prompt carries the delimiter
// instructions and the state snapshot
func TestCompilePromptContainsFormat(t *testing.T) {
	compiler, characterID, campaignID := newTestCompiler()

	envelope, err := compiler.Compile(context.Background(), "s1", characterID, campaignID, Config{
		RequestType:  RequestQuestGeneration,
		CustomPrompt: "Focus on the Outer Rim.",
	})
	if err != nil {
		t.Fatalf("Compile failed: %v", err)
	}

	if !strings.Contains(envelope.Prompt, Delimiter) {
		t.Error("Expected delimiter in prompt format instructions")
	}
	if !strings.Contains(envelope.Prompt, "Focus on the Outer Rim.") {
		t.Error("Expected custom prompt included")
	}
	if !strings.Contains(envelope.Prompt, "Dara") {
		t.Error("Expected state snapshot in prompt")
	}
}

// TestCompileUnknownRequestType tests request type validation
func TestCompileUnknownRequestType(t *testing.T) {
	compiler, characterID, campaignID := newTestCompiler()

	if _, err := compiler.Compile(context.Background(), "s1", characterID, campaignID, Config{
		RequestType: "weatherForecast",
	}); err == nil {
		t.Error("Expected error for unknown request type")
	}
}

// TestCompilePublishesGMReport tests the bus publication
func TestCompilePublishesGMReport(t *testing.T) {
	compiler, characterID, campaignID := newTestCompiler()
	ch, cancel := compiler.Bus.Subscribe(events.TopicGMReport)
	defer cancel()

	envelope, err := compiler.Compile(context.Background(), "s1", characterID, campaignID, Config{
		RequestType: RequestCampaignUpdate,
	})
	if err != nil {
		t.Fatalf("Compile failed: %v", err)
	}

	select {
	case ev := <-ch:
		report, ok := ev.Data.(events.GMReport)
		if !ok {
			t.Fatalf("Expected GMReport event, got %T", ev.Data)
		}
		if report.ID != envelope.ID {
			t.Error("Expected report id to match envelope")
		}
		if report.Content != envelope.Prompt {
			t.Error("Expected report content to be the prompt")
		}
	default:
		t.Fatal("Expected a gm report event")
	}
}

// TestCompilePersistsThroughStore tests the store hook and its error path
func TestCompilePersistsThroughStore(t *testing.T) {
	compiler, characterID, campaignID := newTestCompiler()
	store := &fakeStore{}
	compiler.Store = store

	if _, err := compiler.Compile(context.Background(), "s1", characterID, campaignID, Config{
		RequestType: RequestCampaignUpdate,
	}); err != nil {
		t.Fatalf("Compile failed: %v", err)
	}
	if len(store.saved) != 1 {
		t.Fatalf("Expected 1 saved envelope, got %d", len(store.saved))
	}

	store.saveErr = errors.New("disk full")
	_, err := compiler.Compile(context.Background(), "s1", characterID, campaignID, Config{
		RequestType: RequestCampaignUpdate,
	})
	if err == nil {
		t.Fatal("Expected error when store fails")
	}
	if !strings.Contains(err.Error(), "failed to create debrief") {
		t.Errorf("Expected wrapped debrief error, got %v", err)
	}
}

// TestCompileUnknownCharacter tests missing entity handling
func TestCompileUnknownCharacter(t *testing.T) {
	compiler, _, campaignID := newTestCompiler()

	if _, err := compiler.Compile(context.Background(), "s1", "missing", campaignID, Config{
		RequestType: RequestCampaignUpdate,
	}); err == nil {
		t.Error("Expected error for unknown character")
	}
}
