package game

import (
	"testing"
)

func newChainTestSession(t *testing.T) (*Session, string) {
	t.Helper()
	s := NewSession("s1")
	ch := s.Characters.Create(&Character{Name: "Dara", Level: 3, CurrentHP: 20})
	c := s.Campaigns.Create(&Campaign{Name: "Shadows of the Rim", CharacterID: ch.ID})
	return s, c.ID
}

// TestRefreshQuestsActivatesReadyQuest tests prerequisite gating
func TestRefreshQuestsActivatesReadyQuest(t *testing.T) {
	s, campaignID := newChainTestSession(t)

	done, _, _ := s.Campaigns.UpsertQuest(campaignID, Quest{
		Title:      "First job",
		Status:     QuestCompleted,
		Objectives: []Objective{{ID: "o1", Completed: true}},
	})
	gated, _, _ := s.Campaigns.UpsertQuest(campaignID, Quest{
		Title:         "Second job",
		Prerequisites: []string{done.ID},
	})
	blocked, _, _ := s.Campaigns.UpsertQuest(campaignID, Quest{
		Title:         "Third job",
		Prerequisites: []string{gated.ID},
	})

	activated, err := s.RefreshQuests(campaignID)
	if err != nil {
		t.Fatalf("RefreshQuests failed: %v", err)
	}
	if len(activated) != 1 || activated[0] != gated.ID {
		t.Fatalf("Expected only the gated quest activated, got %v", activated)
	}

	c, _ := s.Campaigns.Get(campaignID)
	for _, q := range c.Quests {
		if q.ID == blocked.ID && q.Status != QuestInactive {
			t.Error("Expected quest with unmet prerequisite to stay inactive")
		}
	}
}

// TestRefreshQuestsEvaluatesCondition tests expression-gated activation
func TestRefreshQuestsEvaluatesCondition(t *testing.T) {
	s, campaignID := newChainTestSession(t)

	highLevel, _, _ := s.Campaigns.UpsertQuest(campaignID, Quest{
		Title:               "Veteran work",
		ActivationCondition: "character_level >= 10",
	})
	lowLevel, _, _ := s.Campaigns.UpsertQuest(campaignID, Quest{
		Title:               "Starter work",
		ActivationCondition: "character_level >= 1",
	})

	activated, err := s.RefreshQuests(campaignID)
	if err != nil {
		t.Fatalf("RefreshQuests failed: %v", err)
	}
	if len(activated) != 1 || activated[0] != lowLevel.ID {
		t.Fatalf("Expected only the low-level quest activated, got %v", activated)
	}

	c, _ := s.Campaigns.Get(campaignID)
	for _, q := range c.Quests {
		if q.ID == highLevel.ID && q.Status != QuestInactive {
			t.Error("Expected condition-blocked quest to stay inactive")
		}
	}
}

// TestRefreshQuestsLocationCondition tests conditions over campaign state
func TestRefreshQuestsLocationCondition(t *testing.T) {
	s, campaignID := newChainTestSession(t)

	loc, _, _ := s.Campaigns.UpsertLocation(campaignID, Location{Name: "Mos Entha"})
	quest, _, _ := s.Campaigns.UpsertQuest(campaignID, Quest{
		Title:               "Local trouble",
		ActivationCondition: `current_location == "` + loc.ID + `"`,
	})

	activated, _ := s.RefreshQuests(campaignID)
	if len(activated) != 0 {
		t.Fatalf("Expected nothing activated before travel, got %v", activated)
	}

	if err := s.Campaigns.SetCurrentLocation(campaignID, loc.ID); err != nil {
		t.Fatalf("SetCurrentLocation failed: %v", err)
	}
	activated, _ = s.RefreshQuests(campaignID)
	if len(activated) != 1 || activated[0] != quest.ID {
		t.Fatalf("Expected quest activated after travel, got %v", activated)
	}
}

// TestRefreshQuestsPublishesStoreChange tests the activation event
func TestRefreshQuestsPublishesStoreChange(t *testing.T) {
	s, campaignID := newChainTestSession(t)
	ch, cancel := s.Bus.Subscribe("store-change")
	defer cancel()

	quest, _, _ := s.Campaigns.UpsertQuest(campaignID, Quest{Title: "Open job"})
	if _, err := s.RefreshQuests(campaignID); err != nil {
		t.Fatalf("RefreshQuests failed: %v", err)
	}

	select {
	case ev := <-ch:
		if ev.Data == nil {
			t.Fatal("Expected event data")
		}
	default:
		t.Fatalf("Expected a store-change event for quest %s", quest.ID)
	}
}

// TestSessionInfo tests the info snapshot
func TestSessionInfo(t *testing.T) {
	s, _ := newChainTestSession(t)

	info := s.Info()
	if info["characters"] != 1 || info["campaigns"] != 1 {
		t.Errorf("Unexpected counts: %v", info)
	}
	if info["combat_state"] != "idle" {
		t.Errorf("Expected idle combat, got %v", info["combat_state"])
	}
}
