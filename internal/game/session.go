package game

import (
	"fmt"
	"sync"
	"time"

	"github.com/tombdbad/sw5e-campaign-server/internal/events"
	"github.com/tombdbad/sw5e-campaign-server/internal/quests"
)

// Session ties together the per-session state containers: character and
// campaign stores, the active combat encounter, and the quest chain. One
// Session exists per API session; nothing here is a process-wide singleton.
type Session struct {
	ID         string
	Characters *CharacterStore
	Campaigns  *CampaignStore
	Combat     *CombatSession
	Bus        *events.Bus

	createdAt time.Time
	updatedAt time.Time
	mu        sync.RWMutex
}

// NewSession creates a session with fresh, empty stores
func NewSession(id string) *Session {
	now := time.Now()
	return &Session{
		ID:         id,
		Characters: NewCharacterStore(),
		Campaigns:  NewCampaignStore(),
		Combat:     NewCombatSession(0),
		Bus:        events.NewBus(),
		createdAt:  now,
		updatedAt:  now,
	}
}

// Touch stamps the session as recently used
func (s *Session) Touch() {
	s.mu.Lock()
	s.updatedAt = time.Now()
	s.mu.Unlock()
}

// Info returns basic session information for API responses
func (s *Session) Info() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return map[string]interface{}{
		"id":           s.ID,
		"characters":   len(s.Characters.List()),
		"campaigns":    len(s.Campaigns.List()),
		"combat_state": string(s.Combat.State()),
		"created_at":   s.createdAt,
		"updated_at":   s.updatedAt,
	}
}

// BuildQuestChain assembles the prerequisite chain for a campaign from its
// quests' chain metadata
func (s *Session) BuildQuestChain(campaignID string) (*quests.Chain, error) {
	campaign, ok := s.Campaigns.Get(campaignID)
	if !ok {
		return nil, fmt.Errorf("campaign %s not found", campaignID)
	}

	chain := quests.NewChain()
	for _, q := range campaign.Quests {
		node := &quests.Node{
			QuestID:   q.ID,
			Condition: q.ActivationCondition,
		}
		if err := chain.AddNode(node); err != nil {
			return nil, err
		}
	}
	for _, q := range campaign.Quests {
		for _, pre := range q.Prerequisites {
			if err := chain.AddEdge(pre, q.ID); err != nil {
				return nil, err
			}
		}
	}
	return chain, nil
}

// RefreshQuests activates every inactive quest whose prerequisites are all
// completed and whose activation condition evaluates true against the
// campaign state. Returns the ids of newly activated quests.
func (s *Session) RefreshQuests(campaignID string) ([]string, error) {
	chain, err := s.BuildQuestChain(campaignID)
	if err != nil {
		return nil, err
	}

	campaign, ok := s.Campaigns.Get(campaignID)
	if !ok {
		return nil, fmt.Errorf("campaign %s not found", campaignID)
	}

	completed := s.Campaigns.CompletedQuestIDs(campaignID)
	state := s.buildConditionState(campaign)

	var activated []string
	for _, q := range campaign.Quests {
		if q.Status != QuestInactive {
			continue
		}
		ready, err := chain.Ready(q.ID, completed, state)
		if err != nil || !ready {
			continue
		}
		if err := s.Campaigns.ActivateQuest(campaignID, q.ID); err != nil {
			continue
		}
		activated = append(activated, q.ID)
		s.Bus.Publish(events.TopicStoreChange, events.StoreChange{
			EntityType: "quest",
			EntityID:   q.ID,
		})
	}
	return activated, nil
}

// buildConditionState builds the map quest activation conditions are
// evaluated against
func (s *Session) buildConditionState(c *Campaign) map[string]interface{} {
	completedCount := 0
	activeCount := 0
	for _, q := range c.Quests {
		switch q.Status {
		case QuestCompleted:
			completedCount++
		case QuestActive:
			activeCount++
		}
	}

	state := map[string]interface{}{
		"current_location": c.CurrentLocationID,
		"npc_count":        len(c.NPCs),
		"location_count":   len(c.Locations),
		"quests_completed": completedCount,
		"quests_active":    activeCount,
	}

	if ch, ok := s.Characters.Get(c.CharacterID); ok {
		state["character_level"] = ch.Level
		state["character_hp"] = ch.CurrentHP
		state["force_points"] = ch.ForcePoints
	}
	return state
}
