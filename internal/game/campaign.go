package game

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tombdbad/sw5e-campaign-server/internal/worldmap"
)

// NPC classification ladder, lowest to highest. Escalating an NPC up the
// ladder only ever adds detail, it never removes previously set fields.
const (
	ClassificationBackground = "background"
	ClassificationKeyMinor   = "keyMinor"
	ClassificationKey        = "key"
	ClassificationCompanion  = "companion"
)

// ClassificationRank maps a classification to its position on the ladder.
// Unknown classifications rank below background.
func ClassificationRank(c string) int {
	switch c {
	case ClassificationBackground:
		return 0
	case ClassificationKeyMinor:
		return 1
	case ClassificationKey:
		return 2
	case ClassificationCompanion:
		return 3
	default:
		return -1
	}
}

// Personality is the skeleton attached to NPCs at keyMinor and above
type Personality struct {
	Disposition string   `json:"disposition"`
	Quirks      []string `json:"quirks"`
	Goals       []string `json:"goals"`
}

// StatBlock is the full combat-ready block attached at companion level
type StatBlock struct {
	HitPoints  int      `json:"hit_points"`
	ArmorClass int      `json:"armor_class"`
	Actions    []string `json:"actions"`
	Equipment  []string `json:"equipment"`
}

// NPC is a non-player character owned by a campaign
type NPC struct {
	ID             string         `json:"id"`
	Name           string         `json:"name"`
	Species        string         `json:"species"`
	Role           string         `json:"role"`
	Description    string         `json:"description"`
	Classification string         `json:"classification"`
	Personality    *Personality   `json:"personality,omitempty"`
	Abilities      *AbilityScores `json:"abilities,omitempty"`
	Skills         []string       `json:"skills,omitempty"`
	StatBlock      *StatBlock     `json:"stat_block,omitempty"`
}

// Location is a place in the campaign world
type Location struct {
	ID          string             `json:"id"`
	Name        string             `json:"name"`
	Type        string             `json:"type"`
	Description string             `json:"description"`
	Coordinates *worldmap.Position `json:"coordinates,omitempty"`
	MapData     *worldmap.MapData  `json:"map_data,omitempty"`
}

// Quest status state machine: inactive -> active -> completed
type QuestStatus string

const (
	QuestInactive  QuestStatus = "inactive"
	QuestActive    QuestStatus = "active"
	QuestCompleted QuestStatus = "completed"
)

// Objective is one step of a quest
type Objective struct {
	ID          string `json:"id"`
	Description string `json:"description"`
	Completed   bool   `json:"completed"`
}

// QuestReward is granted when a quest completes
type QuestReward struct {
	Credits    int      `json:"credits,omitempty"`
	Experience int      `json:"experience,omitempty"`
	Items      []string `json:"items,omitempty"`
}

// Quest is a campaign quest. Objectives only grow; completing the last
// incomplete objective promotes the quest to completed.
type Quest struct {
	ID          string       `json:"id"`
	Title       string       `json:"title"`
	Description string       `json:"description"`
	Status      QuestStatus  `json:"status"`
	Objectives  []Objective  `json:"objectives"`
	Reward      *QuestReward `json:"reward,omitempty"`

	// Chain metadata: quests that must complete first, and an optional
	// expression over campaign state gating activation
	Prerequisites       []string `json:"prerequisites,omitempty"`
	ActivationCondition string   `json:"activation_condition,omitempty"`
}

// AllObjectivesComplete reports whether every objective is done. A quest
// with no objectives is never auto-completed.
func (q *Quest) AllObjectivesComplete() bool {
	if len(q.Objectives) == 0 {
		return false
	}
	for _, o := range q.Objectives {
		if !o.Completed {
			return false
		}
	}
	return true
}

// Campaign owns the NPC, location and quest collections for one story
type Campaign struct {
	ID                string     `json:"id"`
	Name              string     `json:"name"`
	Description       string     `json:"description"`
	CharacterID       string     `json:"character_id"`
	NPCs              []NPC      `json:"npcs"`
	Locations         []Location `json:"locations"`
	Quests            []Quest    `json:"quests"`
	CurrentLocationID string     `json:"current_location_id,omitempty"`
	Version           int        `json:"version"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// CampaignStore holds campaigns for one session. All collection mutations
// go through the dedicated upsert methods; there is no direct slice access.
type CampaignStore struct {
	mu        sync.RWMutex
	campaigns map[string]*Campaign
	lastError string
}

// NewCampaignStore creates an empty store
func NewCampaignStore() *CampaignStore {
	return &CampaignStore{campaigns: make(map[string]*Campaign)}
}

// Create adds a campaign, assigning an id if missing
func (s *CampaignStore) Create(c *Campaign) *Campaign {
	s.mu.Lock()
	defer s.mu.Unlock()

	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	if c.Version == 0 {
		c.Version = 1
	}
	now := time.Now()
	c.CreatedAt = now
	c.UpdatedAt = now
	if c.NPCs == nil {
		c.NPCs = []NPC{}
	}
	if c.Locations == nil {
		c.Locations = []Location{}
	}
	if c.Quests == nil {
		c.Quests = []Quest{}
	}

	stored := cloneCampaign(c)
	s.campaigns[c.ID] = stored
	return cloneCampaign(stored)
}

// Get returns a copy of a campaign by id
func (s *CampaignStore) Get(id string) (*Campaign, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.campaigns[id]
	if !ok {
		return nil, false
	}
	return cloneCampaign(c), true
}

// List returns copies of all campaigns
func (s *CampaignStore) List() []*Campaign {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*Campaign, 0, len(s.campaigns))
	for _, c := range s.campaigns {
		result = append(result, cloneCampaign(c))
	}
	return result
}

// Delete removes a campaign
func (s *CampaignStore) Delete(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.campaigns[id]; !ok {
		return false
	}
	delete(s.campaigns, id)
	return true
}

// LastError returns the message recorded by the most recent failed action
func (s *CampaignStore) LastError() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastError
}

// UpsertNPC appends a new NPC or updates the existing one with the same id.
// Returns the stored NPC and whether it was newly created.
func (s *CampaignStore) UpsertNPC(campaignID string, npc NPC) (NPC, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.campaigns[campaignID]
	if !ok {
		return NPC{}, false, fmt.Errorf("campaign %s not found", campaignID)
	}

	if npc.Classification == "" {
		npc.Classification = ClassificationBackground
	}

	if npc.ID != "" {
		for i := range c.NPCs {
			if c.NPCs[i].ID == npc.ID {
				mergeNPCInto(&c.NPCs[i], npc)
				s.touch(c)
				return c.NPCs[i], false, nil
			}
		}
	}

	if npc.ID == "" {
		npc.ID = uuid.New().String()
	}
	c.NPCs = append(c.NPCs, npc)
	s.touch(c)
	return npc, true, nil
}

// GetNPC returns an NPC by id
func (s *CampaignStore) GetNPC(campaignID, npcID string) (NPC, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.campaigns[campaignID]
	if !ok {
		return NPC{}, false
	}
	for _, n := range c.NPCs {
		if n.ID == npcID {
			return n, true
		}
	}
	return NPC{}, false
}

// UpsertLocation appends or updates a location by id. Map data goes through
// the spatial merge engine so repeated updates never duplicate features.
func (s *CampaignStore) UpsertLocation(campaignID string, loc Location) (Location, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.campaigns[campaignID]
	if !ok {
		return Location{}, false, fmt.Errorf("campaign %s not found", campaignID)
	}

	if loc.ID != "" {
		for i := range c.Locations {
			if c.Locations[i].ID == loc.ID {
				existing := &c.Locations[i]
				if loc.Name != "" {
					existing.Name = loc.Name
				}
				if loc.Type != "" {
					existing.Type = loc.Type
				}
				if loc.Description != "" {
					existing.Description = loc.Description
				}
				if loc.Coordinates != nil {
					existing.Coordinates = loc.Coordinates
				}
				if loc.MapData != nil {
					existing.MapData = worldmap.Merge(existing.MapData, loc.MapData)
				}
				s.touch(c)
				return *existing, false, nil
			}
		}
	}

	if loc.ID == "" {
		loc.ID = uuid.New().String()
	}
	if loc.MapData != nil {
		loc.MapData = worldmap.Merge(nil, loc.MapData)
	}
	c.Locations = append(c.Locations, loc)
	s.touch(c)
	return loc, true, nil
}

// GetLocation returns a location by id
func (s *CampaignStore) GetLocation(campaignID, locationID string) (Location, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.campaigns[campaignID]
	if !ok {
		return Location{}, false
	}
	for _, l := range c.Locations {
		if l.ID == locationID {
			return l, true
		}
	}
	return Location{}, false
}

// SetCurrentLocation moves the campaign's current-location pointer
func (s *CampaignStore) SetCurrentLocation(campaignID, locationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.campaigns[campaignID]
	if !ok {
		return fmt.Errorf("campaign %s not found", campaignID)
	}
	for _, l := range c.Locations {
		if l.ID == locationID {
			c.CurrentLocationID = locationID
			s.touch(c)
			return nil
		}
	}
	return fmt.Errorf("location %s not found in campaign %s", locationID, campaignID)
}

// UpsertQuest appends a new quest or updates the one with a matching id.
// Objectives are merged by id and never removed.
func (s *CampaignStore) UpsertQuest(campaignID string, quest Quest) (Quest, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.campaigns[campaignID]
	if !ok {
		return Quest{}, false, fmt.Errorf("campaign %s not found", campaignID)
	}

	if quest.Status == "" {
		quest.Status = QuestInactive
	}

	if quest.ID != "" {
		for i := range c.Quests {
			if c.Quests[i].ID == quest.ID {
				mergeQuestInto(&c.Quests[i], quest)
				s.touch(c)
				return c.Quests[i], false, nil
			}
		}
	}

	if quest.ID == "" {
		quest.ID = uuid.New().String()
	}
	for j := range quest.Objectives {
		if quest.Objectives[j].ID == "" {
			quest.Objectives[j].ID = uuid.New().String()
		}
	}
	c.Quests = append(c.Quests, quest)
	s.touch(c)
	return quest, true, nil
}

// ActivateQuest moves an inactive quest to active. Activating an already
// active or completed quest is a no-op.
func (s *CampaignStore) ActivateQuest(campaignID, questID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.campaigns[campaignID]
	if !ok {
		return fmt.Errorf("campaign %s not found", campaignID)
	}
	for i := range c.Quests {
		if c.Quests[i].ID == questID {
			if c.Quests[i].Status == QuestInactive {
				c.Quests[i].Status = QuestActive
				s.touch(c)
			}
			return nil
		}
	}
	return fmt.Errorf("quest %s not found", questID)
}

// CompleteObjective marks one objective complete. When it was the last
// incomplete objective the quest is promoted to completed.
func (s *CampaignStore) CompleteObjective(campaignID, questID, objectiveID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.campaigns[campaignID]
	if !ok {
		return fmt.Errorf("campaign %s not found", campaignID)
	}
	for i := range c.Quests {
		q := &c.Quests[i]
		if q.ID != questID {
			continue
		}
		for j := range q.Objectives {
			if q.Objectives[j].ID == objectiveID {
				q.Objectives[j].Completed = true
				if q.AllObjectivesComplete() {
					q.Status = QuestCompleted
				}
				s.touch(c)
				return nil
			}
		}
		return fmt.Errorf("objective %s not found on quest %s", objectiveID, questID)
	}
	return fmt.Errorf("quest %s not found", questID)
}

// CompletedQuestIDs returns the set of completed quest ids, used by the
// quest chain to evaluate prerequisites
func (s *CampaignStore) CompletedQuestIDs(campaignID string) map[string]bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make(map[string]bool)
	c, ok := s.campaigns[campaignID]
	if !ok {
		return result
	}
	for _, q := range c.Quests {
		if q.Status == QuestCompleted {
			result[q.ID] = true
		}
	}
	return result
}

func (s *CampaignStore) touch(c *Campaign) {
	c.Version++
	c.UpdatedAt = time.Now()
}

// mergeNPCInto copies populated incoming fields onto an existing NPC. It
// never clears a field the existing NPC already has.
func mergeNPCInto(dst *NPC, src NPC) {
	if src.Name != "" {
		dst.Name = src.Name
	}
	if src.Species != "" {
		dst.Species = src.Species
	}
	if src.Role != "" {
		dst.Role = src.Role
	}
	if src.Description != "" {
		dst.Description = src.Description
	}
	if src.Classification != "" && ClassificationRank(src.Classification) > ClassificationRank(dst.Classification) {
		dst.Classification = src.Classification
	}
	if src.Personality != nil {
		dst.Personality = src.Personality
	}
	if src.Abilities != nil {
		dst.Abilities = src.Abilities
	}
	if len(src.Skills) > 0 {
		dst.Skills = src.Skills
	}
	if src.StatBlock != nil {
		dst.StatBlock = src.StatBlock
	}
}

// mergeQuestInto merges an incoming quest update. Objectives are matched by
// id and appended when new; the objectives list never shrinks. Status only
// moves forward through the state machine.
func mergeQuestInto(dst *Quest, src Quest) {
	if src.Title != "" {
		dst.Title = src.Title
	}
	if src.Description != "" {
		dst.Description = src.Description
	}
	if src.Reward != nil {
		dst.Reward = src.Reward
	}
	if len(src.Prerequisites) > 0 {
		dst.Prerequisites = src.Prerequisites
	}
	if src.ActivationCondition != "" {
		dst.ActivationCondition = src.ActivationCondition
	}

	for _, incoming := range src.Objectives {
		matched := false
		if incoming.ID != "" {
			for j := range dst.Objectives {
				if dst.Objectives[j].ID == incoming.ID {
					if incoming.Description != "" {
						dst.Objectives[j].Description = incoming.Description
					}
					if incoming.Completed {
						dst.Objectives[j].Completed = true
					}
					matched = true
					break
				}
			}
		}
		if !matched {
			if incoming.ID == "" {
				incoming.ID = uuid.New().String()
			}
			dst.Objectives = append(dst.Objectives, incoming)
		}
	}

	if statusRank(src.Status) > statusRank(dst.Status) {
		dst.Status = src.Status
	}
	if dst.AllObjectivesComplete() {
		dst.Status = QuestCompleted
	}
}

func statusRank(s QuestStatus) int {
	switch s {
	case QuestActive:
		return 1
	case QuestCompleted:
		return 2
	default:
		return 0
	}
}

func cloneCampaign(c *Campaign) *Campaign {
	out := *c
	out.NPCs = append([]NPC(nil), c.NPCs...)
	out.Locations = append([]Location(nil), c.Locations...)
	out.Quests = make([]Quest, len(c.Quests))
	for i, q := range c.Quests {
		cq := q
		cq.Objectives = append([]Objective(nil), q.Objectives...)
		out.Quests[i] = cq
	}
	if out.NPCs == nil {
		out.NPCs = []NPC{}
	}
	if out.Locations == nil {
		out.Locations = []Location{}
	}
	return &out
}
