package debrief

import (
	"time"

	"github.com/tombdbad/sw5e-campaign-server/internal/game"
	"github.com/tombdbad/sw5e-campaign-server/internal/narrative"
)

// RequestType tags what kind of GM exchange an envelope is for
type RequestType string

const (
	RequestCampaignUpdate       RequestType = "campaignUpdate"
	RequestQuestGeneration      RequestType = "questGeneration"
	RequestNPCInteraction       RequestType = "npcInteraction"
	RequestCombatResolution     RequestType = "combatResolution"
	RequestLocationDescription  RequestType = "locationDescription"
	RequestCharacterDevelopment RequestType = "characterDevelopment"
)

// ValidRequestType reports whether t is a known request type
func ValidRequestType(t RequestType) bool {
	switch t {
	case RequestCampaignUpdate, RequestQuestGeneration, RequestNPCInteraction,
		RequestCombatResolution, RequestLocationDescription, RequestCharacterDevelopment:
		return true
	}
	return false
}

// Sections selects which projections a debrief includes
type Sections struct {
	CharacterDetails bool `json:"character_details"`
	NPCs             bool `json:"npcs"`
	Locations        bool `json:"locations"`
	Quests           bool `json:"quests"`
	GameState        bool `json:"game_state"`
}

// CharacterProjection is the reduced character view sent to the GM. ID and
// Name are always present; the rest only when character details were
// requested.
type CharacterProjection struct {
	ID          string              `json:"id"`
	Name        string              `json:"name"`
	Species     string              `json:"species,omitempty"`
	Class       string              `json:"class,omitempty"`
	Level       int                 `json:"level,omitempty"`
	Abilities   *game.AbilityScores `json:"abilities,omitempty"`
	CurrentHP   int                 `json:"current_hp,omitempty"`
	MaxHP       int                 `json:"max_hp,omitempty"`
	ForcePoints int                 `json:"force_points,omitempty"`
	Backstory   string              `json:"backstory,omitempty"`
	Notes       string              `json:"notes,omitempty"`
	Bonds       string              `json:"bonds,omitempty"`
	Profile     *narrative.Analysis `json:"profile,omitempty"`
}

// CampaignProjection is the reduced campaign view sent to the GM
type CampaignProjection struct {
	ID                string          `json:"id"`
	Name              string          `json:"name"`
	Description       string          `json:"description,omitempty"`
	NPCs              []game.NPC      `json:"npcs,omitempty"`
	Locations         []game.Location `json:"locations,omitempty"`
	Quests            []game.Quest    `json:"quests,omitempty"`
	CurrentLocationID string          `json:"current_location_id,omitempty"`
}

// Envelope is one GM exchange: the outbound snapshot plus, once a response
// has been reconciled, the parsed result. Persisted for audit, never
// reused.
type Envelope struct {
	ID          string               `json:"id"`
	SessionID   string               `json:"session_id"`
	RequestType RequestType          `json:"request_type"`
	Prompt      string               `json:"prompt"`
	Character   *CharacterProjection `json:"character,omitempty"`
	Campaign    *CampaignProjection  `json:"campaign,omitempty"`
	Response    *Result              `json:"response,omitempty"`
	CreatedAt   time.Time            `json:"created_at"`
	RespondedAt *time.Time           `json:"responded_at,omitempty"`
}

// Pending reports whether the envelope still awaits a response
func (e *Envelope) Pending() bool {
	return e.Response == nil
}

// CharacterUpdate is the partial character record a GM response may carry.
// Pointer fields distinguish "absent" from zero.
type CharacterUpdate struct {
	ID          string  `json:"id,omitempty"`
	CurrentHP   *int    `json:"current_hp,omitempty"`
	MaxHP       *int    `json:"max_hp,omitempty"`
	ForcePoints *int    `json:"force_points,omitempty"`
	Level       *int    `json:"level,omitempty"`
	Notes       *string `json:"notes,omitempty"`
	Experience  *int    `json:"experience,omitempty"`
}

// ObjectiveUpdate is one quest record in a GM response. The id refers to a
// quest: a matching id updates that quest, an unknown or empty id appends a
// new one.
type ObjectiveUpdate struct {
	ID          string           `json:"id,omitempty"`
	Title       string           `json:"title,omitempty"`
	Description string           `json:"description,omitempty"`
	Completed   bool             `json:"completed,omitempty"`
	Objectives  []game.Objective `json:"objectives,omitempty"`
	Reward      *game.QuestReward `json:"reward,omitempty"`
}

// Payload is the structured block of a GM response. Any subset of the
// collections may be present; each is processed independently.
type Payload struct {
	Locations  []game.Location   `json:"locations,omitempty"`
	Character  *CharacterUpdate  `json:"character,omitempty"`
	Objectives []ObjectiveUpdate `json:"objectives,omitempty"`
	NPCs       []game.NPC        `json:"npcs,omitempty"`
}

// Reconciliation statuses
type Status string

const (
	StatusOK           Status = "ok"
	StatusParseError   Status = "parse_error"
	StatusPartial      Status = "partial_failure"
)

// EntityCounts tallies new vs updated entities for one collection
type EntityCounts struct {
	New     int `json:"new"`
	Updated int `json:"updated"`
}

// EntityFailure records one entity that could not be applied
type EntityFailure struct {
	Collection string `json:"collection"`
	EntityID   string `json:"entity_id,omitempty"`
	Reason     string `json:"reason"`
}

// Result is the tagged outcome of reconciling a pasted response
type Result struct {
	Status    Status                  `json:"status"`
	Narrative string                  `json:"narrative"`
	Payload   *Payload                `json:"payload,omitempty"`
	Error     string                  `json:"error,omitempty"`
	Counts    map[string]EntityCounts `json:"counts,omitempty"`
	Failures  []EntityFailure         `json:"failures,omitempty"`
}
