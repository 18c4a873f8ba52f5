package debrief

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tombdbad/sw5e-campaign-server/internal/events"
	"github.com/tombdbad/sw5e-campaign-server/internal/game"
	"github.com/tombdbad/sw5e-campaign-server/internal/narrative"
)

// Store persists debrief envelopes for audit
type Store interface {
	SaveDebrief(ctx context.Context, e *Envelope) error
	SetDebriefResponse(ctx context.Context, id string, result *Result) error
}

// Compiler assembles GM debriefs: a prompt plus reduced projections of the
// session state, sized to what the request type needs
type Compiler struct {
	Characters *game.CharacterStore
	Campaigns  *game.CampaignStore
	Bus        *events.Bus

	// Store is optional; nil keeps envelopes in memory only
	Store Store
}

// Config selects what a debrief contains
type Config struct {
	RequestType  RequestType `json:"request_type"`
	Sections     Sections    `json:"sections"`
	CustomPrompt string      `json:"custom_prompt,omitempty"`
}

// Request-type instructions. Each tells the GM what to produce; the shared
// format block below tells it how to structure the reply.
var promptTemplates = map[RequestType]string{
	RequestCampaignUpdate:       "Continue the campaign from the current state. Advance the story, describe what the character encounters next, and update any NPCs, locations or quests that change.",
	RequestQuestGeneration:      "Generate one or more new quests that fit the campaign's current state and the character's goals. Each quest needs a title, a description and concrete objectives.",
	RequestNPCInteraction:       "Play out an interaction between the character and the NPCs present. Stay true to each NPC's personality and goals, and record any changes to their disposition or knowledge.",
	RequestCombatResolution:     "Narrate the aftermath of the combat encounter. Describe injuries, loot and consequences, and update hit points and quest progress accordingly.",
	RequestLocationDescription:  "Describe the current location in vivid detail: terrain, atmosphere, notable features and who or what can be found there. Include structured map features with positions.",
	RequestCharacterDevelopment: "Reflect on the character's recent experiences. Suggest how their story develops, and update notes, experience or level where earned.",
}

const responseFormat = `Respond with narrative prose first. Then, on its own line, write exactly:

` + Delimiter + `

followed by a single JSON object with any of these optional keys:
  "locations":  array of location objects (id, name, type, description, map_data)
  "character":  partial character update (current_hp, max_hp, force_points, level, notes, experience)
  "objectives": array of quest updates (id, title, description, completed, objectives, reward)
  "npcs":       array of NPC objects (id, name, species, role, description, classification)

Omit keys with nothing to report. Reference existing entities by their id; omit the id to create new ones.`

// Compile builds a debrief envelope for one GM exchange, publishes it on
// the event bus, and persists it when a store is configured.
func (c *Compiler) Compile(ctx context.Context, sessionID, characterID, campaignID string, cfg Config) (*Envelope, error) {
	if !ValidRequestType(cfg.RequestType) {
		return nil, fmt.Errorf("unknown request type '%s'", cfg.RequestType)
	}

	character, ok := c.Characters.Get(characterID)
	if !ok {
		return nil, fmt.Errorf("character %s not found", characterID)
	}
	campaign, ok := c.Campaigns.Get(campaignID)
	if !ok {
		return nil, fmt.Errorf("campaign %s not found", campaignID)
	}

	envelope := &Envelope{
		ID:          uuid.New().String(),
		SessionID:   sessionID,
		RequestType: cfg.RequestType,
		Character:   projectCharacter(character, cfg.Sections),
		Campaign:    projectCampaign(campaign, cfg.Sections),
		CreatedAt:   time.Now(),
	}

	prompt, err := buildPrompt(cfg, envelope)
	if err != nil {
		return nil, fmt.Errorf("failed to create debrief: %w", err)
	}
	envelope.Prompt = prompt

	if c.Store != nil {
		if err := c.Store.SaveDebrief(ctx, envelope); err != nil {
			return nil, fmt.Errorf("failed to create debrief: %w", err)
		}
	}

	if c.Bus != nil {
		c.Bus.Publish(events.TopicGMReport, events.GMReport{ID: envelope.ID, Content: envelope.Prompt})
	}
	return envelope, nil
}

// projectCharacter reduces a character to the view the GM needs. ID and
// name always travel; the rest only when character details were requested.
func projectCharacter(ch *game.Character, sections Sections) *CharacterProjection {
	p := &CharacterProjection{ID: ch.ID, Name: ch.Name}
	if !sections.CharacterDetails {
		return p
	}

	abilities := ch.Abilities
	p.Species = ch.Species
	p.Class = ch.Class
	p.Level = ch.Level
	p.Abilities = &abilities
	p.CurrentHP = ch.CurrentHP
	p.MaxHP = ch.MaxHP
	p.ForcePoints = ch.ForcePoints
	p.Backstory = ch.Backstory
	p.Notes = ch.Notes
	p.Bonds = ch.Bonds

	profile := narrative.Analyze(ch.Backstory, ch.Notes, ch.Bonds)
	p.Profile = &profile
	return p
}

func projectCampaign(c *game.Campaign, sections Sections) *CampaignProjection {
	p := &CampaignProjection{ID: c.ID, Name: c.Name, Description: c.Description}
	if sections.NPCs {
		p.NPCs = c.NPCs
	}
	if sections.Locations {
		p.Locations = c.Locations
	}
	if sections.Quests {
		p.Quests = c.Quests
	}
	if sections.GameState {
		p.CurrentLocationID = c.CurrentLocationID
	}
	return p
}

func buildPrompt(cfg Config, envelope *Envelope) (string, error) {
	snapshot, err := json.MarshalIndent(map[string]interface{}{
		"character": envelope.Character,
		"campaign":  envelope.Campaign,
	}, "", "  ")
	if err != nil {
		return "", err
	}

	var b strings.Builder
	b.WriteString("You are the game master for a Star Wars 5E campaign.\n\n")
	b.WriteString(promptTemplates[cfg.RequestType])
	b.WriteString("\n\n")
	if custom := strings.TrimSpace(cfg.CustomPrompt); custom != "" {
		b.WriteString(custom)
		b.WriteString("\n\n")
	}
	b.WriteString("Current state:\n")
	b.Write(snapshot)
	b.WriteString("\n\n")
	b.WriteString(responseFormat)
	return b.String(), nil
}
