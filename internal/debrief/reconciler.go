package debrief

import (
	"context"
	"fmt"
	"strings"

	"github.com/tombdbad/sw5e-campaign-server/internal/game"
)

// Reconciler applies parsed GM responses to the session's stores. Each
// entity is applied independently; one bad entity never blocks the rest.
type Reconciler struct {
	Characters *game.CharacterStore
	Campaigns  *game.CampaignStore

	// Commit persists character mutations. Nil means in-memory only.
	Commit game.CommitFunc
}

// Reconcile parses raw pasted text and applies its payload. Collections are
// dispatched in a fixed order so locations referenced by later entities
// exist first: locations, character, objectives, NPCs.
func (r *Reconciler) Reconcile(ctx context.Context, campaignID, characterID, raw string) *Result {
	parsed, err := Parse(raw)
	if err != nil {
		return &Result{
			Status:    StatusParseError,
			Narrative: narrativePreview(raw),
			Error:     err.Error(),
		}
	}

	result := &Result{
		Status:    StatusOK,
		Narrative: parsed.Narrative,
		Payload:   parsed.Payload,
		Counts:    make(map[string]EntityCounts),
	}
	if parsed.Payload == nil {
		return result
	}

	r.applyLocations(campaignID, parsed.Payload.Locations, result)
	r.applyCharacter(ctx, characterID, parsed.Payload.Character, result)
	r.applyObjectives(campaignID, parsed.Payload.Objectives, result)
	r.applyNPCs(campaignID, parsed.Payload.NPCs, result)

	if len(result.Failures) > 0 {
		result.Status = StatusPartial
	}
	return result
}

func (r *Reconciler) applyLocations(campaignID string, locations []game.Location, result *Result) {
	for _, loc := range locations {
		loc := loc
		applyEntity(result, "locations", loc.ID, func() (bool, error) {
			_, created, err := r.Campaigns.UpsertLocation(campaignID, loc)
			return created, err
		})
	}
}

func (r *Reconciler) applyCharacter(ctx context.Context, characterID string, update *CharacterUpdate, result *Result) {
	if update == nil {
		return
	}
	id := update.ID
	if id == "" {
		id = characterID
	}

	applyEntity(result, "character", id, func() (bool, error) {
		mutation, err := r.Characters.Apply(id, func(c *game.Character) {
			if update.CurrentHP != nil {
				c.CurrentHP = *update.CurrentHP
			}
			if update.MaxHP != nil {
				c.MaxHP = *update.MaxHP
			}
			if update.ForcePoints != nil {
				c.ForcePoints = *update.ForcePoints
			}
			if update.Level != nil && *update.Level > c.Level {
				c.Level = *update.Level
			}
			if update.Notes != nil {
				c.Notes = appendNotes(c.Notes, *update.Notes)
			}
		})
		if err != nil {
			return false, err
		}
		return false, mutation.Commit(ctx, r.Commit)
	})
}

func (r *Reconciler) applyObjectives(campaignID string, objectives []ObjectiveUpdate, result *Result) {
	for _, obj := range objectives {
		obj := obj
		applyEntity(result, "objectives", obj.ID, func() (bool, error) {
			quest := game.Quest{
				ID:          obj.ID,
				Title:       obj.Title,
				Description: obj.Description,
				Objectives:  obj.Objectives,
				Reward:      obj.Reward,
			}
			if obj.Completed {
				quest.Status = game.QuestCompleted
			}
			_, created, err := r.Campaigns.UpsertQuest(campaignID, quest)
			return created, err
		})
	}
}

func (r *Reconciler) applyNPCs(campaignID string, npcs []game.NPC, result *Result) {
	for _, npc := range npcs {
		npc := npc
		applyEntity(result, "npcs", npc.ID, func() (bool, error) {
			stored, created, err := r.Campaigns.UpsertNPC(campaignID, npc)
			if err != nil {
				return created, err
			}

			// Escalation runs against the merged record so a classification
			// upgrade from this payload triggers its enrichment now
			enriched := stored
			escalateNPC(&enriched)
			if _, _, err := r.Campaigns.UpsertNPC(campaignID, enriched); err != nil {
				return created, err
			}
			return created, nil
		})
	}
}

// applyEntity runs one entity's apply function, recovering panics and
// recording counts or failures. A panic in one entity must not take down
// the whole reconciliation.
func applyEntity(result *Result, collection, entityID string, apply func() (bool, error)) {
	defer func() {
		if rec := recover(); rec != nil {
			result.Failures = append(result.Failures, EntityFailure{
				Collection: collection,
				EntityID:   entityID,
				Reason:     fmt.Sprintf("panic: %v", rec),
			})
		}
	}()

	created, err := apply()
	if err != nil {
		result.Failures = append(result.Failures, EntityFailure{
			Collection: collection,
			EntityID:   entityID,
			Reason:     err.Error(),
		})
		return
	}

	counts := result.Counts[collection]
	if created {
		counts.New++
	} else {
		counts.Updated++
	}
	result.Counts[collection] = counts
}

// narrativePreview recovers the prose part of a response whose structured
// block failed to parse, so the player still sees the story text
func narrativePreview(raw string) string {
	narrative, _, hasMarker := split(raw)
	if hasMarker {
		return narrative
	}
	return strings.TrimSpace(raw)
}

func appendNotes(existing, addition string) string {
	addition = strings.TrimSpace(addition)
	if addition == "" {
		return existing
	}
	if existing == "" {
		return addition
	}
	return existing + "\n\n" + addition
}
