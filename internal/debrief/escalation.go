package debrief

import (
	"strings"

	"github.com/tombdbad/sw5e-campaign-server/internal/game"
)

// npcTemplate provides ability scores and skills for NPCs escalated to key
// or above. Matching is a case-insensitive substring test against the
// NPC's name and role.
type npcTemplate struct {
	Match     string
	Abilities game.AbilityScores
	Skills    []string
}

// Best-effort defaults; correctness of a template match is not guaranteed,
// only that escalated NPCs end up well-formed.
var npcTemplates = []npcTemplate{
	{
		Match:     "jedi",
		Abilities: game.AbilityScores{Strength: 12, Dexterity: 14, Constitution: 12, Intelligence: 12, Wisdom: 16, Charisma: 13},
		Skills:    []string{"Perception", "Insight", "Acrobatics"},
	},
	{
		Match:     "sith",
		Abilities: game.AbilityScores{Strength: 14, Dexterity: 13, Constitution: 14, Intelligence: 12, Wisdom: 11, Charisma: 16},
		Skills:    []string{"Intimidation", "Deception", "Athletics"},
	},
	{
		Match:     "soldier",
		Abilities: game.AbilityScores{Strength: 15, Dexterity: 13, Constitution: 14, Intelligence: 10, Wisdom: 11, Charisma: 10},
		Skills:    []string{"Athletics", "Survival"},
	},
	{
		Match:     "officer",
		Abilities: game.AbilityScores{Strength: 11, Dexterity: 12, Constitution: 12, Intelligence: 14, Wisdom: 13, Charisma: 14},
		Skills:    []string{"Persuasion", "Insight"},
	},
	{
		Match:     "smuggler",
		Abilities: game.AbilityScores{Strength: 10, Dexterity: 16, Constitution: 12, Intelligence: 13, Wisdom: 12, Charisma: 14},
		Skills:    []string{"Deception", "Piloting", "Sleight of Hand"},
	},
	{
		Match:     "droid",
		Abilities: game.AbilityScores{Strength: 12, Dexterity: 12, Constitution: 10, Intelligence: 16, Wisdom: 12, Charisma: 8},
		Skills:    []string{"Technology", "Lore"},
	},
	{
		Match:     "bounty hunter",
		Abilities: game.AbilityScores{Strength: 13, Dexterity: 16, Constitution: 13, Intelligence: 12, Wisdom: 13, Charisma: 10},
		Skills:    []string{"Survival", "Stealth", "Perception"},
	},
}

// lookupTemplate finds the first template whose match string appears in the
// NPC's name or role
func lookupTemplate(npc game.NPC) (npcTemplate, bool) {
	name := strings.ToLower(npc.Name)
	role := strings.ToLower(npc.Role)
	for _, tpl := range npcTemplates {
		if strings.Contains(name, tpl.Match) || strings.Contains(role, tpl.Match) {
			return tpl, true
		}
	}
	return npcTemplate{}, false
}

// escalateNPC enriches an NPC for its classification rank. Enrichment is
// additive: fields already set are never replaced or removed. Each rung of
// the ladder applies its own enrichment plus all lower rungs'.
func escalateNPC(npc *game.NPC) {
	rank := game.ClassificationRank(npc.Classification)

	if rank >= game.ClassificationRank(game.ClassificationKeyMinor) {
		ensurePersonality(npc)
	}
	if rank >= game.ClassificationRank(game.ClassificationKey) {
		ensureAbilities(npc)
	}
	if rank >= game.ClassificationRank(game.ClassificationCompanion) {
		ensureStatBlock(npc)
	}
}

func ensurePersonality(npc *game.NPC) {
	if npc.Personality != nil {
		return
	}
	npc.Personality = &game.Personality{
		Disposition: "neutral",
		Quirks:      []string{},
		Goals:       []string{},
	}
}

func ensureAbilities(npc *game.NPC) {
	if npc.Abilities == nil {
		if tpl, ok := lookupTemplate(*npc); ok {
			abilities := tpl.Abilities
			npc.Abilities = &abilities
		} else {
			abilities := game.DefaultAbilityScores()
			npc.Abilities = &abilities
		}
	}
	if len(npc.Skills) == 0 {
		if tpl, ok := lookupTemplate(*npc); ok {
			npc.Skills = append([]string(nil), tpl.Skills...)
		}
	}
}

func ensureStatBlock(npc *game.NPC) {
	if npc.StatBlock != nil {
		return
	}

	abilities := game.DefaultAbilityScores()
	if npc.Abilities != nil {
		abilities = *npc.Abilities
	}
	npc.StatBlock = &game.StatBlock{
		HitPoints:  10 + 2*game.Modifier(abilities.Constitution),
		ArmorClass: 10 + game.Modifier(abilities.Dexterity),
		Actions:    []string{"Unarmed strike"},
		Equipment:  []string{},
	}
	if npc.StatBlock.HitPoints < 1 {
		npc.StatBlock.HitPoints = 1
	}
}
