package game

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Ability names used for scores, saves and skill lookups
const (
	AbilityStrength     = "strength"
	AbilityDexterity    = "dexterity"
	AbilityConstitution = "constitution"
	AbilityIntelligence = "intelligence"
	AbilityWisdom       = "wisdom"
	AbilityCharisma     = "charisma"
)

// AbilityScores holds the six ability scores
type AbilityScores struct {
	Strength     int `json:"strength"`
	Dexterity    int `json:"dexterity"`
	Constitution int `json:"constitution"`
	Intelligence int `json:"intelligence"`
	Wisdom       int `json:"wisdom"`
	Charisma     int `json:"charisma"`
}

// DefaultAbilityScores returns the all-10s baseline used when no template
// or player input provides scores
func DefaultAbilityScores() AbilityScores {
	return AbilityScores{Strength: 10, Dexterity: 10, Constitution: 10, Intelligence: 10, Wisdom: 10, Charisma: 10}
}

// Score returns the named ability score, defaulting to 10 for unknown names
func (a AbilityScores) Score(ability string) int {
	switch ability {
	case AbilityStrength:
		return a.Strength
	case AbilityDexterity:
		return a.Dexterity
	case AbilityConstitution:
		return a.Constitution
	case AbilityIntelligence:
		return a.Intelligence
	case AbilityWisdom:
		return a.Wisdom
	case AbilityCharisma:
		return a.Charisma
	default:
		return 10
	}
}

// Modifier converts an ability score to its modifier, rounding down
func Modifier(score int) int {
	m := score - 10
	if m < 0 {
		m--
	}
	return m / 2
}

// Item is a piece of equipment
type Item struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Type     string `json:"type"`
	Damage   string `json:"damage,omitempty"`
	ACBonus  int    `json:"ac_bonus,omitempty"`
	Equipped bool   `json:"equipped"`
	Quantity int    `json:"quantity"`
}

// Character is a player character. Derived stats (modifiers, proficiency,
// AC, initiative, saves) are computed from the stored fields, never stored
// authoritatively.
type Character struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Species string `json:"species"`
	Class   string `json:"class"`
	Level   int    `json:"level"`

	Abilities AbilityScores `json:"abilities"`

	MaxHP          int `json:"max_hp"`
	CurrentHP      int `json:"current_hp"`
	MaxForcePoints int `json:"max_force_points"`
	ForcePoints    int `json:"force_points"`

	Equipment          []Item   `json:"equipment"`
	Powers             []string `json:"powers"`
	Feats              []string `json:"feats"`
	SkillProficiencies []string `json:"skill_proficiencies"`
	SaveProficiencies  []string `json:"save_proficiencies"`

	Backstory string `json:"backstory,omitempty"`
	Notes     string `json:"notes,omitempty"`
	Bonds     string `json:"bonds,omitempty"`

	Version   int       `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ProficiencyBonus returns the level-derived proficiency bonus
func (c *Character) ProficiencyBonus() int {
	if c.Level < 1 {
		return 2
	}
	return 2 + (c.Level-1)/4
}

// Initiative returns the initiative modifier
func (c *Character) Initiative() int {
	return Modifier(c.Abilities.Dexterity)
}

// ArmorClass returns 10 + dex modifier plus bonuses from equipped items
func (c *Character) ArmorClass() int {
	ac := 10 + Modifier(c.Abilities.Dexterity)
	for _, item := range c.Equipment {
		if item.Equipped {
			ac += item.ACBonus
		}
	}
	return ac
}

// SavingThrow returns the save modifier for an ability, including
// proficiency when the character is proficient in that save
func (c *Character) SavingThrow(ability string) int {
	mod := Modifier(c.Abilities.Score(ability))
	for _, p := range c.SaveProficiencies {
		if p == ability {
			return mod + c.ProficiencyBonus()
		}
	}
	return mod
}

// CommitFunc persists a character remotely. Store mutations call it inside
// the commit phase of an optimistic update.
type CommitFunc func(context.Context, *Character) error

// CharacterStore holds characters for one session. It is safe for
// concurrent use and is constructed per session, never shared globally.
type CharacterStore struct {
	mu         sync.RWMutex
	characters map[string]*Character
	lastError  string
}

// NewCharacterStore creates an empty store
func NewCharacterStore() *CharacterStore {
	return &CharacterStore{characters: make(map[string]*Character)}
}

// Create adds a character, assigning an id and initial version if missing
func (s *CharacterStore) Create(c *Character) *Character {
	s.mu.Lock()
	defer s.mu.Unlock()

	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	if c.Version == 0 {
		c.Version = 1
	}
	if c.Level < 1 {
		c.Level = 1
	}
	now := time.Now()
	c.CreatedAt = now
	c.UpdatedAt = now

	stored := cloneCharacter(c)
	s.characters[c.ID] = stored
	return cloneCharacter(stored)
}

// Get returns a copy of a character by id
func (s *CharacterStore) Get(id string) (*Character, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.characters[id]
	if !ok {
		return nil, false
	}
	return cloneCharacter(c), true
}

// List returns copies of all characters
func (s *CharacterStore) List() []*Character {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*Character, 0, len(s.characters))
	for _, c := range s.characters {
		result = append(result, cloneCharacter(c))
	}
	return result
}

// Delete removes a character
func (s *CharacterStore) Delete(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.characters[id]; !ok {
		return false
	}
	delete(s.characters, id)
	return true
}

// LastError returns the human-readable message recorded by the most recent
// failed action, or empty
func (s *CharacterStore) LastError() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastError
}

// Mutation is one optimistic update: the change is already applied locally
// and either committed remotely or rolled back. Exactly one of Commit or
// Rollback must be called.
type Mutation struct {
	store    *CharacterStore
	id       string
	previous *Character
	done     bool
}

// Apply mutates a character locally, bumps its version, and returns a
// Mutation whose Commit persists the change and whose Rollback restores the
// prior copy. This is the only way to modify a stored character.
func (s *CharacterStore) Apply(id string, mutate func(*Character)) (*Mutation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.characters[id]
	if !ok {
		return nil, fmt.Errorf("character %s not found", id)
	}

	previous := cloneCharacter(current)
	mutate(current)
	current.ID = id // mutators cannot reassign identity
	current.Version = previous.Version + 1
	current.UpdatedAt = time.Now()

	return &Mutation{store: s, id: id, previous: previous}, nil
}

// Commit persists the applied change through commit. On failure the local
// change is rolled back atomically and the error recorded on the store.
func (m *Mutation) Commit(ctx context.Context, commit CommitFunc) error {
	if m.done {
		return nil
	}
	m.done = true

	if commit == nil {
		return nil
	}

	m.store.mu.RLock()
	updated := cloneCharacter(m.store.characters[m.id])
	m.store.mu.RUnlock()

	if err := commit(ctx, updated); err != nil {
		m.store.mu.Lock()
		m.store.characters[m.id] = m.previous
		m.store.lastError = fmt.Sprintf("failed to save character: %v", err)
		m.store.mu.Unlock()
		return err
	}

	m.store.mu.Lock()
	m.store.lastError = ""
	m.store.mu.Unlock()
	return nil
}

// Rollback restores the character to its pre-mutation copy
func (m *Mutation) Rollback() {
	if m.done {
		return
	}
	m.done = true

	m.store.mu.Lock()
	m.store.characters[m.id] = m.previous
	m.store.mu.Unlock()
}

// ResolveConflict compares two copies of a character by version number and
// returns the newer one. Used by bulk import when a local and an imported
// copy disagree; a tie keeps the local copy.
func ResolveConflict(local, imported *Character) *Character {
	if imported.Version > local.Version {
		return imported
	}
	return local
}

func cloneCharacter(c *Character) *Character {
	out := *c
	out.Equipment = append([]Item(nil), c.Equipment...)
	out.Powers = append([]string(nil), c.Powers...)
	out.Feats = append([]string(nil), c.Feats...)
	out.SkillProficiencies = append([]string(nil), c.SkillProficiencies...)
	out.SaveProficiencies = append([]string(nil), c.SaveProficiencies...)
	return &out
}
