package game

import (
	"fmt"
	"sort"
	"sync"

	"github.com/tombdbad/sw5e-campaign-server/internal/dice"
)

// Combat session states
type CombatState string

const (
	CombatIdle   CombatState = "idle"
	CombatActive CombatState = "active"
)

// Combat outcomes
type CombatOutcome string

const (
	OutcomeOngoing CombatOutcome = "ongoing"
	OutcomeVictory CombatOutcome = "victory"
	OutcomeDefeat  CombatOutcome = "defeat"
)

// Combatant lives only for the duration of one combat session
type Combatant struct {
	ID             string          `json:"id"`
	Name           string          `json:"name"`
	HP             int             `json:"hp"`
	MaxHP          int             `json:"max_hp"`
	ArmorClass     int             `json:"armor_class"`
	Initiative     int             `json:"initiative"`
	InitiativeMod  int             `json:"initiative_mod"`
	IsPlayer       bool            `json:"is_player"`
	Conditions     map[string]bool `json:"conditions"`
	Abilities      *AbilityScores  `json:"abilities,omitempty"`
	AttackModifier int             `json:"attack_modifier"`
	DamageFormula  string          `json:"damage_formula,omitempty"`
}

// AttackResult describes one resolved attack
type AttackResult struct {
	AttackerID string        `json:"attacker_id"`
	TargetID   string        `json:"target_id"`
	Roll       int           `json:"roll"`
	Total      int           `json:"total"`
	Hit        bool          `json:"hit"`
	Critical   bool          `json:"critical"`
	Damage     int           `json:"damage"`
	TargetHP   int           `json:"target_hp"`
	Outcome    CombatOutcome `json:"outcome"`
}

// CombatSession maintains the ordered combatant list and strict round-robin
// turns for one encounter. Combatants are discarded when combat ends.
type CombatSession struct {
	mu          sync.Mutex
	state       CombatState
	round       int
	currentTurn int
	combatants  []*Combatant
	roller      *dice.Roller
}

// NewCombatSession creates an idle session. Seed is passed through to the
// roller so tests can pin rolls.
func NewCombatSession(seed int64) *CombatSession {
	return &CombatSession{
		state:  CombatIdle,
		roller: dice.NewRoller(seed),
	}
}

// State returns the current state
func (cs *CombatSession) State() CombatState {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return cs.state
}

// Round returns the current round number
func (cs *CombatSession) Round() int {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return cs.round
}

// CurrentTurn returns the index of the combatant whose turn it is
func (cs *CombatSession) CurrentTurn() int {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return cs.currentTurn
}

// Combatants returns copies of the combatants in turn order
func (cs *CombatSession) Combatants() []Combatant {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	result := make([]Combatant, 0, len(cs.combatants))
	for _, c := range cs.combatants {
		result = append(result, *c)
	}
	return result
}

// Start rolls initiative for every combatant (1d20 + modifier), sorts
// descending, and moves to the active state at round 1, turn 0
func (cs *CombatSession) Start(combatants []Combatant) error {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	if cs.state != CombatIdle {
		return fmt.Errorf("combat already active")
	}
	if len(combatants) == 0 {
		return fmt.Errorf("no combatants")
	}

	cs.combatants = make([]*Combatant, 0, len(combatants))
	for i := range combatants {
		c := combatants[i]
		if c.Conditions == nil {
			c.Conditions = make(map[string]bool)
		}
		if c.MaxHP == 0 {
			c.MaxHP = c.HP
		}
		roll, _ := cs.roller.D20(dice.ModeNormal)
		c.Initiative = roll + c.InitiativeMod
		cs.combatants = append(cs.combatants, &c)
	}

	sort.SliceStable(cs.combatants, func(i, j int) bool {
		return cs.combatants[i].Initiative > cs.combatants[j].Initiative
	})

	cs.state = CombatActive
	cs.round = 1
	cs.currentTurn = 0
	return nil
}

// NextTurn advances to the next combatant. Wrapping back to the first
// combatant increments the round.
func (cs *CombatSession) NextTurn() (turn, round int, err error) {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	if cs.state != CombatActive {
		return 0, 0, fmt.Errorf("combat not active")
	}

	cs.currentTurn = (cs.currentTurn + 1) % len(cs.combatants)
	if cs.currentTurn == 0 {
		cs.round++
	}
	return cs.currentTurn, cs.round, nil
}

// ApplyDamage subtracts damage from a combatant, clamping at 0, and
// evaluates whether one side has been wiped out. A terminal outcome ends
// the session automatically.
func (cs *CombatSession) ApplyDamage(combatantID string, amount int) (CombatOutcome, error) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return cs.applyDamageLocked(combatantID, amount)
}

func (cs *CombatSession) applyDamageLocked(combatantID string, amount int) (CombatOutcome, error) {
	if cs.state != CombatActive {
		return OutcomeOngoing, fmt.Errorf("combat not active")
	}

	target := cs.findLocked(combatantID)
	if target == nil {
		return OutcomeOngoing, fmt.Errorf("combatant %s not found", combatantID)
	}

	target.HP -= amount
	if target.HP < 0 {
		target.HP = 0
	}

	outcome := cs.evaluateOutcomeLocked()
	if outcome != OutcomeOngoing {
		cs.state = CombatIdle
	}
	return outcome, nil
}

// Heal restores hit points, clamped at max
func (cs *CombatSession) Heal(combatantID string, amount int) error {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	if cs.state != CombatActive {
		return fmt.Errorf("combat not active")
	}
	target := cs.findLocked(combatantID)
	if target == nil {
		return fmt.Errorf("combatant %s not found", combatantID)
	}

	target.HP += amount
	if target.HP > target.MaxHP {
		target.HP = target.MaxHP
	}
	return nil
}

// SetCondition sets or clears a named condition flag on a combatant
func (cs *CombatSession) SetCondition(combatantID, condition string, active bool) error {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	target := cs.findLocked(combatantID)
	if target == nil {
		return fmt.Errorf("combatant %s not found", combatantID)
	}
	if active {
		target.Conditions[condition] = true
	} else {
		delete(target.Conditions, condition)
	}
	return nil
}

// Attack resolves one attack: 1d20 + the attacker's modifier against the
// target's AC. A natural 20 is always a critical hit regardless of AC and
// doubles the damage dice.
func (cs *CombatSession) Attack(attackerID, targetID string, mode dice.RollMode) (*AttackResult, error) {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	if cs.state != CombatActive {
		return nil, fmt.Errorf("combat not active")
	}

	attacker := cs.findLocked(attackerID)
	if attacker == nil {
		return nil, fmt.Errorf("combatant %s not found", attackerID)
	}
	target := cs.findLocked(targetID)
	if target == nil {
		return nil, fmt.Errorf("combatant %s not found", targetID)
	}

	roll, _ := cs.roller.D20(mode)
	result := &AttackResult{
		AttackerID: attackerID,
		TargetID:   targetID,
		Roll:       roll,
		Total:      roll + attacker.AttackModifier,
		Critical:   roll == 20,
		Outcome:    OutcomeOngoing,
	}
	result.Hit = result.Critical || result.Total >= target.ArmorClass

	if !result.Hit {
		result.TargetHP = target.HP
		return result, nil
	}

	formula := attacker.DamageFormula
	if formula == "" {
		formula = "1d6"
	}
	damage, err := cs.roller.RollFormula(formula, result.Critical)
	if err != nil {
		return nil, fmt.Errorf("bad damage formula for %s: %w", attackerID, err)
	}
	result.Damage = damage.Total

	outcome, err := cs.applyDamageLocked(targetID, damage.Total)
	if err != nil {
		return nil, err
	}
	result.Outcome = outcome
	result.TargetHP = target.HP
	return result, nil
}

// End terminates combat explicitly and discards the combatant list
func (cs *CombatSession) End() {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	cs.state = CombatIdle
	cs.combatants = nil
	cs.round = 0
	cs.currentTurn = 0
}

// evaluateOutcomeLocked checks whether all of one side is at 0 hp
func (cs *CombatSession) evaluateOutcomeLocked() CombatOutcome {
	playersAlive := false
	playersPresent := false
	enemiesAlive := false
	enemiesPresent := false

	for _, c := range cs.combatants {
		if c.IsPlayer {
			playersPresent = true
			if c.HP > 0 {
				playersAlive = true
			}
		} else {
			enemiesPresent = true
			if c.HP > 0 {
				enemiesAlive = true
			}
		}
	}

	if enemiesPresent && !enemiesAlive {
		return OutcomeVictory
	}
	if playersPresent && !playersAlive {
		return OutcomeDefeat
	}
	return OutcomeOngoing
}

func (cs *CombatSession) findLocked(id string) *Combatant {
	for _, c := range cs.combatants {
		if c.ID == id {
			return c
		}
	}
	return nil
}
