package dice

import (
	"fmt"
	"math/rand"
	"regexp"
	"strconv"
	"time"
)

// RollMode selects how a d20 roll is made
type RollMode int

const (
	ModeNormal RollMode = iota
	ModeAdvantage
	ModeDisadvantage
)

// Roller produces random die rolls. A non-zero seed makes rolls
// deterministic, which tests rely on.
type Roller struct {
	rng *rand.Rand
}

// NewRoller creates a roller seeded from seed, or from the clock when seed is 0
func NewRoller(seed int64) *Roller {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Roller{rng: rand.New(rand.NewSource(seed))}
}

// Roll rolls a single die with the given number of sides
func (r *Roller) Roll(sides int) int {
	if sides < 1 {
		return 0
	}
	return r.rng.Intn(sides) + 1
}

// RollN rolls count dice and returns the individual results and their sum
func (r *Roller) RollN(count, sides int) ([]int, int) {
	results := make([]int, 0, count)
	total := 0
	for i := 0; i < count; i++ {
		v := r.Roll(sides)
		results = append(results, v)
		total += v
	}
	return results, total
}

// D20 rolls a d20 under the given mode. Both raw rolls are returned so
// callers can display the discarded die.
func (r *Roller) D20(mode RollMode) (result int, rolls []int) {
	first := r.Roll(20)
	switch mode {
	case ModeAdvantage:
		second := r.Roll(20)
		if second > first {
			return second, []int{first, second}
		}
		return first, []int{first, second}
	case ModeDisadvantage:
		second := r.Roll(20)
		if second < first {
			return second, []int{first, second}
		}
		return first, []int{first, second}
	default:
		return first, []int{first}
	}
}

// Formula is a parsed damage formula like "2d6+3"
type Formula struct {
	Count    int
	Sides    int
	Modifier int
}

var formulaPattern = regexp.MustCompile(`^(\d+)d(\d+)([+-]\d+)?$`)

// ParseFormula parses a dice formula of the form NdS, NdS+M or NdS-M
func ParseFormula(s string) (Formula, error) {
	m := formulaPattern.FindStringSubmatch(s)
	if m == nil {
		return Formula{}, fmt.Errorf("invalid dice formula: %q", s)
	}

	count, _ := strconv.Atoi(m[1])
	sides, _ := strconv.Atoi(m[2])
	if count < 1 || sides < 1 {
		return Formula{}, fmt.Errorf("invalid dice formula: %q", s)
	}

	modifier := 0
	if m[3] != "" {
		modifier, _ = strconv.Atoi(m[3])
	}

	return Formula{Count: count, Sides: sides, Modifier: modifier}, nil
}

// DamageRoll is the result of rolling a damage formula
type DamageRoll struct {
	Rolls    []int `json:"rolls"`
	Modifier int   `json:"modifier"`
	Total    int   `json:"total"`
}

// RollFormula parses and rolls a damage formula. When critical is true the
// number of damage dice is doubled; the flat modifier is not.
func (r *Roller) RollFormula(formula string, critical bool) (DamageRoll, error) {
	f, err := ParseFormula(formula)
	if err != nil {
		return DamageRoll{}, err
	}

	count := f.Count
	if critical {
		count *= 2
	}

	rolls, sum := r.RollN(count, f.Sides)
	total := sum + f.Modifier
	if total < 0 {
		total = 0
	}

	return DamageRoll{Rolls: rolls, Modifier: f.Modifier, Total: total}, nil
}
