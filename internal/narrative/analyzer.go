package narrative

import (
	"regexp"
	"sort"
	"strings"
)

// Analysis is the best-effort profile derived from a character's free-text
// fields. Every field is populated with a safe zero value when nothing
// matches; callers must treat the contents as flavor, not fact.
type Analysis struct {
	Themes        []string           `json:"themes"`
	Motivations   []string           `json:"motivations"`
	Personality   Personality        `json:"personality"`
	Entities      []NamedEntity      `json:"entities"`
	Sentiment     float64            `json:"sentiment"`
	Relationships []RelationshipHint `json:"relationships"`
	PlotHooks     []string           `json:"plot_hooks"`
}

// Personality groups trait-style signals
type Personality struct {
	Traits []string `json:"traits"`
	Values []string `json:"values"`
	Fears  []string `json:"fears"`
}

// NamedEntity is a proper noun spotted in the text
type NamedEntity struct {
	Name string `json:"name"`
	Kind string `json:"kind"`
}

// RelationshipHint links a named person to a relationship word found next
// to them
type RelationshipHint struct {
	Name     string `json:"name"`
	Relation string `json:"relation"`
}

// keywordRule maps trigger words to an output label. Each rule is a named
// row so individual rules can be unit tested and extended without touching
// the matching loop.
type keywordRule struct {
	Name     string
	Label    string
	Keywords []string
}

var themeRules = []keywordRule{
	{Name: "theme-redemption", Label: "redemption", Keywords: []string{"redeem", "redemption", "atone", "forgiveness", "second chance"}},
	{Name: "theme-revenge", Label: "revenge", Keywords: []string{"revenge", "avenge", "vengeance", "payback"}},
	{Name: "theme-loss", Label: "loss", Keywords: []string{"lost", "death of", "killed", "destroyed", "orphan", "widow"}},
	{Name: "theme-duty", Label: "duty", Keywords: []string{"duty", "oath", "sworn", "honor", "obligation"}},
	{Name: "theme-survival", Label: "survival", Keywords: []string{"survive", "survival", "escaped", "fled", "refugee"}},
	{Name: "theme-discovery", Label: "discovery", Keywords: []string{"discover", "explore", "unknown", "mystery", "ancient"}},
	{Name: "theme-power", Label: "power", Keywords: []string{"power", "control", "dominate", "rule", "throne"}},
	{Name: "theme-force", Label: "the force", Keywords: []string{"force", "jedi", "sith", "dark side", "light side"}},
}

var motivationRules = []keywordRule{
	{Name: "motive-wealth", Label: "wealth", Keywords: []string{"credits", "fortune", "riches", "wealthy", "debt"}},
	{Name: "motive-justice", Label: "justice", Keywords: []string{"justice", "righteous", "wronged", "innocent"}},
	{Name: "motive-knowledge", Label: "knowledge", Keywords: []string{"learn", "knowledge", "secrets", "holocron", "archive"}},
	{Name: "motive-protection", Label: "protection", Keywords: []string{"protect", "defend", "guard", "shield", "keep safe"}},
	{Name: "motive-freedom", Label: "freedom", Keywords: []string{"freedom", "free", "liberation", "escape slavery"}},
	{Name: "motive-belonging", Label: "belonging", Keywords: []string{"family", "home", "belong", "crew", "clan"}},
}

var traitRules = []keywordRule{
	{Name: "trait-brave", Label: "brave", Keywords: []string{"brave", "fearless", "bold", "courageous"}},
	{Name: "trait-cautious", Label: "cautious", Keywords: []string{"cautious", "careful", "wary", "suspicious"}},
	{Name: "trait-loyal", Label: "loyal", Keywords: []string{"loyal", "faithful", "devoted", "steadfast"}},
	{Name: "trait-reckless", Label: "reckless", Keywords: []string{"reckless", "impulsive", "rash", "hot-headed"}},
	{Name: "trait-cunning", Label: "cunning", Keywords: []string{"cunning", "clever", "sly", "scheming"}},
}

var valueRules = []keywordRule{
	{Name: "value-honor", Label: "honor", Keywords: []string{"honor", "honour", "code", "word is"}},
	{Name: "value-loyalty", Label: "loyalty", Keywords: []string{"never abandon", "stand by", "loyalty"}},
	{Name: "value-independence", Label: "independence", Keywords: []string{"own path", "no master", "independent", "answers to no one"}},
	{Name: "value-compassion", Label: "compassion", Keywords: []string{"compassion", "mercy", "kindness", "helps the weak"}},
}

var fearRules = []keywordRule{
	{Name: "fear-failure", Label: "failure", Keywords: []string{"afraid of failing", "fear of failure", "cannot fail"}},
	{Name: "fear-loss", Label: "losing loved ones", Keywords: []string{"afraid of losing", "fears losing", "cannot lose"}},
	{Name: "fear-darkside", Label: "the dark side", Keywords: []string{"dark side", "corruption", "temptation"}},
	{Name: "fear-capture", Label: "capture", Keywords: []string{"bounty", "hunted", "wanted", "imprisoned"}},
}

var plotHookRules = []keywordRule{
	{Name: "hook-unfinished", Label: "unfinished business", Keywords: []string{"never found", "still out there", "one day", "someday", "unfinished"}},
	{Name: "hook-secret", Label: "hidden secret", Keywords: []string{"secret", "hidden", "no one knows", "buried"}},
	{Name: "hook-debt", Label: "outstanding debt", Keywords: []string{"owes", "debt", "favor owed", "promised"}},
	{Name: "hook-missing", Label: "missing person", Keywords: []string{"missing", "disappeared", "vanished", "searching for"}},
	{Name: "hook-enemy", Label: "old enemy", Keywords: []string{"enemy", "betrayed by", "hunted by", "rival"}},
}

var positiveWords = []string{
	"hope", "love", "friend", "joy", "peace", "proud", "happy", "honor",
	"trust", "brave", "kind", "saved", "victory", "home",
}

var negativeWords = []string{
	"death", "fear", "hate", "betrayed", "lost", "pain", "anger", "destroyed",
	"alone", "dark", "revenge", "killed", "suffering", "war",
}

var relationWords = map[string]string{
	"father": "parent", "mother": "parent", "brother": "sibling",
	"sister": "sibling", "master": "mentor", "mentor": "mentor",
	"apprentice": "apprentice", "friend": "friend", "rival": "rival",
	"enemy": "enemy", "captain": "superior", "partner": "partner",
}

// properNounPattern matches runs of capitalized words, the crude stand-in
// for named entity extraction
var properNounPattern = regexp.MustCompile(`\b[A-Z][a-z]+(?:\s+[A-Z][a-z]+)*\b`)

// relationPattern captures "<relation word> <Name>" pairs
var relationPattern = regexp.MustCompile(`(?i)\b(father|mother|brother|sister|master|mentor|apprentice|friend|rival|enemy|captain|partner)[,]?\s+([A-Z][a-z]+)`)

// entityStopwords are capitalized words that are sentence furniture, not names
var entityStopwords = map[string]bool{
	"The": true, "A": true, "An": true, "I": true, "He": true, "She": true,
	"They": true, "It": true, "But": true, "And": true, "After": true,
	"Before": true, "When": true, "His": true, "Her": true, "My": true,
	"Their": true, "Now": true, "Then": true, "One": true, "No": true,
}

// Analyze derives a profile from a character's backstory, notes and bonds.
// Absent or unmatched text yields empty slices and a zero sentiment, never
// an error.
func Analyze(backstory, notes, bonds string) Analysis {
	text := strings.TrimSpace(strings.Join([]string{backstory, notes, bonds}, "\n"))
	a := Analysis{
		Themes:        []string{},
		Motivations:   []string{},
		Personality:   Personality{Traits: []string{}, Values: []string{}, Fears: []string{}},
		Entities:      []NamedEntity{},
		Relationships: []RelationshipHint{},
		PlotHooks:     []string{},
	}
	if text == "" {
		return a
	}

	lower := strings.ToLower(text)

	a.Themes = applyRules(lower, themeRules)
	a.Motivations = applyRules(lower, motivationRules)
	a.Personality.Traits = applyRules(lower, traitRules)
	a.Personality.Values = applyRules(lower, valueRules)
	a.Personality.Fears = applyRules(lower, fearRules)
	a.PlotHooks = applyRules(lower, plotHookRules)
	a.Sentiment = scoreSentiment(lower)
	a.Entities = extractEntities(text)
	a.Relationships = extractRelationships(text)

	return a
}

// applyRules returns the labels of all rules with at least one keyword hit,
// deduplicated and sorted for stable output
func applyRules(lower string, rules []keywordRule) []string {
	seen := make(map[string]bool)
	for _, rule := range rules {
		for _, kw := range rule.Keywords {
			if strings.Contains(lower, kw) {
				seen[rule.Label] = true
				break
			}
		}
	}

	result := make([]string, 0, len(seen))
	for label := range seen {
		result = append(result, label)
	}
	sort.Strings(result)
	return result
}

// scoreSentiment returns a polarity in [-1, 1] from positive/negative word
// counts
func scoreSentiment(lower string) float64 {
	pos, neg := 0, 0
	for _, w := range positiveWords {
		pos += strings.Count(lower, w)
	}
	for _, w := range negativeWords {
		neg += strings.Count(lower, w)
	}
	if pos+neg == 0 {
		return 0
	}
	return float64(pos-neg) / float64(pos+neg)
}

func extractEntities(text string) []NamedEntity {
	seen := make(map[string]bool)
	var result []NamedEntity
	for _, match := range properNounPattern.FindAllString(text, -1) {
		first := strings.Fields(match)[0]
		if entityStopwords[first] {
			continue
		}
		if seen[match] {
			continue
		}
		seen[match] = true
		result = append(result, NamedEntity{Name: match, Kind: "unknown"})
	}
	if result == nil {
		return []NamedEntity{}
	}
	return result
}

func extractRelationships(text string) []RelationshipHint {
	seen := make(map[string]bool)
	var result []RelationshipHint
	for _, m := range relationPattern.FindAllStringSubmatch(text, -1) {
		relation := relationWords[strings.ToLower(m[1])]
		if relation == "" {
			continue
		}
		key := relation + ":" + m[2]
		if seen[key] {
			continue
		}
		seen[key] = true
		result = append(result, RelationshipHint{Name: m[2], Relation: relation})
	}
	if result == nil {
		return []RelationshipHint{}
	}
	return result
}
