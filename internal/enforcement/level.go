package enforcement

// Level is the enforcement posture: how aggressively Knowledge Discovery
// results are surfaced to the agent runtime.
type Level string

const (
	LevelDisabled Level = "disabled"
	LevelAdvisory Level = "advisory"
	LevelCategory Level = "category"
	LevelStrict   Level = "strict"
)

// levelPriority orders levels disabled < advisory < category < strict for
// the effective-level computation.
var levelPriority = map[Level]int{
	LevelDisabled: 0,
	LevelAdvisory: 1,
	LevelCategory: 2,
	LevelStrict:   3,
}

func maxLevel(a, b Level) Level {
	if levelPriority[b] > levelPriority[a] {
		return b
	}
	return a
}

// categoryLevels maps a memory's category string to the enforcement level
// that category's knowledge warrants when the global level is "category".
// Unlisted categories default to advisory. This table makes "the maximum
// across all categories present in the returned memories" concrete, and
// mirrors the curated keyword->service_type table in internal/extract.
var categoryLevels = map[string]Level{
	"financial":      LevelStrict,
	"database":       LevelCategory,
	"security":       LevelStrict,
	"deployment":     LevelCategory,
	"infrastructure": LevelCategory,
}

func levelForCategory(category string) Level {
	if l, ok := categoryLevels[category]; ok {
		return l
	}
	return LevelAdvisory
}
