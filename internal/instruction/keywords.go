package instruction

import "github.com/crewfoundry/foreman/pkg/models"

// SpecializationKeywords is the single source of truth for mapping instruction
// text onto required specializations. The parser and the CLI both read from
// these tables so classification stays consistent.
type SpecializationKeywords struct {
	// Development keywords indicate implementation work. Development is also
	// the default when nothing else matches.
	Development []string

	// Testing keywords indicate verification work.
	Testing []string

	// UXDesign keywords indicate interface and experience work.
	UXDesign []string

	// ProjectManagement keywords indicate planning and coordination work.
	ProjectManagement []string
}

// DefaultSpecializationKeywords returns the authoritative keyword mappings.
var DefaultSpecializationKeywords = SpecializationKeywords{
	Development: []string{
		"implement",
		"build",
		"code",
		"develop",
		"api",
		"endpoint",
		"function",
		"refactor",
		"fix",
		"bug",
		"feature",
		"backend",
		"frontend",
		"database",
	},

	Testing: []string{
		"test",
		"verify",
		"validate",
		"qa",
		"coverage",
		"regression",
		"assert",
		"e2e",
		"end-to-end",
	},

	UXDesign: []string{
		"design",
		"ux",
		"ui",
		"wireframe",
		"mockup",
		"prototype",
		"layout",
		"usability",
		"accessibility",
	},

	ProjectManagement: []string{
		"plan",
		"schedule",
		"coordinate",
		"organize",
		"roadmap",
		"milestone",
		"sprint",
		"backlog",
		"prioritize",
	},
}

// tagKeywords extract sub-specialization tags from a fragment once its kind
// is known.
var tagKeywords = map[models.SpecializationKind][]string{
	models.SpecDevelopment: {
		"go", "golang", "python", "javascript", "typescript", "rust", "java",
		"sql", "api", "backend", "frontend",
	},
	models.SpecTesting: {
		"unit", "integration", "e2e", "regression", "performance", "load",
	},
	models.SpecUXDesign: {
		"wireframe", "mockup", "prototype", "accessibility", "mobile", "web",
	},
	models.SpecProjectManagement: {
		"sprint", "roadmap", "backlog", "estimation", "reporting",
	},
}

// priorityKeywords map urgency language onto priorities. Checked in order;
// the first match wins.
var priorityKeywords = []struct {
	words    []string
	priority models.Priority
}{
	{[]string{"urgent", "critical", "asap", "immediately"}, models.PriorityCritical},
	{[]string{"important", "high priority", "high-priority", "high", "soon"}, models.PriorityHigh},
	{[]string{"low priority", "low-priority", "low", "minor", "whenever", "eventually"}, models.PriorityLow},
}

// complexityUp doubles the duration estimate when present.
var complexityUp = []string{"complex", "advanced", "complicated", "sophisticated"}

// complexityDown halves the duration estimate when present.
var complexityDown = []string{"simple", "quick", "trivial", "small", "minor"}

// integrationKeywords indicate systemic cross-cutting work and raise the
// breakdown's aggregate complexity.
var integrationKeywords = []string{
	"integrate", "integration", "migrate", "migration", "architecture",
	"system-wide", "end-to-end", "cross-cutting",
}
