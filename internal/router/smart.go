package router

import "regexp"

type weightedPattern struct {
	re     *regexp.Regexp
	weight float64
}

// Patterns suggesting multi-agent orchestration.
var liaisonPatterns = []weightedPattern{
	{regexp.MustCompile(`(?i)refactor\s+(?:all|multiple|across|the\s+entire)\b`), 0.85},
	{regexp.MustCompile(`(?i)update\s+(?:all|every|each)\s+\w+\s+files?\b`), 0.80},
	{regexp.MustCompile(`(?i)migrate\s+(?:from|to|the)\b`), 0.75},
	{regexp.MustCompile(`(?i)coordinate\b`), 0.90},
	{regexp.MustCompile(`(?i)orchestrate\b`), 0.90},
	{regexp.MustCompile(`(?i)in\s+parallel\b`), 0.85},
	{regexp.MustCompile(`(?i)(?:and|then)\s+(?:run|execute)\s+(?:tests?|lint)`), 0.70},
	{regexp.MustCompile(`(?i)(?:build|implement)\s+.+\s+(?:and|with)\s+tests?`), 0.65},
	{regexp.MustCompile(`(?i)full\s+(?:stack|feature|implementation)`), 0.70},
	{regexp.MustCompile(`(?i)entire\s+(?:codebase|project|application)`), 0.80},
	{regexp.MustCompile(`(?i)(?:multiple|several|many)\s+(?:files?|components?|modules?)`), 0.75},
	{regexp.MustCompile(`(?i)across\s+(?:the\s+)?(?:codebase|project)`), 0.80},
}

// Patterns suggesting a simple single-agent task.
var simplePatterns = []weightedPattern{
	{regexp.MustCompile(`(?i)^fix\s+(?:the|this|a)\s+\w+`), 0.85},
	{regexp.MustCompile(`(?i)^(?:add|update|change|remove)\s+(?:the|this|a)\s+\w+`), 0.75},
	{regexp.MustCompile(`(?i)typo\b`), 0.90},
	{regexp.MustCompile(`(?i)^what\s+(?:is|does|are)\b`), 0.90},
	{regexp.MustCompile(`(?i)^explain\b`), 0.90},
	{regexp.MustCompile(`(?i)^how\s+(?:do|does|to)\b`), 0.85},
	{regexp.MustCompile(`(?i)^why\s+(?:is|does|do)\b`), 0.85},
	{regexp.MustCompile(`(?i)^read\s+(?:the\s+)?(?:file|code)`), 0.90},
	{regexp.MustCompile(`(?i)in\s+(?:this|the)\s+file\b`), 0.80},
}

func maxScore(patterns []weightedPattern, prompt string) float64 {
	score := 0.0
	for _, p := range patterns {
		if p.re.MatchString(prompt) && p.weight > score {
			score = p.weight
		}
	}
	return score
}

func scoreLiaison(prompt string) float64 { return maxScore(liaisonPatterns, prompt) }
func scoreSimple(prompt string) float64  { return maxScore(simplePatterns, prompt) }
