// Package scorer holds the local fallback estimate for authored
// prompts. The score is deterministic and never authoritative when a
// remote grade is available.
package scorer

import (
	"regexp"
	"strings"
)

const (
	minBase   = 10
	maxBase   = 60
	flagBonus = 10
	maxScore  = 100
)

var (
	bullets     = regexp.MustCompile(`\n[-*•]\s`)
	numbered    = regexp.MustCompile(`\b1\.\s|\b2\.\s|\b3\.\s`)
	constraints = regexp.MustCompile(`(?i)constraints|limit|cap at|no more than|exactly|format`)
	roles       = regexp.MustCompile(`(?i)you are|act as|role:|system:`)
)

// Score rates a prompt in [0, 100]. The base is the whitespace token
// count clamped to [10, 60]; each structural feature (bulleted lines,
// numbered steps, constraint vocabulary, role framing) adds 10.
func Score(text string) int {
	if strings.TrimSpace(text) == "" {
		return 0
	}

	base := len(strings.Fields(text))
	if base < minBase {
		base = minBase
	}
	if base > maxBase {
		base = maxBase
	}

	score := base
	for _, re := range []*regexp.Regexp{bullets, numbered, constraints, roles} {
		if re.MatchString(text) {
			score += flagBonus
		}
	}

	if score > maxScore {
		score = maxScore
	}

	return score
}
