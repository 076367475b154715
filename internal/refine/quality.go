package refine

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/kalambet/recall/internal/session"
)

// DefaultScrubMinWords is the word floor below which a result is treated
// as too short to be useful.
const DefaultScrubMinWords = 15

// defaultTrivialPattern matches bare acknowledgements and other
// single-phrase filler common in chat exports.
var defaultTrivialPattern = regexp.MustCompile(`(?i)^(ok(ay)?|thanks?( you| a lot)?|yes|no|sure|got it|sounds good|will do)[.!?]*$`)

// ScrubOptions controls the quality gate.
type ScrubOptions struct {
	// MinWordCount drops results shorter than this; zero uses the
	// default, negative disables the length check.
	MinWordCount int `json:"min_word_count"`
	// MinScore drops results scored below this; zero disables the check.
	MinScore float32 `json:"min_score"`
	// DropRoles removes results attributed to these author roles; nil
	// defaults to dropping system content.
	DropRoles []string `json:"drop_roles"`
	// TrivialPattern is a regexp for boilerplate text; empty uses the
	// built-in acknowledgement pattern.
	TrivialPattern string `json:"trivial_pattern"`
}

// ScrubStats reports what the quality gate removed.
type ScrubStats struct {
	FilteredByQuality int `json:"filtered_by_quality"`
}

// ScrubResults removes low-value results from the session: too short,
// scored below the floor, authored by a dropped role, or matching the
// triviality pattern. Pinned results always survive. An empty result set
// is a successful no-op.
func (e *Engine) ScrubResults(ctx context.Context, sessionID string, opts ScrubOptions) (session.Session, ScrubStats, error) {
	minWords := opts.MinWordCount
	if minWords == 0 {
		minWords = DefaultScrubMinWords
	}
	if minWords < 0 {
		minWords = 0
	}
	dropRoles := opts.DropRoles
	if dropRoles == nil {
		dropRoles = []string{"system"}
	}
	trivial := defaultTrivialPattern
	if opts.TrivialPattern != "" {
		var err error
		trivial, err = regexp.Compile(opts.TrivialPattern)
		if err != nil {
			return session.Session{}, ScrubStats{}, fmt.Errorf("compiling trivial pattern: %w", err)
		}
	}

	roleSet := make(map[string]struct{}, len(dropRoles))
	for _, role := range dropRoles {
		roleSet[strings.ToLower(role)] = struct{}{}
	}

	var stats ScrubStats
	snap, err := e.sessions.Update(sessionID, "scrub_results", "", func(s *session.Session) error {
		kept := s.Results[:0]
		for _, r := range s.Results {
			if s.IsPinned(r.ID) {
				kept = append(kept, r)
				continue
			}
			if lowValue(r.WordCount, r.Score, r.AuthorRole, r.Text, minWords, opts.MinScore, roleSet, trivial) {
				stats.FilteredByQuality++
				continue
			}
			kept = append(kept, r)
		}
		s.Results = kept
		return nil
	})
	if err != nil {
		return session.Session{}, ScrubStats{}, err
	}
	return snap, stats, nil
}

func lowValue(words int, score float32, role, text string, minWords int, minScore float32, dropRoles map[string]struct{}, trivial *regexp.Regexp) bool {
	if words < minWords {
		return true
	}
	if minScore > 0 && score < minScore {
		return true
	}
	if _, ok := dropRoles[strings.ToLower(role)]; ok {
		return true
	}
	return trivial.MatchString(strings.TrimSpace(text))
}
