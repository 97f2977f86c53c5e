package graph

import (
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/OFFIS-RIT/castgraph/pkg/common"
)

// MergeStats counts what a merge discarded because it did not resolve to
// the registry.
type MergeStats struct {
	DroppedInteractions int
	DroppedCharacters   int
}

type interactionKey struct {
	source string
	target string
}

// Merge folds per-window results into one result over the registry's
// closed vocabulary. See MergeWithStats.
func Merge(results []common.AnalysisResult, registry *common.CharacterRegistry) common.AnalysisResult {
	merged, _ := MergeWithStats(results, registry)
	return merged
}

// MergeWithStats folds per-window results into one result.
//
// Every registry character starts with zero mentions. Reported characters
// that resolve to the registry add their mentions (at least one) and
// replace the description when theirs is strictly longer. Interactions are
// kept only if both endpoints resolve to distinct registry characters; they
// accumulate weight per ordered (source, target) pair and collect unique
// non-empty contexts. Characters without mentions are left out. Characters
// are ordered by mentions and interactions by weight, both descending and
// stable with respect to first appearance.
//
// Inputs are never modified, and merging the same inputs always yields the
// same output.
func MergeWithStats(results []common.AnalysisResult, registry *common.CharacterRegistry) (common.AnalysisResult, MergeStats) {
	var stats MergeStats

	entries := registry.Entries()
	characters := make([]common.Character, len(entries))
	position := make(map[string]int, len(entries))
	for i, e := range entries {
		characters[i] = common.Character{
			Name:        e.Name,
			Description: e.Description,
			Aliases:     e.Aliases,
		}
		position[e.Name] = i
	}

	interactions := make([]common.Interaction, 0)
	interactionPos := make(map[interactionKey]int)
	contextSeen := make(map[interactionKey]map[string]struct{})

	for _, result := range results {
		for _, c := range result.Characters {
			name, ok := registry.Resolve(c.Name)
			if !ok {
				stats.DroppedCharacters++
				continue
			}
			ch := &characters[position[name]]
			ch.Mentions += atLeastOne(c.Mentions)
			if utf8.RuneCountInString(c.Description) > utf8.RuneCountInString(ch.Description) {
				ch.Description = c.Description
			}
		}

		for _, in := range result.Interactions {
			source, okSource := registry.Resolve(in.Source)
			target, okTarget := registry.Resolve(in.Target)
			if !okSource || !okTarget || source == target {
				stats.DroppedInteractions++
				continue
			}

			key := interactionKey{source: source, target: target}
			idx, ok := interactionPos[key]
			if !ok {
				idx = len(interactions)
				interactionPos[key] = idx
				contextSeen[key] = make(map[string]struct{})
				interactions = append(interactions, common.Interaction{
					Source:   source,
					Target:   target,
					Contexts: []string{},
				})
			}

			it := &interactions[idx]
			it.Weight += atLeastOne(in.Weight)
			for _, c := range in.Contexts {
				c = strings.TrimSpace(c)
				if c == "" {
					continue
				}
				if _, dup := contextSeen[key][c]; dup {
					continue
				}
				contextSeen[key][c] = struct{}{}
				it.Contexts = append(it.Contexts, c)
			}
		}
	}

	kept := make([]common.Character, 0, len(characters))
	for _, c := range characters {
		if c.Mentions > 0 {
			kept = append(kept, c)
		}
	}

	sort.SliceStable(kept, func(i, j int) bool {
		return kept[i].Mentions > kept[j].Mentions
	})
	sort.SliceStable(interactions, func(i, j int) bool {
		return interactions[i].Weight > interactions[j].Weight
	})

	return common.AnalysisResult{
		Characters:   kept,
		Interactions: interactions,
	}, stats
}
