package graph

import (
	"context"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/OFFIS-RIT/castgraph/pkg/common"
	"github.com/OFFIS-RIT/castgraph/pkg/logger"

	"golang.org/x/sync/errgroup"
)

// BuildRegistry runs character discovery on every sample concurrently and
// folds the candidates into a canonical registry. A failed discovery call
// contributes nothing; only cancellation of ctx is returned as an error.
func (g *GraphClient) BuildRegistry(
	ctx context.Context,
	oracle Oracle,
	samples []string,
) (*common.CharacterRegistry, error) {
	perSample := make([][]common.CharacterCandidate, len(samples))

	eg, gCtx := errgroup.WithContext(ctx)
	for i, sample := range samples {
		eg.Go(func() error {
			select {
			case <-gCtx.Done():
				return nil
			default:
			}

			candidates, err := oracle.Discover(gCtx, sample)
			if err != nil {
				logger.Warn("[Registry] Discovery failed for sample", "sample", i, "err", err)
				return nil
			}
			perSample[i] = candidates
			logger.Debug("[Registry] Discovered candidates", "sample", i, "count", len(candidates))
			return nil
		})
	}
	_ = eg.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	candidates := make([]common.CharacterCandidate, 0)
	for _, c := range perSample {
		candidates = append(candidates, c...)
	}

	entries := foldCandidates(candidates, g.minMentions)
	logger.Info("[Registry] Built character registry", "candidates", len(candidates), "characters", len(entries))

	return common.NewCharacterRegistry(entries), nil
}

type draftEntry struct {
	name        string
	aliases     []string
	known       map[string]struct{}
	description string
	mentions    int
}

func (e *draftEntry) addAlias(name string) {
	lower := strings.ToLower(name)
	if lower == strings.ToLower(e.name) {
		return
	}
	for _, a := range e.aliases {
		if strings.ToLower(a) == lower {
			return
		}
	}
	e.aliases = append(e.aliases, name)
	e.known[lower] = struct{}{}
}

// rename makes name canonical and keeps the previous canonical name as an alias.
func (e *draftEntry) rename(name string) {
	old := e.name
	e.name = name
	e.known[strings.ToLower(name)] = struct{}{}

	lower := strings.ToLower(name)
	kept := e.aliases[:0]
	for _, a := range e.aliases {
		if strings.ToLower(a) != lower {
			kept = append(kept, a)
		}
	}
	e.aliases = kept
	e.addAlias(old)
}

// foldCandidates merges discovery candidates into canonical entries in
// first-seen order and drops entries below minMentions.
//
// A candidate joins the first entry that already knows its exact name
// (case-insensitive, canonical or alias). Failing that it joins the first
// entry whose canonical name is similar to it; the longer of the two names
// becomes canonical. Otherwise it starts a new entry.
func foldCandidates(candidates []common.CharacterCandidate, minMentions int) []common.RegistryEntry {
	drafts := make([]*draftEntry, 0, len(candidates))

	for _, c := range candidates {
		name := normalizeName(c.Name)
		if name == "" {
			continue
		}
		lower := strings.ToLower(name)

		var entry *draftEntry
		for _, d := range drafts {
			if _, ok := d.known[lower]; ok {
				entry = d
				break
			}
		}
		if entry == nil {
			for _, d := range drafts {
				if similarNames(d.name, name) {
					entry = d
					if utf8.RuneCountInString(name) > utf8.RuneCountInString(d.name) {
						d.rename(name)
					} else {
						d.addAlias(name)
					}
					break
				}
			}
		}
		if entry == nil {
			entry = &draftEntry{
				name:  name,
				known: map[string]struct{}{lower: {}},
			}
			drafts = append(drafts, entry)
		}

		entry.mentions += atLeastOne(c.Mentions)
		if utf8.RuneCountInString(c.Description) > utf8.RuneCountInString(entry.description) {
			entry.description = c.Description
		}
	}

	entries := make([]common.RegistryEntry, 0, len(drafts))
	for _, d := range drafts {
		if d.mentions < minMentions {
			continue
		}
		aliases := d.aliases
		if aliases == nil {
			aliases = []string{}
		}
		entries = append(entries, common.RegistryEntry{
			Name:        d.name,
			Aliases:     aliases,
			Description: d.description,
			Mentions:    d.mentions,
		})
	}
	return entries
}

// similarNames reports whether two character names likely denote the same
// character: equal ignoring case, one contained in the other, or sharing a
// word longer than two characters. The rule is symmetric but not
// transitive, and shared titles ("Lady", "Aunt") do cause false merges.
func similarNames(a, b string) bool {
	a = strings.ToLower(strings.TrimSpace(a))
	b = strings.ToLower(strings.TrimSpace(b))
	if a == "" || b == "" {
		return false
	}
	if a == b || strings.Contains(a, b) || strings.Contains(b, a) {
		return true
	}

	words := make(map[string]struct{})
	for _, w := range nameWords(a) {
		words[w] = struct{}{}
	}
	for _, w := range nameWords(b) {
		if _, ok := words[w]; ok {
			return true
		}
	}
	return false
}

// nameWords splits a lowercased name into words longer than two characters.
func nameWords(name string) []string {
	fields := strings.FieldsFunc(name, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\'' && r != '-'
	})
	words := fields[:0]
	for _, f := range fields {
		if utf8.RuneCountInString(f) > 2 {
			words = append(words, f)
		}
	}
	return words
}

func normalizeName(name string) string {
	return strings.Join(strings.Fields(name), " ")
}

// atLeastOne treats missing or non-positive counts as a single occurrence.
func atLeastOne(m int) int {
	if m <= 0 {
		return 1
	}
	return m
}
