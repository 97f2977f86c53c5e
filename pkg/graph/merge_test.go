package graph

import (
	"reflect"
	"slices"
	"testing"

	"github.com/OFFIS-RIT/castgraph/pkg/common"
)

func veronaRegistry() *common.CharacterRegistry {
	return common.NewCharacterRegistry([]common.RegistryEntry{
		{Name: "Romeo", Aliases: []string{"Romeo Montague"}, Description: "A Montague", Mentions: 12},
		{Name: "Juliet", Aliases: []string{}, Description: "A Capulet", Mentions: 10},
		{Name: "Tybalt", Aliases: []string{}, Description: "Juliet's cousin", Mentions: 4},
	})
}

func veronaResults() []common.AnalysisResult {
	return []common.AnalysisResult{
		{
			Characters: []common.Character{
				{Name: "Romeo", Mentions: 3, Description: "Short"},
				{Name: "Juliet", Mentions: 2},
			},
			Interactions: []common.Interaction{
				{Source: "Romeo", Target: "Juliet", Weight: 2, Contexts: []string{"balcony", "  "}},
				{Source: "Romeo", Target: "Paris", Weight: 1},
				{Source: "Romeo", Target: "romeo montague", Weight: 1},
			},
		},
		{
			Characters: []common.Character{
				{Name: "romeo montague", Description: "Only son of Lord Montague, in love with Juliet"},
				{Name: "Paris", Mentions: 4},
			},
			Interactions: []common.Interaction{
				{Source: "Juliet", Target: "Romeo", Contexts: []string{"tomb"}},
				{Source: "ROMEO", Target: "juliet", Weight: 1, Contexts: []string{"balcony ", "tomb"}},
			},
		},
	}
}

func TestMergeWithStats(t *testing.T) {
	merged, stats := MergeWithStats(veronaResults(), veronaRegistry())

	if len(merged.Characters) != 2 {
		t.Fatalf("len(Characters) = %d, want 2: %+v", len(merged.Characters), merged.Characters)
	}
	romeo, juliet := merged.Characters[0], merged.Characters[1]
	if romeo.Name != "Romeo" || romeo.Mentions != 4 {
		t.Errorf("Characters[0] = %+v, want Romeo with 4 mentions", romeo)
	}
	if romeo.Description != "Only son of Lord Montague, in love with Juliet" {
		t.Errorf("Romeo description = %q", romeo.Description)
	}
	if !slices.Equal(romeo.Aliases, []string{"Romeo Montague"}) {
		t.Errorf("Romeo aliases = %v", romeo.Aliases)
	}
	if juliet.Name != "Juliet" || juliet.Mentions != 2 || juliet.Description != "A Capulet" {
		t.Errorf("Characters[1] = %+v", juliet)
	}

	want := []common.Interaction{
		{Source: "Romeo", Target: "Juliet", Weight: 3, Contexts: []string{"balcony", "tomb"}},
		{Source: "Juliet", Target: "Romeo", Weight: 1, Contexts: []string{"tomb"}},
	}
	if !reflect.DeepEqual(merged.Interactions, want) {
		t.Errorf("Interactions = %+v, want %+v", merged.Interactions, want)
	}

	if stats.DroppedInteractions != 2 {
		t.Errorf("DroppedInteractions = %d, want 2", stats.DroppedInteractions)
	}
	if stats.DroppedCharacters != 1 {
		t.Errorf("DroppedCharacters = %d, want 1", stats.DroppedCharacters)
	}
}

func TestMergeIdempotentAndPure(t *testing.T) {
	registry := veronaRegistry()
	results := veronaResults()
	pristine := veronaResults()

	first := Merge(results, registry)
	second := Merge(results, registry)

	if !reflect.DeepEqual(first, second) {
		t.Errorf("Merge() not idempotent:\n%+v\n%+v", first, second)
	}
	if !reflect.DeepEqual(results, pristine) {
		t.Error("Merge() modified its input")
	}
	if e, _ := registry.Lookup("Romeo"); e.Mentions != 12 {
		t.Errorf("registry mentions = %d, want 12", e.Mentions)
	}
}

func TestMergeMonotonic(t *testing.T) {
	registry := veronaRegistry()
	results := veronaResults()

	for i := 1; i < len(results); i++ {
		before := Merge(results[:i], registry)
		after := Merge(results[:i+1], registry)

		mentions := make(map[string]int)
		for _, c := range after.Characters {
			mentions[c.Name] = c.Mentions
		}
		for _, c := range before.Characters {
			if mentions[c.Name] < c.Mentions {
				t.Errorf("%s mentions dropped from %d to %d", c.Name, c.Mentions, mentions[c.Name])
			}
		}

		weights := make(map[interactionKey]int)
		for _, in := range after.Interactions {
			weights[interactionKey{in.Source, in.Target}] = in.Weight
		}
		for _, in := range before.Interactions {
			if w := weights[interactionKey{in.Source, in.Target}]; w < in.Weight {
				t.Errorf("%s->%s weight dropped from %d to %d", in.Source, in.Target, in.Weight, w)
			}
		}
	}
}

func TestMergeIntegrityAndDedup(t *testing.T) {
	registry := veronaRegistry()
	merged := Merge(veronaResults(), registry)

	for _, in := range merged.Interactions {
		if _, ok := registry.Lookup(in.Source); !ok {
			t.Errorf("interaction source %q not in registry", in.Source)
		}
		if _, ok := registry.Lookup(in.Target); !ok {
			t.Errorf("interaction target %q not in registry", in.Target)
		}
		if in.Source == in.Target {
			t.Errorf("self interaction %q", in.Source)
		}
		seen := make(map[string]bool)
		for _, c := range in.Contexts {
			if seen[c] {
				t.Errorf("duplicate context %q on %s->%s", c, in.Source, in.Target)
			}
			seen[c] = true
		}
	}
}

func TestMergeStableOrdering(t *testing.T) {
	registry := common.NewCharacterRegistry([]common.RegistryEntry{
		{Name: "Anne"}, {Name: "Gilbert"}, {Name: "Marilla"}, {Name: "Matthew"},
	})
	results := []common.AnalysisResult{{
		Characters: []common.Character{
			{Name: "Matthew", Mentions: 2},
			{Name: "Gilbert", Mentions: 2},
			{Name: "Anne", Mentions: 5},
		},
		Interactions: []common.Interaction{
			{Source: "Matthew", Target: "Anne", Weight: 1},
			{Source: "Gilbert", Target: "Anne", Weight: 1},
			{Source: "Anne", Target: "Marilla", Weight: 4},
		},
	}}

	merged := Merge(results, registry)

	var names []string
	for _, c := range merged.Characters {
		names = append(names, c.Name)
	}
	if want := []string{"Anne", "Gilbert", "Matthew"}; !slices.Equal(names, want) {
		t.Errorf("character order = %v, want %v", names, want)
	}

	var pairs []string
	for _, in := range merged.Interactions {
		pairs = append(pairs, in.Source+">"+in.Target)
	}
	if want := []string{"Anne>Marilla", "Matthew>Anne", "Gilbert>Anne"}; !slices.Equal(pairs, want) {
		t.Errorf("interaction order = %v, want %v", pairs, want)
	}
}

func TestMergeEmptyRegistry(t *testing.T) {
	merged, stats := MergeWithStats(veronaResults(), common.NewCharacterRegistry(nil))
	if len(merged.Characters) != 0 || len(merged.Interactions) != 0 {
		t.Errorf("Merge() = %+v, want empty result", merged)
	}
	if merged.Characters == nil || merged.Interactions == nil {
		t.Error("Merge() returned nil slices")
	}
	if stats.DroppedInteractions != 5 {
		t.Errorf("DroppedInteractions = %d, want 5", stats.DroppedInteractions)
	}
}
