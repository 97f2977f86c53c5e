package common

import (
	"strings"
)

// Character is a named person in the analysed text. Mentions is a
// cumulative count across every window that reported the character and
// Description holds the longest description observed so far.
type Character struct {
	Name        string   `json:"name"`
	Mentions    int      `json:"mentions"`
	Description string   `json:"description"`
	Aliases     []string `json:"aliases,omitempty"`
}

// Interaction is a directed, weighted edge between two characters.
// Source and Target are canonical registry names. Contexts holds short
// evidence snippets without duplicates, in first-seen order.
type Interaction struct {
	Source   string   `json:"source"`
	Target   string   `json:"target"`
	Weight   int      `json:"weight"`
	Contexts []string `json:"contexts"`
}

// AnalysisResult is both the raw output for a single window and the merged
// output of a whole run.
type AnalysisResult struct {
	Characters   []Character   `json:"characters"`
	Interactions []Interaction `json:"interactions"`
}

// Window is a contiguous slice of the source text. Start and End are
// character (rune) offsets, End exclusive.
type Window struct {
	Index int    `json:"index"`
	Start int    `json:"start"`
	End   int    `json:"end"`
	Text  string `json:"text"`
}

// CharacterCandidate is a single character reported by discovery on one
// sample of the text.
type CharacterCandidate struct {
	Name        string `json:"name"`
	Mentions    int    `json:"mentions"`
	Description string `json:"description"`
}

// AnalysisJob is the unit of work handed from the API to whoever runs the
// analysis, either in-process or through the job queue.
type AnalysisJob struct {
	SessionKey string `json:"sessionKey"`
	DocumentID string `json:"documentId"`
}

// UpdateType names the kind of a StreamingUpdate.
type UpdateType string

const (
	UpdateProgress         UpdateType = "progress"
	UpdateBatchComplete    UpdateType = "batch_complete"
	UpdateAnalysisComplete UpdateType = "analysis_complete"
	UpdateError            UpdateType = "error"
)

// StreamingUpdate is the event sent to progress subscribers of a session.
type StreamingUpdate struct {
	Type         UpdateType `json:"type"`
	BatchIndex   *int       `json:"batchIndex,omitempty"`
	TotalBatches *int       `json:"totalBatches,omitempty"`
	Data         any        `json:"data,omitempty"`
	Message      string     `json:"message"`
}

// Terminal reports whether no further updates follow u for its session.
func (u StreamingUpdate) Terminal() bool {
	return u.Type == UpdateAnalysisComplete || u.Type == UpdateError
}

// Phase names a step of the analysis run.
type Phase string

const (
	PhaseFetching    Phase = "fetching"
	PhaseDiscovering Phase = "discovering"
	PhaseAnalyzing   Phase = "analyzing"
	PhaseComplete    Phase = "complete"
	PhaseErrored     Phase = "errored"
)

// ProgressData is the payload of progress updates.
type ProgressData struct {
	Phase          Phase `json:"phase"`
	CharacterCount *int  `json:"characterCount,omitempty"`
	WindowCount    *int  `json:"windowCount,omitempty"`
}

// BatchSnapshot is the payload of batch_complete updates: the cumulative
// merged result after a batch.
type BatchSnapshot struct {
	Characters          []Character   `json:"characters"`
	Interactions        []Interaction `json:"interactions"`
	IsComplete          bool          `json:"isComplete"`
	DroppedInteractions int           `json:"droppedInteractions"`
}

// RegistryEntry is one canonical character of a CharacterRegistry.
type RegistryEntry struct {
	Name        string   `json:"name"`
	Aliases     []string `json:"aliases"`
	Description string   `json:"description"`
	Mentions    int      `json:"mentions"`
}

// CharacterRegistry is the closed, ordered vocabulary of canonical
// characters for one run. It is immutable after construction; accessors
// return copies.
type CharacterRegistry struct {
	entries []RegistryEntry
	exact   map[string]int
	folded  map[string]int
}

// NewCharacterRegistry builds a registry from entries in the given order.
// Later entries never shadow earlier ones on a case-insensitive lookup.
func NewCharacterRegistry(entries []RegistryEntry) *CharacterRegistry {
	r := &CharacterRegistry{
		entries: make([]RegistryEntry, 0, len(entries)),
		exact:   make(map[string]int, len(entries)),
		folded:  make(map[string]int, len(entries)),
	}
	for _, e := range entries {
		if _, ok := r.exact[e.Name]; ok {
			continue
		}
		idx := len(r.entries)
		r.entries = append(r.entries, copyEntry(e))
		r.exact[e.Name] = idx
		r.addFolded(e.Name, idx)
	}
	// Aliases go in after every canonical name so an alias never hides
	// another character's own name.
	for idx, e := range r.entries {
		for _, alias := range e.Aliases {
			r.addFolded(alias, idx)
		}
	}
	return r
}

func (r *CharacterRegistry) addFolded(name string, idx int) {
	key := strings.ToLower(strings.TrimSpace(name))
	if key == "" {
		return
	}
	if _, ok := r.folded[key]; !ok {
		r.folded[key] = idx
	}
}

// Len returns the number of canonical characters. A nil registry is empty.
func (r *CharacterRegistry) Len() int {
	if r == nil {
		return 0
	}
	return len(r.entries)
}

// Entries returns a copy of all entries in registry order.
func (r *CharacterRegistry) Entries() []RegistryEntry {
	if r == nil {
		return nil
	}
	out := make([]RegistryEntry, len(r.entries))
	for i, e := range r.entries {
		out[i] = copyEntry(e)
	}
	return out
}

// Names returns the canonical names in registry order.
func (r *CharacterRegistry) Names() []string {
	if r == nil {
		return nil
	}
	names := make([]string, len(r.entries))
	for i, e := range r.entries {
		names[i] = e.Name
	}
	return names
}

// Lookup returns the entry with exactly the given canonical name.
func (r *CharacterRegistry) Lookup(name string) (RegistryEntry, bool) {
	if r == nil {
		return RegistryEntry{}, false
	}
	idx, ok := r.exact[name]
	if !ok {
		return RegistryEntry{}, false
	}
	return copyEntry(r.entries[idx]), true
}

// Resolve maps a reported name onto its canonical registry name: an exact
// canonical match first, then a case-insensitive match on a canonical name
// or alias.
func (r *CharacterRegistry) Resolve(name string) (string, bool) {
	if r == nil {
		return "", false
	}
	if idx, ok := r.exact[name]; ok {
		return r.entries[idx].Name, true
	}
	if idx, ok := r.folded[strings.ToLower(strings.TrimSpace(name))]; ok {
		return r.entries[idx].Name, true
	}
	return "", false
}

func copyEntry(e RegistryEntry) RegistryEntry {
	if e.Aliases != nil {
		e.Aliases = append([]string(nil), e.Aliases...)
	}
	return e
}
