package graph

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/OFFIS-RIT/castgraph/internal/util"
	"github.com/OFFIS-RIT/castgraph/pkg/ai"
	"github.com/OFFIS-RIT/castgraph/pkg/common"

	"golang.org/x/time/rate"
)

// Oracle extracts structured character data from bounded text windows.
type Oracle interface {
	// Discover lists the characters appearing in a sample of the text.
	Discover(ctx context.Context, text string) ([]common.CharacterCandidate, error)
	// Analyze reports registry characters and their interactions in one
	// window. The registry is the closed vocabulary for the reply.
	Analyze(ctx context.Context, text string, registry *common.CharacterRegistry) (common.AnalysisResult, error)
}

type discoverResponse struct {
	Characters []discoveredCharacter `json:"characters" jsonschema_description:"Characters appearing in the excerpt"`
}

type discoveredCharacter struct {
	Name        string `json:"name" jsonschema_description:"Fullest name of the character used in the excerpt"`
	Mentions    int    `json:"mentions" jsonschema_description:"How often the character is named or referred to in the excerpt"`
	Description string `json:"description" jsonschema_description:"One or two sentences on who the character is"`
}

type analyzeResponse struct {
	Characters   []discoveredCharacter `json:"characters" jsonschema_description:"Known characters appearing in the excerpt"`
	Interactions []analyzedInteraction `json:"interactions" jsonschema_description:"Direct interactions between known characters"`
}

type analyzedInteraction struct {
	Source   string   `json:"source" jsonschema_description:"Canonical name of the character initiating the interaction"`
	Target   string   `json:"target" jsonschema_description:"Canonical name of the character the interaction is directed at"`
	Weight   int      `json:"weight" jsonschema_description:"Number of distinct times the interaction happens in the excerpt"`
	Contexts []string `json:"contexts" jsonschema_description:"Short evidence sentences from the excerpt"`
}

// AIOracle implements Oracle on top of a structured-output LLM client.
//
// An AIOracle should be created using NewAIOracle.
type AIOracle struct {
	client     ai.GraphAIClient
	limiter    *rate.Limiter
	maxRetries int
	timeout    time.Duration
	backoff    time.Duration
}

// NewAIOracleParams configures an AIOracle.
//
// RequestsPerMinute limits oracle calls across all runs sharing the oracle;
// zero disables the limit. MaxRetries is the number of attempts per call
// (default 2) and Timeout bounds each attempt (zero means none).
type NewAIOracleParams struct {
	Client            ai.GraphAIClient
	RequestsPerMinute int
	MaxRetries        int
	Timeout           time.Duration
	RetryBackoff      time.Duration
}

// NewAIOracle creates an AIOracle.
func NewAIOracle(params NewAIOracleParams) *AIOracle {
	limiter := rate.NewLimiter(rate.Inf, 0)
	if params.RequestsPerMinute > 0 {
		limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(params.RequestsPerMinute)), 1)
	}
	maxRetries := params.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 2
	}
	backoff := params.RetryBackoff
	if backoff <= 0 {
		backoff = 2 * time.Second
	}

	return &AIOracle{
		client:     params.Client,
		limiter:    limiter,
		maxRetries: maxRetries,
		timeout:    params.Timeout,
		backoff:    backoff,
	}
}

func (o *AIOracle) generate(ctx context.Context, name, description, prompt string, out any, opts ...ai.GenerateOption) error {
	return util.RetryErrWithContext(ctx, o.maxRetries, o.backoff, func(ctx context.Context) error {
		if err := o.limiter.Wait(ctx); err != nil {
			return err
		}
		if o.timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, o.timeout)
			defer cancel()
		}
		return o.client.GenerateCompletionWithFormat(ctx, name, description, prompt, out, opts...)
	})
}

// Discover implements Oracle.
func (o *AIOracle) Discover(ctx context.Context, text string) ([]common.CharacterCandidate, error) {
	prompt := fmt.Sprintf(ai.DiscoverPrompt, text)

	var res discoverResponse
	err := o.generate(
		ctx,
		"discover_characters",
		"Characters appearing in an excerpt of a literary work",
		prompt,
		&res,
		ai.WithSystemPrompts(ai.DiscoverSystemPrompt),
	)
	if err != nil {
		return nil, &OracleCallError{Op: "discover", Err: err}
	}

	candidates := make([]common.CharacterCandidate, 0, len(res.Characters))
	for _, c := range res.Characters {
		candidates = append(candidates, common.CharacterCandidate{
			Name:        c.Name,
			Mentions:    c.Mentions,
			Description: c.Description,
		})
	}
	return candidates, nil
}

// Analyze implements Oracle.
func (o *AIOracle) Analyze(ctx context.Context, text string, registry *common.CharacterRegistry) (common.AnalysisResult, error) {
	prompt := fmt.Sprintf(ai.AnalyzePrompt, vocabulary(registry), text)

	var res analyzeResponse
	err := o.generate(
		ctx,
		"analyze_window",
		"Known characters and their interactions in an excerpt of a literary work",
		prompt,
		&res,
		ai.WithSystemPrompts(ai.AnalyzeSystemPrompt),
	)
	if err != nil {
		return common.AnalysisResult{}, &OracleCallError{Op: "analyze", Err: err}
	}

	result := common.AnalysisResult{
		Characters:   make([]common.Character, 0, len(res.Characters)),
		Interactions: make([]common.Interaction, 0, len(res.Interactions)),
	}
	for _, c := range res.Characters {
		result.Characters = append(result.Characters, common.Character{
			Name:        c.Name,
			Mentions:    c.Mentions,
			Description: c.Description,
		})
	}
	for _, i := range res.Interactions {
		result.Interactions = append(result.Interactions, common.Interaction{
			Source:   i.Source,
			Target:   i.Target,
			Weight:   i.Weight,
			Contexts: i.Contexts,
		})
	}
	return result, nil
}

// vocabulary renders the registry as the prompt's character list.
func vocabulary(registry *common.CharacterRegistry) string {
	entries := registry.Entries()
	if len(entries) == 0 {
		return "(no known characters)"
	}

	var sb strings.Builder
	for _, e := range entries {
		sb.WriteString("- ")
		sb.WriteString(e.Name)
		if len(e.Aliases) > 0 {
			sb.WriteString(" (also: ")
			sb.WriteString(strings.Join(e.Aliases, ", "))
			sb.WriteString(")")
		}
		sb.WriteString("\n")
	}
	return sb.String()
}
