package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Completer is the narrow surface the pipeline workers depend on. The real
// Client satisfies it; tests substitute canned completions.
type Completer interface {
	Complete(ctx context.Context, model, system, user string) (string, error)
}

// MarketDraft is the structured output of the drafting stage.
type MarketDraft struct {
	Title           string   `json:"title"`
	Description     string   `json:"description"`
	Category        string   `json:"category"`
	ExactQuestion   string   `json:"exact_question"`
	MustMeetAll     []string `json:"must_meet_all"`
	MustNotCount    []string `json:"must_not_count"`
	AllowedSources  []string `json:"allowed_sources"`
	Expiry          string   `json:"expiry"`
	ConfidenceScore float64  `json:"confidence_score"`
}

// ExpiryTime parses the draft's expiry, which the model emits as RFC 3339.
func (d MarketDraft) ExpiryTime() (time.Time, error) {
	return time.Parse(time.RFC3339, d.Expiry)
}

const draftSystemPrompt = `You design binary YES/NO prediction markets. Given raw source text,
respond with a JSON object: title, description, category (one of the provided
categories), exact_question, must_meet_all (string array), must_not_count
(string array), allowed_sources (string array of domains), expiry (RFC 3339
timestamp after which the question is decidable), confidence_score (0 to 1,
your confidence the market is well-posed and objectively resolvable).`

// DraftMarket turns raw text into a structured market draft with a
// confidence score.
func DraftMarket(ctx context.Context, completer Completer, model, text string, categories []string) (*MarketDraft, error) {
	if completer == nil {
		return nil, fmt.Errorf("no completer configured")
	}
	prompt := fmt.Sprintf("Categories: %v\n\nSource text:\n%s", categories, text)
	content, err := completer.Complete(ctx, model, draftSystemPrompt, prompt)
	if err != nil {
		return nil, err
	}
	var draft MarketDraft
	if err := json.Unmarshal([]byte(content), &draft); err != nil {
		return nil, fmt.Errorf("failed to decode market draft: %w", err)
	}
	if draft.Title == "" || draft.ExactQuestion == "" {
		return nil, fmt.Errorf("incomplete market draft")
	}
	if draft.ConfidenceScore < 0 || draft.ConfidenceScore > 1 {
		return nil, fmt.Errorf("confidence_score %v out of range", draft.ConfidenceScore)
	}
	return &draft, nil
}

// ResolutionJudgment is the structured output of the resolver stage.
type ResolutionJudgment struct {
	FinalResult         string   `json:"final_result"`
	MustMeetAllResults  []string `json:"must_meet_all_results"`
	MustNotCountResults []string `json:"must_not_count_results"`
	Evidence            string   `json:"evidence"`
	ResolutionSource    string   `json:"resolution_source"`
}

const resolveSystemPrompt = `You resolve binary prediction markets. Evaluate the question against
the resolution rules using only the allowed sources. Respond with a JSON
object: final_result ("YES" or "NO"), must_meet_all_results (pass/fail per
criterion), must_not_count_results (pass/fail per exclusion), evidence (the
supporting text), resolution_source (which source decided it).`

// ResolveMarket asks the model for a YES/NO judgment against the market's
// resolution rules.
func ResolveMarket(ctx context.Context, completer Completer, model, rules string) (*ResolutionJudgment, error) {
	if completer == nil {
		return nil, fmt.Errorf("no completer configured")
	}
	content, err := completer.Complete(ctx, model, resolveSystemPrompt, rules)
	if err != nil {
		return nil, err
	}
	var judgment ResolutionJudgment
	if err := json.Unmarshal([]byte(content), &judgment); err != nil {
		return nil, fmt.Errorf("failed to decode resolution judgment: %w", err)
	}
	if judgment.FinalResult != "YES" && judgment.FinalResult != "NO" {
		return nil, fmt.Errorf("final_result %q is not YES or NO", judgment.FinalResult)
	}
	return &judgment, nil
}
