package model

// ModerationCategory is a closed enumeration of verdict category tags.
// Provider categories and custom policy categories share the namespace so
// merged verdicts stay exhaustive.
type ModerationCategory string

const (
	CategorySexual         ModerationCategory = "sexual"
	CategoryHate           ModerationCategory = "hate"
	CategoryHarassment     ModerationCategory = "harassment"
	CategorySelfHarm       ModerationCategory = "self-harm"
	CategoryViolence       ModerationCategory = "violence"
	CategoryBlockedKeyword ModerationCategory = "blocked_keyword"
	CategorySensitiveTopic ModerationCategory = "sensitive_topic"
	CategoryPromptInjection ModerationCategory = "prompt_injection"
	CategoryContentTooLong ModerationCategory = "content_too_long"
	CategoryModerationError ModerationCategory = "moderation_error"
)

// ModerationVerdict is the merged result of all safety checks.
// Invariant: Flagged is true exactly when Categories is non-empty.
type ModerationVerdict struct {
	Flagged     bool                           `json:"flagged"`
	Categories  []ModerationCategory           `json:"categories"`
	Scores      map[ModerationCategory]float64 `json:"scores"`
	Explanation string                         `json:"explanation,omitempty"`
}

// AddCategory flags the verdict with a category, keeping the highest
// score seen and appending the explanation.
func (v *ModerationVerdict) AddCategory(c ModerationCategory, score float64, explanation string) {
	if !v.HasCategory(c) {
		v.Categories = append(v.Categories, c)
	}
	if v.Scores == nil {
		v.Scores = make(map[ModerationCategory]float64)
	}
	if score > v.Scores[c] {
		v.Scores[c] = score
	}
	v.Flagged = true
	if explanation != "" {
		if v.Explanation != "" {
			v.Explanation += "; "
		}
		v.Explanation += explanation
	}
}

// HasCategory reports whether the verdict carries the given category.
func (v *ModerationVerdict) HasCategory(c ModerationCategory) bool {
	for _, got := range v.Categories {
		if got == c {
			return true
		}
	}
	return false
}
