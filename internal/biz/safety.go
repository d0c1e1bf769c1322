package biz

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"VerseGate/internal/conf"
	"VerseGate/internal/model"
	"VerseGate/pkg/provider"

	"github.com/go-kratos/kratos/v2/log"
	lru "github.com/hashicorp/golang-lru/v2"
)

// ModerationClient calls the provider's moderation classification
// endpoint. Implemented by pkg/provider.Client.
type ModerationClient interface {
	Moderate(ctx context.Context, content string) (*provider.ModerationResult, error)
}

// ModerationPolicy holds the custom safety policy. Updates go through
// UpdatePolicy, which invalidates the verdict cache.
type ModerationPolicy struct {
	MaxLength         int
	BlockedKeywords   []string
	SensitiveTopics   []string
	InjectionPatterns []*regexp.Regexp
}

// providerScoreThreshold flags a category even when the provider did
// not, once its score crosses this value.
const providerScoreThreshold = 0.8

// defaultInjectionPatterns is the fixed set of prompt-injection markers.
var defaultInjectionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)ignore\s+(all\s+)?previous\s+instructions`),
	regexp.MustCompile(`(?i)disregard\s+(all\s+)?prior`),
	regexp.MustCompile(`(?i)system\s*:\s*you\s+are`),
	regexp.MustCompile(`(?i)\[\s*(system|inst|assistant)\s*\]`),
	regexp.MustCompile(`(?i)reveal\s+your\s+system\s+prompt`),
}

// defaultSensitiveTopics supplements configured topics.
var defaultSensitiveTopics = []string{
	"suicide method",
	"how to self-harm",
}

// domainDenyList is the fixed high-risk topic deny-list behind
// IsDomainAppropriate, independent of Evaluate.
var domainDenyList = []string{
	"the world will end on",
	"date of the rapture",
	"exact date of the second coming",
	"predict when jesus will return",
	"i am the lord your god",
	"speak to me as god himself",
}

// SafetyGate evaluates text against provider moderation, custom policy,
// length and injection-pattern checks, and caches verdicts.
type SafetyGate struct {
	client ModerationClient
	logger *log.Helper

	mu     sync.RWMutex
	policy ModerationPolicy

	cache *lru.Cache[string, *model.ModerationVerdict]
}

// NewSafetyGate creates a safety gate with a bounded verdict cache.
func NewSafetyGate(c *conf.Gateway_Moderation, client ModerationClient, logger log.Logger) (*SafetyGate, error) {
	maxLength := 10000
	cacheSize := 1000
	var blocked, sensitive []string
	if c != nil {
		if c.MaxLength > 0 {
			maxLength = int(c.MaxLength)
		}
		if c.CacheSize > 0 {
			cacheSize = int(c.CacheSize)
		}
		blocked = c.BlockedKeywords
		sensitive = c.SensitiveTopics
	}

	cache, err := lru.New[string, *model.ModerationVerdict](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create verdict cache: %w", err)
	}

	return &SafetyGate{
		client: client,
		logger: log.NewHelper(logger),
		policy: ModerationPolicy{
			MaxLength:         maxLength,
			BlockedKeywords:   blocked,
			SensitiveTopics:   append(append([]string{}, defaultSensitiveTopics...), sensitive...),
			InjectionPatterns: defaultInjectionPatterns,
		},
		cache: cache,
	}, nil
}

// UpdatePolicy replaces the policy and clears the verdict cache
// unconditionally.
func (s *SafetyGate) UpdatePolicy(p ModerationPolicy) {
	s.mu.Lock()
	if p.MaxLength <= 0 {
		p.MaxLength = 10000
	}
	if p.InjectionPatterns == nil {
		p.InjectionPatterns = defaultInjectionPatterns
	}
	s.policy = p
	s.mu.Unlock()

	s.cache.Purge()
	s.logger.Infow("msg", "moderation policy updated, verdict cache cleared")
}

// Evaluate runs all safety checks against content and returns the
// merged verdict. Fails with *InvalidInputError on empty content.
//
// The outer boundary fails closed: an unexpected internal error yields
// a flagged verdict with category moderation_error rather than silently
// allowing content. The provider sub-check alone fails open, since a
// provider outage must not block all traffic through one of four checks.
func (s *SafetyGate) Evaluate(ctx context.Context, content, userID string) (verdict *model.ModerationVerdict, err error) {
	if content == "" {
		return nil, &InvalidInputError{Field: "content", Reason: "must be a non-empty string"}
	}

	defer func() {
		if r := recover(); r != nil {
			s.logger.Errorw("msg", "safety gate panicked, failing closed",
				"panic", fmt.Sprint(r),
				"user_id", userID)
			verdict = failClosedVerdict()
			err = nil
		}
	}()

	key := contentHash(content)
	if cached, ok := s.cache.Get(key); ok {
		return cached, nil
	}

	s.mu.RLock()
	policy := s.policy
	s.mu.RUnlock()

	// The four checks run in parallel; only the provider check does I/O.
	// Each check carries its own recover: a panic in one goroutine would
	// otherwise crash the process before the outer boundary could fail
	// closed, so a panicking check substitutes the fail-closed verdict
	// for its slot instead.
	var (
		wg         sync.WaitGroup
		results    [4]*model.ModerationVerdict
		providerOK bool
	)
	runCheck := func(i int, fn func() *model.ModerationVerdict) {
		defer wg.Done()
		defer func() {
			if r := recover(); r != nil {
				s.logger.Errorw("msg", "safety check panicked, failing closed",
					"check", i,
					"panic", fmt.Sprint(r),
					"user_id", userID)
				results[i] = failClosedVerdict()
			}
		}()
		results[i] = fn()
	}
	wg.Add(4)
	go runCheck(0, func() *model.ModerationVerdict {
		v, ok := s.providerCheck(ctx, content)
		providerOK = ok
		return v
	})
	go runCheck(1, func() *model.ModerationVerdict {
		return policyCheck(policy, content)
	})
	go runCheck(2, func() *model.ModerationVerdict {
		return lengthCheck(policy, content)
	})
	go runCheck(3, func() *model.ModerationVerdict {
		// Redundant keyword scan kept as a second net behind the
		// policy check.
		return keywordCheck(policy.BlockedKeywords, content)
	})
	wg.Wait()

	verdict = mergeVerdicts(results[:])

	// Verdicts from a degraded provider pass or a panicked check are
	// not cached, so those checks are retried on identical content.
	if providerOK && !verdict.HasCategory(model.CategoryModerationError) {
		s.cache.Add(key, verdict)
	}

	if verdict.Flagged {
		s.logger.Warnw("msg", "content flagged",
			"content", content,
			"user_id", userID,
			"categories", verdict.Categories)
	}

	return verdict, nil
}

// IsDomainAppropriate runs the fixed high-risk deny-list. It is an
// additional gate for callers that care about domain-specific risk;
// it does not consult the provider or the verdict cache.
func (s *SafetyGate) IsDomainAppropriate(content string) bool {
	lower := strings.ToLower(content)
	for _, phrase := range domainDenyList {
		if strings.Contains(lower, phrase) {
			s.logger.Warnw("msg", "domain-inappropriate content denied", "content", content)
			return false
		}
	}
	return true
}

// providerCheck calls the moderation endpoint. A category is flagged if
// the provider flags it or its score exceeds the threshold even when
// the provider did not. On provider failure this sub-check returns an
// empty, non-flagging result and ok=false.
func (s *SafetyGate) providerCheck(ctx context.Context, content string) (*model.ModerationVerdict, bool) {
	res, err := s.client.Moderate(ctx, content)
	if err != nil {
		s.logger.Warnw("msg", "moderation provider unavailable, provider check skipped", "error", err)
		return emptyVerdict(), false
	}

	v := emptyVerdict()
	for cat, score := range res.Scores {
		v.Scores[model.ModerationCategory(cat)] = score
	}
	for cat, flagged := range res.Categories {
		if !flagged {
			continue
		}
		mc := model.ModerationCategory(cat)
		if !v.HasCategory(mc) {
			v.Categories = append(v.Categories, mc)
		}
		if _, ok := v.Scores[mc]; !ok {
			v.Scores[mc] = 1.0
		}
	}
	// Score promotion runs over Scores, not Categories: providers may
	// report a high score without listing the category at all.
	for cat, score := range res.Scores {
		if score > providerScoreThreshold {
			mc := model.ModerationCategory(cat)
			if !v.HasCategory(mc) {
				v.Categories = append(v.Categories, mc)
			}
		}
	}
	if len(v.Categories) > 0 {
		v.Flagged = true
		v.Explanation = fmt.Sprintf("provider moderation flagged: %s", joinCategories(v.Categories))
	}
	return v, true
}

// policyCheck applies blocked keywords, sensitive topics and the fixed
// injection patterns.
func policyCheck(policy ModerationPolicy, content string) *model.ModerationVerdict {
	v := emptyVerdict()
	lower := strings.ToLower(content)

	for _, kw := range policy.BlockedKeywords {
		if kw != "" && strings.Contains(lower, strings.ToLower(kw)) {
			v.AddCategory(model.CategoryBlockedKeyword, 1.0, fmt.Sprintf("blocked keyword %q", kw))
			break
		}
	}
	for _, topic := range policy.SensitiveTopics {
		if topic != "" && strings.Contains(lower, strings.ToLower(topic)) {
			v.AddCategory(model.CategorySensitiveTopic, 0.9, fmt.Sprintf("sensitive topic %q", topic))
			break
		}
	}
	for _, pattern := range policy.InjectionPatterns {
		if pattern.MatchString(content) {
			v.AddCategory(model.CategoryPromptInjection, 1.0, "prompt injection pattern detected")
			break
		}
	}

	return v
}

// lengthCheck flags content exceeding the policy maximum.
func lengthCheck(policy ModerationPolicy, content string) *model.ModerationVerdict {
	v := emptyVerdict()
	if len(content) > policy.MaxLength {
		v.AddCategory(model.CategoryContentTooLong, 1.0,
			fmt.Sprintf("content length %d exceeds maximum %d", len(content), policy.MaxLength))
	}
	return v
}

// keywordCheck is the second, independent blocked-keyword scan.
func keywordCheck(blocked []string, content string) *model.ModerationVerdict {
	v := emptyVerdict()
	lower := strings.ToLower(content)
	for _, kw := range blocked {
		if kw != "" && strings.Contains(lower, strings.ToLower(kw)) {
			v.AddCategory(model.CategoryBlockedKeyword, 1.0, fmt.Sprintf("blocked keyword %q", kw))
			break
		}
	}
	return v
}

// mergeVerdicts combines sub-check results: flagged = OR, categories =
// union, scores = max-merge, explanations joined.
func mergeVerdicts(results []*model.ModerationVerdict) *model.ModerationVerdict {
	merged := emptyVerdict()
	var explanations []string

	for _, r := range results {
		if r == nil {
			continue
		}
		for _, cat := range r.Categories {
			if !merged.HasCategory(cat) {
				merged.Categories = append(merged.Categories, cat)
			}
		}
		for cat, score := range r.Scores {
			if score > merged.Scores[cat] {
				merged.Scores[cat] = score
			}
		}
		if r.Explanation != "" {
			explanations = append(explanations, r.Explanation)
		}
	}

	merged.Flagged = len(merged.Categories) > 0
	merged.Explanation = strings.Join(explanations, "; ")
	return merged
}

func emptyVerdict() *model.ModerationVerdict {
	return &model.ModerationVerdict{
		Scores: make(map[model.ModerationCategory]float64),
	}
}

func failClosedVerdict() *model.ModerationVerdict {
	return &model.ModerationVerdict{
		Flagged:    true,
		Categories: []model.ModerationCategory{model.CategoryModerationError},
		Scores: map[model.ModerationCategory]float64{
			model.CategoryModerationError: 1.0,
		},
		Explanation: "moderation could not be completed; content blocked",
	}
}

// contentHash keys the verdict cache by a cheap content digest.
func contentHash(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

func joinCategories(cats []model.ModerationCategory) string {
	parts := make([]string, len(cats))
	for i, c := range cats {
		parts[i] = string(c)
	}
	return strings.Join(parts, ", ")
}
