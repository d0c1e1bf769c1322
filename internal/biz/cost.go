package biz

// modelPrice holds USD prices per 1K tokens.
type modelPrice struct {
	Input  float64
	Output float64
}

// Prices per 1K tokens for the models the study, embeddings and
// vector-search services call through the gateway.
var modelPrices = map[string]modelPrice{
	"gpt-4o":                 {Input: 0.0025, Output: 0.01},
	"gpt-4o-mini":            {Input: 0.00015, Output: 0.0006},
	"gpt-4-turbo":            {Input: 0.01, Output: 0.03},
	"gpt-3.5-turbo":          {Input: 0.0005, Output: 0.0015},
	"text-embedding-3-small": {Input: 0.00002, Output: 0},
	"text-embedding-3-large": {Input: 0.00013, Output: 0},
	"omni-moderation-latest": {Input: 0, Output: 0},
}

// fallbackPrice is the most expensive known rate. Unknown models bill at
// this rate so a newly added model can never under-bill.
var fallbackPrice = modelPrice{Input: 0.01, Output: 0.03}

// Cost computes the USD cost of one provider call.
func Cost(modelName string, inputTokens, outputTokens int) float64 {
	price, ok := modelPrices[modelName]
	if !ok {
		price = fallbackPrice
	}

	if inputTokens < 0 {
		inputTokens = 0
	}
	if outputTokens < 0 {
		outputTokens = 0
	}

	return float64(inputTokens)/1000*price.Input + float64(outputTokens)/1000*price.Output
}

// EstimateTokens estimates the number of tokens for a request.
// Algorithm: tokens ≈ len(prompt) / 4 + maxOutputTokens.
// A rough estimation used for pre-call budget sizing; the ledger is
// settled with the provider's actual usage after the call.
func EstimateTokens(prompt string, maxOutputTokens int32) int32 {
	promptLen := len(prompt) / 4
	if promptLen > 2147483647 {
		promptLen = 2147483647
	}
	promptTokens := int32(promptLen) // #nosec G115 -- overflow is handled above

	estimatedTotal := promptTokens + maxOutputTokens

	// Ensure minimum 1 token
	if estimatedTotal <= 0 {
		estimatedTotal = 1
	}

	return estimatedTotal
}
