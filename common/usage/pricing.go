// Copyright 2025 ModelRelay
// SPDX-License-Identifier: Apache-2.0

package usage

import (
	"fmt"
	"strings"
)

// Model pricing as of mid 2025.
// Prices stored in cents per 1M tokens to keep the table in integers.
// All prices are USD.

// ModelPricing contains pricing for a specific model
type ModelPricing struct {
	InputCentsPer1M  int // cents per 1M input tokens
	OutputCentsPer1M int // cents per 1M output tokens
}

// modelPricing maps family-model combinations to pricing. Versioned model ids
// (e.g. claude-sonnet-4-5-20250929) resolve to their base entry, see
// GetModelPricing.
var modelPricing = map[string]ModelPricing{
	// Anthropic
	"anthropic-claude-sonnet-4-5":   {300, 1500},  // $3.00/$15.00 per 1M
	"anthropic-claude-sonnet-4":     {300, 1500},  // $3.00/$15.00 per 1M
	"anthropic-claude-3-5-sonnet":   {300, 1500},  // $3.00/$15.00 per 1M
	"anthropic-claude-3-5-haiku":    {80, 400},    // $0.80/$4.00 per 1M
	"anthropic-claude-3-opus":       {1500, 7500}, // $15.00/$75.00 per 1M

	// OpenAI
	"openai-gpt-4o":      {250, 1000},  // $2.50/$10.00 per 1M
	"openai-gpt-4o-mini": {15, 60},     // $0.15/$0.60 per 1M
	"openai-gpt-4-turbo": {1000, 3000}, // $10.00/$30.00 per 1M

	// Google Gemini
	"gemini-gemini-2.5-pro":   {125, 1000}, // $1.25/$10.00 per 1M
	"gemini-gemini-2.0-flash": {10, 40},    // $0.10/$0.40 per 1M
	"gemini-gemini-1.5-pro":   {125, 500},  // $1.25/$5.00 per 1M

	// AWS Bedrock (model ids carry the Bedrock vendor prefix)
	"bedrock-amazon.nova-pro-v1:0":          {80, 320}, // $0.80/$3.20 per 1M
	"bedrock-amazon.nova-lite-v1:0":         {6, 24},   // $0.06/$0.24 per 1M
	"bedrock-amazon.titan-text-express-v1":  {20, 60},  // $0.20/$0.60 per 1M
	"bedrock-anthropic.claude-3-5-sonnet":   {300, 1500},
	"bedrock-meta.llama3-70b":               {265, 350},

	// Fallback for unknown models (conservative estimate)
	"default": {100, 300}, // $1.00/$3.00 per 1M
}

// GetModelPricing returns the pricing for a family-model combination.
// Versioned ids fall back to their base entry by trimming trailing
// dash-separated segments (claude-sonnet-4-5-20250929 -> claude-sonnet-4-5).
func GetModelPricing(family, model string) (ModelPricing, bool) {
	key := family + "-" + model
	for {
		if pricing, ok := modelPricing[key]; ok {
			return pricing, true
		}
		i := strings.LastIndex(key, "-")
		if i <= len(family) {
			return ModelPricing{}, false
		}
		key = key[:i]
	}
}

// CostUSD calculates the estimated cost in US dollars for a request.
// Unknown models use the default fallback pricing.
func CostUSD(family, model string, inputTokens, outputTokens int) float64 {
	pricing, ok := GetModelPricing(family, model)
	if !ok {
		pricing = modelPricing["default"]
	}

	inputCost := float64(inputTokens) * float64(pricing.InputCentsPer1M) / 1_000_000
	outputCost := float64(outputTokens) * float64(pricing.OutputCentsPer1M) / 1_000_000

	// Costs above are in cents
	return (inputCost + outputCost) / 100
}

// FormatCostUSD formats a dollar amount for display (e.g. 0.00345 -> "$0.0035")
func FormatCostUSD(cost float64) string {
	return fmt.Sprintf("$%.4f", cost)
}
