package agent

import "github.com/zulandar/shoprelay/internal/models"

// price is USD per million tokens.
type price struct {
	input  float64
	output float64
}

var prices = map[string]price{
	"gpt-5.2":       {1.75, 14},
	"gpt-5.2-codex": {1.75, 14},
	"gpt-5.1":       {1.25, 10},
	"gpt-4o":        {2.5, 10},
	"o3-mini":       {1.1, 4.4},
}

var defaultPrice = price{2, 10}

// Cost returns the USD cost of usage on model. Unknown models use a
// conservative default rate.
func Cost(model string, u Usage) float64 {
	p, ok := prices[model]
	if !ok {
		p = defaultPrice
	}
	return (float64(u.InputTokens)*p.input + float64(u.OutputTokens)*p.output) / 1_000_000
}

// Metadata builds the stored AI metadata for a result.
func Metadata(res *Result) models.AIMetadata {
	return models.AIMetadata{
		Model:           res.Model,
		TotalTokens:     res.Usage.TotalTokens,
		ReasoningTokens: res.Usage.ReasoningTokens,
		InputTokens:     res.Usage.InputTokens,
		OutputTokens:    res.Usage.OutputTokens,
		CostUSD:         Cost(res.Model, res.Usage),
	}
}
