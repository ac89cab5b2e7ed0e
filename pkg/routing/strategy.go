// Package routing decides which LLM entry serves a request.
//
// A request names a policy and a routing strategy. Under the triton
// strategy the last user message is classified remotely and the score
// vector indexes into the policy's ordered LLM list; under the manual
// strategy the request names the LLM entry directly.
package routing

import "fmt"

// Strategy is the closed set of routing strategies.
type Strategy string

const (
	// StrategyTriton classifies the prompt and selects by argmax index.
	StrategyTriton Strategy = "triton"

	// StrategyManual selects an LLM entry by its logical name.
	StrategyManual Strategy = "manual"
)

// ParseStrategy parses the wire value of a routing strategy.
func ParseStrategy(s string) (Strategy, error) {
	switch s {
	case string(StrategyTriton):
		return StrategyTriton, nil
	case string(StrategyManual):
		return StrategyManual, nil
	case "":
		return "", fmt.Errorf("no routing strategy specified")
	default:
		return "", fmt.Errorf("unknown routing strategy %q", s)
	}
}
