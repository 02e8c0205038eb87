package actions

import (
	"fmt"

	"github.com/nugget/veronica/internal/config"
)

// Policy controls what the conversation does after an action runs.
type Policy struct {
	// FollowUp requests another completion so the provider can turn the
	// action's outcome into prose. When false the outcome itself is the
	// final reply.
	FollowUp bool
	// TerminalOnFailure ends the exchange with [TerminalApology] when
	// the action fails, instead of letting the provider recover.
	TerminalOnFailure bool
}

// DefaultPolicy returns the built-in policy for k. Expression replies
// are already user-ready and end the exchange; train status failures
// end it with an apology.
func DefaultPolicy(k Kind) Policy {
	switch k {
	case KindReplyWithExpression:
		return Policy{FollowUp: false}
	case KindTrainStatus:
		return Policy{FollowUp: true, TerminalOnFailure: true}
	default:
		return Policy{FollowUp: true}
	}
}

// resolvePolicies applies per-action overrides, keyed by wire name, on
// top of the defaults.
func resolvePolicies(overrides map[string]config.PolicyConfig) (map[Kind]Policy, error) {
	out := make(map[Kind]Policy, len(Kinds()))
	for _, k := range Kinds() {
		out[k] = DefaultPolicy(k)
	}
	for name, o := range overrides {
		k, err := ParseKind(name)
		if err != nil {
			return nil, fmt.Errorf("dispatch policy: %w", err)
		}
		p := out[k]
		if o.FollowUp != nil {
			p.FollowUp = *o.FollowUp
		}
		if o.TerminalOnFailure != nil {
			p.TerminalOnFailure = *o.TerminalOnFailure
		}
		out[k] = p
	}
	return out, nil
}
