// Package dispatch decides, once per request and before any upstream call,
// whether a prompt is served by a single streamed completion or by a
// deferred document-processing job.
package dispatch

import (
	"fmt"

	"github.com/papercomputeco/recap/pkg/prompt"
	"github.com/papercomputeco/recap/pkg/tokens"
)

// Path is the execution path chosen for a request.
type Path int

const (
	// Direct streams a single completion back to the caller.
	Direct Path = iota + 1
	// Deferred uploads the document and hands back a continuation token.
	Deferred
)

func (p Path) String() string {
	switch p {
	case Direct:
		return "direct"
	case Deferred:
		return "deferred"
	default:
		return "unknown"
	}
}

// Overflow is what the router does with a prompt that does not fit.
type Overflow string

const (
	// OverflowDefer routes oversized prompts to the deferred path.
	OverflowDefer Overflow = "defer"
	// OverflowTrim trims a fresh transcript until the prompt fits.
	OverflowTrim Overflow = "trim"
)

// Decision is the outcome of routing one prompt.
type Decision struct {
	Path Path

	// Prompt is the prompt to execute; it differs from the input only
	// when the transcript was trimmed.
	Prompt prompt.Prompt

	// PromptTokens is the estimate the decision was made on.
	PromptTokens int

	// Notice explains a trimmed transcript to the caller.
	Notice string
}

// Router chooses between the direct and deferred paths.
type Router struct {
	estimator tokens.Estimator
	budget    tokens.Budget
	overflow  Overflow
}

// NewRouter creates a Router. An empty overflow policy defaults to defer.
func NewRouter(estimator tokens.Estimator, budget tokens.Budget, overflow Overflow) *Router {
	if overflow == "" {
		overflow = OverflowDefer
	}
	return &Router{
		estimator: estimator,
		budget:    budget,
		overflow:  overflow,
	}
}

// Route estimates the prompt and picks a path. An exact fit takes the direct
// path. The result depends only on the prompt and the router's configuration.
func (r *Router) Route(p prompt.Prompt) Decision {
	estimated := r.estimator.Estimate(p.Text())
	if r.budget.Fits(estimated) {
		return Decision{Path: Direct, Prompt: p, PromptTokens: estimated}
	}

	if r.overflow == OverflowTrim && p.Mode == prompt.ModeFresh {
		if decision, ok := r.trim(p); ok {
			return decision
		}
	}

	return Decision{Path: Deferred, Prompt: p, PromptTokens: estimated}
}

// trim shrinks the transcript of a fresh prompt until the whole prompt fits.
// It reports false when not even an empty transcript fits.
func (r *Router) trim(p prompt.Prompt) (Decision, bool) {
	original := r.estimator.Estimate(p.Transcript)

	empty, err := prompt.Fresh("", p.Instruction)
	if err != nil || !r.budget.Fits(r.estimator.Estimate(empty.Text())) {
		return Decision{}, false
	}

	// Token counts are close to additive; start from the exact overhead and
	// shrink by the remaining overflow until the assembled prompt fits.
	allowance := r.budget.PromptAllowance() - r.estimator.Estimate(empty.Text())
	for allowance > 0 {
		trimmed, err := prompt.Fresh(tokens.Trim(r.estimator, p.Transcript, allowance), p.Instruction)
		if err != nil {
			break
		}
		estimated := r.estimator.Estimate(trimmed.Text())
		if r.budget.Fits(estimated) {
			return Decision{
				Path:         Direct,
				Prompt:       trimmed,
				PromptTokens: estimated,
				Notice:       trimNotice(r.estimator.Estimate(trimmed.Transcript), original),
			}, true
		}
		overflow := estimated + r.budget.ReservedForResponse - r.budget.Available
		allowance -= max(overflow, 1)
	}

	return Decision{Path: Direct, Prompt: empty, PromptTokens: r.estimator.Estimate(empty.Text()),
		Notice: trimNotice(0, original)}, true
}

func trimNotice(submitted, original int) string {
	percent := 0.0
	if original > 0 {
		percent = float64(submitted) / float64(original) * 100
	}
	return fmt.Sprintf("Request was too big to submit in its entirety; only %d of the original %d tokens could be submitted (%.1f%%).",
		submitted, original, percent)
}
