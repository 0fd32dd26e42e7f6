package tokens

import "fmt"

// Budget is the token budget of the upstream model for a single call.
type Budget struct {
	// Available is the model's total token allowance (prompt + response).
	Available int

	// ReservedForResponse is held back for the generated response and is
	// also sent upstream as the response-size cap.
	ReservedForResponse int
}

// Validate checks that both values are positive and the reservation leaves
// room for a prompt.
func (b Budget) Validate() error {
	if b.Available <= 0 {
		return fmt.Errorf("available tokens must be positive, got %d", b.Available)
	}
	if b.ReservedForResponse <= 0 {
		return fmt.Errorf("reserved response tokens must be positive, got %d", b.ReservedForResponse)
	}
	if b.ReservedForResponse >= b.Available {
		return fmt.Errorf("reserved response tokens (%d) must be less than available tokens (%d)",
			b.ReservedForResponse, b.Available)
	}
	return nil
}

// PromptAllowance is the largest prompt that still fits.
func (b Budget) PromptAllowance() int {
	return b.Available - b.ReservedForResponse
}

// Fits reports whether a prompt of promptTokens leaves the reserved room.
// An exact fit counts.
func (b Budget) Fits(promptTokens int) bool {
	return promptTokens+b.ReservedForResponse <= b.Available
}
