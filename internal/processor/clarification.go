package processor

import "time"

// Clarification kinds
const (
	ClarificationRephrase           = "rephrase"
	ClarificationNarrowQuestion     = "narrow_question"
	ClarificationApology            = "apology"
	ClarificationBackendUnavailable = "backend_unavailable"
)

// Clarification is returned instead of facts when a question could not be
// answered. Message is safe to show to the user as-is.
type Clarification struct {
	Kind        string   `json:"kind"`
	Message     string   `json:"message"`
	Suggestions []string `json:"suggestions,omitempty"`
}

// NarrowQuestionMessage is shown when a query exceeded its time budget
const NarrowQuestionMessage = "That question took too long to answer. Try narrowing it, for example to a single month or category."

// RephraseMessage is shown when no safe query could be produced
const RephraseMessage = "I couldn't turn that into a safe query. Could you rephrase the question?"

func rephrase(message string) *Clarification {
	if message == "" {
		message = RephraseMessage
	}
	return &Clarification{
		Kind:    ClarificationRephrase,
		Message: message,
		Suggestions: []string{
			"Name the period, for example \"this month\" or \"June 2025\"",
			"Name the category, for example \"groceries\"",
		},
	}
}

func narrowQuestion(timeout time.Duration) *Clarification {
	c := &Clarification{
		Kind:    ClarificationNarrowQuestion,
		Message: NarrowQuestionMessage,
		Suggestions: []string{
			"Ask about a shorter period",
			"Ask about a single category",
		},
	}
	if timeout > 0 {
		c.Suggestions = append(c.Suggestions, "Queries are stopped after "+timeout.String())
	}
	return c
}

func apology() *Clarification {
	return &Clarification{
		Kind:    ClarificationApology,
		Message: "Sorry, something went wrong while looking that up. Please try again in a moment.",
	}
}

func backendUnavailable() *Clarification {
	return &Clarification{
		Kind:    ClarificationBackendUnavailable,
		Message: "I can only answer common questions right now. Try asking about totals, categories, budgets or recent expenses.",
		Suggestions: []string{
			"How much did I spend this month?",
			"Spending by category this month",
			"How am I doing against my budget?",
		},
	}
}
