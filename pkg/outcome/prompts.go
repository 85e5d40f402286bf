package outcome

import "strings"

// Prompts holds the replies returned to the dialogue layer by the recorders.
// Any prompt may use the {name} and {phone} placeholders; they are replaced
// with the captured values, and unknown text is left untouched.
type Prompts struct {
	AskName          string `mapstructure:"ask_name"`
	AskPhone         string `mapstructure:"ask_phone"`
	Declined         string `mapstructure:"declined"`
	Completed        string `mapstructure:"completed"`
	NeedDecision     string `mapstructure:"need_decision"`
	NeedName         string `mapstructure:"need_name"`
	AlreadyConcluded string `mapstructure:"already_concluded"`
}

// DefaultPrompts are the English replies used when none are configured.
var DefaultPrompts = Prompts{
	AskName:          "Great, the customer wants to buy. Ask for their full name so we can complete the order.",
	AskPhone:         "Thanks, {name}. Now ask for the best phone number to reach them.",
	Declined:         "The customer does not want to buy. Thank them politely for their time and say goodbye.",
	Completed:        "Thank you, {name}. Confirm that we will contact them at {phone} to finalize the purchase, then say goodbye.",
	NeedDecision:     "Confirm that the customer wants to buy the product first, then record the purchase decision.",
	NeedName:         "Ask for the customer's name and record it before the phone number.",
	AlreadyConcluded: "The conversation has already concluded and nothing was changed. Say goodbye politely.",
}

func (p Prompts) withDefaults() Prompts {
	def := DefaultPrompts
	pick := func(v, fallback string) string {
		if strings.TrimSpace(v) == "" {
			return fallback
		}
		return v
	}
	return Prompts{
		AskName:          pick(p.AskName, def.AskName),
		AskPhone:         pick(p.AskPhone, def.AskPhone),
		Declined:         pick(p.Declined, def.Declined),
		Completed:        pick(p.Completed, def.Completed),
		NeedDecision:     pick(p.NeedDecision, def.NeedDecision),
		NeedName:         pick(p.NeedName, def.NeedName),
		AlreadyConcluded: pick(p.AlreadyConcluded, def.AlreadyConcluded),
	}
}

// render fills the placeholders of a prompt.
func render(prompt, name, phone string) string {
	return strings.NewReplacer("{name}", name, "{phone}", phone).Replace(prompt)
}
