package policy

import "strings"

type Risk string

const (
	RiskLow    Risk = "low"
	RiskMedium Risk = "medium"
	RiskHigh   Risk = "high"
)

type ActionDecision struct {
	Risk                 Risk
	RequiresConfirmation bool
	Reason               string
}

var (
	// Irreversible: the effect cannot be undone by another voice command.
	highRiskActions = map[string]string{
		"clear_codes": "Clearing diagnostic codes erases stored fault history and resets the check engine light.",
	}
	// Physical side effects the driver should notice, but reversible.
	mediumRiskActions = map[string]string{
		"car_wash_mode": "Car wash mode closes windows and folds mirrors.",
		"ar_navigation": "AR navigation projects onto the windshield.",
		"plan_route":    "Route guidance changes the active destination.",
		"set_theme":     "Theme changes restyle the driver display.",
	}
)

// DecideAction classifies an action tag. Only irreversible actions require an
// explicit confirmation before they run.
func DecideAction(action string) ActionDecision {
	a := strings.ToLower(strings.TrimSpace(action))
	if reason, ok := highRiskActions[a]; ok {
		return ActionDecision{
			Risk:                 RiskHigh,
			RequiresConfirmation: true,
			Reason:               reason,
		}
	}
	if reason, ok := mediumRiskActions[a]; ok {
		return ActionDecision{
			Risk:   RiskMedium,
			Reason: reason,
		}
	}
	return ActionDecision{Risk: RiskLow}
}

// ConfirmationPrompt is the question put to the driver before a gated action.
func ConfirmationPrompt(action string) string {
	switch strings.ToLower(strings.TrimSpace(action)) {
	case "clear_codes":
		return "This will clear all stored diagnostic codes and reset the check engine light. Do you want to continue?"
	default:
		return "Please confirm that you want me to do that."
	}
}

var (
	affirmativeReplies = map[string]bool{
		"yes": true, "yeah": true, "yep": true, "sure": true, "ok": true, "okay": true,
		"confirm": true, "confirmed": true, "do it": true, "go ahead": true, "proceed": true,
		"yes please": true, "yes do it": true,
	}
	negativeReplies = map[string]bool{
		"no": true, "nope": true, "cancel": true, "stop": true, "abort": true,
		"never mind": true, "nevermind": true, "don't": true, "do not": true, "no thanks": true,
	}
)

// Reply is how a spoken answer to a confirmation prompt is read.
type Reply int

const (
	ReplyOther Reply = iota
	ReplyAffirmative
	ReplyNegative
)

func ClassifyReply(utterance string) Reply {
	in := strings.ToLower(strings.TrimSpace(utterance))
	in = strings.TrimRight(in, ".!?, ")
	in = strings.Join(strings.Fields(in), " ")
	if affirmativeReplies[in] {
		return ReplyAffirmative
	}
	if negativeReplies[in] {
		return ReplyNegative
	}
	return ReplyOther
}
