package services

import (
	"log"

	"savitAPI/internal/types/challenge"
)

// ProgressResult is the outcome of applying one transaction to one participant.
type ProgressResult struct {
	ParticipationID int64
	Type            challenge.Type
	Updated         challenge.Progress
	Exceeded        bool
	NewStatus       challenge.Status
}

// CalculateProgress applies tx to p without touching storage. Participants
// that already finished come back unchanged.
func CalculateProgress(p *challenge.Participation, tx *challenge.TransactionEvent) ProgressResult {
	result := ProgressResult{
		ParticipationID: p.ID,
		Type:            p.Type(),
		Updated:         p.Progress,
		NewStatus:       p.Status,
	}
	if p.Status.IsTerminal() || p.Goal == nil {
		return result
	}

	switch p.Goal.(type) {
	case challenge.CountGoal:
		result.Updated.Count++
	case challenge.AmountGoal:
		amount, err := challenge.ParseAmount(tx.UsedAmount)
		if err != nil {
			log.Printf("progress: transaction %d amount unreadable, counting as 0: %v", tx.ID, err)
		}
		result.Updated.Amount = result.Updated.Amount.Add(amount)
	}

	result.Exceeded = p.Goal.Reached(result.Updated)
	if result.Exceeded {
		result.NewStatus = challenge.StatusFail
	} else {
		result.NewStatus = challenge.StatusParticipating
	}
	return result
}
