// Tandem - Accountability Partnership Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tandem

package partnership

import (
	"github.com/tomtom215/tandem/internal/fault"
	"github.com/tomtom215/tandem/internal/models"
)

// transitions is the full state machine. A missing entry means the state
// is terminal.
var transitions = map[models.PartnershipStatus][]models.PartnershipStatus{
	models.StatusPending: {models.StatusActive, models.StatusRejected, models.StatusExpired},
	models.StatusActive:  {models.StatusPaused, models.StatusEnded},
	models.StatusPaused:  {models.StatusActive, models.StatusEnded},
}

// canTransition reports whether from→to is a legal edge.
func canTransition(from, to models.PartnershipStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// requireTransition returns a WrongState fault for illegal edges. Invalid
// transitions are surfaced, never silently ignored.
func requireTransition(p *models.Partnership, to models.PartnershipStatus) error {
	if !canTransition(p.Status, to) {
		return fault.New(fault.KindWrongState, "partnership %s is %s, cannot become %s", p.ID, p.Status, to)
	}
	return nil
}

// requireParticipant returns a Forbidden fault for non-members.
func requireParticipant(p *models.Partnership, actor models.UserID) error {
	if !p.Participant(actor) {
		return fault.New(fault.KindForbidden, "user %s is not a member of partnership %s", actor, p.ID)
	}
	return nil
}

// requireRecipient restricts accept and reject to the non-initiator.
func requireRecipient(p *models.Partnership, actor models.UserID) error {
	if err := requireParticipant(p, actor); err != nil {
		return err
	}
	if actor != p.Recipient() {
		return fault.New(fault.KindForbidden, "only the recipient may respond to partnership %s", p.ID)
	}
	return nil
}

// requireInitiator restricts cancel to the requesting side.
func requireInitiator(p *models.Partnership, actor models.UserID) error {
	if err := requireParticipant(p, actor); err != nil {
		return err
	}
	if actor != p.Initiator {
		return fault.New(fault.KindForbidden, "only the initiator may cancel partnership %s", p.ID)
	}
	return nil
}
