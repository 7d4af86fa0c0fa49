// Package flow holds the campaign onboarding state machine.
//
// A user's conversation is always in exactly one State. Transitions are pure
// functions: they validate input against the current state and return the next
// state, leaving persistence to the caller.
//
//	idle -> awaiting_twitter -> awaiting_membership_check -> awaiting_localcoinswap_id -> active
package flow

import (
	"errors"
	"fmt"

	"referralbot/internal/models"
)

var (
	// ErrWrongStage is returned when a transition is attempted from a state that does not accept it
	ErrWrongStage = errors.New("transition not allowed from current stage")
)

// State is the conversation state of one user
type State interface {
	Stage() models.Stage
	isState()
}

// Idle means nothing is expected from the user
type Idle struct{}

// AwaitingTwitter waits for the user's X handle
type AwaitingTwitter struct{}

// AwaitingMembershipCheck waits for the user to join the community and press the check button
type AwaitingMembershipCheck struct {
	XHandle string
}

// AwaitingLocalCoinSwapID waits for the user's LocalCoinSwap id
type AwaitingLocalCoinSwapID struct {
	XHandle string
}

// Active is a completed registration
type Active struct {
	XHandle         string
	LocalCoinSwapID string
	ReferralCode    string
}

func (Idle) Stage() models.Stage                    { return models.StageIdle }
func (AwaitingTwitter) Stage() models.Stage         { return models.StageAwaitingTwitter }
func (AwaitingMembershipCheck) Stage() models.Stage { return models.StageAwaitingMembership }
func (AwaitingLocalCoinSwapID) Stage() models.Stage { return models.StageAwaitingLocalCoinSwapID }
func (Active) Stage() models.Stage                  { return models.StageActive }

func (Idle) isState()                    {}
func (AwaitingTwitter) isState()         {}
func (AwaitingMembershipCheck) isState() {}
func (AwaitingLocalCoinSwapID) isState() {}
func (Active) isState()                  {}

// FromUser builds the state of a stored user. Unknown stages are treated as idle.
func FromUser(u *models.User) State {
	if u == nil {
		return Idle{}
	}
	switch u.Stage {
	case models.StageAwaitingTwitter:
		return AwaitingTwitter{}
	case models.StageAwaitingMembership:
		return AwaitingMembershipCheck{XHandle: u.XHandle}
	case models.StageAwaitingLocalCoinSwapID:
		return AwaitingLocalCoinSwapID{XHandle: u.XHandle}
	case models.StageActive:
		return Active{
			XHandle:         u.XHandle,
			LocalCoinSwapID: u.LocalCoinSwapID,
			ReferralCode:    u.ReferralCode,
		}
	default:
		return Idle{}
	}
}

// Start handles /start. Completed registrations are kept, everything else goes back to idle.
func Start(s State) State {
	if active, ok := s.(Active); ok {
		return active
	}
	return Idle{}
}

// JoinCampaign moves an idle user to the X handle step
func JoinCampaign(s State) (State, error) {
	if _, ok := s.(Idle); !ok {
		return s, fmt.Errorf("join campaign from %s: %w", s.Stage(), ErrWrongStage)
	}
	return AwaitingTwitter{}, nil
}

// SubmitXHandle validates the handle typed by the user and advances to the membership check
func SubmitXHandle(s State, text string) (State, error) {
	if _, ok := s.(AwaitingTwitter); !ok {
		return s, fmt.Errorf("submit x handle from %s: %w", s.Stage(), ErrWrongStage)
	}
	handle, err := NormalizeXHandle(text)
	if err != nil {
		return s, err
	}
	return AwaitingMembershipCheck{XHandle: handle}, nil
}

// MembershipChecked applies a membership verification result.
// A non-member stays where they are.
func MembershipChecked(s State, isMember bool) (State, error) {
	current, ok := s.(AwaitingMembershipCheck)
	if !ok {
		return s, fmt.Errorf("membership check from %s: %w", s.Stage(), ErrWrongStage)
	}
	if !isMember {
		return current, nil
	}
	return AwaitingLocalCoinSwapID{XHandle: current.XHandle}, nil
}

// SubmitLocalCoinSwapID validates the external id and completes the registration
func SubmitLocalCoinSwapID(s State, text string, minLength int) (State, error) {
	current, ok := s.(AwaitingLocalCoinSwapID)
	if !ok {
		return s, fmt.Errorf("submit localcoinswap id from %s: %w", s.Stage(), ErrWrongStage)
	}
	id, err := ValidateLocalCoinSwapID(text, minLength)
	if err != nil {
		return s, err
	}
	return Active{
		XHandle:         current.XHandle,
		LocalCoinSwapID: id,
		ReferralCode:    ReferralCode(id),
	}, nil
}
