package workflow

import (
	"github.com/anggasct/fluo"

	"github.com/sells-group/lifecare-cli/internal/model"
)

// Review events understood by the approval machine.
const (
	EventApprove = "approve"
	EventReject  = "reject"
	EventFlag    = "flag"
	EventReopen  = "reopen"
)

var eventFor = map[model.ApprovalStatus]string{
	model.StatusApproved:    EventApprove,
	model.StatusRejected:    EventReject,
	model.StatusNeedsReview: EventFlag,
	model.StatusPending:     EventReopen,
}

// approvalMachine declares every allowed status transition. Reopen is the
// only way back into pending; moving an item to the status it already has
// is not a transition.
var approvalMachine = buildApprovalMachine()

func buildApprovalMachine() fluo.MachineDefinition {
	b := fluo.NewMachine()

	b.State(string(model.StatusPending)).Initial().
		To(string(model.StatusApproved)).On(EventApprove).
		To(string(model.StatusRejected)).On(EventReject).
		To(string(model.StatusNeedsReview)).On(EventFlag).
		ToSelf().On(EventReopen)

	b.State(string(model.StatusApproved)).
		To(string(model.StatusRejected)).On(EventReject).
		To(string(model.StatusNeedsReview)).On(EventFlag).
		To(string(model.StatusPending)).On(EventReopen)

	b.State(string(model.StatusRejected)).
		To(string(model.StatusApproved)).On(EventApprove).
		To(string(model.StatusNeedsReview)).On(EventFlag).
		To(string(model.StatusPending)).On(EventReopen)

	b.State(string(model.StatusNeedsReview)).
		To(string(model.StatusApproved)).On(EventApprove).
		To(string(model.StatusRejected)).On(EventReject).
		To(string(model.StatusPending)).On(EventReopen)

	return b.Build()
}

// Transition validates moving an item from one status to another by firing
// the matching event on a fresh machine instance positioned at from. It
// returns the event fired, or a ValidationError naming both statuses.
func Transition(from, to model.ApprovalStatus) (string, error) {
	if !from.Valid() {
		return "", model.NewValidationError("status", "unknown current status %q", from)
	}
	event, ok := eventFor[to]
	if !ok {
		return "", model.NewValidationError("status", "unknown status %q", to)
	}

	m := approvalMachine.CreateInstance()
	if err := m.Start(); err != nil {
		return "", model.NewValidationError("status", "approval machine: %v", err)
	}
	if err := m.SetState(string(from)); err != nil {
		return "", model.NewValidationError("status", "approval machine: %v", err)
	}

	res := m.HandleEvent(event, nil)
	if !res.Success() || res.CurrentState != string(to) {
		return "", model.NewValidationError("status", "cannot move item from %s to %s", from, to)
	}
	return event, nil
}

// Allowed lists the statuses reachable from the given status.
func Allowed(from model.ApprovalStatus) []model.ApprovalStatus {
	var out []model.ApprovalStatus
	for _, to := range model.Statuses {
		if _, err := Transition(from, to); err == nil {
			out = append(out, to)
		}
	}
	return out
}
