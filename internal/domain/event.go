package domain

import "time"

const (
	EventMeetingCreated        = "meeting.created"
	EventMeetingStatusChanged  = "meeting.status_changed"
	EventMeetingDecisionAdded  = "meeting.decision_added"
	EventMeetingAtRisk         = "meeting.at_risk"
	EventTaskCreated           = "task.created"
	EventTaskStatusChanged     = "task.status_changed"
	EventTaskBlocked           = "task.blocked"
	EventTaskUnblocked         = "task.unblocked"
	EventTaskCommented         = "task.commented"
	EventLeaveSubmitted        = "leave.submitted"
	EventLeaveDecision         = "leave.decision"
	EventEquipmentAssigned     = "equipment.assigned"
	EventMessagePosted         = "message.posted"
	EventComplianceReportFiled = "compliance.filed"
	EventEscalation            = "escalation"
)

// Event is the change notice carried on the bus. TargetUsers may be empty
// when nobody needs to be notified.
type Event struct {
	Kind        string
	EntityType  string
	EntityID    string
	TargetUsers []string
	Title       string
	Message     string
	ActorID     string
	Status      string
	OccurredAt  time.Time
}
