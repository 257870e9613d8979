package domain

import "time"

// TimeLayout is the stored form of every timestamp. It is fixed width in UTC
// so that text ordering matches time ordering.
const TimeLayout = "2006-01-02T15:04:05.000000000Z07:00"

const (
	RoleManager           = "manager"
	RoleSecretary         = "secretary"
	RoleMarketing         = "marketing"
	RoleProjectLeadWeb    = "project_lead_web"
	RoleProjectLeadMobile = "project_lead_mobile"
	RoleProjectLeadOther  = "project_lead_other"
)

// Roles lists every assignable user role.
var Roles = []string{
	RoleManager,
	RoleSecretary,
	RoleMarketing,
	RoleProjectLeadWeb,
	RoleProjectLeadMobile,
	RoleProjectLeadOther,
}

const (
	MeetingScheduled = "scheduled"
	MeetingAtRisk    = "at_risk"
	MeetingConfirmed = "confirmed"
	MeetingCompleted = "completed"
)

const (
	TaskTodo       = "todo"
	TaskInProgress = "in_progress"
	TaskReview     = "review"
	TaskDone       = "done"
)

var TaskStatuses = []string{TaskTodo, TaskInProgress, TaskReview, TaskDone}

var TaskCategories = []string{"web", "mobile", "other"}

const (
	LeavePending  = "pending"
	LeaveApproved = "approved"
	LeaveRejected = "rejected"
)

var Channels = []string{"web", "mobile", "other", "general"}

const (
	PriorityNormal = "normal"
	PriorityHigh   = "high"
	PriorityUrgent = "urgent"
)

type User struct {
	ID        string    `json:"id"`
	FullName  string    `json:"full_name"`
	Email     string    `json:"email"`
	Role      string    `json:"role" enum:"manager,secretary,marketing,project_lead_web,project_lead_mobile,project_lead_other"`
	CreatedAt time.Time `json:"created_at"`
}

type Meeting struct {
	ID                    string    `json:"id"`
	Title                 string    `json:"title"`
	Agenda                string    `json:"agenda"`
	Date                  time.Time `json:"date"`
	Participants          []string  `json:"participants"`
	ConfirmedParticipants []string  `json:"confirmed_participants"`
	Status                string    `json:"status" enum:"scheduled,at_risk,confirmed,completed"`
	Decisions             []string  `json:"decisions"`
	Minutes               string    `json:"minutes,omitempty"`
	CreatedAt             time.Time `json:"created_at"`
	UpdatedAt             time.Time `json:"updated_at"`
}

// IsParticipant reports whether userID was invited.
func (m Meeting) IsParticipant(userID string) bool {
	return contains(m.Participants, userID)
}

// HasConfirmed reports whether userID already confirmed.
func (m Meeting) HasConfirmed(userID string) bool {
	return contains(m.ConfirmedParticipants, userID)
}

// FullyConfirmed reports whether every participant confirmed.
func (m Meeting) FullyConfirmed() bool {
	for _, p := range m.Participants {
		if !m.HasConfirmed(p) {
			return false
		}
	}
	return len(m.Participants) > 0
}

type Task struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	Category    string    `json:"category" enum:"web,mobile,other"`
	AssignedTo  string    `json:"assigned_to"`
	Deadline    time.Time `json:"deadline"`
	Status      string    `json:"status" enum:"todo,in_progress,review,done"`
	IsBlocked   bool      `json:"is_blocked"`
	BlockReason string    `json:"block_reason,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type TaskComment struct {
	ID        string    `json:"id"`
	TaskID    string    `json:"task_id"`
	UserID    string    `json:"user_id"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

type LeaveRequest struct {
	ID        string     `json:"id"`
	UserID    string     `json:"user_id"`
	StartDate time.Time  `json:"start_date"`
	EndDate   time.Time  `json:"end_date"`
	Reason    string     `json:"reason,omitempty"`
	Status    string     `json:"status" enum:"pending,approved,rejected"`
	DecidedBy string     `json:"decided_by,omitempty"`
	DecidedAt *time.Time `json:"decided_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

type Equipment struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	AssignedTo   string    `json:"assigned_to,omitempty"`
	AssignedDate time.Time `json:"assigned_date"`
}

type Message struct {
	ID                string    `json:"id"`
	Channel           string    `json:"channel" enum:"web,mobile,other,general"`
	UserID            string    `json:"user_id"`
	Content           string    `json:"content"`
	IsDecision        bool      `json:"is_decision"`
	DecisionMeetingID string    `json:"decision_meeting_id,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
}

// ComplianceReport deliberately has no author field.
type ComplianceReport struct {
	ID        string    `json:"id"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

type Notification struct {
	ID         string    `json:"id"`
	UserID     string    `json:"user_id"`
	Title      string    `json:"title"`
	Message    string    `json:"message"`
	Priority   string    `json:"priority" enum:"normal,high,urgent"`
	Read       bool      `json:"read"`
	EventKind  string    `json:"event_kind,omitempty"`
	EntityType string    `json:"entity_type,omitempty"`
	EntityID   string    `json:"entity_id,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// EventRecord is a row of the append-only event log.
type EventRecord struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload,omitempty"`
}

// Dashboard is the per-user summary computed from current store state.
type Dashboard struct {
	TotalTasks    int       `json:"total_tasks"`
	OverdueTasks  int       `json:"overdue_tasks"`
	TodayMeetings int       `json:"today_meetings"`
	Tasks         []Task    `json:"tasks"`
	Meetings      []Meeting `json:"meetings"`
}

func contains(items []string, v string) bool {
	for _, it := range items {
		if it == v {
			return true
		}
	}
	return false
}

// ValidRole reports whether role is one of Roles.
func ValidRole(role string) bool { return contains(Roles, role) }

// ValidTaskStatus reports whether status is one of TaskStatuses.
func ValidTaskStatus(status string) bool { return contains(TaskStatuses, status) }

// ValidCategory reports whether category is one of TaskCategories.
func ValidCategory(category string) bool { return contains(TaskCategories, category) }

// ValidChannel reports whether channel is one of Channels.
func ValidChannel(channel string) bool { return contains(Channels, channel) }
