package models

import "time"

// Role of a user inside a team.
type Role string

const (
	RoleLeader Role = "leader"
	RoleMember Role = "member"
)

// ScheduleType distinguishes personal entries from team-wide ones.
type ScheduleType string

const (
	SchedulePersonal ScheduleType = "personal"
	ScheduleTeam     ScheduleType = "team"
)

// ParticipantStatus tracks a user's standing on a schedule entry.
type ParticipantStatus string

const (
	ParticipantPending   ParticipantStatus = "pending"
	ParticipantConfirmed ParticipantStatus = "confirmed"
	ParticipantDeclined  ParticipantStatus = "declined"
)

// RequestState is the lifecycle state of a change request.
type RequestState string

const (
	RequestPending  RequestState = "pending"
	RequestApproved RequestState = "approved"
	RequestRejected RequestState = "rejected"
)

// Resolved reports whether the state is terminal.
func (s RequestState) Resolved() bool {
	return s == RequestApproved || s == RequestRejected
}

// MessageKind tags chat messages so clients can render request cards.
type MessageKind string

const (
	MessageText       MessageKind = "text"
	MessageProposal   MessageKind = "proposal"
	MessageResolution MessageKind = "resolution"
)

type User struct {
	ID             int64     `json:"id"`
	Name           string    `json:"name"`
	TelegramChatID int64     `json:"telegram_chat_id,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

type Team struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

type TeamMember struct {
	TeamID  int64     `json:"team_id"`
	UserID  int64     `json:"user_id"`
	Role    Role      `json:"role"`
	AddedAt time.Time `json:"added_at"`
}

type Schedule struct {
	ID        int64        `json:"id"`
	Title     string       `json:"title"`
	Content   string       `json:"content"`
	StartTime time.Time    `json:"start_time"`
	EndTime   time.Time    `json:"end_time"`
	Type      ScheduleType `json:"type"`
	TeamID    *int64       `json:"team_id,omitempty"`
	CreatorID int64        `json:"creator_id"`
	Version   int64        `json:"version"`
	CreatedAt time.Time    `json:"created_at"`
	UpdatedAt time.Time    `json:"updated_at"`
}

// IsTeam reports whether the entry belongs to a team calendar.
func (s *Schedule) IsTeam() bool {
	return s.Type == ScheduleTeam && s.TeamID != nil
}

type Participant struct {
	ScheduleID int64             `json:"schedule_id"`
	UserID     int64             `json:"user_id"`
	Status     ParticipantStatus `json:"status"`
}

type Message struct {
	ID        string      `json:"id"`
	TeamID    int64       `json:"team_id"`
	AuthorID  int64       `json:"author_id"`
	Date      string      `json:"date"` // day bucket, YYYY-MM-DD
	Kind      MessageKind `json:"kind"`
	Content   string      `json:"content"`
	RequestID string      `json:"request_id,omitempty"`
	CreatedAt time.Time   `json:"created_at"`
}

type ChangeRequest struct {
	ID                  string       `json:"id"`
	ScheduleID          int64        `json:"schedule_id"`
	ProposerID          int64        `json:"proposer_id"`
	NewStart            time.Time    `json:"new_start"`
	NewEnd              time.Time    `json:"new_end"`
	NewContent          *string      `json:"new_content,omitempty"`
	TargetDate          string       `json:"target_date"`
	State               RequestState `json:"state"`
	ProposalMessageID   string       `json:"proposal_message_id,omitempty"`
	ResolutionMessageID string       `json:"resolution_message_id,omitempty"`
	ResolvedBy          *int64       `json:"resolved_by,omitempty"`
	Delivered           bool         `json:"delivered"`
	Version             int64        `json:"version"`
	CreatedAt           time.Time    `json:"created_at"`
	UpdatedAt           time.Time    `json:"updated_at"`
}

// ResolutionNotice is one entry of a user's unseen-resolution feed.
type ResolutionNotice struct {
	RequestID     string       `json:"request_id"`
	ScheduleID    int64        `json:"schedule_id"`
	ScheduleTitle string       `json:"schedule_title"`
	State         RequestState `json:"state"`
	ResolvedAt    time.Time    `json:"resolved_at"`
}

type Acknowledgement struct {
	RequestID string     `json:"request_id"`
	UserID    int64      `json:"user_id"`
	Seen      bool       `json:"seen"`
	SeenAt    *time.Time `json:"seen_at,omitempty"`
}

// DateBucket formats a timestamp as the chat day bucket it falls into.
func DateBucket(t time.Time) string {
	return t.Format("2006-01-02")
}
