package chat

import "strings"

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleDeveloper = "developer"

	// NoImage is how a turn without an attachment is rendered to clients. Old
	// rows may hold it literally in image_key.
	NoImage = "None"
)

// Turn is one message of a chat session. Rows of one (user, patient, session)
// group are ordered by ID.
type Turn struct {
	ID          uint64  `gorm:"primaryKey;autoIncrement" json:"-"`
	UserID      string  `gorm:"type:varchar(50);index:idx_chat_session,priority:1" json:"user_id"`
	PatientID   string  `gorm:"type:varchar(50);index:idx_chat_session,priority:2" json:"patient_id"`
	SessionTime string  `gorm:"type:varchar(50);index:idx_chat_session,priority:3" json:"session_time"`
	Role        string  `gorm:"type:varchar(50)" json:"role"`
	Message     string  `gorm:"type:text" json:"message"`
	ImageKey    *string `gorm:"type:varchar(100)" json:"image_key"`
}

func (Turn) TableName() string { return "chat" }

// HasImage reports whether the turn references a stored object.
func (t Turn) HasImage() bool {
	return t.ImageKey != nil && *t.ImageKey != "" && *t.ImageKey != NoImage
}

// TurnView is a turn as returned to callers: ImageKey is either NoImage or a
// presigned URL, never a raw storage key.
type TurnView struct {
	Role     string `json:"role"`
	Message  string `json:"message"`
	ImageKey string `json:"image_key"`
}

func (v TurnView) HasImage() bool {
	return v.ImageKey != "" && v.ImageKey != NoImage
}

// SessionRef identifies one conversation thread.
type SessionRef struct {
	UserID      string
	PatientID   string
	SessionTime string
}

// NormalizeSessionTime replaces path separators so the session key can be
// used as one object key segment.
func NormalizeSessionTime(s string) string {
	return strings.ReplaceAll(strings.TrimSpace(s), "/", "-")
}
