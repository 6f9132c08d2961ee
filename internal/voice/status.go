package voice

import "time"

// User-facing status texts.
const (
	MsgAnalyzing  = "AI đang phân tích..."
	MsgAdded      = "Đã thêm thành công!"
	MsgUpdated    = "Đã cập nhật"
	MsgRetry      = "Không rõ nội dung, thử lại."
	MsgNoDevice   = "Không thể truy cập micro."
	MsgCredential = "Chưa cấu hình khóa API Gemini (GEMINI_API_KEY). Hãy cấu hình rồi thử lại."
)

// StatusLevel tells a front-end how to render a status.
type StatusLevel string

const (
	LevelProgress StatusLevel = "progress"
	LevelSuccess  StatusLevel = "success"
	LevelError    StatusLevel = "error"
	LevelConfig   StatusLevel = "config"
)

// Status is one message for the user. A zero ExpiresAt never expires.
type Status struct {
	Level     StatusLevel `json:"level"`
	Message   string      `json:"message"`
	Target    string      `json:"target,omitempty"`
	ExpiresAt time.Time   `json:"expires_at,omitempty"`
}

func (s *Status) expired(now time.Time) bool {
	return s != nil && !s.ExpiresAt.IsZero() && !now.Before(s.ExpiresAt)
}

// Marker says that a target is busy.
type Marker struct {
	Target string    `json:"target"`
	Phase  Phase     `json:"phase"`
	Since  time.Time `json:"since"`
}

// View is what a front-end needs to render the voice controls.
type View struct {
	Markers []Marker `json:"markers"`
	// Status is the transient banner, if any.
	Status *Status `json:"status,omitempty"`
	// Config is the persistent configuration banner, shown until a request succeeds.
	Config *Status `json:"config,omitempty"`
}
