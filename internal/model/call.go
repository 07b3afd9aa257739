package model

// Event types emitted by the Vapi call lifecycle. Only EventCallEnd carries
// the complete transcript; everything else is acknowledged and ignored.
const (
	EventCallStart          = "call-start"
	EventCallEnd            = "call-end"
	EventConversationUpdate = "conversation-update"
	EventFunctionCall       = "function-call"
)

// Role classifies the caller for broker follow-up.
type Role string

const (
	RolePropertyOwner  Role = "property_owner"
	RoleBuyer          Role = "buyer"
	RoleLender         Role = "lender"
	RoleGeneralInquiry Role = "general_inquiry"
	RoleUnknown        Role = "unknown"
)

// Utterance is one speaker-tagged line of the call transcript.
// Speaker values follow the platform convention ("user"/"customer" for the
// caller, "assistant"/"bot" for the agent).
type Utterance struct {
	Speaker string `json:"role"`
	Message string `json:"message"`
}

// CallEvent is the raw webhook payload from the voice platform. It lives
// only for the duration of one request plus any deferred work it triggers.
type CallEvent struct {
	Type           string         `json:"type" validate:"required"`
	CallID         string         `json:"callId" validate:"required"`
	StartTime      string         `json:"startTime,omitempty"`
	EndTime        string         `json:"endTime,omitempty"`
	Transcript     []Utterance    `json:"transcript,omitempty"`
	RecordingURL   string         `json:"recordingUrl,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	CallerIDNumber string         `json:"callerIdNumber,omitempty"`
	CallerIDName   string         `json:"callerIdName,omitempty"`
	CallStatus     string         `json:"callStatus,omitempty"`
}

// Terminal reports whether the event signals a fully ended call.
func (e CallEvent) Terminal() bool {
	return e.Type == EventCallEnd
}

// CallRecord is the persisted unit of one completed call. It is created by
// the extractor and never mutated afterwards; corrections would be a new
// append, not an update.
type CallRecord struct {
	CallID    string `json:"call_id"`
	Timestamp string `json:"timestamp"`
	Name      string `json:"name,omitempty"`
	Role      Role   `json:"role"`
	Inquiry   string `json:"inquiry,omitempty"`
	Market    string `json:"market,omitempty"`
	Phone     string `json:"phone,omitempty"`
	Notes     string `json:"notes,omitempty"`
}
