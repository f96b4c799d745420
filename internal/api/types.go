package api

// Match states returned by the match lifecycle endpoints.
const (
	StateMatched        = "MATCHED"
	StateWaiting        = "WAITING"
	StateAlreadyWaiting = "ALREADY_WAITING"
)

// Decisions carried in decision command responses.
const (
	DecisionAccepted = "ACCEPTED"
	DecisionDeclined = "DECLINED"
)

// MatchCriteria is the payload for starting a match request.
type MatchCriteria struct {
	ChoiceGender string   `json:"choiceGender,omitempty"`
	MinAge       int      `json:"minAge,omitempty"`
	MaxAge       int      `json:"maxAge,omitempty"`
	RegionCode   string   `json:"regionCode,omitempty"`
	Interests    []string `json:"interestsJson,omitempty"`
}

// StartResponse is the direct result of a start-match command. Fields
// are independently nullable; absent fields leave the session value
// untouched when applied.
type StartResponse struct {
	State             string  `json:"state,omitempty"`
	MyRequestID       *int64  `json:"myRequestId,omitempty"`
	PartnerRequestID  *int64  `json:"partnerRequestId,omitempty"`
	RoomID            *int64  `json:"roomId,omitempty"`
	PartnerLoginID    *string `json:"partnerLoginId,omitempty"`
	PartnerNickName   *string `json:"partnerNickName,omitempty"`
	PartnerUserPID    *int64  `json:"partnerUserPid,omitempty"`
	WaitingCount      *int64  `json:"waitingCount,omitempty"`
	Message           string  `json:"message,omitempty"`
	ShouldCreateOffer *bool   `json:"shouldCreateOffer,omitempty"`
}

// DecisionResponse is the direct result of an accept or decline command.
type DecisionResponse struct {
	Decision          string `json:"decision,omitempty"`
	RoomID            *int64 `json:"roomId,omitempty"`
	MyRequestID       *int64 `json:"myRequestId,omitempty"`
	PartnerRequestID  *int64 `json:"partnerRequestId,omitempty"`
	MyStatus          string `json:"myStatus,omitempty"`
	PartnerStatus     string `json:"partnerStatus,omitempty"`
	BothAccepted      bool   `json:"bothAccepted,omitempty"`
	ShouldCreateOffer *bool  `json:"shouldCreateOffer,omitempty"`
	Message           string `json:"message,omitempty"`
}

// Room is a chat room summary.
type Room struct {
	RoomID       int64  `json:"roomId"`
	Name         string `json:"name"`
	Type         string `json:"type"` // GROUP or DIRECT
	LastMessage  string `json:"lastMessage,omitempty"`
	Participants int    `json:"participants,omitempty"`
}

// Message is a persisted chat message.
type Message struct {
	ID                int64   `json:"id,omitempty"`
	RoomID            int64   `json:"roomId"`
	SenderLoginID     string  `json:"senderLoginId,omitempty"`
	SenderNickName    string  `json:"senderNickName,omitempty"`
	Content           string  `json:"content"`
	TranslatedContent *string `json:"translatedContent,omitempty"`
	SentAt            string  `json:"sentAt,omitempty"`
	ClientMessageID   string  `json:"clientMessageId,omitempty"`
}

// LoginRequest carries user credentials.
type LoginRequest struct {
	LoginID  string `json:"loginId"`
	Password string `json:"password"`
}

// UserSummary describes the authenticated user.
type UserSummary struct {
	LoginID  string `json:"loginId"`
	Nickname string `json:"nickname,omitempty"`
	UserPID  int64  `json:"userPid,omitempty"`
}

// LoginResponse is the result of a login command.
type LoginResponse struct {
	AccessToken string       `json:"accessToken"`
	User        *UserSummary `json:"user,omitempty"`
}
