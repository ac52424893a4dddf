package domain

// ChatRoom is a named conversation inside a team.
type ChatRoom struct {
	ID              string `json:"chatRoomId"`
	TeamID          string `json:"teamId"`
	Name            string `json:"chatName"`
	LastMessage     string `json:"lastMessage"`
	LastMessageTime int64  `json:"lastMessageTime"`
	CreatedBy       string `json:"createdBy,omitempty"`
	CreatedAt       int64  `json:"createdAt,omitempty"`
}

// Message is a single chat line. Timestamp is Unix milliseconds.
type Message struct {
	ID         string `json:"messageId"`
	ChatRoomID string `json:"chatRoomId"`
	UserID     string `json:"userId"`
	UserName   string `json:"userName"`
	Content    string `json:"content"`
	Timestamp  int64  `json:"timestamp"`
}
