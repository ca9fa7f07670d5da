package v1

// UserNotifications is the per-user notification destination.
func UserNotifications(userID string) string {
	return "/user/" + userID + "/notifications"
}

// HelloPayload is sent by the client to initiate a session.
type HelloPayload struct {
	Client string `json:"client,omitempty"`
}

// HelloAckPayload carries the server-side session id.
type HelloAckPayload struct {
	SessionID string `json:"session_id"`
}

// SubscribePayload requests delivery for a destination.
type SubscribePayload struct {
	Destination string `json:"destination"`
}

// SubscribedPayload confirms a subscription.
type SubscribedPayload struct {
	Destination string `json:"destination"`
}

// NotificationPayload is one user notification.
type NotificationPayload struct {
	ID        string  `json:"id"`
	Type      string  `json:"type"`
	Message   string  `json:"message"`
	SenderID  *string `json:"senderId,omitempty"`
	PostID    *string `json:"postId,omitempty"`
	CommentID *string `json:"commentId,omitempty"`
	Read      bool    `json:"read"`
}

// ErrorPayload is a generic error response payload.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
