package dmbox

import (
	"time"

	"github.com/rbaliyan/dmbox/store"
)

// SendRequest is the input to Mailbox.Send.
type SendRequest struct {
	// RecipientIDs lists the user IDs to deliver to. Duplicates are removed,
	// keeping first-seen order.
	RecipientIDs []string
	// Text is optional; nil means the message has no text.
	Text *string
}

// UserView is the public form of a user. It never carries the password hash.
type UserView struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// NewUserView converts a stored user to its public form.
func NewUserView(u store.User) UserView {
	return UserView{
		ID:        u.ID,
		Username:  u.Username,
		CreatedAt: u.CreatedAt,
		UpdatedAt: u.UpdatedAt,
	}
}

// MessageView is a message as returned by List. It does not say whether the
// caller sent or received it.
type MessageView struct {
	ID     string   `json:"id"`
	Sender UserView `json:"sender"`
	// Recipients holds the usernames of every original recipient in
	// delivery order, including ones who have since deleted the message.
	Recipients []string  `json:"recipients"`
	Text       *string   `json:"textContent"`
	SentAt     time.Time `json:"sentAt"`
}
