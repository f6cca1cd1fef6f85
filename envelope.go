package dmbox

import (
	"fmt"

	"github.com/rbaliyan/dmbox/store"
)

// buildEnvelope assembles the view of msg from its deliveries (in delivery
// order) and a map of users by ID. It returns an *IntegrityError if the
// sender or any recipient cannot be resolved.
func buildEnvelope(msg store.Message, deliveries []store.Delivery, users map[string]store.User) (MessageView, error) {
	if msg.ID == "" {
		return MessageView{}, &IntegrityError{Reason: "message has no id"}
	}

	sender, ok := users[msg.SenderID]
	if !ok {
		return MessageView{}, &IntegrityError{
			MessageID: msg.ID,
			Reason:    fmt.Sprintf("sender %s not found", msg.SenderID),
		}
	}

	recipients := make([]string, 0, len(deliveries))
	for _, d := range deliveries {
		u, ok := users[d.RecipientID]
		if !ok {
			return MessageView{}, &IntegrityError{
				MessageID: msg.ID,
				Reason:    fmt.Sprintf("recipient %s not found", d.RecipientID),
			}
		}
		recipients = append(recipients, u.Username)
	}

	return MessageView{
		ID:         msg.ID,
		Sender:     NewUserView(sender),
		Recipients: recipients,
		Text:       store.CloneText(msg.Text),
		SentAt:     msg.SentAt,
	}, nil
}
