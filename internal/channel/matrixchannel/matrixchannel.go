// Package matrixchannel is a reference Channel implementation backed by
// maunium.net/go/mautrix. SendPrompt posts a formatted message to a
// configured room carrying the request's item/field/container/reason
// and a callback-data token (ag:approve:<id> / ag:deny:<id>);
// UpdateOutcome edits that event in place via an m.replace relation to
// show the resolved state.
package matrixchannel

import (
	"context"
	"fmt"

	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/rudenavuud/agent-gate/internal/channel"
)

func init() {
	channel.Register("matrix", newFromConfig)
}

// Config is the channel's nested configuration document.
type Config struct {
	Homeserver  string `yaml:"homeserver"`
	UserID      string `yaml:"userId"`
	AccessToken string `yaml:"accessToken"`
	RoomID      string `yaml:"roomId"`
}

// Matrix is the matrixchannel Channel.
type Matrix struct {
	client *mautrix.Client
	roomID id.RoomID
}

func newFromConfig(raw map[string]interface{}) (channel.Channel, error) {
	homeserver, _ := raw["homeserver"].(string)
	userID, _ := raw["userId"].(string)
	accessToken, _ := raw["accessToken"].(string)
	roomID, _ := raw["roomId"].(string)

	if homeserver == "" || userID == "" || accessToken == "" || roomID == "" {
		return nil, fmt.Errorf("matrixchannel: homeserver, userId, accessToken and roomId are all required")
	}

	client, err := mautrix.NewClient(homeserver, id.UserID(userID), accessToken)
	if err != nil {
		return nil, fmt.Errorf("matrixchannel: new client: %w", err)
	}

	return &Matrix{client: client, roomID: id.RoomID(roomID)}, nil
}

// SendPrompt posts a formatted approval-request message to the
// configured room and returns the new event's id as the message handle.
func (m *Matrix) SendPrompt(ctx context.Context, p channel.Prompt) (string, error) {
	plain := fmt.Sprintf(
		"Approval requested (%s)\ncontainer=%s item=%s field=%s\nreason: %s\n\nReply \"approve %s\" or \"deny %s <reason>\"",
		p.RequestID, p.Container, p.Item, p.Field, p.Reason, p.RequestID, p.RequestID,
	)
	html := fmt.Sprintf(
		"<p><b>Approval requested</b> (<code>%s</code>)</p>"+
			"<p>container=<code>%s</code> item=<code>%s</code> field=<code>%s</code></p>"+
			"<p>reason: %s</p>"+
			"<p><a href=\"ag:approve:%s\">approve</a> · <a href=\"ag:deny:%s\">deny</a></p>",
		p.RequestID, p.Container, p.Item, p.Field, p.Reason, p.RequestID, p.RequestID,
	)

	content := event.MessageEventContent{
		MsgType:       event.MsgText,
		Body:          plain,
		Format:        event.FormatHTML,
		FormattedBody: html,
	}

	resp, err := m.client.SendMessageEvent(ctx, m.roomID, event.EventMessage, &content)
	if err != nil {
		return "", fmt.Errorf("matrixchannel: send prompt: %w", err)
	}
	return resp.EventID.String(), nil
}

// UpdateOutcome edits the previously sent prompt event to show the final
// outcome, via an m.replace relation. Best-effort: the orchestrator
// only logs this method's error.
func (m *Matrix) UpdateOutcome(ctx context.Context, messageHandle string, o channel.Outcome) error {
	verb := "DENIED"
	if o.Approved {
		verb = "APPROVED"
	}
	body := fmt.Sprintf("* %s: container=%s item=%s field=%s", verb, o.Container, o.Item, o.Field)

	content := event.MessageEventContent{
		MsgType: event.MsgNotice,
		Body:    "* " + body,
		NewContent: &event.MessageEventContent{
			MsgType: event.MsgNotice,
			Body:    body,
		},
		RelatesTo: &event.RelatesTo{
			Type:    event.RelReplace,
			EventID: id.EventID(messageHandle),
		},
	}

	_, err := m.client.SendMessageEvent(ctx, m.roomID, event.EventMessage, &content)
	if err != nil {
		return fmt.Errorf("matrixchannel: update outcome: %w", err)
	}
	return nil
}

// Validate confirms the access token is live by calling whoami.
func (m *Matrix) Validate(ctx context.Context) error {
	if _, err := m.client.Whoami(ctx); err != nil {
		return fmt.Errorf("matrixchannel: validate: %w", err)
	}
	return nil
}
