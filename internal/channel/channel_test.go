package channel

import (
	"context"
	"testing"
)

type stubChannel struct{}

func (stubChannel) SendPrompt(ctx context.Context, p Prompt) (string, error) { return "msg-1", nil }
func (stubChannel) UpdateOutcome(ctx context.Context, messageHandle string, o Outcome) error {
	return nil
}
func (stubChannel) Validate(ctx context.Context) error { return nil }

func TestRegisterAndNew(t *testing.T) {
	Register("stub-channel-for-test", func(config map[string]interface{}) (Channel, error) {
		return stubChannel{}, nil
	})

	c, err := New("stub-channel-for-test", nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	handle, err := c.SendPrompt(context.Background(), Prompt{RequestID: "abc"})
	if err != nil || handle != "msg-1" {
		t.Fatalf("unexpected result: %q, %v", handle, err)
	}
}

func TestNewUnknownChannel(t *testing.T) {
	if _, err := New("does-not-exist", nil); err == nil {
		t.Fatal("expected error for unregistered channel name")
	}
}
