package provider

import (
	"context"
	"testing"
)

type stubProvider struct{}

func (stubProvider) ParseReference(reference string) (Reference, error) {
	return Reference{Container: "pub", Item: "k", Field: "f"}, nil
}
func (stubProvider) Fetch(ctx context.Context, reference string, elevated bool) (string, error) {
	return "v", nil
}
func (stubProvider) Validate(ctx context.Context) error { return nil }

func TestRegisterAndNew(t *testing.T) {
	Register("stub-for-test", func(config map[string]interface{}) (Provider, error) {
		return stubProvider{}, nil
	})

	p, err := New("stub-for-test", nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ref, err := p.ParseReference("op://pub/k/f")
	if err != nil || ref.Container != "pub" {
		t.Fatalf("unexpected parse result: %+v, %v", ref, err)
	}
}

func TestNewUnknownProvider(t *testing.T) {
	if _, err := New("does-not-exist", nil); err == nil {
		t.Fatal("expected error for unregistered provider name")
	}
}
