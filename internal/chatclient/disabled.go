package chatclient

import (
	"context"
	"fmt"
)

// DisabledClient implements ChatClient but rejects every operation. It is
// used when DISCORD_TOKEN is unset, so the scraper can still run (and tests
// can run) without a live bot connection.
type DisabledClient struct {
	Reason string
}

func (d *DisabledClient) err() error {
	return fmt.Errorf("chat client is disabled: %s", d.Reason)
}

func (d *DisabledClient) SendMessage(_ context.Context, _ string, _ Message) (*SentMessage, error) {
	return nil, d.err()
}

func (d *DisabledClient) EditMessage(_ context.Context, _, _ string, _ Message) error {
	return d.err()
}

func (d *DisabledClient) CreateThread(_ context.Context, _, _, _ string) (string, error) {
	return "", d.err()
}

func (d *DisabledClient) DeferInteraction(_ context.Context, _ Interaction) error {
	return d.err()
}

func (d *DisabledClient) FollowupMessage(_ context.Context, _ Interaction, _ Message) error {
	return d.err()
}

func (d *DisabledClient) RegisterCommands(_ context.Context) error {
	return d.err()
}

func (d *DisabledClient) Classify(_ error) ErrorClass {
	return ClassOther
}
