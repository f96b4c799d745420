package api

import (
	"context"
	"fmt"
)

// ListRooms returns the rooms visible to the current user.
func (c *Client) ListRooms(ctx context.Context) ([]Room, error) {
	var rooms []Room
	if err := c.get(ctx, "/rooms", &rooms); err != nil {
		return nil, err
	}
	return rooms, nil
}

// ListMessages loads the message history for a room.
func (c *Client) ListMessages(ctx context.Context, roomID int64) ([]Message, error) {
	var messages []Message
	if err := c.get(ctx, fmt.Sprintf("/rooms/%d/messages", roomID), &messages); err != nil {
		return nil, err
	}
	return messages, nil
}

// CreateGroupRoom creates a new group chat room.
func (c *Client) CreateGroupRoom(ctx context.Context) (*Room, error) {
	var room Room
	if err := c.post(ctx, "/rooms", nil, &room); err != nil {
		return nil, err
	}
	return &room, nil
}
