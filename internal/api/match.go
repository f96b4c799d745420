package api

import (
	"context"
	"fmt"
)

// Login authenticates and returns the access token.
func (c *Client) Login(ctx context.Context, req LoginRequest) (*LoginResponse, error) {
	var resp LoginResponse
	if err := c.post(ctx, "/auth/login", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// StartMatch issues a new match request.
func (c *Client) StartMatch(ctx context.Context, criteria MatchCriteria) (*StartResponse, error) {
	var resp StartResponse
	if err := c.post(ctx, "/match/requests", criteria, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// AcceptMatch accepts the pairing identified by requestID.
func (c *Client) AcceptMatch(ctx context.Context, requestID int64) (*DecisionResponse, error) {
	var resp DecisionResponse
	if err := c.post(ctx, fmt.Sprintf("/match/requests/%d/accept", requestID), nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// DeclineMatch declines the pairing identified by requestID.
func (c *Client) DeclineMatch(ctx context.Context, requestID int64) (*DecisionResponse, error) {
	var resp DecisionResponse
	if err := c.post(ctx, fmt.Sprintf("/match/requests/%d/decline", requestID), nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}
