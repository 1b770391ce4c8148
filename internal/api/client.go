// Package api talks to the meeting REST backend. The coordinator treats
// everything it returns as opaque configuration except the caller's own
// participant identifier.
package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"huddle/client/internal/domain"
)

// Client calls the meeting backend.
type Client struct {
	base  string
	token string
	http  *http.Client
}

// NewClient creates an API client for the given base URL and bearer token.
func NewClient(baseURL, token string) *Client {
	return &Client{
		base:  baseURL,
		token: token,
		http:  &http.Client{Timeout: 15 * time.Second},
	}
}

// apiResponse is the envelope every backend endpoint answers with.
type apiResponse struct {
	Result int             `json:"result"`
	Msg    string          `json:"msg"`
	Data   json.RawMessage `json:"data"`
}

type joinRequest struct {
	DisplayName string `json:"displayName"`
	RequestID   string `json:"requestId"`
}

// JoinMeeting joins an existing meeting as an authenticated user and returns
// the session metadata: self identity, present participants, ICE servers.
func (c *Client) JoinMeeting(meetingID, displayName string) (*domain.Meeting, error) {
	var m domain.Meeting
	err := c.do("POST", "/meetings/"+meetingID+"/join",
		joinRequest{DisplayName: displayName, RequestID: uuid.NewString()}, &m)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// JoinAsGuest joins a meeting without an account; the backend mints a guest
// identity and returns the same metadata as JoinMeeting.
func (c *Client) JoinAsGuest(meetingID, displayName string) (*domain.Meeting, error) {
	var m domain.Meeting
	err := c.do("POST", "/meetings/"+meetingID+"/guest",
		joinRequest{DisplayName: displayName, RequestID: uuid.NewString()}, &m)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// AcceptInvitation redeems an invitation code and returns the meeting it
// grants access to.
func (c *Client) AcceptInvitation(code string) (*domain.Meeting, error) {
	var m domain.Meeting
	err := c.do("POST", "/invitations/"+code+"/accept",
		joinRequest{RequestID: uuid.NewString()}, &m)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// LeaveMeeting announces departure to the backend.
func (c *Client) LeaveMeeting(meetingID string) error {
	return c.do("POST", "/meetings/"+meetingID+"/leave", nil, nil)
}

// EndMeeting ends the meeting for all participants. Only the host may call
// this; the backend enforces that.
func (c *Client) EndMeeting(meetingID string) error {
	return c.do("POST", "/meetings/"+meetingID+"/end", nil, nil)
}

// ListParticipants returns the participants currently present.
func (c *Client) ListParticipants(meetingID string) ([]domain.Participant, error) {
	var out struct {
		Participants []domain.Participant `json:"participants"`
	}
	if err := c.do("GET", "/meetings/"+meetingID+"/participants", nil, &out); err != nil {
		return nil, err
	}
	return out.Participants, nil
}

func (c *Client) do(method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, c.base+path, reader)
	if err != nil {
		return fmt.Errorf("create http request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.http.Do(req)
	if err != nil {
		return &domain.NetworkError{Op: method + " " + path, Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return fmt.Errorf("%w: http %d", domain.ErrAuthRejected, resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("http %d: %s", resp.StatusCode, string(respBody))
	}

	var envelope apiResponse
	if err := json.Unmarshal(respBody, &envelope); err != nil {
		return fmt.Errorf("unmarshal response: %w", err)
	}
	if envelope.Result != 0 {
		return fmt.Errorf("API error (result=%d): %s", envelope.Result, envelope.Msg)
	}
	if out != nil {
		if err := json.Unmarshal(envelope.Data, out); err != nil {
			return fmt.Errorf("unmarshal response data: %w", err)
		}
	}
	return nil
}
