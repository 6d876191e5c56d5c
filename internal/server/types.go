package server

import (
	"time"

	"github.com/dshaw/fablefriend/internal/session"
)

// BeginRequest is the POST /sessions request body.
type BeginRequest struct {
	// CharName is the player character's name. Required.
	CharName string `json:"char_name"`

	// Theme is the story setting. Required.
	Theme string `json:"theme"`

	// Role is the character's role in the world. Optional.
	Role string `json:"role,omitempty"`
}

// ActionRequest is the POST /sessions/{id}/action body.
type ActionRequest struct {
	Text string `json:"text"`
}

// TurnResponse is returned by every operation that produces transcript
// entries. Image bytes never travel in the JSON body; clients fetch them
// from the images endpoint by hash.
type TurnResponse struct {
	SessionID  string                    `json:"session_id"`
	Entries    []session.TranscriptEntry `json:"entries"`
	ImageHash  string                    `json:"image_hash,omitempty"`
	Terminated bool                      `json:"terminated,omitempty"`
	GameOver   bool                      `json:"game_over,omitempty"`
}

// SessionStatus is returned by GET /sessions/{id}.
type SessionStatus struct {
	SessionID  string                    `json:"session_id"`
	Transcript []session.TranscriptEntry `json:"transcript"`
	TurnCount  int                       `json:"turn_count"`
	Tension    int                       `json:"tension"`
	Progress   int                       `json:"progress"`
	Terminated bool                      `json:"terminated"`
	Created    time.Time                 `json:"created"`
	LastActive time.Time                 `json:"last_active"`
}

// ErrorResponse is a standard error envelope. Menu is set when the session
// is gone and the client should return to its opening menu.
type ErrorResponse struct {
	Error string `json:"error"`
	Menu  bool   `json:"menu,omitempty"`
}
