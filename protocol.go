/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"errors"

	"github.com/Seednode/handcricket/cricket"
)

// ClientMessage is every frame a browser may send. Seq is optional; when
// set it must increase by one per message on a connection.
type ClientMessage struct {
	Type     string `json:"type"`
	Seq      int64  `json:"seq,omitempty"`
	Username string `json:"username,omitempty"` // join
	Overs    int    `json:"overs,omitempty"`    // rules
	Wickets  int    `json:"wickets,omitempty"`  // rules
	Choice   string `json:"choice,omitempty"`   // toss_choice, bat_bowl_choice
	Number   int    `json:"number,omitempty"`   // toss_number, pick
	Event    string `json:"event,omitempty"`    // navigate
}

const (
	msgJoin          = "join"
	msgRules         = "rules"
	msgTossChoice    = "toss_choice"
	msgTossNumber    = "toss_number"
	msgBatBowlChoice = "bat_bowl_choice"
	msgPick          = "pick"
	msgNextInnings   = "next_innings"
	msgPlayAgain     = "play_again"
	msgNavigate      = "navigate"
	msgLeave         = "leave"
	msgResync        = "resync"
)

// frame is the wire shape of every server message. Seq counts the frames
// written to one connection, starting at 1.
type frame struct {
	Type string `json:"type"`
	Seq  int64  `json:"seq"`
	Data any    `json:"data,omitempty"`
}

// outbound is queued on a client and stamped with a seq by its writePump.
type outbound struct {
	kind string
	data any
}

const (
	msgWelcome        = "welcome"
	msgState          = "state"
	msgBall           = "ball"
	msgInningsOver    = "innings_over"
	msgResult         = "result"
	msgRecorded       = "recorded"
	msgOpponentLeft   = "opponent_left"
	msgResyncRequired = "resync_required"
	msgError          = "error"
)

// WelcomeMessage tells a connection which seat, if any, it holds.
type WelcomeMessage struct {
	Room      string `json:"room"`
	Mode      string `json:"mode"`
	Seat      string `json:"seat,omitempty"` // "local" or "opponent"
	Spectator bool   `json:"spectator"`
	Username  string `json:"username,omitempty"`
}

type PlayerInfo struct {
	Seat      string `json:"seat"`
	Username  string `json:"username"`
	Connected bool   `json:"connected"`
	Computer  bool   `json:"computer,omitempty"`
}

// StateMessage is the full room view, sent after every change and on resync.
type StateMessage struct {
	Screen  cricket.Screen   `json:"screen"`
	Mode    string           `json:"mode"`
	Players []PlayerInfo     `json:"players"`
	Gated   bool             `json:"gated"`
	Match   cricket.Snapshot `json:"match"`
	MatchID string           `json:"match_id,omitempty"`
}

type BallMessage struct {
	Ball           cricket.BallOutcome `json:"ball"`
	Innings        int                 `json:"innings"`
	Batting        cricket.Side        `json:"batting"`
	Runs           int                 `json:"runs"`
	Wickets        int                 `json:"wickets"`
	BallsRemaining int                 `json:"balls_remaining"`
	OversBowled    string              `json:"overs_bowled"`
}

type InningsOverMessage struct {
	Innings int `json:"innings"`
	Runs    int `json:"runs"`
	Target  int `json:"target"`
}

type ResultMessage struct {
	Result cricket.ResultView `json:"result"`
}

type RecordedMessage struct {
	MatchID string `json:"match_id"`
}

type NoticeMessage struct {
	Message string `json:"message"`
}

// ErrorMessage carries a stable code the client can branch on.
type ErrorMessage struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

const (
	codeWait        = "wait"
	codeNotSeated   = "not_seated"
	codeNotHost     = "not_host"
	codeWrongScreen = "wrong_screen"
	codeUnknownType = "unknown_type"
	codeInternal    = "internal"
)

var errorCodes = []struct {
	err  error
	code string
}{
	{cricket.ErrInvalidPick, "invalid_pick"},
	{cricket.ErrInvalidSettings, "invalid_settings"},
	{cricket.ErrInvalidParity, "invalid_choice"},
	{cricket.ErrInvalidRole, "invalid_choice"},
	{cricket.ErrWrongPhase, "wrong_phase"},
	{cricket.ErrNotYourTurn, "not_your_turn"},
	{cricket.ErrNoActiveInnings, "no_innings"},
	{cricket.ErrAlreadySubmitted, "already_submitted"},
	{cricket.ErrNotTossWinner, "not_toss_winner"},
	{cricket.ErrInvalidTransition, "invalid_transition"},
}

func cricketErrorCode(err error) string {
	for _, e := range errorCodes {
		if errors.Is(err, e.err) {
			return e.code
		}
	}
	return codeInternal
}
