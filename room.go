/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

// Handcricket rooms
//
// Each room is one hub goroutine that owns a cricket.Match and every
// connection watching it.
//
// - Duel rooms seat two browsers: the first to join is the host (the local
//   side), the second is the guest. Later connections only watch.
// - Solo rooms seat one browser against the computer.
// - Players are identified by cookie, so a reload reclaims the same seat.
// - After a toss or ball resolves the room is gated for --reveal-delay and
//   picks are refused until the reveal is over.
// - A seat that leaves, or stays disconnected past --player-timeout, ends
//   the match and sends the room back home.
// - Finished matches are handed to the leaderboard recorder.

package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/Seednode/handcricket/cricket"
	"github.com/Seednode/handcricket/leaderboard"
	"github.com/gorilla/websocket"
)

type roomMode string

const (
	modeDuel roomMode = "duel"
	modeSolo roomMode = "solo"
)

const (
	computerName   = "Computer"
	maxUsernameLen = 32
)

// Recorder stores finished matches and returns their id.
type Recorder interface {
	RecordMatch(ctx context.Context, m leaderboard.Match) (string, error)
}

// roomError is a protocol error that has no counterpart in the cricket
// package.
type roomError struct {
	code    string
	message string
}

func (e *roomError) Error() string { return e.message }

var (
	errWait            = &roomError{codeWait, "the last result is still being revealed"}
	errNotHost         = &roomError{codeNotHost, "only the host may do that"}
	errWrongScreen     = &roomError{codeWrongScreen, "not available on this screen"}
	errOpponentMissing = &roomError{"waiting_for_opponent", "waiting for an opponent to join"}
	errNameTaken       = &roomError{"name_taken", "that username is already taken in this room"}
	errNameTooLong     = &roomError{"invalid_name", fmt.Sprintf("usernames are limited to %d characters", maxUsernameLen)}
	errBadMessage      = &roomError{"bad_message", "message is not valid JSON"}
)

type Client struct {
	conn     *websocket.Conn
	send     chan outbound
	playerID string

	// lastSeq is only touched by the room goroutine.
	lastSeq int64
}

type seat struct {
	playerID string
	username string
	ranked   bool

	// gone counts disconnects; a seat timeout only applies to the latest one.
	gone uint64
}

type inbound struct {
	client *Client
	msg    ClientMessage
	err    error
}

type Room struct {
	id       string
	mode     roomMode
	cfg      *Config
	recorder Recorder
	computer cricket.PickSource

	clients map[*Client]bool
	seats   [2]*seat

	register chan *Client
	unreg    chan *Client
	inbox    chan inbound
	events   chan func()
	done     chan struct{}

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once

	mu sync.RWMutex

	createdAt  time.Time
	lastActive time.Time

	nav      *cricket.Navigator
	match    *cricket.Match
	session  *cricket.Session
	timeline *cricket.Timeline
	gated    bool
	matchID  string
}

func newRoom(cfg *Config, id string, mode roomMode, recorder Recorder, computer cricket.PickSource) *Room {
	now := time.Now()
	ctx, cancel := context.WithCancel(context.Background())

	r := &Room{
		id:         id,
		mode:       mode,
		cfg:        cfg,
		recorder:   recorder,
		computer:   computer,
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unreg:      make(chan *Client),
		inbox:      make(chan inbound),
		events:     make(chan func(), 16),
		done:       make(chan struct{}),
		ctx:        ctx,
		cancel:     cancel,
		createdAt:  now,
		lastActive: now,
		nav:        cricket.NewNavigator(cricket.ScreenIntro),
		timeline:   cricket.NewTimeline(),
	}
	r.installMatchLocked(cricket.NewMatch())

	return r
}

func (r *Room) run() {
	for {
		select {
		case <-r.done:
			return
		case c := <-r.register:
			r.mu.Lock()
			r.handleRegisterLocked(c)
			r.mu.Unlock()
		case c := <-r.unreg:
			r.mu.Lock()
			r.handleUnregLocked(c)
			r.mu.Unlock()
		case in := <-r.inbox:
			r.mu.Lock()
			r.handleMessageLocked(in)
			r.mu.Unlock()
		case fn := <-r.events:
			r.mu.Lock()
			fn()
			r.mu.Unlock()
		}
	}
}

// post runs fn on the room goroutine. It must not be called from it.
func (r *Room) post(fn func()) {
	select {
	case r.events <- fn:
	case <-r.done:
	}
}

func (r *Room) handleRegisterLocked(c *Client) {
	r.lastActive = time.Now()
	r.clients[c] = true

	if idx := r.seatOfLocked(c.playerID); idx >= 0 {
		logf(r.cfg, "ROOMS: %q reconnected to %s", r.seats[idx].username, r.id)
		r.sendWelcomeLocked(c)
	}
	r.sendStateLocked(c)
}

func (r *Room) handleUnregLocked(c *Client) {
	r.lastActive = time.Now()

	if _, ok := r.clients[c]; ok {
		delete(r.clients, c)
		close(c.send)
	}

	idx := r.seatOfLocked(c.playerID)
	if idx < 0 || r.connectedLocked(c.playerID) {
		return
	}

	s := r.seats[idx]
	s.gone++
	playerID, gone := c.playerID, s.gone
	time.AfterFunc(r.cfg.playerTimeout, func() {
		r.post(func() { r.expireSeatLocked(playerID, gone) })
	})
	r.broadcastStateLocked()
}

func (r *Room) expireSeatLocked(playerID string, gone uint64) {
	idx := r.seatOfLocked(playerID)
	if idx < 0 || r.connectedLocked(playerID) || r.seats[idx].gone != gone {
		return
	}
	r.vacateLocked(idx, "timed out")
}

func (r *Room) handleMessageLocked(in inbound) {
	c, msg := in.client, in.msg
	r.lastActive = time.Now()

	if in.err != nil {
		r.sendErrorLocked(c, errBadMessage)
		return
	}
	if !r.checkSeqLocked(c, msg.Seq) {
		return
	}

	switch msg.Type {
	case msgResync:
		r.sendStateLocked(c)
		return
	case msgJoin:
		if err := r.joinLocked(c, msg.Username); err != nil {
			r.sendErrorLocked(c, err)
		}
		return
	}

	idx := r.seatOfLocked(c.playerID)
	if idx < 0 {
		r.sendErrorLocked(c, &roomError{codeNotSeated, "join a seat to play"})
		return
	}
	side := cricket.Side(idx)

	var err error
	switch msg.Type {
	case msgRules:
		err = r.rulesLocked(side, msg.Overs, msg.Wickets)
	case msgTossChoice:
		err = r.tossChoiceLocked(side, msg.Choice)
	case msgTossNumber:
		err = r.tossNumberLocked(side, msg.Number)
	case msgBatBowlChoice:
		err = r.batBowlLocked(side, msg.Choice)
	case msgPick:
		err = r.pickLocked(side, msg.Number)
	case msgNextInnings:
		err = r.nextInningsLocked()
	case msgPlayAgain:
		err = r.playAgainLocked()
	case msgNavigate:
		err = r.navigateLocked(msg.Event)
	case msgLeave:
		r.leaveLocked(c, idx)
		return
	default:
		err = &roomError{codeUnknownType, fmt.Sprintf("unknown message type %q", msg.Type)}
	}

	if err != nil {
		r.sendErrorLocked(c, err)
		return
	}
	r.broadcastStateLocked()
}

// checkSeqLocked drops duplicates and answers gaps with a resync. Zero means
// the sender does not sequence its messages.
func (r *Room) checkSeqLocked(c *Client, seq int64) bool {
	if seq == 0 {
		return true
	}

	switch expected := c.lastSeq + 1; {
	case seq < expected:
		logf(r.cfg, "ROOMS: Dropped duplicate message %d in %s", seq, r.id)
		return false
	case seq > expected:
		c.lastSeq = seq
		r.sendLocked(c, msgResyncRequired, NoticeMessage{
			Message: fmt.Sprintf("expected message %d, got %d", expected, seq),
		})
		r.sendStateLocked(c)
		return false
	}

	c.lastSeq = seq
	return true
}

func (r *Room) joinLocked(c *Client, username string) error {
	username = strings.TrimSpace(username)
	if utf8.RuneCountInString(username) > maxUsernameLen {
		return errNameTooLong
	}

	if idx := r.seatOfLocked(c.playerID); idx >= 0 {
		if username != "" && username != r.seats[idx].username {
			if r.nameTakenLocked(idx, username) {
				return errNameTaken
			}
			r.seats[idx].username, r.seats[idx].ranked = username, true
		}
		r.sendWelcomeLocked(c)
		r.broadcastStateLocked()
		return nil
	}

	idx := r.freeSeatLocked()
	if idx < 0 {
		r.sendWelcomeLocked(c)
		return nil
	}
	if username != "" && r.nameTakenLocked(idx, username) {
		return errNameTaken
	}

	s := &seat{playerID: c.playerID, username: username, ranked: username != ""}
	if s.username == "" {
		s.username = fmt.Sprintf("Player %d", idx+1)
	}
	r.seats[idx] = s

	if r.nav.Current() == cricket.ScreenIntro {
		r.fireLocked(cricket.EventStart)
	}

	logf(r.cfg, "ROOMS: %q took the %s seat in %s", s.username, cricket.Side(idx), r.id)

	r.sendWelcomeLocked(c)
	r.broadcastStateLocked()
	return nil
}

func (r *Room) rulesLocked(side cricket.Side, overs, wickets int) error {
	if side != cricket.Local {
		return errNotHost
	}
	if s := r.nav.Current(); s != cricket.ScreenHome && s != cricket.ScreenResult {
		return errWrongScreen
	}
	if r.mode == modeDuel && r.seats[cricket.Opponent] == nil {
		return errOpponentMissing
	}

	m := cricket.NewMatch()
	if err := m.Configure(overs, wickets); err != nil {
		return err
	}
	r.installMatchLocked(m)
	r.fireLocked(cricket.EventPlay)

	logf(r.cfg, "ROOMS: Match started in %s (%d overs, %d wickets)", r.id, overs, wickets)
	return nil
}

func (r *Room) tossChoiceLocked(side cricket.Side, choice string) error {
	if side != cricket.Local {
		return errNotHost
	}
	p, err := cricket.ParseParity(choice)
	if err != nil {
		return err
	}
	if err := r.match.ChooseParity(p); err != nil {
		return err
	}
	r.afterTossLocked()
	return nil
}

func (r *Room) tossNumberLocked(side cricket.Side, n int) error {
	if r.gated {
		return errWait
	}

	var err error
	if r.mode == modeSolo {
		err = r.session.SubmitTossNumber(r.ctx, n)
	} else {
		err = r.match.SubmitTossNumber(side, n)
	}
	if err != nil {
		return err
	}

	r.afterTossLocked()
	return nil
}

// afterTossLocked reveals a resolved toss and moves on when the gate opens.
func (r *Room) afterTossLocked() {
	if r.match.Toss().Phase() != cricket.TossResolved {
		return
	}
	r.gateLocked(r.proceedTossLocked)
}

func (r *Room) proceedTossLocked() error {
	var err error
	if r.mode == modeSolo {
		err = r.session.ProceedToss(r.ctx)
	} else {
		err = r.match.ProceedToss()
	}
	if err != nil {
		return err
	}

	if r.match.Phase() == cricket.PhaseInnings {
		r.fireLocked(cricket.EventTossDone)
	}
	return nil
}

func (r *Room) batBowlLocked(side cricket.Side, choice string) error {
	role, err := cricket.ParseRole(choice)
	if err != nil {
		return err
	}
	if err := r.match.ChooseBatOrBowl(side, role); err != nil {
		return err
	}
	r.fireLocked(cricket.EventTossDone)
	return nil
}

func (r *Room) pickLocked(side cricket.Side, n int) error {
	if r.gated {
		return errWait
	}

	var (
		u   cricket.Update
		err error
	)
	if r.mode == modeSolo {
		u, err = r.session.Play(r.ctx, n)
	} else {
		u, err = r.match.Pick(side, n)
	}
	if err != nil {
		return err
	}
	if u.Ball == nil {
		return nil
	}

	in := u.Innings
	r.broadcastLocked(msgBall, BallMessage{
		Ball:           *u.Ball,
		Innings:        in.Number,
		Batting:        in.Batting,
		Runs:           in.Runs,
		Wickets:        in.Wickets,
		BallsRemaining: in.BallsRemaining,
		OversBowled:    in.OversBowled(),
	})

	switch {
	case u.Result != nil:
		r.finishLocked(*u.Result)
	case u.InningsOver:
		r.broadcastLocked(msgInningsOver, InningsOverMessage{
			Innings: in.Number,
			Runs:    in.Runs,
			Target:  r.match.Target(),
		})
	}

	r.gateLocked(nil)
	return nil
}

func (r *Room) nextInningsLocked() error {
	if r.gated {
		return errWait
	}
	return r.match.StartSecondInnings()
}

func (r *Room) playAgainLocked() error {
	if r.match.Phase() != cricket.PhaseComplete {
		return fmt.Errorf("play again: %w", cricket.ErrWrongPhase)
	}
	if r.nav.Current() != cricket.ScreenResult {
		return errWrongScreen
	}
	if r.mode == modeDuel && r.seats[cricket.Opponent] == nil {
		return errOpponentMissing
	}

	r.installMatchLocked(r.match.Rematch())
	r.fireLocked(cricket.EventPlay)
	return nil
}

// navigateLocked handles the screen changes a player may ask for directly.
// Going home abandons any match in progress.
func (r *Room) navigateLocked(name string) error {
	e, err := cricket.ParseEvent(name)
	if err != nil {
		return err
	}

	switch e {
	case cricket.EventHome:
		r.resetLocked()
		return nil
	case cricket.EventLeaderboard, cricket.EventBack:
		_, err := r.nav.Fire(e)
		return err
	default:
		return fmt.Errorf("%w: %q is driven by the match", cricket.ErrInvalidTransition, name)
	}
}

func (r *Room) leaveLocked(c *Client, idx int) {
	logf(r.cfg, "ROOMS: %q left %s", r.seats[idx].username, r.id)
	r.vacateLocked(idx, "left the room")
	r.sendWelcomeLocked(c)
}

// vacateLocked frees a seat and discards the match it was part of.
func (r *Room) vacateLocked(idx int, reason string) {
	s := r.seats[idx]
	r.seats[idx] = nil
	r.resetLocked()

	if r.mode == modeDuel {
		notice := NoticeMessage{Message: fmt.Sprintf("%s %s", s.username, reason)}
		for c := range r.clients {
			if c.playerID != s.playerID {
				r.sendLocked(c, msgOpponentLeft, notice)
			}
		}
	}

	r.broadcastStateLocked()
}

func (r *Room) resetLocked() {
	r.installMatchLocked(cricket.NewMatch())
	r.fireLocked(cricket.EventHome)
}

func (r *Room) installMatchLocked(m *cricket.Match) {
	r.timeline.Cancel()
	r.gated = false
	r.matchID = ""
	r.match = m
	r.session = nil
	if r.mode == modeSolo {
		r.session = cricket.NewSession(m, r.computer)
	}
}

// gateLocked holds picks back for the reveal delay, then runs next (if any)
// and publishes the new state.
func (r *Room) gateLocked(next func() error) {
	if r.cfg.revealDelay <= 0 {
		if next != nil {
			if err := next(); err != nil {
				r.logError(err)
			}
		}
		return
	}

	m := r.match
	r.gated = true
	r.timeline.After(r.cfg.revealDelay, func() {
		r.post(func() {
			if r.match != m {
				return
			}
			r.gated = false
			if next != nil {
				if err := next(); err != nil {
					r.logError(err)
				}
			}
			r.broadcastStateLocked()
		})
	})
}

func (r *Room) finishLocked(res cricket.Result) {
	r.fireLocked(cricket.EventMatchOver)

	for c := range r.clients {
		view := res
		if r.seatOfLocked(c.playerID) == int(cricket.Opponent) {
			view = res.Flip()
		}
		r.sendLocked(c, msgResult, ResultMessage{
			Result: cricket.ResultView{Result: view, Summary: view.Summary()},
		})
	}

	logf(r.cfg, "ROOMS: Match over in %s: %d-%d", r.id, res.LocalScore, res.OpponentScore)

	r.recordLocked()
}

func (r *Room) recordLocked() {
	if r.recorder == nil {
		return
	}

	m := r.match
	card := r.scorecardLocked()

	go func() {
		ctx, cancel := context.WithTimeout(r.ctx, timeout)
		defer cancel()

		id, err := r.recorder.RecordMatch(ctx, card)
		if err != nil {
			r.logError(fmt.Errorf("record match: %w", err))
			return
		}

		r.post(func() {
			if r.match != m {
				return
			}
			r.matchID = id
			r.broadcastLocked(msgRecorded, RecordedMessage{MatchID: id})
		})
	}()
}

func (r *Room) scorecardLocked() leaderboard.Match {
	settings := r.match.Settings()
	res, _ := r.match.Result()

	card := leaderboard.Match{
		Mode:          string(r.mode),
		LocalName:     r.seatNameLocked(cricket.Local),
		OpponentName:  r.seatNameLocked(cricket.Opponent),
		Overs:         settings.Overs,
		Wickets:       settings.Wickets,
		BatOrBowl:     settings.BatOrBowl.String(),
		LocalScore:    res.LocalScore,
		OpponentScore: res.OpponentScore,
		Target:        r.match.Target(),
		Result:        res.Type.String(),
		Margin:        res.Margin,
		PlayedAt:      time.Now(),
	}
	if s := r.seats[cricket.Local]; s != nil {
		card.RankLocal = s.ranked
	}
	if s := r.seats[cricket.Opponent]; s != nil && r.mode == modeDuel {
		card.RankOpponent = s.ranked
	}

	for _, in := range r.match.Innings() {
		card.Innings = append(card.Innings, leaderboard.InningsLine{
			Number:  in.Number,
			Batting: r.seatNameLocked(in.Batting),
			Runs:    in.Runs,
			Wickets: in.Wickets,
			Overs:   in.OversBowled(),
		})
	}

	return card
}

func (r *Room) fireLocked(e cricket.Event) {
	if _, err := r.nav.Fire(e); err != nil {
		logf(r.cfg, "ROOMS: %v in %s", err, r.id)
	}
}

func (r *Room) logError(err error) {
	logError(fmt.Errorf("room %s: %w", r.id, err))
}

func (r *Room) seatOfLocked(playerID string) int {
	for i, s := range r.seats {
		if s != nil && s.playerID == playerID {
			return i
		}
	}
	return -1
}

func (r *Room) freeSeatLocked() int {
	seats := len(r.seats)
	if r.mode == modeSolo {
		seats = 1
	}
	for i := 0; i < seats; i++ {
		if r.seats[i] == nil {
			return i
		}
	}
	return -1
}

func (r *Room) nameTakenLocked(idx int, username string) bool {
	for i, s := range r.seats {
		if i != idx && s != nil && strings.EqualFold(s.username, username) {
			return true
		}
	}
	return r.mode == modeSolo && strings.EqualFold(username, computerName)
}

func (r *Room) connectedLocked(playerID string) bool {
	for c := range r.clients {
		if c.playerID == playerID {
			return true
		}
	}
	return false
}

func (r *Room) seatNameLocked(side cricket.Side) string {
	if r.mode == modeSolo && side == cricket.Opponent {
		return computerName
	}
	if s := r.seats[side]; s != nil {
		return s.username
	}
	return fmt.Sprintf("Player %d", int(side)+1)
}

func (r *Room) welcomeLocked(playerID string) WelcomeMessage {
	w := WelcomeMessage{Room: r.id, Mode: string(r.mode)}
	if idx := r.seatOfLocked(playerID); idx >= 0 {
		w.Seat = cricket.Side(idx).String()
		w.Username = r.seats[idx].username
	} else {
		w.Spectator = r.freeSeatLocked() < 0
	}
	return w
}

func (r *Room) sendWelcomeLocked(c *Client) {
	r.sendLocked(c, msgWelcome, r.welcomeLocked(c.playerID))
}

func (r *Room) stateLocked() StateMessage {
	st := StateMessage{
		Screen:  r.nav.Current(),
		Mode:    string(r.mode),
		Gated:   r.gated,
		Match:   r.match.Snapshot(),
		MatchID: r.matchID,
		Players: make([]PlayerInfo, 0, len(r.seats)),
	}

	for i, s := range r.seats {
		if s == nil {
			continue
		}
		st.Players = append(st.Players, PlayerInfo{
			Seat:      cricket.Side(i).String(),
			Username:  s.username,
			Connected: r.connectedLocked(s.playerID),
		})
	}
	if r.mode == modeSolo {
		st.Players = append(st.Players, PlayerInfo{
			Seat:      cricket.Opponent.String(),
			Username:  computerName,
			Connected: true,
			Computer:  true,
		})
	}

	return st
}

func (r *Room) sendStateLocked(c *Client) {
	r.sendLocked(c, msgState, r.stateLocked())
}

func (r *Room) broadcastStateLocked() {
	r.broadcastLocked(msgState, r.stateLocked())
}

func (r *Room) sendErrorLocked(c *Client, err error) {
	r.sendLocked(c, msgError, ErrorMessage{Code: errorCode(err), Message: err.Error()})
}

func (r *Room) broadcastLocked(kind string, data any) {
	for c := range r.clients {
		r.sendLocked(c, kind, data)
	}
}

// sendLocked queues a message, dropping clients that cannot keep up.
func (r *Room) sendLocked(c *Client, kind string, data any) {
	if _, ok := r.clients[c]; !ok {
		return
	}

	select {
	case c.send <- outbound{kind: kind, data: data}:
	default:
		logf(r.cfg, "ROOMS: Dropped slow client in %s", r.id)
		delete(r.clients, c)
		close(c.send)
	}
}

// closeAll stops the room and disconnects every client.
func (r *Room) closeAll() {
	r.closeOnce.Do(func() {
		close(r.done)
		r.cancel()
		r.timeline.Cancel()
	})

	r.mu.Lock()
	defer r.mu.Unlock()

	for c := range r.clients {
		close(c.send)
		_ = c.conn.Close()
		delete(r.clients, c)
	}
}

func (r *Room) idleSince() time.Time {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.lastActive
}

// errorCode maps err to the code sent to clients.
func errorCode(err error) string {
	var re *roomError
	if errors.As(err, &re) {
		return re.code
	}
	return cricketErrorCode(err)
}
