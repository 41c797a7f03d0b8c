package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Seednode/handcricket/cricket"
	"github.com/Seednode/handcricket/leaderboard"
	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
)

type scriptedPicks struct {
	mu    sync.Mutex
	picks []int
}

func (s *scriptedPicks) NextPick(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.picks) == 0 {
		return 0, errors.New("script exhausted")
	}
	n := s.picks[0]
	s.picks = s.picks[1:]
	return n, nil
}

type memRecorder struct {
	mu      sync.Mutex
	matches []leaderboard.Match
}

func (m *memRecorder) RecordMatch(ctx context.Context, match leaderboard.Match) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.matches = append(m.matches, match)
	return fmt.Sprintf("m%d", len(m.matches)), nil
}

func (m *memRecorder) recorded() []leaderboard.Match {
	m.mu.Lock()
	defer m.mu.Unlock()

	return append([]leaderboard.Match(nil), m.matches...)
}

func newTestConfig() *Config {
	return &Config{
		bind:          "127.0.0.1",
		port:          8080,
		playerTimeout: time.Minute,
	}
}

func newRoomServer(t *testing.T, cfg *Config, mode roomMode, rec Recorder, computer cricket.PickSource) *httptest.Server {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	mux := httprouter.New()
	rm := registerRooms(ctx, cfg, "/"+roomPath(mode), mode, mux, rec, make(chan error, 64))
	if computer != nil {
		rm.newComputer = func() cricket.PickSource { return computer }
	}

	srv := httptest.NewServer(mux)
	t.Cleanup(func() {
		rm.closeAll()
		srv.Close()
		cancel()
	})
	return srv
}

func roomPath(mode roomMode) string {
	if mode == modeSolo {
		return "solo"
	}
	return "play"
}

type testFrame struct {
	Type string          `json:"type"`
	Seq  int64           `json:"seq"`
	Data json.RawMessage `json:"data"`
}

type stateView struct {
	Screen  string       `json:"screen"`
	Gated   bool         `json:"gated"`
	MatchID string       `json:"match_id"`
	Players []PlayerInfo `json:"players"`
	Match   struct {
		Phase    string `json:"phase"`
		Target   int    `json:"target"`
		Settings struct {
			Overs     int    `json:"overs"`
			Wickets   int    `json:"wickets"`
			BatOrBowl string `json:"bat_or_bowl"`
		} `json:"settings"`
		Toss struct {
			Phase  string `json:"phase"`
			Called string `json:"called"`
			Winner string `json:"winner"`
			Sum    int    `json:"sum"`
		} `json:"toss"`
		Innings []struct {
			Number  int    `json:"number"`
			Batting string `json:"batting"`
			Runs    int    `json:"runs"`
		} `json:"innings"`
		BatterWaiting bool `json:"batter_waiting"`
	} `json:"match"`
}

type ballView struct {
	Ball struct {
		BatterPick int  `json:"batter_pick"`
		BowlerPick int  `json:"bowler_pick"`
		Out        bool `json:"out"`
		Runs       int  `json:"runs"`
	} `json:"ball"`
	Runs    int `json:"runs"`
	Wickets int `json:"wickets"`
}

type resultView struct {
	Result struct {
		Type    string `json:"result_type"`
		Margin  int    `json:"margin"`
		Summary string `json:"summary"`
	} `json:"result"`
}

type testClient struct {
	t         *testing.T
	conn      *websocket.Conn
	seq       int64
	serverSeq int64
}

func dial(t *testing.T, srv *httptest.Server, path, player string) *testClient {
	t.Helper()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + path + "/ws"
	header := http.Header{"Cookie": []string{playerCookieName + "=" + player}}

	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	if err != nil {
		t.Fatalf("dial %s: %v", url, err)
	}
	t.Cleanup(func() { _ = conn.Close() })

	return &testClient{t: t, conn: conn}
}

func (c *testClient) send(msg ClientMessage) {
	c.t.Helper()

	c.seq++
	c.sendSeq(c.seq, msg)
}

func (c *testClient) sendSeq(seq int64, msg ClientMessage) {
	c.t.Helper()

	msg.Seq = seq
	if err := c.conn.WriteJSON(msg); err != nil {
		c.t.Fatalf("write %s: %v", msg.Type, err)
	}
}

func (c *testClient) next() testFrame {
	c.t.Helper()

	_ = c.conn.SetReadDeadline(time.Now().Add(3 * time.Second))

	var f testFrame
	if err := c.conn.ReadJSON(&f); err != nil {
		c.t.Fatalf("read frame: %v", err)
	}
	if f.Seq != c.serverSeq+1 {
		c.t.Fatalf("frame %q has seq %d, want %d", f.Type, f.Seq, c.serverSeq+1)
	}
	c.serverSeq = f.Seq

	return f
}

// expect skips frames until one of the given type arrives and decodes it.
func (c *testClient) expect(kind string, v any) {
	c.t.Helper()

	for {
		f := c.next()
		if f.Type != kind {
			continue
		}
		if v != nil {
			if err := json.Unmarshal(f.Data, v); err != nil {
				c.t.Fatalf("decode %s: %v", kind, err)
			}
		}
		return
	}
}

func (c *testClient) expectState(match func(stateView) bool) stateView {
	c.t.Helper()

	for {
		f := c.next()
		if f.Type != msgState {
			continue
		}
		var s stateView
		if err := json.Unmarshal(f.Data, &s); err != nil {
			c.t.Fatalf("decode state: %v", err)
		}
		if match(s) {
			return s
		}
	}
}

func (c *testClient) expectError(code string) {
	c.t.Helper()

	var e ErrorMessage
	c.expect(msgError, &e)
	if e.Code != code {
		c.t.Fatalf("error code = %q (%s), want %q", e.Code, e.Message, code)
	}
}

func (c *testClient) join(username string) WelcomeMessage {
	c.t.Helper()

	c.send(ClientMessage{Type: msgJoin, Username: username})

	var w WelcomeMessage
	c.expect(msgWelcome, &w)
	return w
}

func onScreen(screen string) func(stateView) bool {
	return func(s stateView) bool { return s.Screen == screen }
}

// seatDuel connects two players and returns them seated as host and guest.
func seatDuel(t *testing.T, srv *httptest.Server, room string) (host, guest *testClient) {
	t.Helper()

	host = dial(t, srv, "/play/"+room, "host")
	if w := host.join("alice"); w.Seat != "local" || w.Username != "alice" {
		t.Fatalf("host welcome = %+v", w)
	}
	guest = dial(t, srv, "/play/"+room, "guest")
	if w := guest.join("bob"); w.Seat != "opponent" {
		t.Fatalf("guest welcome = %+v", w)
	}
	host.expectState(func(s stateView) bool { return len(s.Players) == 2 })

	return host, guest
}

func TestDuelPlaysToResult(t *testing.T) {
	t.Parallel()

	rec := &memRecorder{}
	srv := newRoomServer(t, newTestConfig(), modeDuel, rec, nil)
	host, guest := seatDuel(t, srv, "duel1")

	guest.send(ClientMessage{Type: msgRules, Overs: 1, Wickets: 1})
	guest.expectError(codeNotHost)

	host.send(ClientMessage{Type: msgRules, Overs: 1, Wickets: 1})
	if s := host.expectState(onScreen("toss")); s.Match.Settings.BatOrBowl != "" {
		t.Fatalf("bat_or_bowl before the toss = %q", s.Match.Settings.BatOrBowl)
	}
	guest.expectState(onScreen("toss"))

	host.send(ClientMessage{Type: msgTossChoice, Choice: "odd"})
	host.expectState(func(s stateView) bool { return s.Match.Toss.Called == "odd" })

	host.send(ClientMessage{Type: msgTossNumber, Number: 3})
	guest.send(ClientMessage{Type: msgTossNumber, Number: 4})
	toss := func(s stateView) bool { return s.Match.Toss.Phase == "choosing_bat_or_bowl" }
	if s := host.expectState(toss); s.Match.Toss.Winner != "local" || s.Match.Toss.Sum != 7 {
		t.Fatalf("toss = %+v", s.Match.Toss)
	}
	guest.expectState(toss)

	guest.send(ClientMessage{Type: msgBatBowlChoice, Choice: "bowl"})
	guest.expectError("not_toss_winner")

	host.send(ClientMessage{Type: msgBatBowlChoice, Choice: "bat"})
	host.expectState(onScreen("innings"))
	guest.expectState(onScreen("innings"))

	guest.send(ClientMessage{Type: msgPick, Number: 2})
	guest.expectError("not_your_turn")

	waiting := func(s stateView) bool { return s.Match.BatterWaiting }

	host.send(ClientMessage{Type: msgPick, Number: 5})
	guest.expectState(waiting)
	guest.send(ClientMessage{Type: msgPick, Number: 1})

	var ball ballView
	host.expect(msgBall, &ball)
	if ball.Ball.Runs != 5 || ball.Ball.Out || ball.Runs != 5 {
		t.Fatalf("first ball = %+v", ball)
	}

	host.send(ClientMessage{Type: msgPick, Number: 3})
	guest.expectState(waiting)
	guest.send(ClientMessage{Type: msgPick, Number: 3})

	var over InningsOverMessage
	host.expect(msgInningsOver, &over)
	if over.Runs != 5 || over.Target != 6 {
		t.Fatalf("innings over = %+v", over)
	}
	guest.expectState(func(s stateView) bool { return s.Match.Phase == "innings_break" })

	guest.send(ClientMessage{Type: msgNextInnings})
	host.expectState(func(s stateView) bool { return len(s.Match.Innings) == 2 })

	guest.send(ClientMessage{Type: msgPick, Number: 6})
	host.expectState(waiting)
	host.send(ClientMessage{Type: msgPick, Number: 1})

	var hostResult, guestResult resultView
	host.expect(msgResult, &hostResult)
	guest.expect(msgResult, &guestResult)
	if hostResult.Result.Type != "lose" || hostResult.Result.Summary != "You Lost by 1 runs" {
		t.Fatalf("host result = %+v", hostResult.Result)
	}
	if guestResult.Result.Type != "victory" || guestResult.Result.Margin != 1 {
		t.Fatalf("guest result = %+v", guestResult.Result)
	}

	host.expectState(onScreen("result"))

	var recorded RecordedMessage
	host.expect(msgRecorded, &recorded)
	if recorded.MatchID != "m1" {
		t.Fatalf("match id = %q", recorded.MatchID)
	}

	matches := rec.recorded()
	if len(matches) != 1 {
		t.Fatalf("recorded %d matches", len(matches))
	}
	m := matches[0]
	if m.Mode != "duel" || m.LocalName != "alice" || m.OpponentName != "bob" || !m.RankLocal || !m.RankOpponent {
		t.Fatalf("scorecard = %+v", m)
	}
	if m.Result != "lose" || m.Target != 6 || len(m.Innings) != 2 || m.Innings[1].Batting != "bob" {
		t.Fatalf("scorecard = %+v", m)
	}

	host.send(ClientMessage{Type: msgResync})
	host.expectState(func(s stateView) bool { return s.MatchID == "m1" })

	host.send(ClientMessage{Type: msgPlayAgain})
	s := host.expectState(onScreen("toss"))
	if s.Match.Phase != "toss" || s.Match.Settings.Overs != 1 || s.MatchID != "" {
		t.Fatalf("rematch state = %+v", s)
	}
}

func TestSoloPlaysAgainstComputer(t *testing.T) {
	t.Parallel()

	rec := &memRecorder{}
	computer := &scriptedPicks{picks: []int{4, 2, 5, 6}}
	srv := newRoomServer(t, newTestConfig(), modeSolo, rec, computer)

	c := dial(t, srv, "/solo/solo1", "dave")
	if w := c.join("dave"); w.Seat != "local" || w.Mode != "solo" {
		t.Fatalf("welcome = %+v", w)
	}

	c.send(ClientMessage{Type: msgRules, Overs: 1, Wickets: 1})
	s := c.expectState(onScreen("toss"))
	if len(s.Players) != 2 || !s.Players[1].Computer {
		t.Fatalf("players = %+v", s.Players)
	}

	c.send(ClientMessage{Type: msgTossChoice, Choice: "odd"})
	c.send(ClientMessage{Type: msgTossNumber, Number: 3})
	c.expectState(func(s stateView) bool {
		return s.Match.Toss.Phase == "choosing_bat_or_bowl" && s.Match.Toss.Winner == "local"
	})

	c.send(ClientMessage{Type: msgBatBowlChoice, Choice: "bat"})
	c.expectState(onScreen("innings"))

	var ball ballView
	c.send(ClientMessage{Type: msgPick, Number: 4})
	c.expect(msgBall, &ball)
	if ball.Ball.BowlerPick != 2 || ball.Ball.Runs != 4 {
		t.Fatalf("first ball = %+v", ball)
	}

	c.send(ClientMessage{Type: msgPick, Number: 5})
	var over InningsOverMessage
	c.expect(msgInningsOver, &over)
	if over.Target != 5 {
		t.Fatalf("target = %d, want 5", over.Target)
	}

	c.send(ClientMessage{Type: msgNextInnings})
	c.expectState(func(s stateView) bool { return s.Match.Phase == "innings" && len(s.Match.Innings) == 2 })

	c.send(ClientMessage{Type: msgPick, Number: 1})
	var res resultView
	c.expect(msgResult, &res)
	if res.Result.Summary != "You Lost by 2 runs" {
		t.Fatalf("result = %+v", res.Result)
	}
	c.expectState(onScreen("result"))
	c.expect(msgRecorded, nil)

	m := rec.recorded()[0]
	if m.Mode != "solo" || m.OpponentName != computerName || !m.RankLocal || m.RankOpponent {
		t.Fatalf("scorecard = %+v", m)
	}

	c.send(ClientMessage{Type: msgNavigate, Event: "leaderboard"})
	c.expectState(onScreen("leaderboard"))
	c.send(ClientMessage{Type: msgNavigate, Event: "back"})
	c.expectState(onScreen("result"))
	c.send(ClientMessage{Type: msgNavigate, Event: "match_over"})
	c.expectError("invalid_transition")
	c.send(ClientMessage{Type: msgNavigate, Event: "home"})
	s = c.expectState(onScreen("home"))
	if s.Match.Phase != "setup" {
		t.Fatalf("phase after home = %q", s.Match.Phase)
	}
}

func TestRevealDelayGatesPicks(t *testing.T) {
	t.Parallel()

	cfg := newTestConfig()
	cfg.revealDelay = 300 * time.Millisecond
	computer := &scriptedPicks{picks: []int{4, 6, 2}}
	srv := newRoomServer(t, cfg, modeSolo, nil, computer)

	c := dial(t, srv, "/solo/gate1", "erin")
	c.join("")
	c.send(ClientMessage{Type: msgRules, Overs: 1, Wickets: 1})
	c.expectState(onScreen("toss"))

	c.send(ClientMessage{Type: msgTossChoice, Choice: "even"})
	c.send(ClientMessage{Type: msgTossNumber, Number: 3})
	s := c.expectState(func(s stateView) bool { return s.Match.Toss.Phase == "resolved" })
	if !s.Gated || s.Match.Toss.Winner != "opponent" {
		t.Fatalf("toss state = %+v", s)
	}

	c.send(ClientMessage{Type: msgPick, Number: 2})
	c.expectError(codeWait)

	s = c.expectState(func(s stateView) bool { return !s.Gated })
	if s.Screen != "innings" || s.Match.Settings.BatOrBowl != "bat" {
		t.Fatalf("after toss = %+v", s)
	}

	c.send(ClientMessage{Type: msgPick, Number: 5})
	c.expect(msgBall, nil)
	c.send(ClientMessage{Type: msgPick, Number: 5})
	c.expectError(codeWait)
	c.expectState(func(s stateView) bool { return !s.Gated })
}

func TestSequenceNumbers(t *testing.T) {
	t.Parallel()

	srv := newRoomServer(t, newTestConfig(), modeSolo, nil, &scriptedPicks{})
	c := dial(t, srv, "/solo/seq1", "frank")
	c.join("frank")

	// Replaying seq 1 must not start a match.
	c.sendSeq(1, ClientMessage{Type: msgRules, Overs: 1, Wickets: 1})

	c.sendSeq(3, ClientMessage{Type: msgRules, Overs: 1, Wickets: 1})
	var notice NoticeMessage
	c.expect(msgResyncRequired, &notice)
	if !strings.Contains(notice.Message, "expected message 2") {
		t.Fatalf("notice = %q", notice.Message)
	}
	c.expectState(onScreen("home"))

	c.sendSeq(4, ClientMessage{Type: msgRules, Overs: 3, Wickets: 3})
	s := c.expectState(onScreen("toss"))
	if s.Match.Settings.Overs != 3 {
		t.Fatalf("settings = %+v", s.Match.Settings)
	}
}

func TestSpectatorsAreReadOnly(t *testing.T) {
	t.Parallel()

	srv := newRoomServer(t, newTestConfig(), modeDuel, nil, nil)
	seatDuel(t, srv, "watch1")

	watcher := dial(t, srv, "/play/watch1", "spectator")
	if w := watcher.join("carol"); !w.Spectator || w.Seat != "" {
		t.Fatalf("spectator welcome = %+v", w)
	}
	watcher.send(ClientMessage{Type: msgPick, Number: 3})
	watcher.expectError(codeNotSeated)

	watcher.send(ClientMessage{Type: msgResync})
	if s := watcher.expectState(func(stateView) bool { return true }); len(s.Players) != 2 {
		t.Fatalf("players = %+v", s.Players)
	}
}

func TestDuplicateUsernameRejected(t *testing.T) {
	t.Parallel()

	srv := newRoomServer(t, newTestConfig(), modeDuel, nil, nil)
	host := dial(t, srv, "/play/names1", "host")
	host.join("alice")

	guest := dial(t, srv, "/play/names1", "guest")
	guest.send(ClientMessage{Type: msgJoin, Username: "ALICE"})
	guest.expectError("name_taken")
}

func TestReconnectReclaimsSeat(t *testing.T) {
	t.Parallel()

	srv := newRoomServer(t, newTestConfig(), modeDuel, nil, nil)
	host := dial(t, srv, "/play/back1", "host")
	host.join("alice")
	_ = host.conn.Close()

	again := dial(t, srv, "/play/back1", "host")
	var w WelcomeMessage
	again.expect(msgWelcome, &w)
	if w.Seat != "local" || w.Username != "alice" {
		t.Fatalf("welcome after reconnect = %+v", w)
	}
}

func TestLeaveEndsMatch(t *testing.T) {
	t.Parallel()

	srv := newRoomServer(t, newTestConfig(), modeDuel, nil, nil)
	host, guest := seatDuel(t, srv, "leave1")

	host.send(ClientMessage{Type: msgRules, Overs: 1, Wickets: 1})
	guest.expectState(onScreen("toss"))

	guest.send(ClientMessage{Type: msgLeave})

	var notice NoticeMessage
	host.expect(msgOpponentLeft, &notice)
	if notice.Message != "bob left the room" {
		t.Fatalf("notice = %q", notice.Message)
	}
	s := host.expectState(onScreen("home"))
	if len(s.Players) != 1 || s.Match.Phase != "setup" {
		t.Fatalf("state after leave = %+v", s)
	}

	var w WelcomeMessage
	guest.expect(msgWelcome, &w)
	if w.Seat != "" || w.Spectator {
		t.Fatalf("guest welcome after leave = %+v", w)
	}
}

func TestDisconnectedSeatTimesOut(t *testing.T) {
	t.Parallel()

	cfg := newTestConfig()
	cfg.playerTimeout = 20 * time.Millisecond
	srv := newRoomServer(t, cfg, modeDuel, nil, nil)
	host, guest := seatDuel(t, srv, "gone1")

	_ = guest.conn.Close()

	var notice NoticeMessage
	host.expect(msgOpponentLeft, &notice)
	if !strings.HasSuffix(notice.Message, "timed out") {
		t.Fatalf("notice = %q", notice.Message)
	}
}

func TestSeatTimeoutRestartsOnEachDisconnect(t *testing.T) {
	t.Parallel()

	const playerTimeout = 300 * time.Millisecond

	cfg := newTestConfig()
	cfg.playerTimeout = playerTimeout
	srv := newRoomServer(t, cfg, modeDuel, nil, nil)
	host, guest := seatDuel(t, srv, "flaky1")

	_ = guest.conn.Close()
	time.Sleep(playerTimeout / 2)

	again := dial(t, srv, "/play/flaky1", "guest")
	var w WelcomeMessage
	again.expect(msgWelcome, &w)
	if w.Seat != "opponent" {
		t.Fatalf("welcome after reconnect = %+v", w)
	}

	_ = again.conn.Close()
	lastDisconnect := time.Now()

	host.expect(msgOpponentLeft, nil)
	if held := time.Since(lastDisconnect); held < playerTimeout-10*time.Millisecond {
		t.Fatalf("seat freed %s after the last disconnect, want at least %s", held, playerTimeout)
	}
}

func TestRulesNeedOpponent(t *testing.T) {
	t.Parallel()

	srv := newRoomServer(t, newTestConfig(), modeDuel, nil, nil)
	host := dial(t, srv, "/play/alone1", "host")
	host.join("")
	host.send(ClientMessage{Type: msgRules, Overs: 1, Wickets: 1})
	host.expectError("waiting_for_opponent")

	host.send(ClientMessage{Type: "teleport"})
	host.expectError(codeUnknownType)
}

func TestReapClosesIdleRooms(t *testing.T) {
	t.Parallel()

	rm := newRoomManager(context.Background(), newTestConfig(), modeDuel, nil)
	room := rm.getRoom("idle1")

	rm.reap(time.Now().Add(time.Minute))

	select {
	case <-room.done:
	case <-time.After(2 * time.Second):
		t.Fatal("idle room was not closed")
	}
	if fresh := rm.getRoom("idle1"); fresh == room {
		t.Fatal("reaped room was reused")
	}
	rm.closeAll()
}

func TestNewRoomIDs(t *testing.T) {
	t.Parallel()

	rm := newRoomManager(context.Background(), newTestConfig(), modeDuel, nil)
	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		id := rm.newRoomID()
		if len(id) != roomIDLength || !validRoomID(id) {
			t.Fatalf("room id %q", id)
		}
		seen[id] = true
	}
	if len(seen) < 99 {
		t.Fatalf("only %d distinct ids", len(seen))
	}

	for _, bad := range []string{"", "a/b", "room id", strings.Repeat("x", maxRoomIDLen+1)} {
		if validRoomID(bad) {
			t.Fatalf("validRoomID(%q) = true", bad)
		}
	}
}

func TestRandomRoomIDIsUniform(t *testing.T) {
	t.Parallel()

	counts := map[rune]int{}
	const ids, length = 2000, 64
	for i := 0; i < ids; i++ {
		for _, c := range randomRoomID(length) {
			counts[c]++
		}
	}

	if len(counts) != 62 {
		t.Fatalf("saw %d distinct letters, want 62", len(counts))
	}
	mean := ids * length / 62
	for c, n := range counts {
		if n < mean*87/100 || n > mean*113/100 {
			t.Fatalf("letter %q drawn %d times, mean %d", c, n, mean)
		}
	}
}

func TestErrorCodes(t *testing.T) {
	t.Parallel()

	cases := []struct {
		err  error
		want string
	}{
		{errWait, codeWait},
		{fmt.Errorf("pick: %w", cricket.ErrNotYourTurn), "not_your_turn"},
		{cricket.ErrInvalidSettings, "invalid_settings"},
		{errors.New("boom"), codeInternal},
	}
	for _, c := range cases {
		if got := errorCode(c.err); got != c.want {
			t.Fatalf("errorCode(%v) = %q, want %q", c.err, got, c.want)
		}
	}
}
