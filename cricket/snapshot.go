package cricket

// TossView is the public view of a toss. Numbers stay zero until the toss
// resolves.
type TossView struct {
	Phase          TossPhase `json:"-"`
	PhaseName      string    `json:"phase"`
	Called         string    `json:"called,omitempty"`
	LocalShown     bool      `json:"local_shown"`
	OpponentShown  bool      `json:"opponent_shown"`
	LocalNumber    int       `json:"local_number,omitempty"`
	OpponentNumber int       `json:"opponent_number,omitempty"`
	Sum            int       `json:"sum,omitempty"`
	Winner         string    `json:"winner,omitempty"`
}

// ResultView adds the display summary to a Result.
type ResultView struct {
	Result
	Summary string `json:"summary"`
}

// SettingsView is the public view of the settings. BatOrBowl stays empty
// until the toss winner has chosen.
type SettingsView struct {
	Overs     int    `json:"overs"`
	Wickets   int    `json:"wickets"`
	BatOrBowl string `json:"bat_or_bowl,omitempty"`
}

// Snapshot is everything a peer needs to rebuild its view of the match. The
// batter's uncommitted number is never included.
type Snapshot struct {
	Phase         string       `json:"phase"`
	Settings      SettingsView `json:"settings"`
	Toss          TossView     `json:"toss"`
	Innings       []Innings    `json:"innings"`
	Target        int          `json:"target,omitempty"`
	LocalScore    int          `json:"local_score"`
	OpponentScore int          `json:"opponent_score"`
	BatterWaiting bool         `json:"batter_waiting"`
	OversBowled   string       `json:"overs_bowled,omitempty"`
	Result        *ResultView  `json:"result,omitempty"`
}

func (t *Toss) View() TossView {
	v := TossView{
		Phase:         t.phase,
		PhaseName:     t.phase.String(),
		LocalShown:    t.Submitted(Local),
		OpponentShown: t.Submitted(Opponent),
	}
	if p, ok := t.Called(); ok {
		v.Called = p.String()
	}
	if l, o, ok := t.Numbers(); ok {
		v.LocalNumber, v.OpponentNumber, v.Sum = l, o, l+o
	}
	if w, ok := t.Winner(); ok {
		v.Winner = w.String()
	}
	return v
}

func (m *Match) Snapshot() Snapshot {
	s := Snapshot{
		Phase:         m.phase.String(),
		Settings:      SettingsView{Overs: m.settings.Overs, Wickets: m.settings.Wickets},
		Toss:          m.toss.View(),
		Innings:       make([]Innings, 0, len(m.innings)),
		Target:        m.target,
		LocalScore:    m.scores[Local],
		OpponentScore: m.scores[Opponent],
		BatterWaiting: m.BatterWaiting(),
	}

	if r, ok := m.toss.LocalRole(); ok {
		s.Settings.BatOrBowl = r.String()
	}

	for _, in := range m.innings {
		c := *in
		c.Balls = append([]BallOutcome(nil), in.Balls...)
		s.Innings = append(s.Innings, c)
	}
	if in := m.Current(); in != nil {
		s.OversBowled = in.OversBowled()
	}
	if m.result != nil {
		s.Result = &ResultView{Result: *m.result, Summary: m.result.Summary()}
	}

	return s
}
