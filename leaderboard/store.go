// Package leaderboard persists finished matches and player standings.
//
// SQLite (modernc.org/sqlite) is the default backend; a postgres:// DSN
// selects PostgreSQL through lib/pq. Both share one schema and one set of
// queries.
package leaderboard

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/Seednode/handcricket/leaderboard/migrations"
	"github.com/google/uuid"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

var (
	ErrNotFound      = errors.New("match not found")
	ErrNotConfigured = errors.New("leaderboard storage is not configured")
)

// Entry is one row of the leaderboard.
type Entry struct {
	Username string `json:"username" yaml:"username"`
	Wins     int    `json:"wins" yaml:"wins"`
	Losses   int    `json:"losses" yaml:"losses"`
	Draws    int    `json:"draws" yaml:"draws"`
	Rating   int    `json:"rating" yaml:"rating"`
}

// InningsLine summarises one innings on a scorecard.
type InningsLine struct {
	Number  int    `json:"number" yaml:"number"`
	Batting string `json:"batting" yaml:"batting"`
	Runs    int    `json:"runs" yaml:"runs"`
	Wickets int    `json:"wickets" yaml:"wickets"`
	Overs   string `json:"overs" yaml:"overs"`
}

// Match is a finished match. Result and scores are from the local side's
// perspective. RankLocal and RankOpponent select which names get a
// leaderboard row.
type Match struct {
	ID            string        `json:"id" yaml:"id"`
	Mode          string        `json:"mode" yaml:"mode"`
	LocalName     string        `json:"local_name" yaml:"local_name"`
	OpponentName  string        `json:"opponent_name" yaml:"opponent_name"`
	Overs         int           `json:"overs" yaml:"overs"`
	Wickets       int           `json:"wickets" yaml:"wickets"`
	BatOrBowl     string        `json:"bat_or_bowl" yaml:"bat_or_bowl"`
	LocalScore    int           `json:"local_score" yaml:"local_score"`
	OpponentScore int           `json:"opponent_score" yaml:"opponent_score"`
	Target        int           `json:"target" yaml:"target"`
	Result        string        `json:"result" yaml:"result"`
	Margin        int           `json:"margin" yaml:"margin"`
	Innings       []InningsLine `json:"innings" yaml:"innings"`
	PlayedAt      time.Time     `json:"played_at" yaml:"played_at"`

	RankLocal    bool `json:"-" yaml:"-"`
	RankOpponent bool `json:"-" yaml:"-"`
}

// Store persists matches and standings.
type Store struct {
	sqlDB   *sql.DB
	dialect dialect
}

// Open opens the store named by dsn and applies migrations. A postgres:// or
// postgresql:// URL selects PostgreSQL; anything else is a SQLite file path.
func Open(ctx context.Context, dsn string) (*Store, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, fmt.Errorf("storage path is required")
	}

	driver, d := "sqlite", dialectSQLite
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		driver, d = "postgres", dialectPostgres
	} else {
		dsn = filepath.Clean(dsn) + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	}

	sqlDB, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s db: %w", driver, err)
	}
	if d == dialectSQLite {
		sqlDB.SetMaxOpenConns(1)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping %s db: %w", driver, err)
	}
	if err := applyMigrations(ctx, sqlDB, d, migrations.FS); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &Store{sqlDB: sqlDB, dialect: d}, nil
}

func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// RecordMatch stores m and updates standings in one transaction. It returns
// the match id, generating one when m.ID is empty.
func (s *Store) RecordMatch(ctx context.Context, m Match) (string, error) {
	if s == nil || s.sqlDB == nil {
		return "", ErrNotConfigured
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	m.LocalName = strings.TrimSpace(m.LocalName)
	m.OpponentName = strings.TrimSpace(m.OpponentName)
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.PlayedAt.IsZero() {
		m.PlayedAt = time.Now()
	}

	innings, err := json.Marshal(m.Innings)
	if err != nil {
		return "", fmt.Errorf("encode innings: %w", err)
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("begin record match: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, s.dialect.rebind(
		`INSERT INTO matches (
		   id, mode, local_name, opponent_name, overs, wickets, bat_or_bowl,
		   local_score, opponent_score, target, result, margin, innings, played_at
		 ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		m.ID, m.Mode, m.LocalName, m.OpponentName, m.Overs, m.Wickets, m.BatOrBowl,
		m.LocalScore, m.OpponentScore, m.Target, m.Result, m.Margin, string(innings),
		m.PlayedAt.UTC().UnixMilli(),
	); err != nil {
		return "", fmt.Errorf("insert match: %w", err)
	}

	if m.LocalName == m.OpponentName {
		m.RankOpponent = false
	}

	if err := s.updateStandings(ctx, tx, m); err != nil {
		return "", err
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("commit record match: %w", err)
	}

	return m.ID, nil
}

func (s *Store) updateStandings(ctx context.Context, tx *sql.Tx, m Match) error {
	if err := s.lockPlayers(ctx, tx, m); err != nil {
		return err
	}

	local, err := s.entry(ctx, tx, m.LocalName, m.RankLocal)
	if err != nil {
		return err
	}
	opponent, err := s.entry(ctx, tx, m.OpponentName, m.RankOpponent)
	if err != nil {
		return err
	}

	var score float64
	switch m.Result {
	case "victory":
		score = 1
		local.Wins++
		opponent.Losses++
	case "lose":
		local.Losses++
		opponent.Wins++
	default:
		score = 0.5
		local.Draws++
		opponent.Draws++
	}

	localRating, opponentRating := local.Rating, opponent.Rating
	local.Rating = adjust(localRating, opponentRating, score)
	opponent.Rating = adjust(opponentRating, localRating, 1-score)

	now := time.Now().UTC().UnixMilli()
	if m.RankLocal {
		if err := s.upsert(ctx, tx, local, now); err != nil {
			return err
		}
	}
	if m.RankOpponent {
		if err := s.upsert(ctx, tx, opponent, now); err != nil {
			return err
		}
	}

	return nil
}

// lockPlayers makes sure every ranked name has a row and locks those rows
// until tx ends, in name order so two matches never wait on each other.
// SQLite needs no row locks: the store holds a single connection.
func (s *Store) lockPlayers(ctx context.Context, tx *sql.Tx, m Match) error {
	var names []string
	if m.RankLocal && m.LocalName != "" {
		names = append(names, m.LocalName)
	}
	if m.RankOpponent && m.OpponentName != "" {
		names = append(names, m.OpponentName)
	}
	sort.Strings(names)

	now := time.Now().UTC().UnixMilli()
	for _, name := range names {
		if _, err := tx.ExecContext(ctx, s.dialect.rebind(
			`INSERT INTO players (username, wins, losses, draws, rating, updated_at)
			 VALUES (?, 0, 0, 0, ?, ?)
			 ON CONFLICT (username) DO NOTHING`),
			name, StartingRating, now,
		); err != nil {
			return fmt.Errorf("create player %q: %w", name, err)
		}

		if s.dialect != dialectPostgres {
			continue
		}
		var locked string
		if err := tx.QueryRowContext(ctx,
			s.dialect.rebind("SELECT username FROM players WHERE username = ?"+s.dialect.forUpdate()),
			name,
		).Scan(&locked); err != nil {
			return fmt.Errorf("lock player %q: %w", name, err)
		}
	}

	return nil
}

// entry loads a player's standing, or a fresh one. Unranked names always get
// a fresh entry so they count as a StartingRating opponent.
func (s *Store) entry(ctx context.Context, tx *sql.Tx, username string, ranked bool) (Entry, error) {
	e := Entry{Username: username, Rating: StartingRating}
	if !ranked || username == "" {
		return e, nil
	}

	err := tx.QueryRowContext(ctx,
		s.dialect.rebind("SELECT wins, losses, draws, rating FROM players WHERE username = ?"),
		username,
	).Scan(&e.Wins, &e.Losses, &e.Draws, &e.Rating)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return e, fmt.Errorf("load player %q: %w", username, err)
	}

	return e, nil
}

func (s *Store) upsert(ctx context.Context, tx *sql.Tx, e Entry, now int64) error {
	if e.Username == "" {
		return nil
	}

	_, err := tx.ExecContext(ctx, s.dialect.rebind(
		`INSERT INTO players (username, wins, losses, draws, rating, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (username) DO UPDATE SET
		   wins = excluded.wins,
		   losses = excluded.losses,
		   draws = excluded.draws,
		   rating = excluded.rating,
		   updated_at = excluded.updated_at`),
		e.Username, e.Wins, e.Losses, e.Draws, e.Rating, now,
	)
	if err != nil {
		return fmt.Errorf("save player %q: %w", e.Username, err)
	}
	return nil
}

// Top returns up to limit entries, best rating first.
func (s *Store) Top(ctx context.Context, limit int) ([]Entry, error) {
	if s == nil || s.sqlDB == nil {
		return nil, ErrNotConfigured
	}

	rows, err := s.sqlDB.QueryContext(ctx, s.dialect.rebind(
		`SELECT username, wins, losses, draws, rating
		   FROM players
		  ORDER BY rating DESC, wins DESC, username ASC
		  LIMIT ?`), limit)
	if err != nil {
		return nil, fmt.Errorf("query leaderboard: %w", err)
	}
	defer rows.Close()

	entries := make([]Entry, 0, limit)
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.Username, &e.Wins, &e.Losses, &e.Draws, &e.Rating); err != nil {
			return nil, fmt.Errorf("scan leaderboard: %w", err)
		}
		entries = append(entries, e)
	}

	return entries, rows.Err()
}

// Match returns one stored match.
func (s *Store) Match(ctx context.Context, id string) (Match, error) {
	if s == nil || s.sqlDB == nil {
		return Match{}, ErrNotConfigured
	}

	var (
		m        Match
		innings  string
		playedAt int64
	)
	err := s.sqlDB.QueryRowContext(ctx, s.dialect.rebind(
		`SELECT id, mode, local_name, opponent_name, overs, wickets, bat_or_bowl,
		        local_score, opponent_score, target, result, margin, innings, played_at
		   FROM matches WHERE id = ?`), id,
	).Scan(&m.ID, &m.Mode, &m.LocalName, &m.OpponentName, &m.Overs, &m.Wickets, &m.BatOrBowl,
		&m.LocalScore, &m.OpponentScore, &m.Target, &m.Result, &m.Margin, &innings, &playedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Match{}, ErrNotFound
	}
	if err != nil {
		return Match{}, fmt.Errorf("load match %q: %w", id, err)
	}

	if err := json.Unmarshal([]byte(innings), &m.Innings); err != nil {
		return Match{}, fmt.Errorf("decode innings: %w", err)
	}
	m.PlayedAt = time.UnixMilli(playedAt).UTC()

	return m, nil
}
