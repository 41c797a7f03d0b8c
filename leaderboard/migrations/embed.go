package migrations

import "embed"

// FS contains the embedded leaderboard schema migrations.
//
//go:embed *.sql
var FS embed.FS
