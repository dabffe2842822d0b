// Package dbtest opens throwaway SQLite databases carrying the casier schema
// for repository and service tests.
package dbtest

import (
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/casier-judiciaire/casier-backend/pkg/enums"
)

var schema = []string{
	`CREATE TABLE users (
  id TEXT PRIMARY KEY,
  email TEXT NOT NULL UNIQUE,
  full_name TEXT NOT NULL,
  role TEXT NOT NULL,
  is_active BOOLEAN NOT NULL DEFAULT 1,
  created_at DATETIME,
  updated_at DATETIME
);`,
	`CREATE TABLE cases (
  id TEXT PRIMARY KEY,
  requester_id TEXT,
  agent_id TEXT,
  record_type TEXT NOT NULL,
  status TEXT NOT NULL DEFAULT 'submitted',
  delivery_mode TEXT NOT NULL DEFAULT 'online',
  notification_channel TEXT NOT NULL DEFAULT 'email',
  comment TEXT,
  rejection_reason TEXT,
  assigned_at DATETIME,
  processed_at DATETIME,
  created_at DATETIME,
  updated_at DATETIME
);`,
	`CREATE TABLE case_assignments (
  id TEXT PRIMARY KEY,
  case_id TEXT NOT NULL,
  agent_user_id TEXT NOT NULL,
  assigned_by_user_id TEXT,
  assigned_at DATETIME NOT NULL,
  unassigned_at DATETIME,
  active BOOLEAN NOT NULL DEFAULT 1,
  score REAL NOT NULL DEFAULT 0
);`,
	`CREATE UNIQUE INDEX case_assignments_active_case_idx ON case_assignments (case_id) WHERE active;`,
}

// Open returns an isolated in-memory database. A single connection is kept so
// concurrent callers serialise the way row locks would on Postgres.
func Open(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		SkipDefaultTransaction: true,
		Logger:                 gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := conn.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	for _, stmt := range schema {
		require.NoError(t, conn.Exec(stmt).Error)
	}
	return conn
}

// Base is the reference instant seeded rows are placed around.
var Base = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

// SeedUser inserts a user and returns its id.
func SeedUser(t *testing.T, db *gorm.DB, name string, role enums.UserRole, active bool) uuid.UUID {
	t.Helper()
	id := uuid.New()
	err := db.Exec(
		`INSERT INTO users (id, email, full_name, role, is_active, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		id, id.String()+"@casier.test", name, role, active, Base, Base,
	).Error
	require.NoError(t, err)
	return id
}

// SeedAgent inserts an active agent.
func SeedAgent(t *testing.T, db *gorm.DB, name string) uuid.UUID {
	t.Helper()
	return SeedUser(t, db, name, enums.UserRoleAgent, true)
}

// CaseSeed describes a case row to insert.
type CaseSeed struct {
	RequesterID *uuid.UUID
	AgentID     *uuid.UUID
	Status      enums.CaseStatus
	CreatedAt   time.Time
	AssignedAt  *time.Time
	ProcessedAt *time.Time
}

// SeedCase inserts a case and returns its id. Zero fields default to an
// unassigned, submitted B3 request created at Base.
func SeedCase(t *testing.T, db *gorm.DB, seed CaseSeed) uuid.UUID {
	t.Helper()
	id := uuid.New()
	if seed.Status == "" {
		seed.Status = enums.CaseStatusSubmitted
	}
	if seed.CreatedAt.IsZero() {
		seed.CreatedAt = Base
	}
	err := db.Exec(
		`INSERT INTO cases (id, requester_id, agent_id, record_type, status, assigned_at, processed_at, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, seed.RequesterID, seed.AgentID, enums.RecordTypeB3, seed.Status,
		seed.AssignedAt, seed.ProcessedAt, seed.CreatedAt, seed.CreatedAt,
	).Error
	require.NoError(t, err)
	return id
}

// SeedOpenCases gives agentID n in-progress cases.
func SeedOpenCases(t *testing.T, db *gorm.DB, agentID uuid.UUID, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		at := Base
		SeedCase(t, db, CaseSeed{AgentID: &agentID, Status: enums.CaseStatusInProgress, AssignedAt: &at})
	}
}
