package service

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/iliyamo/authguard/internal/config"
	"github.com/iliyamo/authguard/internal/database"
	"github.com/iliyamo/authguard/internal/model"
	"github.com/iliyamo/authguard/internal/repository"
	"github.com/iliyamo/authguard/internal/utils"
)

var testStart = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

// clock is a settable time source shared by the services under test.
type clock struct{ t time.Time }

func (c *clock) Now() time.Time { return c.t }

func (c *clock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newClock() *clock { return &clock{t: testStart} }

func testLogger() zerolog.Logger { return zerolog.Nop() }

func testMeta(ip string) RequestMeta { return RequestMeta{IP: ip} }

// newTestDB opens a private in-memory SQLite database with the production
// schema.
func newTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := database.Open(database.DriverSQLite, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, database.Migrate(context.Background(), db, database.DriverSQLite))
	return db
}

// createUser inserts a password account and returns it.
func createUser(t *testing.T, db *sql.DB, email, password, role string) model.User {
	t.Helper()
	hash, err := utils.HashPassword(password, bcrypt.MinCost)
	require.NoError(t, err)
	u := model.User{Email: email, PasswordHash: &hash, Name: "Test", Role: role}
	_, err = repository.NewUserRepo(db).Create(context.Background(), &u, testStart)
	require.NoError(t, err)
	return u
}

func newAudit(db *sql.DB, c *clock) *AuditService {
	a := NewAuditService(db, config.DefaultSuspicionConfig(), testLogger())
	a.Now = c.Now
	return a
}

// countActions returns how many audit rows carry action.
func countActions(t *testing.T, db *sql.DB, action string) int {
	t.Helper()
	var n int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM security_audit_logs WHERE action=?", action).Scan(&n))
	return n
}
