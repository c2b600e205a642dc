package penalty

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/suite"

	"warden/internal/abuse/models"
)

var columns = []string{"id", "token_id", "token_name", "user_id", "penalty_type", "reason",
	"abuse_score", "rate_limit_rpm", "created_at", "expires_at", "lifted_at", "lifted_by"}

type PostgresStoreSuite struct {
	suite.Suite
	db    *sql.DB
	mock  sqlmock.Sqlmock
	store *PostgresStore
	ctx   context.Context
	now   time.Time
}

func TestPostgresStoreSuite(t *testing.T) {
	suite.Run(t, new(PostgresStoreSuite))
}

func (s *PostgresStoreSuite) SetupTest() {
	db, mock, err := sqlmock.New()
	s.Require().NoError(err)
	s.db = db
	s.mock = mock
	s.store = NewPostgres(db)
	s.ctx = context.Background()
	s.now = time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)
}

func (s *PostgresStoreSuite) TearDownTest() {
	s.NoError(s.mock.ExpectationsWereMet())
	_ = s.db.Close()
}

func (s *PostgresStoreSuite) TestGetActive() {
	end := s.now.Add(30 * time.Minute)
	s.mock.ExpectQuery(regexp.QuoteMeta("FROM token_penalties")).
		WithArgs("42", s.now).
		WillReturnRows(sqlmock.NewRows(columns).
			AddRow("p1", "42", "ci-key", "7", "temp_ban", "test_content_abuse", 80.0, 0, s.now, end, nil, ""))

	p, err := s.store.GetActive(s.ctx, "42", s.now)
	s.Require().NoError(err)
	s.Equal("p1", p.ID)
	s.Equal(models.PenaltyTempBan, p.PenaltyType)
	s.Equal(end, *p.EndTime)
	s.Nil(p.LiftedAt)
}

func (s *PostgresStoreSuite) TestGetActiveNone() {
	s.mock.ExpectQuery(regexp.QuoteMeta("FROM token_penalties")).
		WithArgs("42", s.now).
		WillReturnRows(sqlmock.NewRows(columns))

	p, err := s.store.GetActive(s.ctx, "42", s.now)
	s.NoError(err)
	s.Nil(p)
}

func (s *PostgresStoreSuite) TestGetActiveError() {
	s.mock.ExpectQuery(regexp.QuoteMeta("FROM token_penalties")).
		WillReturnError(errors.New("connection reset"))

	_, err := s.store.GetActive(s.ctx, "42", s.now)
	s.ErrorContains(err, "get active penalty")
}

func (s *PostgresStoreSuite) penalty() *models.Penalty {
	return &models.Penalty{
		ID:           "p1",
		TokenID:      "42",
		PenaltyType:  models.PenaltyRateLimit,
		Reason:       "frequent_model_switch",
		AbuseScore:   100,
		RateLimitRPM: 5,
		StartTime:    s.now,
	}
}

func (s *PostgresStoreSuite) TestCreate() {
	s.mock.ExpectBegin()
	s.mock.ExpectExec(regexp.QuoteMeta("UPDATE token_penalties SET active = FALSE")).
		WithArgs("42", s.now).
		WillReturnResult(sqlmock.NewResult(0, 0))
	s.mock.ExpectExec(regexp.QuoteMeta("INSERT INTO token_penalties")).
		WithArgs("p1", "42", "", "", "rate_limit", "frequent_model_switch", 100.0, 5, s.now, nil, nil, "").
		WillReturnResult(sqlmock.NewResult(1, 1))
	s.mock.ExpectCommit()

	s.NoError(s.store.Create(s.ctx, s.penalty()))
}

func (s *PostgresStoreSuite) TestCreateConflict() {
	s.mock.ExpectBegin()
	s.mock.ExpectExec(regexp.QuoteMeta("UPDATE token_penalties SET active = FALSE")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	s.mock.ExpectExec(regexp.QuoteMeta("INSERT INTO token_penalties")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	s.mock.ExpectRollback()

	s.ErrorIs(s.store.Create(s.ctx, s.penalty()), ErrActiveExists)
}

func (s *PostgresStoreSuite) TestLift() {
	s.mock.ExpectQuery(regexp.QuoteMeta("UPDATE token_penalties")).
		WithArgs("42", s.now, "ops").
		WillReturnRows(sqlmock.NewRows(columns).
			AddRow("p1", "42", "", "", "perm_ban", "r", 90.0, 0, s.now.Add(-time.Hour), s.now, s.now, "ops"))

	p, err := s.store.Lift(s.ctx, "42", s.now, "ops")
	s.Require().NoError(err)
	s.Equal("ops", p.LiftedBy)
	s.Equal(s.now, *p.LiftedAt)
}

func (s *PostgresStoreSuite) TestLiftNotFound() {
	s.mock.ExpectQuery(regexp.QuoteMeta("UPDATE token_penalties")).
		WithArgs("42", s.now, "ops").
		WillReturnRows(sqlmock.NewRows(columns))

	_, err := s.store.Lift(s.ctx, "42", s.now, "ops")
	s.ErrorIs(err, ErrNotFound)
}

func (s *PostgresStoreSuite) TestListActive() {
	s.mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM token_penalties")).
		WithArgs(s.now).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))
	s.mock.ExpectQuery(regexp.QuoteMeta("ORDER BY created_at DESC, id")).
		WithArgs(s.now, 2, 0).
		WillReturnRows(sqlmock.NewRows(columns).
			AddRow("p3", "c", "", "", "perm_ban", "r", 90.0, 0, s.now, nil, nil, "").
			AddRow("p2", "b", "", "", "rate_limit", "r", 85.0, 5, s.now.Add(-time.Minute), nil, nil, ""))

	items, total, err := s.store.ListActive(s.ctx, s.now, 0, 2)
	s.Require().NoError(err)
	s.Equal(3, total)
	s.Require().Len(items, 2)
	s.Equal("p3", items[0].ID)
	s.Equal(5, items[1].RateLimitRPM)
}

func (s *PostgresStoreSuite) TestHistory() {
	s.mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM token_penalties WHERE token_id = $1")).
		WithArgs("42").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	s.mock.ExpectQuery(regexp.QuoteMeta("WHERE token_id = $1")).
		WithArgs("42", 10, 0).
		WillReturnRows(sqlmock.NewRows(columns).
			AddRow("p1", "42", "", "", "temp_ban", "r", 80.0, 0, s.now, s.now, s.now, "ops"))

	items, total, err := s.store.History(s.ctx, "42", 0, 10)
	s.Require().NoError(err)
	s.Equal(1, total)
	s.Equal("ops", items[0].LiftedBy)
}

func (s *PostgresStoreSuite) TestSweepActive() {
	s.mock.ExpectExec(regexp.QuoteMeta("UPDATE token_penalties SET active = FALSE")).
		WithArgs(s.now).
		WillReturnResult(sqlmock.NewResult(0, 4))
	s.mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM token_penalties WHERE active")).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(2))

	removed, remaining, err := s.store.SweepActive(s.ctx, s.now)
	s.NoError(err)
	s.Equal(4, removed)
	s.Equal(2, remaining)
}
