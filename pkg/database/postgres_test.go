package database

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
)

func TestIsUniqueViolation(t *testing.T) {
	dup := &pgconn.PgError{Code: "23505", ConstraintName: "votes_poll_id_student_session_id_key"}
	wrapped := fmt.Errorf("insert vote: %w", dup)

	assert.True(t, IsUniqueViolation(wrapped, ""))
	assert.True(t, IsUniqueViolation(wrapped, "votes_poll_id_student_session_id_key"))
	assert.False(t, IsUniqueViolation(wrapped, "polls_single_active"))
	assert.False(t, IsUniqueViolation(&pgconn.PgError{Code: "23503"}, ""))
	assert.False(t, IsUniqueViolation(errors.New("boom"), ""))
}
