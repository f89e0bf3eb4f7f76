package sqlstore

import (
	"context"
	"fmt"
	"strings"
)

// migrate applies the dialect's schema statements in order. Every statement
// is idempotent; errors that only mean "already there" are ignored so older
// databases without IF NOT EXISTS support still converge.
func (s *Store) migrate(ctx context.Context) error {
	for _, m := range s.d.schema {
		if _, err := s.db.ExecContext(ctx, m); err != nil {
			if isAlreadyApplied(err) {
				continue
			}
			return fmt.Errorf("migration failed: %w\nSQL: %s", err, m)
		}
	}
	return nil
}

func isAlreadyApplied(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "duplicate column") ||
		strings.Contains(msg, "already exists") ||
		strings.Contains(msg, "duplicate key name")
}
