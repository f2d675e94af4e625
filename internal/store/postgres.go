package store

import (
	"database/sql"
	"sort"
	"strings"
)

type PgRepository struct {
	conn *sql.DB
}

func NewPgRepository(dsn string) (*PgRepository, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}

	if err := db.Ping(); err != nil {
		return nil, err
	}

	return &PgRepository{conn: db}, nil
}

func (db *PgRepository) Ping() error {
	return db.conn.Ping()
}

func (db *PgRepository) Close() error {
	if db.conn != nil {
		return db.conn.Close()
	}
	return nil
}

// normalizeParticipants deduplicates and sorts a participant list. The
// sorted form doubles as the conversation's identity key, which is how
// CreateConversation stays idempotent for a given participant set.
func normalizeParticipants(participantIds []string) ([]string, string, error) {
	seen := make(map[string]struct{}, len(participantIds))
	var unique []string
	for _, id := range participantIds {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		unique = append(unique, id)
	}

	if len(unique) < 2 {
		return nil, "", ErrInvalidParticipants
	}

	sort.Strings(unique)
	return unique, strings.Join(unique, "|"), nil
}
