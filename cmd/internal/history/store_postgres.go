package history

import (
	"context"
	"errors"
	"regexp"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore is a Store backed by PostgreSQL.
//
// Ownership model:
// - PostgresStore does NOT own the pgx pool. The caller must close the pool.
// - Close() is therefore a no-op.
//
// Idempotency relies on the (business_type, conversation_id) primary key
// plus ON CONFLICT DO NOTHING, so the store itself provides the
// add-if-absent atomicity.
type PostgresStore struct {
	pool   *pgxpool.Pool
	schema string
}

// PostgresOption configures PostgresStore behavior.
type PostgresOption func(*PostgresStore) error

// WithSchema sets the DB schema used by this store (default: "loom").
// The schema name is validated and safely quoted in queries.
func WithSchema(schema string) PostgresOption {
	return func(s *PostgresStore) error {
		schema = strings.TrimSpace(schema)
		if schema == "" {
			return errors.New("history: empty schema")
		}
		if !isValidPGIdent(schema) {
			return errors.New("history: invalid schema identifier")
		}
		s.schema = schema
		return nil
	}
}

// NewPostgresStore constructs a Postgres-backed Store.
func NewPostgresStore(pool *pgxpool.Pool, opts ...PostgresOption) (*PostgresStore, error) {
	st := &PostgresStore{
		pool:   pool,
		schema: "loom",
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(st); err != nil {
			return nil, err
		}
	}
	if st.pool == nil {
		return nil, errors.New("history: nil pool")
	}
	return st, nil
}

// Close is a no-op because the pool is owned by the caller.
func (s *PostgresStore) Close() error { return nil }

// Record inserts the (businessType, conversationID) membership row if absent.
func (s *PostgresStore) Record(ctx context.Context, businessType, conversationID string) error {
	if s == nil || s.pool == nil {
		return errors.New("history: nil store")
	}
	if businessType == "" || conversationID == "" {
		return errors.New("history: empty business type or conversation id")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	conversations := pgIdent(s.schema, "conversations")

	_, err := s.pool.Exec(ctx,
		`INSERT INTO `+conversations+` (business_type, conversation_id)
		 VALUES ($1, $2)
		 ON CONFLICT (business_type, conversation_id) DO NOTHING`,
		businessType, conversationID,
	)
	return err
}

// ListIDs returns all ids recorded under businessType, ordered ascending.
func (s *PostgresStore) ListIDs(ctx context.Context, businessType string) ([]string, error) {
	if s == nil || s.pool == nil {
		return nil, errors.New("history: nil store")
	}
	if businessType == "" {
		return nil, errors.New("history: empty business type")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	conversations := pgIdent(s.schema, "conversations")

	rows, err := s.pool.Query(ctx,
		`SELECT conversation_id
		   FROM `+conversations+`
		  WHERE business_type = $1
		  ORDER BY conversation_id ASC`,
		businessType,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]string, 0, 16)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

var pgIdentRE = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

func isValidPGIdent(s string) bool {
	return pgIdentRE.MatchString(s)
}

func pgIdent(schema, table string) string {
	// pgx.Identifier safely quotes identifiers, preventing SQL injection.
	return pgx.Identifier{schema, table}.Sanitize()
}
