package transcript

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore is a Store backed by PostgreSQL.
//
// Ownership model:
// - PostgresStore does NOT own the pgx pool. The caller must close the pool.
// - Close() is therefore a no-op.
//
// Concurrency model:
// - Uses per-conversation transactional advisory locks plus a cursor row so
//   sequence allocation is gap-free and strictly monotonic under concurrency.
// - A multi-message Append commits in one transaction: either the whole turn
//   pair is visible or none of it is.
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
			return errors.New("transcript: empty schema")
		}
		if !isValidPGIdent(schema) {
			return errors.New("transcript: invalid schema identifier")
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
		return nil, errors.New("transcript: nil pool")
	}
	return st, nil
}

// Close is a no-op because the pool is owned by the caller.
func (s *PostgresStore) Close() error { return nil }

// Append writes msgs to the end of the conversation's log in one transaction.
func (s *PostgresStore) Append(ctx context.Context, conversationID string, msgs ...Message) error {
	if s == nil || s.pool == nil {
		return errors.New("transcript: nil store")
	}
	if conversationID == "" {
		return errors.New("transcript: empty conversation id")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(msgs) == 0 {
		return nil
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.ReadCommitted,
		AccessMode: pgx.ReadWrite,
	})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	cursors := pgIdent(s.schema, "message_cursors")
	messages := pgIdent(s.schema, "messages")

	// Serialize all writes per conversation so allocated sequences are
	// strictly monotonic and gap-free.
	//
	// hashtextextended reduces collision risk vs hashtext (still a hash, but better).
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, conversationID); err != nil {
		return fmt.Errorf("advisory lock: %w", err)
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO `+cursors+` (conversation_id, next_seq)
		 VALUES ($1, 1)
		 ON CONFLICT (conversation_id) DO NOTHING`,
		conversationID,
	); err != nil {
		return err
	}

	var firstSeq int64
	if err := tx.QueryRow(ctx,
		`UPDATE `+cursors+`
		    SET next_seq = next_seq + $2,
		        updated_at = now()
		  WHERE conversation_id = $1
		RETURNING (next_seq - $2)`,
		conversationID, int64(len(msgs)),
	).Scan(&firstSeq); err != nil {
		return err
	}

	now := time.Now().UTC()
	for i, m := range msgs {
		if _, err := tx.Exec(ctx,
			`INSERT INTO `+messages+` (conversation_id, seq, role, content, created_at)
			 VALUES ($1, $2, $3, $4, $5)`,
			conversationID, firstSeq+int64(i), string(m.Role), m.Content, now,
		); err != nil {
			return fmt.Errorf("insert message: %w", err)
		}
	}

	return tx.Commit(ctx)
}

// ReadAll returns the full transcript ordered by seq ASC.
func (s *PostgresStore) ReadAll(ctx context.Context, conversationID string) ([]Message, error) {
	if s == nil || s.pool == nil {
		return nil, errors.New("transcript: nil store")
	}
	if conversationID == "" {
		return nil, errors.New("transcript: empty conversation id")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	messages := pgIdent(s.schema, "messages")

	rows, err := s.pool.Query(ctx,
		`SELECT role, content
		   FROM `+messages+`
		  WHERE conversation_id = $1
		  ORDER BY seq ASC`,
		conversationID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Message, 0, 32)
	for rows.Next() {
		var role string
		var m Message
		if err := rows.Scan(&role, &m.Content); err != nil {
			return nil, err
		}
		m.Role = Role(role)
		out = append(out, m)
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
