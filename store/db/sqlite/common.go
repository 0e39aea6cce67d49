package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"

	"github.com/pkg/errors"

	"github.com/tinychat/tinychat/store"
)

// conn abstracts *sql.DB and *sql.Tx so every query runs against whichever
// is active.
type conn interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func joinAnd(conditions []string) string {
	return strings.Join(conditions, " AND ")
}

func joinComma(parts []string) string {
	return strings.Join(parts, ", ")
}

func marshalJSON(v any) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", errors.Wrap(err, "failed to marshal json column")
	}
	return string(raw), nil
}

func unmarshalConfig(raw string, config *store.Config) error {
	if raw == "" {
		return nil
	}
	return errors.Wrap(json.Unmarshal([]byte(raw), config), "failed to unmarshal config")
}

func unmarshalData(raw string, data *[]store.DataPart) error {
	if raw == "" {
		return nil
	}
	return errors.Wrap(json.Unmarshal([]byte(raw), data), "failed to unmarshal data")
}

func marshalEmbedding(embedding []float32) (any, error) {
	if embedding == nil {
		return nil, nil
	}
	return marshalJSON(embedding)
}

func unmarshalEmbedding(raw sql.NullString) ([]float32, error) {
	if !raw.Valid || raw.String == "" {
		return nil, nil
	}
	var embedding []float32
	if err := json.Unmarshal([]byte(raw.String), &embedding); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal embedding")
	}
	return embedding, nil
}
