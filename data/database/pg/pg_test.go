package pg

import (
	"context"
	"testing"

	sq "github.com/Masterminds/squirrel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDialectUsesDollarPlaceholders(t *testing.T) {
	text, args, err := Dialect.Select("id").From("messages").
		Where(sq.Eq{"receiver_id": 2}).Where(sq.Lt{"id": 10}).
		OrderBy("id DESC").Limit(5).ToSql()
	require.NoError(t, err)
	assert.Equal(t, "SELECT id FROM messages WHERE receiver_id = $1 AND id < $2 ORDER BY id DESC LIMIT 5", text)
	assert.Equal(t, []any{2, 10}, args)
}

func TestConnectRequiresDSN(t *testing.T) {
	_, err := Connect(context.Background(), Config{})
	assert.Error(t, err)
}
