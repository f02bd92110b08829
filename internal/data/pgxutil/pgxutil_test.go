package pgxutil

import (
	"context"
	"database/sql"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lanterna/lanterna-api/internal/testutil"
)

func TestToPgxTxOptions(t *testing.T) {
	assert.Equal(t, pgx.TxOptions{}, ToPgxTxOptions(nil))

	tests := []struct {
		in   sql.TxOptions
		want pgx.TxOptions
	}{
		{sql.TxOptions{}, pgx.TxOptions{AccessMode: pgx.ReadWrite}},
		{
			sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true},
			pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly},
		},
		{sql.TxOptions{Isolation: sql.LevelSnapshot}, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadWrite}},
		{sql.TxOptions{Isolation: sql.LevelLinearizable}, pgx.TxOptions{IsoLevel: pgx.Serializable, AccessMode: pgx.ReadWrite}},
		{sql.TxOptions{Isolation: sql.LevelWriteCommitted}, pgx.TxOptions{IsoLevel: pgx.ReadCommitted, AccessMode: pgx.ReadWrite}},
		{sql.TxOptions{Isolation: sql.LevelReadUncommitted}, pgx.TxOptions{IsoLevel: pgx.ReadUncommitted, AccessMode: pgx.ReadWrite}},
	}
	for _, tt := range tests {
		t.Run(tt.in.Isolation.String(), func(t *testing.T) {
			in := tt.in
			assert.Equal(t, tt.want, ToPgxTxOptions(&in))
		})
	}
}

func TestWithPgxTx_RollsBackOnError(t *testing.T) {
	testutil.WithAutoDB(t, func(db *sql.DB) {
		ctx := context.Background()
		err := WithPgxTx(ctx, db, TxConfig{Fn: func(tx pgx.Tx) error {
			_, execErr := tx.Exec(ctx, `INSERT INTO profiles (id, email, role) VALUES ('tx-1', 'tx@lanterna.example', 'user')`)
			require.NoError(t, execErr)
			return sql.ErrNoRows
		}})
		require.ErrorIs(t, err, sql.ErrNoRows)

		var n int
		require.NoError(t, db.QueryRowContext(ctx, `SELECT count(*) FROM profiles WHERE id = 'tx-1'`).Scan(&n))
		assert.Zero(t, n)
	})
}
