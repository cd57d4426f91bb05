package pgxutil

import (
	"database/sql"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
)

func TestToPgxTxOptions(t *testing.T) {
	tests := []struct {
		name string
		in   *sql.TxOptions
		want pgx.TxOptions
	}{
		{name: "nil", in: nil, want: pgx.TxOptions{}},
		{
			name: "read committed write",
			in:   &sql.TxOptions{Isolation: sql.LevelReadCommitted},
			want: pgx.TxOptions{IsoLevel: pgx.ReadCommitted, AccessMode: pgx.ReadWrite},
		},
		{
			name: "serializable read only",
			in:   &sql.TxOptions{Isolation: sql.LevelSerializable, ReadOnly: true},
			want: pgx.TxOptions{IsoLevel: pgx.Serializable, AccessMode: pgx.ReadOnly},
		},
		{
			name: "default level",
			in:   &sql.TxOptions{},
			want: pgx.TxOptions{IsoLevel: pgx.TxIsoLevel(""), AccessMode: pgx.ReadWrite},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ToPgxTxOptions(tt.in))
		})
	}
}
