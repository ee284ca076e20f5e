package sqlite

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/myrjola/amlnarrator/internal/testhelpers"
)

func TestDatabase_migrate(t *testing.T) {
	t.Parallel()
	const (
		reportsV1  = "CREATE TABLE reports (case_id TEXT PRIMARY KEY)"
		reportsV2  = "CREATE TABLE reports (case_id TEXT PRIMARY KEY, model TEXT NOT NULL DEFAULT 'gpt-4o')"
		slotsTable = "CREATE TABLE slots (case_id TEXT NOT NULL, tag TEXT NOT NULL, answer TEXT)"
		slotsIndex = "CREATE INDEX slots_case ON slots (case_id)"
		failInsert = "CREATE TRIGGER slots_guard AFTER INSERT ON slots BEGIN SELECT RAISE ( FAIL, 'fail' ); END;"
		insertSlot = "INSERT INTO slots (case_id, tag) VALUES ('C1 - UE - 0001', 'alert-nature')"
	)
	tests := []struct {
		name              string
		schemaDefinitions []string
		// seed runs after the first schema definition.
		seed        []string
		testQueries []string
		wantErr     bool
	}{
		{
			name:              "empty schema",
			schemaDefinitions: []string{""},
			testQueries:       []string{"SELECT * FROM sqlite_schema"},
		},
		{
			name:              "create table",
			schemaDefinitions: []string{slotsTable},
			testQueries:       []string{insertSlot, "SELECT * FROM slots"},
		},
		{
			name:              "drop table",
			schemaDefinitions: []string{slotsTable, ""},
			testQueries:       []string{insertSlot},
			wantErr:           true,
		},
		{
			name:              "add column",
			schemaDefinitions: []string{reportsV1, reportsV2},
			testQueries:       []string{"INSERT INTO reports (case_id, model) VALUES ('C1', 'gpt-4o-mini')"},
		},
		{
			name:              "remove column",
			schemaDefinitions: []string{reportsV1, reportsV2, reportsV1},
			testQueries:       []string{"INSERT INTO reports (case_id, model) VALUES ('C1', 'gpt-4o-mini')"},
			wantErr:           true,
		},
		{
			name:              "add column keeps rows",
			schemaDefinitions: []string{reportsV1, reportsV2},
			seed:              []string{"INSERT INTO reports (case_id) VALUES ('C1')"},
			testQueries:       []string{"UPDATE reports SET model = 'gpt-4o-mini' WHERE case_id = 'C1'"},
		},
		{
			name:              "create index",
			schemaDefinitions: []string{slotsTable + "; " + slotsIndex},
			testQueries:       []string{"DROP INDEX slots_case"},
		},
		{
			name:              "drop index",
			schemaDefinitions: []string{slotsTable + "; " + slotsIndex, slotsTable},
			testQueries:       []string{"DROP INDEX slots_case"},
			wantErr:           true,
		},
		{
			name: "update index",
			schemaDefinitions: []string{
				slotsTable + "; " + slotsIndex,
				slotsTable + "; CREATE INDEX slots_case ON slots (case_id, tag)",
			},
			testQueries: []string{"DROP INDEX slots_case"},
		},
		{
			name:              "create trigger",
			schemaDefinitions: []string{slotsTable + "; " + failInsert},
			testQueries:       []string{insertSlot},
			wantErr:           true,
		},
		{
			name:              "delete trigger",
			schemaDefinitions: []string{slotsTable + "; " + failInsert, slotsTable},
			testQueries:       []string{insertSlot},
		},
		{
			name: "update trigger",
			schemaDefinitions: []string{
				slotsTable + "; " + failInsert,
				slotsTable + "; CREATE TRIGGER slots_guard AFTER INSERT ON slots BEGIN SELECT 1; END;",
			},
			testQueries: []string{insertSlot},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()
			logger := testhelpers.NewLogger(io.Discard)
			db, err := connect(":memory:", logger)
			require.NoError(t, err)
			t.Cleanup(func() { require.NoError(t, db.Close()) })
			for i, schemaDefinition := range tt.schemaDefinitions {
				logger.LogAttrs(ctx, slog.LevelInfo, "migrating", slog.String("schema", schemaDefinition))
				err = db.migrate(ctx, schemaDefinition)
				require.NoError(t, err)
				if i == 0 {
					for _, query := range tt.seed {
						_, err = db.ReadWrite.ExecContext(ctx, query)
						require.NoError(t, err)
					}
				}
			}
			for _, query := range tt.testQueries {
				logger.LogAttrs(ctx, slog.LevelInfo, "executing", slog.String("query", query))
				_, err = db.ReadWrite.ExecContext(ctx, query)
				if tt.wantErr {
					require.Error(t, err)
				} else {
					require.NoError(t, err)
				}
			}
			if len(tt.seed) > 0 {
				var count int
				require.NoError(t, db.ReadOnly.GetContext(ctx, &count, "SELECT COUNT(*) FROM reports"))
				require.Equal(t, len(tt.seed), count)
			}
		})
	}
}

func TestNewDatabase_schema(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	db, err := NewDatabase(ctx, ":memory:", testhelpers.NewLogger(io.Discard))
	require.NoError(t, err)

	var tables []string
	err = db.ReadOnly.SelectContext(ctx, &tables,
		"SELECT name FROM sqlite_schema WHERE type = 'table' ORDER BY name")
	require.NoError(t, err)
	require.Equal(t, []string{"messages", "reports", "slots"}, tables)

	// Migrating to the same schema again is a no-op.
	require.NoError(t, db.migrate(ctx, schemaDefinition))
	_, err = db.ReadOnly.ExecContext(ctx, "INSERT INTO messages (session_id, role, content) VALUES ('a', 'user', 'b')")
	require.Error(t, err, "read-only pool must reject writes")
}
