package mssql

import (
	"strings"
	"testing"

	"sakilasync/internal/warehouse"
)

func TestBuildMergeSQL(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		table     string
		conflict  []string
		columns   []string
		returning string
		want      string
		wantErr   bool
	}{
		{
			name:      "dimension merge with output",
			table:     "dim_store",
			conflict:  []string{"store_id"},
			columns:   []string{"store_id", "city"},
			returning: "store_key",
			want: `MERGE [dim_store] AS t USING (VALUES (@p1, @p2)) AS s ([store_id], [city])` +
				` ON t.[store_id] = s.[store_id]` +
				` WHEN MATCHED THEN UPDATE SET t.[city] = s.[city]` +
				` WHEN NOT MATCHED THEN INSERT ([store_id], [city]) VALUES (s.[store_id], s.[city])` +
				` OUTPUT inserted.[store_key];`,
		},
		{
			name:     "bridge omits the matched branch",
			table:    "bridge_film_actor",
			conflict: []string{"film_key", "actor_key"},
			columns:  []string{"film_key", "actor_key"},
			want: `MERGE [bridge_film_actor] AS t USING (VALUES (@p1, @p2)) AS s ([film_key], [actor_key])` +
				` ON t.[film_key] = s.[film_key] AND t.[actor_key] = s.[actor_key]` +
				` WHEN NOT MATCHED THEN INSERT ([film_key], [actor_key]) VALUES (s.[film_key], s.[actor_key]);`,
		},
		{
			name:      "output requires update columns",
			table:     "dim_store",
			conflict:  []string{"store_id"},
			columns:   []string{"store_id"},
			returning: "store_key",
			wantErr:   true,
		},
		{
			name:     "no columns",
			table:    "x",
			conflict: []string{"a"},
			wantErr:  true,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, err := buildMergeSQL(tc.table, tc.conflict, tc.columns, tc.returning)
			if tc.wantErr {
				if err == nil {
					t.Fatal("expected an error")
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if got != tc.want {
				t.Fatalf("got:\n%s\nwant:\n%s", got, tc.want)
			}
		})
	}
}

func TestBuildCreateTableSQL(t *testing.T) {
	t.Parallel()

	t.Run("auto key and types", func(t *testing.T) {
		t.Parallel()
		ddl, err := buildCreateTableSQL(warehouse.TableSpec{
			Name: "fact_payment",
			Key:  &warehouse.KeySpec{Name: "fact_payment_key", Auto: true},
			Columns: []warehouse.ColumnSpec{
				{Name: "payment_id", Type: "bigint", NotNull: true},
				{Name: "amount", Type: "numeric(5,2)", NotNull: true},
				{Name: "paid_at", Type: "timestamp"},
			},
			Unique: [][]string{{"payment_id"}},
		})
		if err != nil {
			t.Fatal(err)
		}
		for _, want := range []string{
			"IF OBJECT_ID(N'fact_payment', N'U') IS NULL CREATE TABLE [fact_payment]",
			"[fact_payment_key] BIGINT IDENTITY(1,1) PRIMARY KEY",
			"[payment_id] BIGINT NOT NULL",
			"[amount] DECIMAL(5,2) NOT NULL",
			"[paid_at] DATETIMEOFFSET",
			"UNIQUE ([payment_id])",
		} {
			if !strings.Contains(ddl, want) {
				t.Errorf("DDL missing %q:\n%s", want, ddl)
			}
		}
	})

	t.Run("text primary key narrows to a keyable type", func(t *testing.T) {
		t.Parallel()
		ddl, err := buildCreateTableSQL(warehouse.TableSpec{
			Name: "sync_state",
			Key:  &warehouse.KeySpec{Name: "entity_name", Type: "text"},
			Columns: []warehouse.ColumnSpec{
				{Name: "last_sync_timestamp", Type: "timestamp", NotNull: true},
			},
		})
		if err != nil {
			t.Fatal(err)
		}
		if !strings.Contains(ddl, "[entity_name] NVARCHAR(100) PRIMARY KEY") {
			t.Errorf("DDL missing narrowed text key:\n%s", ddl)
		}
	})
}
