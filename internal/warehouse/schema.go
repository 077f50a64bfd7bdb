// Star schema table declarations. The specs are dialect-neutral; each backend
// translates column types and key specs into its own DDL so that EnsureSchema
// stays idempotent everywhere.
package warehouse

// TableSpec declares one analytical table.
type TableSpec struct {
	Name    string
	Key     *KeySpec
	Columns []ColumnSpec
	Unique  [][]string
}

// KeySpec declares a table's primary key. Auto keys are backend-generated
// surrogate keys (serial/identity/rowid); non-auto keys are natural keys
// supplied by the writer (the YYYYMMDD date key, the watermark entity name).
type KeySpec struct {
	Name string
	Type string // used only when Auto is false: "int" | "text"
	Auto bool
}

// ColumnSpec declares a non-key column with a dialect-neutral type:
// "int" | "bigint" | "text" | "date" | "timestamp" | "numeric(5,2)" | "bool".
type ColumnSpec struct {
	Name    string
	Type    string
	NotNull bool
}

// Tables is the full analytical schema, in creation order.
var Tables = []TableSpec{
	{
		Name: "dim_date",
		Key:  &KeySpec{Name: "date_key", Type: "int"},
		Columns: []ColumnSpec{
			{Name: "date", Type: "date", NotNull: true},
			{Name: "year", Type: "int", NotNull: true},
			{Name: "quarter", Type: "int", NotNull: true},
			{Name: "month", Type: "int", NotNull: true},
			{Name: "day_of_month", Type: "int", NotNull: true},
			{Name: "day_of_week", Type: "int", NotNull: true},
			{Name: "is_weekend", Type: "bool", NotNull: true},
		},
		Unique: [][]string{{"date"}},
	},
	{
		Name: "dim_film",
		Key:  &KeySpec{Name: "film_key", Auto: true},
		Columns: []ColumnSpec{
			{Name: "film_id", Type: "bigint", NotNull: true},
			{Name: "title", Type: "text", NotNull: true},
			{Name: "rating", Type: "text"},
			{Name: "length", Type: "int"},
			{Name: "language", Type: "text", NotNull: true},
			{Name: "release_year", Type: "int"},
			{Name: "last_update", Type: "timestamp", NotNull: true},
		},
		Unique: [][]string{{"film_id"}},
	},
	{
		Name: "dim_actor",
		Key:  &KeySpec{Name: "actor_key", Auto: true},
		Columns: []ColumnSpec{
			{Name: "actor_id", Type: "bigint", NotNull: true},
			{Name: "first_name", Type: "text", NotNull: true},
			{Name: "last_name", Type: "text", NotNull: true},
			{Name: "last_update", Type: "timestamp", NotNull: true},
		},
		Unique: [][]string{{"actor_id"}},
	},
	{
		Name: "dim_category",
		Key:  &KeySpec{Name: "category_key", Auto: true},
		Columns: []ColumnSpec{
			{Name: "category_id", Type: "bigint", NotNull: true},
			{Name: "name", Type: "text", NotNull: true},
			{Name: "last_update", Type: "timestamp", NotNull: true},
		},
		Unique: [][]string{{"category_id"}},
	},
	{
		Name: "dim_store",
		Key:  &KeySpec{Name: "store_key", Auto: true},
		Columns: []ColumnSpec{
			{Name: "store_id", Type: "bigint", NotNull: true},
			{Name: "city", Type: "text", NotNull: true},
			{Name: "country", Type: "text", NotNull: true},
			{Name: "last_update", Type: "timestamp", NotNull: true},
		},
		Unique: [][]string{{"store_id"}},
	},
	{
		Name: "dim_customer",
		Key:  &KeySpec{Name: "customer_key", Auto: true},
		Columns: []ColumnSpec{
			{Name: "customer_id", Type: "bigint", NotNull: true},
			{Name: "first_name", Type: "text", NotNull: true},
			{Name: "last_name", Type: "text", NotNull: true},
			{Name: "active", Type: "int", NotNull: true},
			{Name: "city", Type: "text", NotNull: true},
			{Name: "country", Type: "text", NotNull: true},
			{Name: "last_update", Type: "timestamp", NotNull: true},
		},
		Unique: [][]string{{"customer_id"}},
	},
	{
		Name: "bridge_film_actor",
		Columns: []ColumnSpec{
			{Name: "film_key", Type: "bigint", NotNull: true},
			{Name: "actor_key", Type: "bigint", NotNull: true},
		},
		Unique: [][]string{{"film_key", "actor_key"}},
	},
	{
		Name: "bridge_film_category",
		Columns: []ColumnSpec{
			{Name: "film_key", Type: "bigint", NotNull: true},
			{Name: "category_key", Type: "bigint", NotNull: true},
		},
		Unique: [][]string{{"film_key", "category_key"}},
	},
	{
		Name: "fact_rental",
		Key:  &KeySpec{Name: "fact_rental_key", Auto: true},
		Columns: []ColumnSpec{
			{Name: "rental_id", Type: "bigint", NotNull: true},
			{Name: "date_key_rented", Type: "int", NotNull: true},
			{Name: "date_key_returned", Type: "int"},
			{Name: "film_key", Type: "bigint", NotNull: true},
			{Name: "store_key", Type: "bigint", NotNull: true},
			{Name: "customer_key", Type: "bigint", NotNull: true},
			{Name: "staff_id", Type: "int", NotNull: true},
			{Name: "rental_duration_days", Type: "int"},
		},
		Unique: [][]string{{"rental_id"}},
	},
	{
		Name: "fact_payment",
		Key:  &KeySpec{Name: "fact_payment_key", Auto: true},
		Columns: []ColumnSpec{
			{Name: "payment_id", Type: "bigint", NotNull: true},
			{Name: "date_key_paid", Type: "int", NotNull: true},
			{Name: "customer_key", Type: "bigint", NotNull: true},
			{Name: "store_key", Type: "bigint", NotNull: true},
			{Name: "staff_id", Type: "int", NotNull: true},
			{Name: "amount", Type: "numeric(5,2)", NotNull: true},
		},
		Unique: [][]string{{"payment_id"}},
	},
	{
		Name: "sync_state",
		Key:  &KeySpec{Name: "entity_name", Type: "text"},
		Columns: []ColumnSpec{
			{Name: "last_sync_timestamp", Type: "timestamp", NotNull: true},
		},
	},
}
