// Package all registers every warehouse backend with the factory. The CLI
// blank-imports it so the configured kind is always available.
package all

import (
	_ "sakilasync/internal/warehouse/mssql"
	_ "sakilasync/internal/warehouse/postgres"
	_ "sakilasync/internal/warehouse/sqlite"
)
