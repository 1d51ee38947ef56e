package gtfsdb

import "trains.tokyogtfs.org/internal/appconf"

const defaultBulkInsertBatchSize = 500

type Config struct {
	// DBPath is a file path or ":memory:".
	DBPath string
	Env    appconf.Environment

	// BulkInsertBatchSize is the number of rows per multi-row INSERT.
	// SQLite allows at most 32766 bound parameters per statement.
	BulkInsertBatchSize int

	verbose bool
}

func NewConfig(dbPath string, env appconf.Environment, verbose bool) Config {
	return Config{
		DBPath:  dbPath,
		Env:     env,
		verbose: verbose,
	}
}

func (c Config) GetBulkInsertBatchSize() int {
	if c.BulkInsertBatchSize <= 0 {
		return defaultBulkInsertBatchSize
	}
	return c.BulkInsertBatchSize
}
