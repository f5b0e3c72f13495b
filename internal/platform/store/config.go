package store

// Config aggregates per backend configuration
type Config struct {
	AppName string

	SQLite SQLiteConfig
}

// SQLiteConfig configures the embedded sqlite database
type SQLiteConfig struct {
	Enabled bool
	// Path is a file path or ":memory:"
	Path        string
	LogSQL      bool
	SlowQueryMs int

	// BusyTimeoutMs lets concurrent writers wait on the file lock; default 5000
	BusyTimeoutMs int
}
