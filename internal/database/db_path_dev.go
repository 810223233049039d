//go:build !prod

package database

// GetDefaultDBPath returns the database path for development mode.
// The database lives in the working directory so it is easy to inspect.
func GetDefaultDBPath() string {
	return "rustsentry.db"
}

func IsDevelopment() bool {
	return true
}
