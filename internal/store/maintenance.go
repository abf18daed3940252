package store

import "fmt"

// Analyze runs SQLite's query-planner statistics refresh.
func (q queries) Analyze() error {
	if _, err := q.ex.Exec(`ANALYZE`); err != nil {
		return fmt.Errorf("analyze: %w", err)
	}
	return nil
}

// Vacuum rebuilds the database file to reclaim space.
func (q queries) Vacuum() error {
	if _, err := q.ex.Exec(`VACUUM`); err != nil {
		return fmt.Errorf("vacuum: %w", err)
	}
	return nil
}
