package sqlite

import "github.com/felixgeelhaar/drillgrade/internal/regress"

// Ensure SQLite stores implement the storage interfaces.
var _ regress.Store = (*ReportStore)(nil)
