package datastore

import "gorm.io/gorm/clause"

// lockingClause is SELECT ... FOR UPDATE. SQLite serializes writers on its
// own and does not accept the clause.
func lockingClause() clause.Expression {
	return clause.Locking{Strength: clause.LockingStrengthUpdate}
}
