package datastore

import (
	"fmt"

	"gorm.io/gorm"

	"github.com/tphakala/idconsensus/internal/errors"
)

// dbError creates a properly categorized database error with context
func dbError(err error, operation, priority string, context ...any) error {
	builder := errors.New(err).
		Component("datastore").
		Category(errors.CategoryDatabase).
		Context("operation", operation)

	if priority != "" {
		builder = builder.Priority(priority)
	}

	// Add context pairs
	for i := 0; i < len(context)-1; i += 2 {
		if key, ok := context[i].(string); ok {
			builder = builder.Context(key, context[i+1])
		}
	}

	return builder.Build()
}

// validationError creates a validation error (not sent to telemetry)
func validationError(message, field string, value any) error {
	return errors.Newf("%s", message).
		Component("datastore").
		Category(errors.CategoryValidation).
		Context("field", field).
		Context("value", fmt.Sprintf("%v", value)).
		Build()
}

// notFoundError reports a missing row of the named entity.
func notFoundError(entity string, id any) error {
	return errors.NotFound("%s %v not found", entity, id).
		Component("datastore").
		Context("entity", entity).
		Context("id", id).
		Build()
}

// lookupError maps gorm.ErrRecordNotFound to a not-found error and anything
// else to a database error.
func lookupError(err error, entity string, id any) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return notFoundError(entity, id)
	}
	return dbError(err, "get_"+entity, "", "id", id)
}

// insertOnce creates row and reports false instead of failing when a unique
// key already holds it.
func insertOnce(db *gorm.DB, row any, operation string) (bool, error) {
	err := db.Create(row).Error
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return false, nil
	default:
		return false, dbError(err, operation, "")
	}
}
