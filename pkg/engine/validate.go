package engine

import (
	"fmt"
	"unicode"
)

// Validator rejects structurally broken queries before they reach the
// database. It checks shape only; semantic failures (unknown collection,
// duplicate index) surface from execution.
type Validator struct{}

// Validate returns an [ErrInvalidQuery]-wrapped error describing the first
// structural problem found, or nil.
func (Validator) Validate(q any) error {
	query, err := asQuery(q)
	if err != nil {
		return err
	}

	if _, known := readOnlyOps[query.Op]; !known {
		return fmt.Errorf("unknown op %q: %w", query.Op, ErrInvalidQuery)
	}

	if query.Op != OpCollections {
		err = validateCollectionName(query.Collection)
		if err != nil {
			return err
		}
	}

	switch query.Op {
	case OpInsert:
		if len(query.Docs) == 0 {
			return fmt.Errorf("insert requires at least one document: %w", ErrInvalidQuery)
		}

		for idx, doc := range query.Docs {
			if len(doc) == 0 {
				return fmt.Errorf("insert document %d is empty: %w", idx, ErrInvalidQuery)
			}
		}
	case OpDelete, OpUpdate, OpFind, OpIndex:
		if query.Field == "" {
			return fmt.Errorf("%s requires a field: %w", query.Op, ErrInvalidQuery)
		}
	}

	if query.Op == OpUpdate && len(query.Set) == 0 {
		return fmt.Errorf("update requires a non-empty set document: %w", ErrInvalidQuery)
	}

	return nil
}

// validateCollectionName enforces the collection name shape: non-empty,
// printable, no spaces. Names appear in log payloads and in the query
// language, so control characters and whitespace would be unparseable or
// invisible.
func validateCollectionName(name string) error {
	if name == "" {
		return fmt.Errorf("collection name is empty: %w", ErrInvalidQuery)
	}

	for _, r := range name {
		if unicode.IsControl(r) || unicode.IsSpace(r) {
			return fmt.Errorf("collection name %q contains whitespace or control characters: %w", name, ErrInvalidQuery)
		}
	}

	return nil
}
