package repository

import (
	"errors"
	"sort"

	"gorm.io/gorm"
)

// Repository sentinel errors, compared with errors.Is
var (
	ErrNotFound          = errors.New("record not found")
	ErrDuplicateKey      = errors.New("duplicate key")
	ErrInsufficientStock = errors.New("insufficient stock")
)

// translate maps gorm errors onto the repository sentinels
func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return ErrNotFound
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return ErrDuplicateKey
	default:
		return err
	}
}

// sortedKeys returns the ids of quantities in ascending order so row locks are always taken in the same order
func sortedKeys(quantities map[string]int) []string {
	ids := make([]string, 0, len(quantities))
	for id := range quantities {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
