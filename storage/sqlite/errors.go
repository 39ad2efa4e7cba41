package sqlite

import (
	"errors"
	"fmt"
	"strings"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/VitorFirmino/cachelab/checkout"
	"github.com/VitorFirmino/cachelab/profile"
)

// isContention reports SQLITE_BUSY and SQLITE_LOCKED, including their
// extended variants.
func isContention(err error) bool {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return false
	}
	switch se.Code() & 0xff {
	case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
		return true
	}
	return false
}

func isMissingTable(err error) bool {
	return err != nil && strings.Contains(strings.ToLower(err.Error()), "no such table")
}

// ledgerErr tags lock failures so checkout can retry them.
func ledgerErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if isContention(err) {
		return fmt.Errorf("%s: %w: %w", op, checkout.ErrContention, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// profileErr maps schema and lock failures to profile.ErrStorageUnavailable.
func profileErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if isMissingTable(err) || isContention(err) {
		return fmt.Errorf("%s: %w: %w", op, profile.ErrStorageUnavailable, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}
