package contracts

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors
var (
	ErrNotFound          = errors.New("not found")
	ErrInvalidTransition = errors.New("invalid task status transition")
	ErrEmptyInput        = errors.New("input contains no records")
)

// LineError is a recoverable per-line parse failure
type LineError interface {
	error
	LineNumber() int
}

// FormatError: wrong field count or unusable layout
type FormatError struct {
	Line     int
	Expected int
	Got      int
	Reason   string
}

func (e *FormatError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("line %d: format: %s", e.Line, e.Reason)
	}
	return fmt.Sprintf("line %d: format: expected %d fields, got %d", e.Line, e.Expected, e.Got)
}

func (e *FormatError) LineNumber() int { return e.Line }

// DateParseError: the trading date is not a valid YYYY-MM-DD
type DateParseError struct {
	Line  int
	Value string
	Err   error
}

func (e *DateParseError) Error() string {
	return fmt.Sprintf("line %d: invalid date %q", e.Line, e.Value)
}

func (e *DateParseError) Unwrap() error   { return e.Err }
func (e *DateParseError) LineNumber() int { return e.Line }

// NumericParseError: the metric is not a finite number.
// Date is set when the line's date parsed, so the error counts against that group.
type NumericParseError struct {
	Line  int
	Value string
	Date  time.Time
	Err   error
}

func (e *NumericParseError) Error() string {
	return fmt.Sprintf("line %d: invalid metric %q", e.Line, e.Value)
}

func (e *NumericParseError) Unwrap() error   { return e.Err }
func (e *NumericParseError) LineNumber() int { return e.Line }

// EncodingError: bytes not decodable as UTF-8 or GB18030
type EncodingError struct {
	Line   int
	Reason string
}

func (e *EncodingError) Error() string {
	return fmt.Sprintf("line %d: encoding: %s", e.Line, e.Reason)
}

func (e *EncodingError) LineNumber() int { return e.Line }

// WriteConflictError: another import or recompute holds the date lock
type WriteConflictError struct {
	ImportType ImportType
	Date       time.Time
}

func (e *WriteConflictError) Error() string {
	return fmt.Sprintf("write conflict: %s %s is locked by another import", e.ImportType, e.Date.Format(DateLayout))
}

// TransactionError: the date group transaction failed and was rolled back
type TransactionError struct {
	Date time.Time
	Op   string
	Err  error
}

func (e *TransactionError) Error() string {
	return fmt.Sprintf("transaction %s for %s: %v", e.Op, e.Date.Format(DateLayout), e.Err)
}

func (e *TransactionError) Unwrap() error { return e.Err }

// AggregationError: ranking or new high computation failed; raw rows are kept
// and derived data for the date is marked stale.
type AggregationError struct {
	ImportType ImportType
	Date       time.Time
	Stage      Stage
	Err        error
}

func (e *AggregationError) Error() string {
	return fmt.Sprintf("%s %s %s: %v", e.Stage.ShortName(), e.ImportType, e.Date.Format(DateLayout), e.Err)
}

func (e *AggregationError) Unwrap() error { return e.Err }

// ErrorDate returns the trading date a line error can be attributed to
func ErrorDate(err error) (time.Time, bool) {
	var numErr *NumericParseError
	if errors.As(err, &numErr) && !numErr.Date.IsZero() {
		return numErr.Date, true
	}
	return time.Time{}, false
}
