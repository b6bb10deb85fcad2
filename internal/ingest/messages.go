package ingest

// messages.go maps import errors to user-facing messages with support codes.
//
// # Error Codes Reference
//
// Reference errors (REF001-REF099):
//
//	REF001 - User not found: the username in the "user" column does not exist
//	REF002 - Product not found: a listed product name does not exist
//	REF003 - Ambiguous product: a listed product name matches several products
//	REF004 - Record not found: a requested user or record does not exist
//
// Validation errors (VAL001-VAL099):
//
//	VAL001 - Invalid date
//	VAL002 - Invalid number
//	VAL004 - Missing column
//	VAL005 - Unknown column
//	VAL006 - Unsupported ordering field
//	VAL007 - Column count mismatch
//	VAL008 - Value too long
//	VAL009 - Invalid request parameter
//	VAL000 - Any other malformed input
//
// File errors (FILE001-FILE099):
//
//	FILE001 - File too large
//	FILE002 - Invalid CSV
//	FILE003 - Unsupported encoding
//	FILE004 - No file provided
//	FILE005 - Empty file
//
// Upload errors (UPL001-UPL099):
//
//	UPL002 - Too many concurrent uploads
//	UPL004 - Request cancelled
//	UPL005 - Request timeout
//
// Database errors (DB001-DB099) are matched on the PostgreSQL SQLSTATE when
// the driver reports one, otherwise on message patterns.
//
//	ERR000 - Anything else; check the server log for the request id.
//
// Sentinel errors are matched first with errors.Is, most specific first.
// Everything else falls through to case-insensitive substring patterns where
// the first match wins.

import (
	"context"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
)

// UserMessage provides user-friendly error information with actionable guidance.
type UserMessage struct {
	Message string // What happened (user-friendly)
	Action  string // What to do about it
	Code    string // Error code for support reference
}

type sentinelMessage struct {
	err error
	msg UserMessage
}

// sentinelMessages is checked in order with errors.Is.
var sentinelMessages = []sentinelMessage{
	{ErrUserNotFound, UserMessage{
		Message: "The user in this row does not exist",
		Action:  "Create the user first or correct the username",
		Code:    "REF001",
	}},
	{ErrProductNotFound, UserMessage{
		Message: "A product listed in this row does not exist",
		Action:  "Import the products first or correct the product name",
		Code:    "REF002",
	}},
	{ErrAmbiguousProduct, UserMessage{
		Message: "A product name in this row matches more than one product",
		Action:  "Remove the duplicate products or rename them so names are unique",
		Code:    "REF003",
	}},
	{ErrSizeLimitExceeded, UserMessage{
		Message: "File exceeds maximum size limit",
		Action:  "Split the file into smaller chunks",
		Code:    "FILE001",
	}},
	{ErrUnsupportedEncoding, UserMessage{
		Message: "The declared text encoding is not supported",
		Action:  "Save the file as UTF-8 or declare a standard encoding such as windows-1252",
		Code:    "FILE003",
	}},
	{ErrTooManyUploads, UserMessage{
		Message: "Too many uploads in progress",
		Action:  "Please wait a moment and try again",
		Code:    "UPL002",
	}},
	{context.Canceled, UserMessage{
		Message: "Request was cancelled",
		Action:  "Please try again",
		Code:    "UPL004",
	}},
	{context.DeadlineExceeded, UserMessage{
		Message: "Request timed out",
		Action:  "Try uploading a smaller file or check your connection",
		Code:    "UPL005",
	}},
}

type errorPattern struct {
	pattern string
	msg     UserMessage
}

// errorPatterns maps technical error text (case-insensitive) to user messages.
// Order matters: more specific patterns come first.
var errorPatterns = []errorPattern{
	{"invalid ordering field", UserMessage{
		Message: "The list cannot be ordered by this field",
		Action:  "Use one of the fields named in the error",
		Code:    "VAL006",
	}},
	{"invalid parameter", UserMessage{
		Message: "A request parameter is not valid",
		Action:  "Check the ids and filters in the request",
		Code:    "VAL009",
	}},
	{"invalid date", UserMessage{
		Message: "Invalid date format detected",
		Action:  "Use YYYY-MM-DD or YYYY-MM-DD HH:MM:SS",
		Code:    "VAL001",
	}},
	{"invalid number", UserMessage{
		Message: "Invalid number format detected",
		Action:  "Remove currency symbols and use standard decimal format",
		Code:    "VAL002",
	}},
	{"out of range", UserMessage{
		Message: "A number is outside the allowed range",
		Action:  "Prices must be below 1000000 with at most two decimals",
		Code:    "VAL002",
	}},
	{"missing required column", UserMessage{
		Message: "Required column is missing from CSV",
		Action:  "Check that all required columns are present in your file",
		Code:    "VAL004",
	}},
	{"unknown", UserMessage{
		Message: "The CSV header contains a column that is not a known field",
		Action:  "Verify column headers match the expected field names exactly",
		Code:    "VAL005",
	}},
	{"duplicate column", UserMessage{
		Message: "The CSV header names the same column twice",
		Action:  "Remove the repeated column",
		Code:    "VAL005",
	}},
	{"record not found", UserMessage{
		Message: "The requested record does not exist",
		Action:  "Check the identifier",
		Code:    "REF004",
	}},
	{"columns, got", UserMessage{
		Message: "A row has a different number of columns than the header",
		Action:  "Ensure every row has one value per header column",
		Code:    "VAL007",
	}},
	{"longer than", UserMessage{
		Message: "A value is longer than the field allows",
		Action:  "Shorten the value",
		Code:    "VAL008",
	}},
	{"invalid csv", UserMessage{
		Message: "File is not a valid CSV",
		Action:  "Ensure file is comma-separated with consistent quoting",
		Code:    "FILE002",
	}},
	{"no file provided", UserMessage{
		Message: "No file was selected",
		Action:  "Please select a CSV file to upload",
		Code:    "FILE004",
	}},
	{"empty file", UserMessage{
		Message: "The uploaded file is empty",
		Action:  "Please upload a CSV file with a header row",
		Code:    "FILE005",
	}},
	{"malformed input", UserMessage{
		Message: "A row could not be read",
		Action:  "Check the reported line and column",
		Code:    "VAL000",
	}},
	{"duplicate key", UserMessage{
		Message: "A record with this ID already exists",
		Action:  "Review the file for duplicates",
		Code:    "DB001",
	}},
	{"foreign key", UserMessage{
		Message: "Referenced record does not exist",
		Action:  "Ensure parent records are imported first",
		Code:    "DB003",
	}},
	{"connection refused", UserMessage{
		Message: "Unable to connect to database",
		Action:  "Please try again in a few moments",
		Code:    "DB004",
	}},
	{"connection reset", UserMessage{
		Message: "Database connection was interrupted",
		Action:  "Please try again",
		Code:    "DB005",
	}},
	{"timeout", UserMessage{
		Message: "Operation timed out",
		Action:  "Try uploading a smaller file or try again later",
		Code:    "DB006",
	}},
	{"deadlock", UserMessage{
		Message: "Database was busy with conflicting operations",
		Action:  "Please try again",
		Code:    "DB007",
	}},
}

// sqlStateCodes maps PostgreSQL error codes to support codes.
var sqlStateCodes = map[string]string{
	"23505": "DB001",  // unique_violation
	"23503": "DB003",  // foreign_key_violation
	"57014": "DB006",  // query_canceled
	"40P01": "DB007",  // deadlock_detected
	"22003": "VAL002", // numeric_value_out_of_range
	"22001": "VAL008", // string_data_right_truncation
}

var defaultMessage = UserMessage{
	Message: "An unexpected error occurred",
	Action:  "Please try again or contact support",
	Code:    "ERR000",
}

// MapError converts an error into a user-friendly message with a code.
// A nil error maps to the zero UserMessage.
func MapError(err error) UserMessage {
	if err == nil {
		return UserMessage{}
	}

	for _, s := range sentinelMessages {
		if errors.Is(err, s.err) {
			return s.msg
		}
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if msg, ok := messageForCode(sqlStateCodes[pgErr.Code]); ok {
			return msg
		}
	}

	lower := strings.ToLower(err.Error())
	for _, p := range errorPatterns {
		if strings.Contains(lower, p.pattern) {
			return p.msg
		}
	}

	return defaultMessage
}

func messageForCode(code string) (UserMessage, bool) {
	for _, p := range errorPatterns {
		if p.msg.Code == code {
			return p.msg, true
		}
	}
	return UserMessage{}, false
}

// IsClientError reports whether err was caused by the submitted file rather
// than by the server or its store.
func IsClientError(err error) bool {
	return errors.Is(err, ErrReferenceNotFound) ||
		errors.Is(err, ErrMalformedInput) ||
		errors.Is(err, ErrSizeLimitExceeded) ||
		errors.Is(err, ErrUnsupportedEncoding)
}
