package cloudfleet

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/cespare/xxhash/v2"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Record-level error codes persisted with each SyncError row.
const (
	CodeInvalidPayload   = "invalid_payload"
	CodeValidationFailed = "validation_failed"
	CodeDetailFailed     = "detail_failed"
	CodeReconcileFailed  = "reconcile_failed"
)

// placeholderText is stored for absent optional text so text columns never hold NULL.
const placeholderText = " "

// RecordError is a failure confined to one upstream record. It never aborts a domain.
type RecordError struct {
	Code      string
	Key       string
	Err       error
	Retryable bool
}

func (e *RecordError) Error() string {
	return fmt.Sprintf("%s (%s): %v", e.Key, e.Code, e.Err)
}

func (e *RecordError) Unwrap() error { return e.Err }

func recordError(code string, key int, err error) *RecordError {
	return &RecordError{Code: code, Key: fmt.Sprint(key), Err: err, Retryable: code == CodeReconcileFailed}
}

// Reconciler decides insert-or-update for one upstream record and writes it.
// Statements commit independently; natural-key unique indexes plus upserts keep
// concurrent writers from producing duplicates.
type Reconciler struct {
	db                      *gorm.DB
	validate                *validator.Validate
	countUnchangedAsUpdated bool
}

func NewReconciler(db *gorm.DB, countUnchangedAsUpdated bool) *Reconciler {
	return &Reconciler{
		db:                      db,
		validate:                validator.New(),
		countUnchangedAsUpdated: countUnchangedAsUpdated,
	}
}

// decodeRecord unmarshals and validates raw into dest. key is reported on failure.
func (r *Reconciler) decodeRecord(raw []byte, dest interface{}, key int) error {
	if err := json.Unmarshal(raw, dest); err != nil {
		return recordError(CodeInvalidPayload, key, err)
	}
	if err := r.validate.Struct(dest); err != nil {
		var validationErrors validator.ValidationErrors
		if errors.As(err, &validationErrors) {
			return recordError(CodeValidationFailed, key, fmt.Errorf("invalid fields: %v", validationErrors))
		}
		return recordError(CodeValidationFailed, key, err)
	}
	return nil
}

// existingOutcome is how a re-seen record is counted given its stored and incoming hashes.
func (r *Reconciler) existingOutcome(storedHash, incomingHash string) Outcome {
	if !r.countUnchangedAsUpdated && storedHash != "" && storedHash == incomingHash {
		return OutcomeUnchanged
	}
	return OutcomeUpdated
}

// planChildren splits incoming children into inserts and updates by whether their key is
// already stored. Children absent from incoming are never touched.
func planChildren[K comparable, C any](existing map[K]bool, incoming []C, key func(C) K) (inserts []C, updates []C) {
	for _, child := range incoming {
		if existing[key(child)] {
			updates = append(updates, child)
		} else {
			inserts = append(inserts, child)
		}
	}
	return inserts, updates
}

func contentHash(v interface{}) string {
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return fmt.Sprintf("%016x", xxhash.Sum64(b))
}

func text(s string) string {
	if s == "" {
		return placeholderText
	}
	return s
}

func refName(ref *namedRef) string {
	if ref == nil {
		return placeholderText
	}
	return text(ref.Name)
}

func vendorName(v *vendorRef) string {
	if v == nil {
		return placeholderText
	}
	return text(v.Name)
}

func vendorIdentification(v *vendorRef) string {
	if v == nil {
		return placeholderText
	}
	return text(v.Identification)
}

func wholeNumber(d decimal.Decimal) int {
	return int(d.Round(0).IntPart())
}

// peekNumber extracts the natural key of a raw record, or 0 when it has none.
func peekNumber(raw []byte) int {
	var probe workOrderSummary
	if err := json.Unmarshal(raw, &probe); err != nil {
		return 0
	}
	return probe.Number
}
