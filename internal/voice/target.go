package voice

import (
	"fmt"
	"strings"

	"github.com/dvloznov/s1a-ledger/internal/domain"
)

type targetKind int

const (
	kindInfo targetKind = iota + 1
	kindRow
	kindSmartAdd
)

const (
	infoPrefix = "info:"
	rowPrefix  = "transaction:"
	smartKey   = "smart-add"
)

// Target is where a dictation result goes: a header field, the description of one
// row, or a brand new row built by SmartAdd. The zero value is not a valid target.
type Target struct {
	kind  targetKind
	field domain.InfoField
	id    string
}

// SmartAdd creates a whole transaction from one utterance.
var SmartAdd = Target{kind: kindSmartAdd}

// InfoTarget addresses one header field.
func InfoTarget(field domain.InfoField) Target {
	return Target{kind: kindInfo, field: field}
}

// RowTarget addresses the description of transaction id.
func RowTarget(id string) Target {
	return Target{kind: kindRow, id: id}
}

// ParseTarget reads a key produced by Target.Key.
func ParseTarget(key string) (Target, error) {
	key = strings.TrimSpace(key)
	switch {
	case key == smartKey:
		return SmartAdd, nil
	case strings.HasPrefix(key, infoPrefix):
		f, err := domain.ParseInfoField(strings.TrimPrefix(key, infoPrefix))
		if err != nil {
			return Target{}, fmt.Errorf("parse target %q: %w", key, err)
		}
		return InfoTarget(f), nil
	case strings.HasPrefix(key, rowPrefix):
		id := strings.TrimPrefix(key, rowPrefix)
		if id == "" {
			return Target{}, fmt.Errorf("parse target %q: empty transaction id", key)
		}
		return RowTarget(id), nil
	}
	return Target{}, fmt.Errorf("parse target %q: unknown target", key)
}

// Key renders the target as info:<field>, transaction:<id> or smart-add.
func (t Target) Key() string {
	switch t.kind {
	case kindInfo:
		return infoPrefix + string(t.field)
	case kindRow:
		return rowPrefix + t.id
	case kindSmartAdd:
		return smartKey
	}
	return ""
}

func (t Target) String() string { return t.Key() }

// Field returns the header field of an info target.
func (t Target) Field() (domain.InfoField, bool) {
	return t.field, t.kind == kindInfo
}

// TransactionID returns the row of a row target.
func (t Target) TransactionID() (string, bool) {
	return t.id, t.kind == kindRow
}

// IsSmartAdd reports whether t is the SmartAdd target.
func (t Target) IsSmartAdd() bool { return t.kind == kindSmartAdd }

func (t Target) valid() bool {
	switch t.kind {
	case kindInfo:
		_, err := domain.ParseInfoField(string(t.field))
		return err == nil
	case kindRow:
		return t.id != ""
	case kindSmartAdd:
		return true
	}
	return false
}

// Phase is the state of one target.
type Phase string

const (
	PhaseIdle         Phase = "idle"
	PhaseCapturing    Phase = "capturing"
	PhaseTranscribing Phase = "transcribing"
	PhaseExtracting   Phase = "extracting"
)

// workPhase is the phase a target enters once its clip is handed to the model.
func (t Target) workPhase() Phase {
	if t.kind == kindSmartAdd {
		return PhaseExtracting
	}
	return PhaseTranscribing
}
