package fieldsync

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Kind names a write intent. It is the discriminator persisted next to the
// payload in the queue snapshot.
type Kind string

const (
	KindCreateEntity  Kind = "CreateEntity"
	KindUpdateEntity  Kind = "UpdateEntity"
	KindDeleteEntity  Kind = "DeleteEntity"
	KindUpdateProfile Kind = "UpdateProfile"
)

// Op is a write intent. The set of implementations is closed: CreateEntity,
// UpdateEntity, DeleteEntity, UpdateProfile, and UnknownOp for persisted entries
// written by a newer build.
type Op interface {
	Kind() Kind
	validate() error
}

// CreateEntity creates a document (a report, a post, a comment) in Collection.
// ID is optional; when empty the backend assigns one.
type CreateEntity struct {
	Collection string         `json:"collection"`
	ID         string         `json:"id,omitempty"`
	Fields     map[string]any `json:"fields"`
}

// UpdateEntity merges Fields into an existing document.
type UpdateEntity struct {
	Collection string         `json:"collection"`
	ID         string         `json:"id"`
	Fields     map[string]any `json:"fields"`
}

// DeleteEntity removes a document.
type DeleteEntity struct {
	Collection string `json:"collection"`
	ID         string `json:"id"`
}

// UpdateProfile merges Updates into a user's profile document.
type UpdateProfile struct {
	UserID  string         `json:"userId"`
	Updates map[string]any `json:"updates"`
}

// UnknownOp carries a persisted operation whose kind this build does not know.
// It is kept (never dropped on load) and handed to the Backend verbatim.
type UnknownOp struct {
	K   Kind
	Raw json.RawMessage
}

func (CreateEntity) Kind() Kind  { return KindCreateEntity }
func (UpdateEntity) Kind() Kind  { return KindUpdateEntity }
func (DeleteEntity) Kind() Kind  { return KindDeleteEntity }
func (UpdateProfile) Kind() Kind { return KindUpdateProfile }
func (u UnknownOp) Kind() Kind   { return u.K }

var errMissing = errors.New("required field is empty")

func (o CreateEntity) validate() error {
	if o.Collection == "" {
		return fmt.Errorf("collection: %w", errMissing)
	}
	return nil
}

func (o UpdateEntity) validate() error {
	if o.Collection == "" {
		return fmt.Errorf("collection: %w", errMissing)
	}
	if o.ID == "" {
		return fmt.Errorf("id: %w", errMissing)
	}
	if len(o.Fields) == 0 {
		return fmt.Errorf("fields: %w", errMissing)
	}
	return nil
}

func (o DeleteEntity) validate() error {
	if o.Collection == "" {
		return fmt.Errorf("collection: %w", errMissing)
	}
	if o.ID == "" {
		return fmt.Errorf("id: %w", errMissing)
	}
	return nil
}

func (o UpdateProfile) validate() error {
	if o.UserID == "" {
		return fmt.Errorf("userId: %w", errMissing)
	}
	if len(o.Updates) == 0 {
		return fmt.Errorf("updates: %w", errMissing)
	}
	return nil
}

func (o UnknownOp) validate() error {
	if o.K == "" {
		return fmt.Errorf("kind: %w", errMissing)
	}
	return nil
}

// Validate checks op before it is queued. Failures are KindInvalidArgument.
func Validate(op Op) error {
	if op == nil {
		return NewBackendError(KindInvalidArgument, errors.New("nil operation"))
	}
	if err := op.validate(); err != nil {
		return NewBackendError(KindInvalidArgument, fmt.Errorf("%s: %w", op.Kind(), err))
	}
	return nil
}

// Operation is a queued write intent.
type Operation struct {
	ID         string
	Op         Op
	EnqueuedAt time.Time
	RetryCount int
	LastError  string
}

func (o Operation) Kind() Kind {
	if o.Op == nil {
		return ""
	}
	return o.Op.Kind()
}

// storedOperation is the persisted shape: kind plus raw JSON payload.
type storedOperation struct {
	ID         string          `json:"id"`
	Kind       Kind            `json:"kind"`
	Payload    json.RawMessage `json:"payload"`
	EnqueuedAt time.Time       `json:"enqueuedAt"`
	RetryCount int             `json:"retryCount"`
	LastError  string          `json:"lastError,omitempty"`
}

// Payload returns the JSON payload as persisted and as a Backend should send
// it. UnknownOp payloads come back byte for byte.
func (o Operation) Payload() (json.RawMessage, error) {
	if u, ok := o.Op.(UnknownOp); ok {
		return u.Raw, nil
	}
	b, err := json.Marshal(o.Op)
	if err != nil {
		return nil, fmt.Errorf("encode %s %s: %w", o.Kind(), o.ID, err)
	}
	return b, nil
}

func encodeOperation(o Operation) (storedOperation, error) {
	raw, err := o.Payload()
	if err != nil {
		return storedOperation{}, err
	}
	return storedOperation{
		ID:         o.ID,
		Kind:       o.Kind(),
		Payload:    raw,
		EnqueuedAt: o.EnqueuedAt,
		RetryCount: o.RetryCount,
		LastError:  o.LastError,
	}, nil
}

func decodeOperation(s storedOperation) Operation {
	return Operation{
		ID:         s.ID,
		Op:         DecodeOp(s.Kind, s.Payload),
		EnqueuedAt: s.EnqueuedAt,
		RetryCount: s.RetryCount,
		LastError:  s.LastError,
	}
}

// DecodeOp turns a persisted (kind, payload) pair into its typed Op. Unknown
// kinds and payloads that no longer decode become UnknownOp so nothing is lost.
func DecodeOp(kind Kind, raw json.RawMessage) Op {
	var (
		op  Op
		err error
	)
	switch kind {
	case KindCreateEntity:
		var v CreateEntity
		err = json.Unmarshal(raw, &v)
		op = v
	case KindUpdateEntity:
		var v UpdateEntity
		err = json.Unmarshal(raw, &v)
		op = v
	case KindDeleteEntity:
		var v DeleteEntity
		err = json.Unmarshal(raw, &v)
		op = v
	case KindUpdateProfile:
		var v UpdateProfile
		err = json.Unmarshal(raw, &v)
		op = v
	default:
		err = errors.New("unknown kind")
	}
	if err != nil {
		return UnknownOp{K: kind, Raw: append(json.RawMessage(nil), raw...)}
	}
	return op
}
