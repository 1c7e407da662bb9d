// Package effects defines the side effects emitted by the consensus pipeline,
// stores them in a transactional outbox and delivers them to sinks at least once.
package effects

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/tphakala/idconsensus/internal/datastore/entities"
	"github.com/tphakala/idconsensus/internal/errors"
)

// Kind names an effect variant. It is stored in the outbox and used as the
// broker subject suffix.
type Kind string

const (
	KindCounterDelta            Kind = "counter_delta"
	KindListRefresh             Kind = "list_refresh"
	KindEnsureObservationReview Kind = "ensure_observation_review"
	KindRemoveObservationReview Kind = "remove_observation_review"
	KindTouchObservationReview  Kind = "touch_observation_review"
	KindObscureCoordinates      Kind = "obscure_coordinates"
	KindNotifyMention           Kind = "notify_mention"
	KindCuratorPointerChanged   Kind = "curator_pointer_changed"
)

// Effect is one follow-up action. Key is deterministic: the same input state
// always produces the same keys, so consumers can deduplicate.
type Effect interface {
	Kind() Kind
	Key() string
	Observation() uint
}

// ListRefreshKind says why a list refresh was requested.
type ListRefreshKind string

const (
	RefreshQualityGrade        ListRefreshKind = "quality_grade"
	RefreshOwnerIdentification ListRefreshKind = "owner_identification"
)

// CounterDelta adjusts a user's identification counter cache.
type CounterDelta struct {
	UserID           uint `json:"user_id"`
	ObservationID    uint `json:"observation_id"`
	IdentificationID uint `json:"identification_id"`
	Delta            int  `json:"delta"`
}

func (e CounterDelta) Kind() Kind        { return KindCounterDelta }
func (e CounterDelta) Observation() uint { return e.ObservationID }
func (e CounterDelta) Key() string {
	return fmt.Sprintf("%s:%d:%d:%+d", e.Kind(), e.ObservationID, e.IdentificationID, e.Delta)
}

// ListRefresh asks list workers to refresh a user's lists for an observation.
type ListRefresh struct {
	UserID        uint            `json:"user_id"`
	ObservationID uint            `json:"observation_id"`
	RefreshKind   ListRefreshKind `json:"kind"`
	TaxonID       uint            `json:"taxon_id,omitempty"`
}

func (e ListRefresh) Kind() Kind        { return KindListRefresh }
func (e ListRefresh) Observation() uint { return e.ObservationID }
func (e ListRefresh) Key() string {
	return fmt.Sprintf("%s:%d:%d:%s:%d", e.Kind(), e.ObservationID, e.UserID, e.RefreshKind, e.TaxonID)
}

// EnsureObservationReview marks the observation reviewed by the user.
type EnsureObservationReview struct {
	ObservationID uint `json:"observation_id"`
	UserID        uint `json:"user_id"`
}

func (e EnsureObservationReview) Kind() Kind        { return KindEnsureObservationReview }
func (e EnsureObservationReview) Observation() uint { return e.ObservationID }
func (e EnsureObservationReview) Key() string {
	return fmt.Sprintf("%s:%d:%d", e.Kind(), e.ObservationID, e.UserID)
}

// TouchObservationReview bumps the review of a user who identified the
// observation again. A missing review is not recreated.
type TouchObservationReview struct {
	ObservationID    uint `json:"observation_id"`
	UserID           uint `json:"user_id"`
	IdentificationID uint `json:"identification_id"`
}

func (e TouchObservationReview) Kind() Kind        { return KindTouchObservationReview }
func (e TouchObservationReview) Observation() uint { return e.ObservationID }
func (e TouchObservationReview) Key() string {
	return fmt.Sprintf("%s:%d:%d:%d", e.Kind(), e.ObservationID, e.UserID, e.IdentificationID)
}

// RemoveObservationReview drops an automatic review. User-added reviews stay.
type RemoveObservationReview struct {
	ObservationID uint `json:"observation_id"`
	UserID        uint `json:"user_id"`
}

func (e RemoveObservationReview) Kind() Kind        { return KindRemoveObservationReview }
func (e RemoveObservationReview) Observation() uint { return e.ObservationID }
func (e RemoveObservationReview) Key() string {
	return fmt.Sprintf("%s:%d:%d", e.Kind(), e.ObservationID, e.UserID)
}

// ObscureCoordinates hides the public position of an observation of a threatened taxon.
type ObscureCoordinates struct {
	ObservationID uint `json:"observation_id"`
	TaxonID       uint `json:"taxon_id"`
}

func (e ObscureCoordinates) Kind() Kind        { return KindObscureCoordinates }
func (e ObscureCoordinates) Observation() uint { return e.ObservationID }
func (e ObscureCoordinates) Key() string {
	return fmt.Sprintf("%s:%d:%d", e.Kind(), e.ObservationID, e.TaxonID)
}

// NotifyMention tells a user they were mentioned in an identification body.
type NotifyMention struct {
	ObservationID    uint `json:"observation_id"`
	IdentificationID uint `json:"identification_id"`
	UserID           uint `json:"user_id"`
}

func (e NotifyMention) Kind() Kind        { return KindNotifyMention }
func (e NotifyMention) Observation() uint { return e.ObservationID }
func (e NotifyMention) Key() string {
	return fmt.Sprintf("%s:%d:%d", e.Kind(), e.IdentificationID, e.UserID)
}

// CuratorPointerChanged reports a new curator pointer. A nil
// IdentificationID means the pointer was cleared.
type CuratorPointerChanged struct {
	ObservationID    uint  `json:"observation_id"`
	ProjectID        uint  `json:"project_id"`
	IdentificationID *uint `json:"identification_id"`
}

func (e CuratorPointerChanged) Kind() Kind        { return KindCuratorPointerChanged }
func (e CuratorPointerChanged) Observation() uint { return e.ObservationID }
func (e CuratorPointerChanged) Key() string {
	id := "none"
	if e.IdentificationID != nil {
		id = fmt.Sprint(*e.IdentificationID)
	}
	return fmt.Sprintf("%s:%d:%d:%s", e.Kind(), e.ObservationID, e.ProjectID, id)
}

// Envelope is an effect as it travels through the outbox and to sinks.
type Envelope struct {
	MessageID     string          `json:"message_id"`
	Kind          Kind            `json:"kind"`
	Key           string          `json:"key"`
	ObservationID uint            `json:"observation_id"`
	Payload       json.RawMessage `json:"payload"`
	CreatedAt     time.Time       `json:"created_at"`
	Attempt       int             `json:"attempt"`
}

// Effect decodes the payload back into its variant.
func (e *Envelope) Effect() (Effect, error) {
	return Decode(e.Kind, e.Payload)
}

// Encode turns effects into pending outbox rows due at now.
func Encode(now time.Time, effs ...Effect) ([]entities.OutboxRecord, error) {
	records := make([]entities.OutboxRecord, 0, len(effs))
	for _, eff := range effs {
		payload, err := json.Marshal(eff)
		if err != nil {
			return nil, errors.New(err).
				Component("effects").
				Category(errors.CategoryValidation).
				Context("kind", string(eff.Kind())).
				Build()
		}
		records = append(records, entities.OutboxRecord{
			MessageID:     uuid.NewString(),
			Kind:          string(eff.Kind()),
			EffectKey:     eff.Key(),
			ObservationID: eff.Observation(),
			Payload:       string(payload),
			Status:        entities.OutboxPending,
			NextAttemptAt: now,
		})
	}
	return records, nil
}

// EnvelopeFromRecord wraps an outbox row for delivery.
func EnvelopeFromRecord(rec *entities.OutboxRecord) Envelope {
	return Envelope{
		MessageID:     rec.MessageID,
		Kind:          Kind(rec.Kind),
		Key:           rec.EffectKey,
		ObservationID: rec.ObservationID,
		Payload:       json.RawMessage(rec.Payload),
		CreatedAt:     rec.CreatedAt,
		Attempt:       rec.Attempts + 1,
	}
}

// Decode parses a payload of the given kind.
func Decode(kind Kind, payload []byte) (Effect, error) {
	var (
		eff Effect
		err error
	)
	switch kind {
	case KindCounterDelta:
		eff, err = decodeAs[CounterDelta](payload)
	case KindListRefresh:
		eff, err = decodeAs[ListRefresh](payload)
	case KindEnsureObservationReview:
		eff, err = decodeAs[EnsureObservationReview](payload)
	case KindRemoveObservationReview:
		eff, err = decodeAs[RemoveObservationReview](payload)
	case KindTouchObservationReview:
		eff, err = decodeAs[TouchObservationReview](payload)
	case KindObscureCoordinates:
		eff, err = decodeAs[ObscureCoordinates](payload)
	case KindNotifyMention:
		eff, err = decodeAs[NotifyMention](payload)
	case KindCuratorPointerChanged:
		eff, err = decodeAs[CuratorPointerChanged](payload)
	default:
		return nil, errors.Newf("unknown effect kind %q", kind).
			Component("effects").
			Category(errors.CategoryValidation).
			Build()
	}
	if err != nil {
		return nil, errors.New(err).
			Component("effects").
			Category(errors.CategoryFileParsing).
			Context("kind", string(kind)).
			Build()
	}
	return eff, nil
}

func decodeAs[T Effect](payload []byte) (Effect, error) {
	var v T
	if err := json.Unmarshal(payload, &v); err != nil {
		return nil, err
	}
	return v, nil
}

// Keys returns the keys of effs, in order.
func Keys(effs []Effect) []string {
	keys := make([]string, len(effs))
	for i, e := range effs {
		keys[i] = e.Key()
	}
	return keys
}
