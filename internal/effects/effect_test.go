package effects

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/idconsensus/internal/datastore/entities"
	"github.com/tphakala/idconsensus/internal/errors"
)

func TestEncodeDecode(t *testing.T) {
	t.Parallel()

	pointer := uint(77)
	all := []Effect{
		CounterDelta{UserID: 1, ObservationID: 10, IdentificationID: 5, Delta: -1},
		ListRefresh{UserID: 1, ObservationID: 10, RefreshKind: RefreshQualityGrade, TaxonID: 3},
		EnsureObservationReview{ObservationID: 10, UserID: 2},
		RemoveObservationReview{ObservationID: 10, UserID: 2},
		TouchObservationReview{ObservationID: 10, UserID: 2, IdentificationID: 6},
		ObscureCoordinates{ObservationID: 10, TaxonID: 9},
		NotifyMention{ObservationID: 10, IdentificationID: 5, UserID: 3},
		CuratorPointerChanged{ObservationID: 10, ProjectID: 4, IdentificationID: &pointer},
		CuratorPointerChanged{ObservationID: 10, ProjectID: 4},
	}

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	records, err := Encode(now, all...)
	require.NoError(t, err)
	require.Len(t, records, len(all))

	seen := map[string]bool{}
	for i, rec := range records {
		assert.Equal(t, entities.OutboxPending, rec.Status)
		assert.Equal(t, now, rec.NextAttemptAt)
		assert.Equal(t, uint(10), rec.ObservationID)
		assert.Equal(t, all[i].Key(), rec.EffectKey)
		assert.False(t, seen[rec.MessageID], "message ids must be unique")
		seen[rec.MessageID] = true

		env := EnvelopeFromRecord(&rec)
		assert.Equal(t, 1, env.Attempt)
		decoded, err := env.Effect()
		require.NoError(t, err)
		assert.Equal(t, all[i], decoded)
	}
}

func TestKeysAreDeterministic(t *testing.T) {
	t.Parallel()

	a := []Effect{
		CounterDelta{UserID: 1, ObservationID: 10, IdentificationID: 5, Delta: 1},
		ListRefresh{UserID: 1, ObservationID: 10, RefreshKind: RefreshOwnerIdentification},
	}
	b := []Effect{
		CounterDelta{UserID: 1, ObservationID: 10, IdentificationID: 5, Delta: 1},
		ListRefresh{UserID: 1, ObservationID: 10, RefreshKind: RefreshOwnerIdentification},
	}
	assert.Equal(t, Keys(a), Keys(b))

	first, err := Encode(time.Now(), a...)
	require.NoError(t, err)
	second, err := Encode(time.Now(), b...)
	require.NoError(t, err)
	assert.Equal(t, first[0].EffectKey, second[0].EffectKey)
	assert.NotEqual(t, first[0].MessageID, second[0].MessageID)

	assert.NotEqual(t,
		CounterDelta{ObservationID: 10, IdentificationID: 5, Delta: 1}.Key(),
		CounterDelta{ObservationID: 10, IdentificationID: 5, Delta: -1}.Key())

	id := uint(3)
	assert.NotEqual(t,
		CuratorPointerChanged{ObservationID: 1, ProjectID: 2}.Key(),
		CuratorPointerChanged{ObservationID: 1, ProjectID: 2, IdentificationID: &id}.Key())
}

func TestDecodeRejectsBadInput(t *testing.T) {
	t.Parallel()

	_, err := Decode("teleport", []byte(`{}`))
	require.Error(t, err)
	assert.True(t, errors.IsValidation(err))

	_, err = Decode(KindCounterDelta, []byte(`{"delta":`))
	require.Error(t, err)
}
