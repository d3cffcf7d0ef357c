package mutation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewValidatesPayload(t *testing.T) {
	_, err := New("WO-1", WorkOrderStatusPayload{})
	assert.Error(t, err, "empty status code must be rejected")

	_, err = New("", WorkOrderStatusPayload{StatusCode: "O"})
	assert.Error(t, err, "empty target id must be rejected")

	m, err := New("WO-1", WorkOrderStatusPayload{StatusCode: "O"})
	require.NoError(t, err)
	assert.Equal(t, KindWorkOrderStatus, m.Kind)
	assert.Equal(t, "WO-1", m.TargetID)
	assert.NotEmpty(t, m.ID)
	assert.False(t, m.CreatedAt.IsZero())
	assert.Zero(t, m.AttemptCount)
}

func TestULIDsSortByCreation(t *testing.T) {
	first, err := New("WO-1", WorkOrderStatusPayload{StatusCode: "O"})
	require.NoError(t, err)
	second, err := New("WO-2", WorkOrderStatusPayload{StatusCode: "C"})
	require.NoError(t, err)

	assert.Less(t, first.ID, second.ID)
}

func TestPayloadRoundTrip(t *testing.T) {
	m, err := New("S-1", SurveyPayload{
		Answers:  map[string]string{"q1": "yes"},
		ImageIDs: []string{"offline-abc"},
	})
	require.NoError(t, err)

	decoded, err := m.DecodePayload()
	require.NoError(t, err)

	survey, ok := decoded.(SurveyPayload)
	require.True(t, ok)
	assert.Equal(t, "yes", survey.Answers["q1"])
	assert.Equal(t, []string{"offline-abc"}, survey.ImageIDs)
}

func TestMaterialEquipmentValidation(t *testing.T) {
	assert.Error(t, MaterialEquipmentPayload{}.Validate())
	assert.Error(t, MaterialEquipmentPayload{Items: []ChecklistItem{{Quantity: 1}}}.Validate())
	assert.NoError(t, MaterialEquipmentPayload{Items: []ChecklistItem{{ItemCode: "MAT-9", Quantity: 1}}}.Validate())
}

func TestSurveyValidation(t *testing.T) {
	assert.Error(t, SurveyPayload{}.Validate())
	assert.NoError(t, SurveyPayload{Answers: map[string]string{"q1": "no"}}.Validate())
}

func TestDecodePayloadUnknownKind(t *testing.T) {
	_, err := DecodePayload(Kind("bogus"), []byte(`{}`))
	assert.Error(t, err)
}

func TestKindValid(t *testing.T) {
	for _, k := range Kinds {
		assert.True(t, k.Valid())
	}
	assert.False(t, Kind("bogus").Valid())
}
