package model

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeLinear(t *testing.T) {
	original := &LinearModel{
		Weights: []float64{0.5, -0.25, 1.0},
		Bias:    -1.5,
	}
	features := []string{"day_of_week", "hour", "failure_rate"}

	data, err := Encode(original, features)
	require.NoError(t, err)

	decoded, artifact, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, TypeLinear, artifact.ModelType)
	assert.Equal(t, SchemaVersion, artifact.SchemaVersion)
	assert.Equal(t, features, artifact.Features)

	linear, ok := decoded.(*LinearModel)
	require.True(t, ok)
	assert.Equal(t, original.Weights, linear.Weights)
	assert.Equal(t, original.Bias, linear.Bias)
}

func TestEncodeDecodeConstant(t *testing.T) {
	data, err := Encode(&ConstantModel{Probability: 0.42}, nil)
	require.NoError(t, err)

	decoded, artifact, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, TypeConstant, artifact.ModelType)

	p, err := decoded.PredictProba(nil)
	require.NoError(t, err)
	assert.InDelta(t, 0.42, p, 1e-9)
}

func TestDecodeRejectsWeightSchemaMismatch(t *testing.T) {
	artifact := &Artifact{
		SchemaVersion: SchemaVersion,
		ModelType:     TypeLinear,
		Features:      []string{"day_of_week", "hour"},
		Params:        json.RawMessage(`{"weights":[0.1],"bias":0}`),
	}
	data, err := json.Marshal(artifact)
	require.NoError(t, err)

	_, _, err = Decode(data)
	assert.Error(t, err)
}

func TestDecodeRejectsUnknownType(t *testing.T) {
	data, err := json.Marshal(&Artifact{
		SchemaVersion: SchemaVersion,
		ModelType:     "gradient_boosted",
		Params:        json.RawMessage(`{}`),
	})
	require.NoError(t, err)

	_, _, err = Decode(data)
	assert.Error(t, err)
}

func TestDecodeRejectsFutureSchemaVersion(t *testing.T) {
	data, err := json.Marshal(&Artifact{
		SchemaVersion: SchemaVersion + 1,
		ModelType:     TypeConstant,
		Params:        json.RawMessage(`{"probability":0.5}`),
	})
	require.NoError(t, err)

	_, _, err = Decode(data)
	assert.Error(t, err)
}

func TestDecodeRejectsGarbage(t *testing.T) {
	_, _, err := Decode([]byte("not json"))
	assert.Error(t, err)
}

func TestLinearModelProbabilityBounds(t *testing.T) {
	m := &LinearModel{Weights: []float64{10}, Bias: 0}

	low, err := m.PredictProba([]float64{-100})
	require.NoError(t, err)
	high, err := m.PredictProba([]float64{100})
	require.NoError(t, err)

	assert.GreaterOrEqual(t, low, 0.0)
	assert.LessOrEqual(t, high, 1.0)
	assert.Less(t, low, high)
}

func TestLinearModelRejectsWrongVectorLength(t *testing.T) {
	m := &LinearModel{Weights: []float64{0.1, 0.2}, Bias: 0}

	_, err := m.PredictProba([]float64{1.0})
	assert.Error(t, err)
}

func TestConstantModelClamps(t *testing.T) {
	p, err := (&ConstantModel{Probability: 1.5}).PredictProba(nil)
	require.NoError(t, err)
	assert.Equal(t, 1.0, p)

	p, err = (&ConstantModel{Probability: -0.5}).PredictProba(nil)
	require.NoError(t, err)
	assert.Equal(t, 0.0, p)
}

func TestVectorOrdersAndDefaults(t *testing.T) {
	features := []string{"hour", "day_of_week", "failure_rate"}
	record := map[string]float64{
		"day_of_week": 3,
		"hour":        14,
	}

	vector := Vector(features, record)
	assert.Equal(t, []float64{14, 3, 0}, vector)
}
