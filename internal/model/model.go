package model

import (
	"encoding/json"
	"fmt"
	"math"

	"github.com/skeenode/predictd/pkg/errors"
)

// Model is the capability every servable backend provides: given an ordered
// numeric feature vector, return a failure probability in [0,1].
type Model interface {
	PredictProba(vector []float64) (float64, error)
}

// Model type tags carried in the artifact format.
const (
	TypeLinear   = "linear"
	TypeConstant = "constant"
)

// SchemaVersion of the serialized artifact format. Bumped whenever the
// envelope or any params layout changes incompatibly.
const SchemaVersion = 1

// Artifact is the serialized envelope for a trained model: schema version,
// model type, the feature schema the model expects, and type-specific
// parameters. The envelope replaces opaque object serialization so artifact
// compatibility is not tied to any in-process object graph.
type Artifact struct {
	SchemaVersion int             `json:"schema_version"`
	ModelType     string          `json:"model_type"`
	Features      []string        `json:"features"`
	Params        json.RawMessage `json:"params"`
}

// LinearModel scores a feature vector with a logistic function over a
// weighted sum. Weights align positionally with the registered feature
// schema.
type LinearModel struct {
	Weights []float64 `json:"weights"`
	Bias    float64   `json:"bias"`
}

// PredictProba implements Model.
func (m *LinearModel) PredictProba(vector []float64) (float64, error) {
	if len(vector) != len(m.Weights) {
		return 0, errors.NewPredictionError(errors.CodeFeatureMismatch,
			fmt.Sprintf("expected %d features, got %d", len(m.Weights), len(vector)))
	}
	sum := m.Bias
	for i, w := range m.Weights {
		sum += w * vector[i]
	}
	p := 1.0 / (1.0 + math.Exp(-sum))
	return clamp01(p), nil
}

// ConstantModel always returns a fixed probability. Used as a stub backend
// in tests and for the cold-start placeholder before real training data
// exists.
type ConstantModel struct {
	Probability float64 `json:"probability"`
}

// PredictProba implements Model.
func (m *ConstantModel) PredictProba(vector []float64) (float64, error) {
	return clamp01(m.Probability), nil
}

// Encode serializes a model plus its feature schema into the versioned
// artifact format.
func Encode(m Model, features []string) ([]byte, error) {
	var (
		modelType string
		params    interface{}
	)

	switch concrete := m.(type) {
	case *LinearModel:
		modelType = TypeLinear
		params = concrete
	case *ConstantModel:
		modelType = TypeConstant
		params = concrete
	default:
		return nil, errors.NewValidationError(errors.CodeInvalidInput,
			fmt.Sprintf("unsupported model type %T", m))
	}

	rawParams, err := json.Marshal(params)
	if err != nil {
		return nil, errors.WrapError(err, errors.ErrorTypeInternal, errors.CodeInternalError, "failed to marshal model params")
	}

	artifact := &Artifact{
		SchemaVersion: SchemaVersion,
		ModelType:     modelType,
		Features:      features,
		Params:        rawParams,
	}

	data, err := json.Marshal(artifact)
	if err != nil {
		return nil, errors.WrapError(err, errors.ErrorTypeInternal, errors.CodeInternalError, "failed to marshal model artifact")
	}
	return data, nil
}

// Decode deserializes an artifact and constructs the backend it designates.
func Decode(data []byte) (Model, *Artifact, error) {
	var artifact Artifact
	if err := json.Unmarshal(data, &artifact); err != nil {
		return nil, nil, errors.WrapError(err, errors.ErrorTypePrediction, errors.CodeModelLoadFailed, "invalid model artifact")
	}

	if artifact.SchemaVersion != SchemaVersion {
		return nil, nil, errors.NewPredictionError(errors.CodeModelLoadFailed,
			fmt.Sprintf("unsupported artifact schema version %d", artifact.SchemaVersion))
	}

	var m Model
	switch artifact.ModelType {
	case TypeLinear:
		linear := &LinearModel{}
		if err := json.Unmarshal(artifact.Params, linear); err != nil {
			return nil, nil, errors.WrapError(err, errors.ErrorTypePrediction, errors.CodeModelLoadFailed, "invalid linear model params")
		}
		if len(linear.Weights) != len(artifact.Features) {
			return nil, nil, errors.NewPredictionError(errors.CodeModelLoadFailed,
				fmt.Sprintf("weight count %d does not match feature schema length %d", len(linear.Weights), len(artifact.Features)))
		}
		m = linear
	case TypeConstant:
		constant := &ConstantModel{}
		if err := json.Unmarshal(artifact.Params, constant); err != nil {
			return nil, nil, errors.WrapError(err, errors.ErrorTypePrediction, errors.CodeModelLoadFailed, "invalid constant model params")
		}
		m = constant
	default:
		return nil, nil, errors.NewPredictionError(errors.CodeModelLoadFailed,
			fmt.Sprintf("unknown model type %q", artifact.ModelType))
	}

	return m, &artifact, nil
}

// Vector orders a named feature record into the model's expected input
// ordering. Feature names are fixed at registration time; names absent from
// the record default to 0.
func Vector(features []string, record map[string]float64) []float64 {
	vector := make([]float64, len(features))
	for i, name := range features {
		vector[i] = record[name]
	}
	return vector
}

func clamp01(p float64) float64 {
	if p < 0 {
		return 0
	}
	if p > 1 {
		return 1
	}
	return p
}
