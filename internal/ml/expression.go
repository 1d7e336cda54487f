package ml

import (
	"context"
	"fmt"
	"math"

	"github.com/Knetic/govaluate"
)

// ExpressionModel scores every record with an arithmetic or boolean
// expression over the record's fields.
type ExpressionModel struct {
	expr      *govaluate.EvaluableExpression
	threshold float64
}

func NewExpressionModel(expression string, threshold float64) (*ExpressionModel, error) {
	expr, err := govaluate.NewEvaluableExpression(expression)
	if err != nil {
		return nil, fmt.Errorf("invalid expression %q: %w", expression, err)
	}
	return &ExpressionModel{expr: expr, threshold: threshold}, nil
}

func (m *ExpressionModel) Predict(ctx context.Context, data []Record) ([]Prediction, error) {
	out := make([]Prediction, len(data))
	for i, rec := range data {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		result, err := m.expr.Evaluate(rec)
		if err != nil {
			return nil, fmt.Errorf("record %d: %v: %w", i, err, ErrBadInput)
		}
		p, err := m.classify(result)
		if err != nil {
			return nil, fmt.Errorf("record %d: %w", i, err)
		}
		out[i] = p
	}
	return out, nil
}

func (m *ExpressionModel) classify(result interface{}) (Prediction, error) {
	switch v := result.(type) {
	case bool:
		if v {
			return Prediction{Prediction: 1, Confidence: 1}, nil
		}
		return Prediction{Prediction: 0, Confidence: 1}, nil
	case float64:
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return Prediction{}, fmt.Errorf("expression returned %v: %w", v, ErrBadInput)
		}
		label := 0.0
		if v >= m.threshold {
			label = 1
		}
		return Prediction{
			Prediction: label,
			Confidence: 1 / (1 + math.Exp(-math.Abs(v-m.threshold))),
		}, nil
	default:
		return Prediction{}, fmt.Errorf("expression returned %T: %w", result, ErrBadInput)
	}
}
