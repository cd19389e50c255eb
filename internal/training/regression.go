package training

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"

	"github.com/couchcryptid/parking-occupancy-etl/internal/domain"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

const (
	// Model columns: intercept, capacity, capacity per hour, capacity per weekday.
	hourOffset    = 2
	weekdayOffset = hourOffset + 24
	numColumns    = weekdayOffset + 7

	// ridgeAlpha scales the penalty by the mean diagonal of XᵀX so it is
	// independent of the capacity magnitudes in the data.
	ridgeAlpha = 1e-6

	evalFraction = 0.2
	splitSeed    = 42
)

var errSingularSystem = errors.New("normal equations are not positive definite")

// Model is a fitted occupancy model. Predicted occupancy is linear in
// capacity with an hour and weekday dependent slope.
type Model struct {
	Version      string    `json:"version"`
	Features     []string  `json:"features"`
	Coefficients []float64 `json:"coefficients"`
}

// Predict returns the raw model output for the features. Callers clamp it.
func (m Model) Predict(hour, weekday, capacity int) float64 {
	row := designRow(domain.TrainingRow{Hour: hour, Weekday: weekday, Capacity: capacity})
	var y float64
	for i, c := range m.Coefficients {
		y += c * row[i]
	}
	return y
}

func designRow(r domain.TrainingRow) []float64 {
	row := make([]float64, numColumns)
	c := float64(r.Capacity)
	row[0] = 1
	row[1] = c
	if r.Hour >= 0 && r.Hour < 24 {
		row[hourOffset+r.Hour] = c
	}
	if r.Weekday >= 0 && r.Weekday < 7 {
		row[weekdayOffset+r.Weekday] = c
	}
	return row
}

// Fit is the outcome of fitting on a dataset.
type Fit struct {
	Model        Model
	Metrics      domain.Metrics
	TrainSamples int
	EvalSamples  int
}

// FitModel splits rows 80/20 with a fixed seed, fits ridge regression on the
// training part and evaluates on the held-out part.
func FitModel(rows []domain.TrainingRow) (Fit, error) {
	if len(rows) == 0 {
		return Fit{}, errors.New("empty training dataset")
	}
	if distinctTargets(rows) < 2 {
		return Fit{}, fmt.Errorf("training dataset needs at least 2 distinct occupied values, got %d rows", len(rows))
	}

	train, eval := split(rows)
	coef, err := ridge(train)
	if err != nil {
		return Fit{}, err
	}
	model := Model{
		Features:     append([]string(nil), domain.Features...),
		Coefficients: coef,
	}
	return Fit{
		Model:        model,
		Metrics:      evaluate(model, eval),
		TrainSamples: len(train),
		EvalSamples:  len(eval),
	}, nil
}

func distinctTargets(rows []domain.TrainingRow) int {
	seen := make(map[int]struct{})
	for _, r := range rows {
		seen[r.Occupied] = struct{}{}
		if len(seen) > 1 {
			break
		}
	}
	return len(seen)
}

// split permutes rows with a fixed seed so repeated runs on the same data
// produce the same partition. Both parts are non-empty.
func split(rows []domain.TrainingRow) (train, eval []domain.TrainingRow) {
	perm := rand.New(rand.NewPCG(splitSeed, 0)).Perm(len(rows))
	nEval := int(math.Round(float64(len(rows)) * evalFraction))
	nEval = max(1, min(nEval, len(rows)-1))

	eval = make([]domain.TrainingRow, 0, nEval)
	train = make([]domain.TrainingRow, 0, len(rows)-nEval)
	for i, idx := range perm {
		if i < nEval {
			eval = append(eval, rows[idx])
		} else {
			train = append(train, rows[idx])
		}
	}
	return train, eval
}

// ridge solves (XᵀX + λI)β = Xᵀy. The intercept is not penalised.
func ridge(rows []domain.TrainingRow) ([]float64, error) {
	data := make([]float64, 0, len(rows)*numColumns)
	y := make([]float64, len(rows))
	for i, r := range rows {
		data = append(data, designRow(r)...)
		y[i] = float64(r.Occupied)
	}
	x := mat.NewDense(len(rows), numColumns, data)

	var xtx mat.SymDense
	xtx.SymOuterK(1, x.T())

	var trace float64
	for i := range numColumns {
		trace += xtx.At(i, i)
	}
	lambda := math.Max(ridgeAlpha*trace/numColumns, 1e-9)
	for i := 1; i < numColumns; i++ {
		xtx.SetSym(i, i, xtx.At(i, i)+lambda)
	}
	// Keep the intercept column solvable when every row shares one value.
	xtx.SetSym(0, 0, xtx.At(0, 0)+1e-9)

	var chol mat.Cholesky
	if ok := chol.Factorize(&xtx); !ok {
		return nil, errSingularSystem
	}

	var xty mat.VecDense
	xty.MulVec(x.T(), mat.NewVecDense(len(y), y))

	var beta mat.VecDense
	if err := chol.SolveVecTo(&beta, &xty); err != nil {
		// A Condition error still carries a usable solution.
		var cond mat.Condition
		if !errors.As(err, &cond) {
			return nil, fmt.Errorf("solve normal equations: %w", err)
		}
	}

	coef := make([]float64, numColumns)
	for i := range coef {
		coef[i] = beta.AtVec(i)
	}
	return coef, nil
}

// evaluate computes MAE, RMSE and R² of the raw model output. A constant
// evaluation target has no defined R² and reports 0.
func evaluate(m Model, rows []domain.TrainingRow) domain.Metrics {
	estimates := make([]float64, len(rows))
	values := make([]float64, len(rows))
	var absSum, sqSum float64
	for i, r := range rows {
		estimates[i] = m.Predict(r.Hour, r.Weekday, r.Capacity)
		values[i] = float64(r.Occupied)
		d := estimates[i] - values[i]
		absSum += math.Abs(d)
		sqSum += d * d
	}
	n := float64(len(rows))
	r2 := stat.RSquaredFrom(estimates, values, nil)
	if math.IsNaN(r2) || math.IsInf(r2, 0) {
		r2 = 0
	}
	return domain.Metrics{
		MAE:  absSum / n,
		RMSE: math.Sqrt(sqSum / n),
		R2:   r2,
	}
}
