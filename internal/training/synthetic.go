package training

import (
	"math"
	"math/rand/v2"

	"github.com/couchcryptid/parking-occupancy-etl/internal/domain"
)

const (
	minSyntheticRate = 0.05
	maxSyntheticRate = 0.95
	syntheticNoiseSD = 0.1
)

// HourFactor is the diurnal occupancy multiplier for an hour of day.
// Hour 19 closes the evening peak and counts as peak.
func HourFactor(hour int) float64 {
	switch {
	case hour >= 8 && hour <= 10, hour >= 17 && hour <= 19:
		return 1.2
	case hour >= 11 && hour <= 16:
		return 1.0
	case hour >= 6 && hour <= 7, hour >= 20 && hour <= 22:
		return 0.7
	default:
		return 0.3
	}
}

// DayFactor is the weekly occupancy multiplier; weekday 5 and 6 are the weekend.
func DayFactor(weekday int) float64 {
	if weekday >= 5 {
		return 0.6
	}
	return 1.0
}

// Generator draws synthetic occupancy samples around each location's last
// known occupancy ratio. It is not safe for concurrent use.
type Generator struct {
	rng     *rand.Rand
	samples int
}

// NewGenerator creates a Generator drawing samplesPerLocation rows for every
// usable seed from rng.
func NewGenerator(rng *rand.Rand, samplesPerLocation int) *Generator {
	return &Generator{rng: rng, samples: samplesPerLocation}
}

// NewSeededGenerator is NewGenerator over a PCG source with the given seed.
func NewSeededGenerator(seed uint64, samplesPerLocation int) *Generator {
	return NewGenerator(rand.New(rand.NewPCG(seed, 0)), samplesPerLocation)
}

// Generate returns the synthetic rows for seeds. Seeds without a positive
// capacity or without an occupied count are skipped.
func (g *Generator) Generate(seeds []domain.Snapshot) []domain.TrainingRow {
	var rows []domain.TrainingRow
	for _, s := range seeds {
		if s.Capacity == nil || *s.Capacity <= 0 || s.Occupied == nil {
			continue
		}
		capacity := *s.Capacity
		base := float64(*s.Occupied) / float64(capacity)

		for range g.samples {
			hour := g.rng.IntN(24)
			weekday := g.rng.IntN(7)
			rate := base*HourFactor(hour)*DayFactor(weekday) + g.rng.NormFloat64()*syntheticNoiseSD
			rate = math.Min(math.Max(rate, minSyntheticRate), maxSyntheticRate)

			rows = append(rows, domain.TrainingRow{
				LocationName: s.LocationName,
				Hour:         hour,
				Weekday:      weekday,
				Capacity:     capacity,
				Occupied:     int(math.Floor(rate * float64(capacity))),
			})
		}
	}
	return rows
}
