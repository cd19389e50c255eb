// Package training resolves a training dataset for a city, fits the occupancy
// model, registers the resulting model version and serves forecasts from the
// active version.
package training
