package model

import "time"

// ModelCatalogEntry describes a remote model's limits and pricing, as
// consumed by the Chunk Sizer, the cost estimator, and the Remote
// Client router.
type ModelCatalogEntry struct {
	ID                    string
	Name                  string
	ContextLength         int
	MaxOutput             int
	InputPricePerMillion  float64
	OutputPricePerMillion float64
	IsFree                bool
	FetchedAt             time.Time
}

func NewModelCatalogEntry(id, name string, contextLength, maxOutput int, inputPPM, outputPPM float64, isFree bool) *ModelCatalogEntry {
	return &ModelCatalogEntry{
		ID:                    id,
		Name:                  name,
		ContextLength:         contextLength,
		MaxOutput:             maxOutput,
		InputPricePerMillion:  inputPPM,
		OutputPricePerMillion: outputPPM,
		IsFree:                isFree,
		FetchedAt:             time.Now(),
	}
}
