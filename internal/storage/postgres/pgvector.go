package postgres

import (
	"database/sql/driver"
	"fmt"

	"github.com/pgvector/pgvector-go"
)

// pgvectorScanner wraps pgvector.Vector to tolerate a NULL embedding
// column: articles are created before their content/summary embeddings
// exist (spec §3: embeddings are optional until the corresponding job
// runs), so both embedding columns are nullable.
type pgvectorScanner struct {
	slice []float32
}

func (s *pgvectorScanner) Scan(src any) error {
	if src == nil {
		s.slice = nil
		return nil
	}
	var v pgvector.Vector
	if err := v.Scan(src); err != nil {
		return fmt.Errorf("scan vector: %w", err)
	}
	s.slice = v.Slice()
	return nil
}

// newPgvectorArg returns a driver.Valuer producing NULL for an empty
// slice, or the pgvector wire representation otherwise.
func newPgvectorArg(vec []float32) driver.Valuer {
	if len(vec) == 0 {
		return nullVector{}
	}
	v := pgvector.NewVector(vec)
	return v
}

type nullVector struct{}

func (nullVector) Value() (driver.Value, error) { return nil, nil }
