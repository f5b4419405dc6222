package service

import (
	"fmt"
	"strings"
)

// Stages reported by PartialError.
const (
	StageEmbedding = "embedding"
	StageKeyword   = "keyword"
)

// PartialError reports an operation whose records were written but whose
// secondary index update failed. The records named by IDs are stored.
type PartialError struct {
	Stage string
	IDs   []string
	Err   error
}

func (e *PartialError) Error() string {
	return fmt.Sprintf("partial failure at %s stage for %s: %v", e.Stage, strings.Join(e.IDs, ", "), e.Err)
}

func (e *PartialError) Unwrap() error { return e.Err }
