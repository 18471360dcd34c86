package model

import (
	"context"
)

// Analyzer defines the standard interface for an AI analyzer.
type Analyzer interface {
	// AnalyzeFindings receives a findings digest and returns the analysis
	// result from the AI model.
	AnalyzeFindings(ctx context.Context, input string) (string, error)
}
