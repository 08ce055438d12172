package analyzer

import (
	"context"

	"ariadne/internal/store"
)

// ClassAnalyser is the external contract spec §6 names:
// "analyse(path) -> (nodes[], edges[])". internal/rebuild.PopulateFunc and
// internal/incremental.AnalyseFunc both close over an implementation of
// this interface; *Analyser is the default, in-process one.
type ClassAnalyser interface {
	Analyse(ctx context.Context, path string) ([]store.Symbol, []store.Edge, error)
}

var _ ClassAnalyser = (*Analyser)(nil)
