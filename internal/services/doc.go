// Package services provides the error taxonomy and context annotations shared
// by the pipeline stages and the capability clients behind them.
package services
