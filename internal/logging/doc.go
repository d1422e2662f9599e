// Package logging provides structured logging using uber/zap.
//
// Two modes are supported:
//   - Production: JSON output for machine parsing
//   - Development: Colored console output for human readability
//
// Example Usage:
//
//	logger := logging.NewDefault()
//	logger.Info("extension loaded", zap.String("id", "en.animepahe"))
//	logger.Error("fetch failed", zap.Error(err))
package logging
