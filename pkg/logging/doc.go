// Package logging configures log/slog for netinspect.
//
// Every component takes a *slog.Logger through a WithLogger option (or a
// Logger config field) and falls back to Nop when none is given:
//
//	logger := logging.New(logging.Config{
//	    Level:  logging.LevelDebug,
//	    Format: logging.FormatJSON,
//	})
//	store := bodystore.New(bodystore.WithLogger(logger))
//
// Text output is meant for terminals, JSON for log aggregation. Setting
// Config.File tees every record as JSON into a second writer.
package logging
