package model

import "time"

// Shared defaults used by the engine, the server and the viewer.
const (
	DefaultProcessInterval   = time.Second
	DefaultBatchSize         = 100
	DefaultAggregateInterval = 5 * time.Minute
	DefaultRetentionMaxAge   = 30 * 24 * time.Hour
	DefaultRetentionInterval = time.Hour

	DefaultQueryWindow  = "1h"
	DefaultReportWindow = "24h"
	DefaultExportWindow = "30d"
	DefaultExportFormat = FormatJSON
	DefaultCardKind     = AggSum
)

// Export formats.
const (
	FormatJSON = "json"
	FormatYAML = "yaml"
)
