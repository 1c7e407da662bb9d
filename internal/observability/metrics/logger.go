package metrics

import "github.com/tphakala/idconsensus/internal/logger"

// Package-level cached logger instance for efficiency.
var log = logger.Global().Module("telemetry")
