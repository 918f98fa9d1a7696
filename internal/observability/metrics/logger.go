package metrics

import "github.com/tphakala/forestwatch/internal/logger"

var log = logger.Global().Module("metrics")
