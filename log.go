package bincache

import (
	"github.com/lni/dragonboat/v4/logger"
)

// plog is the package logger. Applications route it by installing a
// factory with logger.SetLoggerFactory, and tune it with
// logger.GetLogger("bincache").SetLevel.
var plog = logger.GetLogger("bincache")
