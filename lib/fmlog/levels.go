package fmlog

import (
	"os"

	logging "github.com/ipfs/go-log/v2"
)

// SetupLogLevels applies the default subsystem levels unless GOLOG_LOG_LEVEL
// already configures them.
func SetupLogLevels() {
	if _, set := os.LookupEnv("GOLOG_LOG_LEVEL"); set {
		return
	}
	_ = logging.SetLogLevel("*", "INFO")
	_ = logging.SetLogLevel("rpc", "ERROR")
	_ = logging.SetLogLevel("nodemock", "WARN")
	_ = logging.SetLogLevel("harmonydb", "WARN")
}
