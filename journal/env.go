package journal

import (
	"os"
	"strconv"
)

// envDisabledEvents is the environment variable through which disabled
// journal events can be customized.
const envDisabledEvents = "FISHERMAN_JOURNAL_DISABLED_EVENTS"

var (
	EnvMaxBackups = envIntParser("FISHERMAN_JOURNAL_MAX_BACKUPS", 3)
	EnvMaxSize    = envIntParser("FISHERMAN_JOURNAL_MAX_SIZE", 1<<30)
)

// EnvDisabledEvents merges the events disabled through the environment into
// the configured list.
func EnvDisabledEvents(configured string) DisabledEvents {
	ret := DefaultDisabledEvents
	if parsed, err := ParseDisabledEvents(configured); err == nil {
		ret = append(append(DisabledEvents{}, ret...), parsed...)
	} else {
		log.Warnw("ignoring invalid disabled journal events", "value", configured, "error", err)
	}
	if env, ok := os.LookupEnv(envDisabledEvents); ok {
		if parsed, err := ParseDisabledEvents(env); err == nil {
			ret = append(ret, parsed...)
		} else {
			log.Warnw("ignoring invalid disabled journal events", "env", envDisabledEvents, "error", err)
		}
	}
	return ret
}

func envIntParser(env string, withDefault int64) int64 {
	e, ok := os.LookupEnv(env)
	if !ok {
		return withDefault
	}
	i, err := strconv.Atoi(e)
	if err != nil {
		return withDefault
	}
	return int64(i)
}
