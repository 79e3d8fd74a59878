package retry

import (
	"context"
	"errors"
	"reflect"
	"time"

	logging "github.com/ipfs/go-log/v2"
	"github.com/jpillora/backoff"

	"github.com/Moonsong-Labs/storage-hub-sub006/build"
)

var log = logging.Logger("retry")

// ErrorIsIn reports whether err wraps an error of the same type as one of
// errorTypes. Entries must be pointers.
func ErrorIsIn(err error, errorTypes []error) bool {
	for _, etype := range errorTypes {
		tmp := reflect.New(reflect.PointerTo(reflect.ValueOf(etype).Elem().Type())).Interface()
		if errors.As(err, tmp) {
			return true
		}
	}
	return false
}

// Retry calls f up to attempts times while it fails with one of errorTypes,
// sleeping between attempts with exponential backoff starting at minSleep.
// Other errors are returned immediately.
func Retry[T any](ctx context.Context, attempts int, minSleep time.Duration, errorTypes []error, f func() (T, error)) (result T, err error) {
	b := &backoff.Backoff{
		Min:    minSleep,
		Max:    64 * minSleep,
		Factor: 2,
	}
	for i := 0; i < attempts; i++ {
		if i > 0 {
			d := b.Duration()
			log.Infow("retrying after error", "attempt", i+1, "backoff", d, "err", err)
			select {
			case <-build.Clock.After(d):
			case <-ctx.Done():
				return result, ctx.Err()
			}
		}
		result, err = f()
		if err == nil || !ErrorIsIn(err, errorTypes) {
			return result, err
		}
	}
	log.Errorf("Failed after %d attempts, last error: %s", attempts, err)
	return result, err
}
