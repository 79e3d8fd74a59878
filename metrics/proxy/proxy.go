package proxy

import (
	"context"
	"reflect"

	"go.opencensus.io/tag"

	"github.com/Moonsong-Labs/storage-hub-sub006/api"
	"github.com/Moonsong-Labs/storage-hub-sub006/metrics"
)

// MetricedFishermanNode times every node call into metrics.APIRequestDuration,
// tagged with the method name.
func MetricedFishermanNode(a api.FishermanNode) api.FishermanNode {
	var out api.FishermanNodeStruct
	proxy(a, &out.Internal)
	return &out
}

func proxy(in interface{}, out interface{}) {
	rint := reflect.ValueOf(out).Elem()
	ra := reflect.ValueOf(in)

	for f := 0; f < rint.NumField(); f++ {
		field := rint.Type().Field(f)
		fn := ra.MethodByName(field.Name)

		rint.Field(f).Set(reflect.MakeFunc(field.Type, func(args []reflect.Value) (results []reflect.Value) {
			ctx := args[0].Interface().(context.Context)
			// upsert function name into context
			ctx, _ = tag.New(ctx, tag.Upsert(metrics.Endpoint, field.Name))
			stop := metrics.Timer(ctx, metrics.APIRequestDuration)
			defer stop()
			// pass tagged ctx back into function call
			args[0] = reflect.ValueOf(ctx)
			return fn.Call(args)
		}))
	}
}
