// Package resource bounds the concurrency and throughput of container IO.
//
// The Controller manages two resource types:
//
//   - Workers: a weighted semaphore limiting concurrent item writers during
//     Model flushes and profile upgrades
//   - IO: a token bucket limiting container bytes per second
//
// # Workers
//
//	rc := resource.NewController(resource.Config{MaxWorkers: 4})
//
//	if err := rc.AcquireWorker(ctx); err != nil {
//	    return err
//	}
//	defer rc.ReleaseWorker()
//
// # IO Rate Limiting
//
//	rc := resource.NewController(resource.Config{
//	    IOLimitBytesPerSec: 100 * 1024 * 1024, // 100MB/s
//	})
//
//	if err := rc.AcquireIO(ctx, len(buf)); err != nil {
//	    return err
//	}
//
// # Nil Safety
//
// All methods handle a nil Controller gracefully - they become no-ops.
// This allows optional resource limiting without nil checks everywhere.
package resource
