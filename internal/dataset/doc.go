// Package dataset defines the benchmark's unit of work and the storage contracts
// around it.
//
// A [Source] yields every [WorkItem] of the benchmark once at startup. A [Store]
// persists one [ResponseRecord] per processed item and reports which items a
// previous run already recorded, which is what makes a finite benchmark resumable.
//
// Concrete stores:
//   - [LocalStore]: one JSON file per record in a locked directory
//   - [S3Store]: one object per record in an S3-compatible bucket
//   - [RedisStore]: one hash field per record
//   - [DiscardStore]: drops everything, reports nothing processed
package dataset
