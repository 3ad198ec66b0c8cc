// Package geopatch is a container and pipeline toolkit for Earth
// observation raster and vector data.
//
// # Data Model
//
// The core object is the patch: a bounded region of interest holding
// named features grouped by type. Array features are dense numeric
// buffers whose leading axis may be bound to the patch's timestamp
// sequence; vector features are geometry tables; metadata features are
// free-form entries. Feature types fix the array rank and element
// discreteness, so a patch stays structurally consistent as features
// are added:
//
//	p := patch.New(bbox)
//	p.SetTimestamps(times)
//	err := p.SetFeature(patch.Data, "bands", bands)
//
// # Layers
//
// The module is organized in three layers:
//
//	┌─────────────────────────────────────┐
//	│       executor                      │  Batched runs, log capture,
//	│   (batch over parameter sets)       │  failure isolation
//	└─────────────────────────────────────┘
//	           ↓ runs
//	┌─────────────────────────────────────┐
//	│       workflow                      │  Validated task DAGs,
//	│   (nodes, topological execution)    │  per-node results
//	└─────────────────────────────────────┘
//	           ↓ operates on
//	┌─────────────────────────────────────┐
//	│       patch + storage               │  Containers, copy, merge,
//	│   (data model, filesystem format)   │  lazy and partial IO
//	└─────────────────────────────────────┘
//
// # Storage
//
// The storage package persists patches as a directory tree: one folder
// per feature type, one file (or chunked store) per feature, with
// optional gzip compression and per-timestamp chunking for partial
// temporal reads and writes. Filesystems are abstracted through
// spf13/afero, so the same code serves local disk, memory and any
// afero-backed remote.
//
// # Execution
//
// The workflow package models a pipeline as a directed acyclic graph of
// tasks; execution is topological, failures isolate to the failing
// branch, and per-node results are collected. The executor package runs
// one workflow over many parameter sets, sequentially or concurrently,
// capturing each execution's log into its own file.
//
// # Package Index
//
//   - patch: feature taxonomy, containers, copy, temporal subset, merge
//   - storage: filesystem serialization, lazy loading, partial IO
//   - storage/zarr: chunked array stores with per-frame access
//   - workflow: task DAG construction and execution
//   - executor: batched concurrent execution with log capture
//   - pkg/ndarray: dense n-dimensional arrays and the NPY codec
//   - pkg/geo: bounding boxes, CRS handling, geometry tables
//   - pkg/timeparse: tolerant timestamp parsing
//   - pkg/worker: bounded worker pool
//   - errors: classified errors shared across the module
//   - testutil: seeded patch generation for tests
package geopatch
