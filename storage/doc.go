// Package storage persists patches on an afero filesystem.
//
// # Overview
//
// A patch is stored as one folder: a bounding box file, a timestamp
// file and one subfolder per feature type holding one file (or one
// chunked store directory) per feature. The layout is self-describing:
// the file extension encodes both the storage shape and the
// compression state, so a folder can be read back without any side
// channel.
//
//	bbox.geojson
//	timestamps.json
//	data/bands.npy.gz
//	mask/clouds.zarr/
//	vector_timeless/fields.geojson.gz
//	meta_info/origin.json
//
// # Core Concepts
//
// Codecs:
//
// One codec per storage shape — dense numpy arrays, chunked zarr
// stores, GeoJSON geometry tables and plain JSON documents. The
// bounding box and timestamp files are always written uncompressed so
// other tooling can inspect them cheaply.
//
// Lazy loaders:
//
// Load can return a patch whose features are unmaterialized Loader
// cells. A loader reads its file on first access and caches the value;
// shallow patch copies share the cell, so one read satisfies both
// sides, while deep copies fork it.
//
// Partial temporal access:
//
// Chunked stores are split one chunk per first-axis frame, which makes
// reading or overwriting a subset of frames a per-file operation.
// Dense files cannot be partially accessed; asking for it is a fatal
// error rather than a silent full read.
//
// # Architecture Decisions
//
// Filesystem abstraction via afero:
//
// All IO goes through afero.Fs, so the same engine serves the local
// disk, an in-memory filesystem in tests, or any other afero backend.
//
// Concurrent partial writes are the caller's responsibility:
//
// Overlapping first-axis writes into one store from several workers
// are not synchronized here. Executions are expected to write disjoint
// ranges; coordinating anything else belongs to the caller.
package storage
