// Package errors implements the four-class error taxonomy used across
// GeoPatch: Validation (bad feature shape, dtype, name, bounding box or
// timestamps), NotFound (missing feature, key or file), IO (filesystem
// and storage backend failures) and Overwrite (save-time collisions
// with already stored data).
//
// All four classes are fatal at the offending call. Temporal-dimension
// inconsistencies are deliberately NOT part of this taxonomy: they are
// surfaced as warnings by the patch package and only escalate to node
// failures inside strict executor runs.
//
// # Quick Start
//
// Return sentinel errors for known conditions:
//
//	if _, ok := c.values[name]; !ok {
//	    return errors.NotFound(errors.ErrFeatureNotFound, "feature %q", name)
//	}
//
// Check classes at call sites without string matching:
//
//	if errors.IsOverwrite(err) {
//	    // destination already holds data, pick a different policy
//	}
//
// Wrap with operation context while keeping the classification intact:
//
//	return errors.Wrap(err, "load patch")
//
// The package re-exports Is, As and Join so callers need a single
// errors import.
package errors
