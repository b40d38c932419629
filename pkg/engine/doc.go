// Package engine provides the shared record model and collaborator interfaces
// for the Rosie lifecycle engine.
//
// # Overview
//
// A run flows through the following stages:
//
//  1. Collect - a Collector enumerates resources of one Kind (paginated)
//  2. Evaluate - the lifecycle package turns Facts into a DecisionRecord
//  3. Persist - a ResultSink appends records into an evaluation Partition
//  4. Cleanup - the cleanup package retires records with StatusDelete and
//     appends the outcomes into a cleanup Partition
//
// # Reserved resources
//
// ReservedSet is the single lookup table of names owned by the system. Both the
// evaluation and the cleanup stages consult it before anything else.
//
// # Errors
//
// Errors are classified into tiers by RosieError. Fatal errors abort a run;
// isolated errors are recorded against one resource while the batch continues.
package engine
