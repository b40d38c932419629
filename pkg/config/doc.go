// Package config loads and validates the Rosie configuration document.
//
// A document may be written in YAML, JSON or CUE; the format is chosen by
// file extension. CUE documents are unified with an embedded schema before
// decoding. Every document is then checked with struct validation and the
// lifecycle rules enforced by the installer:
//
//   - retention, idle and quarantine horizons must exceed 6 days
//   - alert leads must be shorter than their horizon
//   - class-based strategies need at least two class values
//   - name strategies use "_" or "-" as separator
//   - the legacy adequacy term is at least 90 days
//
// An unknown management strategy does not fail validation. ToPolicies keeps
// the kind with ErrUnknownStrategy attached so the runner can emit unknown
// records for it while the other kinds are evaluated normally.
//
// # Usage Example
//
//	doc, err := config.Load("rosie.yaml")
//	if err != nil {
//	    return err
//	}
//	policies, err := doc.ToPolicies()
//	if err != nil {
//	    return err
//	}
//	for _, kind := range policies.Kinds {
//	    kp, _ := policies.Get(kind)
//	    ...
//	}
//
// Watcher reloads the document when the file changes:
//
//	w, _ := config.NewWatcher("rosie.yaml", 0, logger)
//	go w.Watch(ctx, func(doc *config.Document) { runner.Reconfigure(doc) })
package config
