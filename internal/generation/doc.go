// Package generation persists generation records: the prompt, provenance,
// lifecycle status, resulting image path, lineage parent, and user flags for
// every image Atelier produces.
//
// Records are created pending by the queue manager, moved through generating
// to completed or failed by the processor, and otherwise only have their
// favourite/hidden flags toggled or are deleted outright. Status updates are
// guarded in SQL by the expected source status so a terminal record never
// changes state again.
package generation
