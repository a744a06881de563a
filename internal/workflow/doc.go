// Package workflow manages the activity catalogue and per-project node
// chains. Chains are linear DAGs whose links live in next_instance_ids;
// completing a node never auto-triggers its successor, clients drive every
// transition explicitly.
package workflow
