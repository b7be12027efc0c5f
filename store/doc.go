// Package store provides the persistence adapters behind the plugin
// engine: the relational catalog of plugin records, the durable
// key-value store backing per-plugin storage, and the filesystem
// artifact store. In-memory implementations back tests and single
// process deployments.
package store
