// Package config owns the settings document of the desktop client: the
// list of configured servers and the application options.
//
// A Store holds the document for one process. It is loaded once at
// startup, mutated by batched writes, persisted on every write, and
// reloaded when another process signals that storage changed.
//
// # Document
//
// The document is a map of sections. Two are well known:
//
//	{
//	  "servers":    {"teams": [{"name": "...", "url": "...", "index": false, "order": 0}]},
//	  "appOptions": {"showTrayIcon": true, "notifications": {"flashWindow": 2}, ...}
//	}
//
// Sections and keys the store does not know about are kept verbatim
// across reads, writes and reloads.
//
// # Events
//
// The store reports through a notify.Notifier:
//
//   - update: after every successful write and reload, with a snapshot
//   - error: once per failed write or reload, with the cause
//   - synchronize: after every successful write, so other processes reload
//
// # Sub-packages
//
//   - loader: document codecs (JSON, TOML, YAML) and file storage
//   - notify: store event observers
//   - savequeue: debounced batching of UI writes
//   - savestate: per-section saving/saved/error indicator state
//   - watcher: reload on external edits of the config file
//
// # Error Handling
//
// Nothing here is fatal. A failed save leaves the write applied in memory
// and is reported as a *PersistError through the error event; the next
// successful write makes it durable.
package config
