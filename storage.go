package warden

import (
	"context"
	"time"
)

// Catalog is the persistent store of plugin records. Implementations
// must return ErrPluginNotFound for absent identities and
// ErrAlreadyInstalled for identity conflicts on Create.
type Catalog interface {
	// Create inserts a new record keyed by its (name, version) identity.
	Create(ctx context.Context, rec *PluginRecord) error

	// Update replaces the stored record for an existing identity.
	Update(ctx context.Context, rec *PluginRecord) error

	// Get returns the record for a name@version identity.
	Get(ctx context.Context, id string) (*PluginRecord, error)

	// Delete removes the record for an identity.
	Delete(ctx context.Context, id string) error

	// List returns all records, ordered by identity.
	List(ctx context.Context) ([]*PluginRecord, error)

	Close() error
}

// KV is the durable key-value store backing per-plugin storage. Keys
// are isolated by namespace; a plugin can never reach another
// namespace. ttl of zero means no expiry.
type KV interface {
	// Get returns the value and whether the key exists.
	Get(ctx context.Context, namespace, key string) (string, bool, error)

	Set(ctx context.Context, namespace, key, value string, ttl time.Duration) error

	Delete(ctx context.Context, namespace, key string) error

	// Keys lists the keys currently present in a namespace.
	Keys(ctx context.Context, namespace string) ([]string, error)

	// ClearNamespace removes every key in the namespace. Used on
	// uninstall to destroy a plugin's persisted data.
	ClearNamespace(ctx context.Context, namespace string) error

	Close() error
}

// ArtifactStore persists plugin source artifacts addressed by identity.
// Artifacts are staged at registration and promoted on install, so the
// install transition is an atomic copy-in.
type ArtifactStore interface {
	// Stage writes the validated artifact into the staging area and
	// returns its path.
	Stage(ctx context.Context, id string, manifest, source []byte) (string, error)

	// Promote atomically moves a staged artifact into the live area and
	// returns the live path.
	Promote(ctx context.Context, id string) (string, error)

	// ReadSource returns the live artifact's source for dispatch. The
	// coordinator re-verifies the checksum recorded at validation time.
	ReadSource(ctx context.Context, id string) ([]byte, error)

	// ReadManifest returns the live artifact's stored metadata block.
	ReadManifest(ctx context.Context, id string) ([]byte, error)

	// Remove deletes the live artifact (and any leftover staged copy).
	Remove(ctx context.Context, id string) error
}
