package state

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"strings"

	"scfcore/internal/blob"
)

const contentType = "application/json"

// Archive stores snapshots in a blob store under
// <prefix>/<calculator>/<id>.json.
type Archive struct {
	store  blob.Store
	prefix string
}

// NewArchive returns an archive writing below prefix ("states" when empty).
func NewArchive(store blob.Store, prefix string) *Archive {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		prefix = "states"
	}
	return &Archive{store: store, prefix: prefix}
}

// Key returns the blob key of a snapshot.
func (a *Archive) Key(s *OrbitalState) string {
	return path.Join(a.prefix, s.Calculator, s.ID+".json")
}

// Save writes s and returns its key. Snapshots are immutable; saving the
// same ID twice fails with blob.ErrExists.
func (a *Archive) Save(ctx context.Context, s *OrbitalState) (string, error) {
	if s.ID == "" || s.Calculator == "" {
		return "", fmt.Errorf("archive: snapshot needs an id and a calculator")
	}
	var buf bytes.Buffer
	if err := Encode(&buf, s); err != nil {
		return "", fmt.Errorf("archive: %w", err)
	}
	key := a.Key(s)
	md := map[string]string{"calculator": s.Calculator, "fingerprint": s.Fingerprint}
	if _, err := a.store.Put(ctx, key, &buf, blob.PutOptions{ContentType: contentType, Metadata: md}); err != nil {
		return "", fmt.Errorf("archive %s: %w", key, err)
	}
	return key, nil
}

// Load reads the snapshot stored at key.
func (a *Archive) Load(ctx context.Context, key string) (*OrbitalState, error) {
	_, rc, err := a.store.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("archive %s: %w", key, err)
	}
	defer func() { _ = rc.Close() }()
	return Decode(rc)
}

// List returns the keys of every snapshot of calculatorName, or of all
// calculators when the name is empty.
func (a *Archive) List(ctx context.Context, calculatorName string) ([]string, error) {
	prefix := a.prefix + "/"
	if calculatorName != "" {
		prefix += calculatorName + "/"
	}
	infos, err := a.store.List(ctx, prefix)
	if err != nil {
		return nil, fmt.Errorf("archive list: %w", err)
	}
	keys := make([]string, 0, len(infos))
	for _, info := range infos {
		if strings.HasSuffix(info.Key, ".json") {
			keys = append(keys, info.Key)
		}
	}
	return keys, nil
}

// Delete removes the snapshot at key.
func (a *Archive) Delete(ctx context.Context, key string) (bool, error) {
	return a.store.Delete(ctx, key)
}
