package store

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/lacop/mirrorface/internal/hub"
)

const (
	manifestTypeFull     = "full"
	manifestTypeRedirect = "redirect"
)

// FullManifest is the index of a repository's contents at a single resolved
// revision: a mapping from POSIX-relative path to blob hash.
type FullManifest struct {
	RevisionHash string            `json:"revision_hash"`
	Files        map[string]string `json:"files"`
}

// RedirectManifest points a symbolic revision (e.g. "main") at the hash
// revision whose FullManifest holds the actual content. Redirects never
// point to another redirect.
type RedirectManifest struct {
	RevisionHash string `json:"revision_hash"`
}

// manifestEnvelope is the wire-stable JSON shape: {"manifest": {...}}, with
// manifest_type as the discriminator inside the inner object.
type manifestEnvelope struct {
	Manifest json.RawMessage `json:"manifest"`
}

type manifestDiscriminator struct {
	ManifestType string `json:"manifest_type"`
}

func marshalEnvelope(manifestType string, v interface{}) ([]byte, error) {
	inner, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	// Splice manifest_type into the inner object.
	var m map[string]json.RawMessage
	if err := json.Unmarshal(inner, &m); err != nil {
		return nil, err
	}
	typeJSON, _ := json.Marshal(manifestType)
	m["manifest_type"] = typeJSON
	inner, err = json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return json.Marshal(manifestEnvelope{Manifest: inner})
}

// decodeManifest decodes raw into either a *FullManifest or a
// *RedirectManifest, branching exhaustively on manifest_type.
func decodeManifest(raw []byte) (full *FullManifest, redirect *RedirectManifest, err error) {
	var env manifestEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, nil, err
	}
	var disc manifestDiscriminator
	if err := json.Unmarshal(env.Manifest, &disc); err != nil {
		return nil, nil, err
	}
	switch disc.ManifestType {
	case manifestTypeFull:
		var f FullManifest
		if err := json.Unmarshal(env.Manifest, &f); err != nil {
			return nil, nil, err
		}
		return &f, nil, nil
	case manifestTypeRedirect:
		var r RedirectManifest
		if err := json.Unmarshal(env.Manifest, &r); err != nil {
			return nil, nil, err
		}
		return nil, &r, nil
	default:
		return nil, nil, errors.New("unknown manifest_type " + disc.ManifestType)
	}
}

// writeFileAtomic writes data to path by writing to a temporary sibling
// file and renaming it into place, matching the teacher's filesystem
// storage driver's PutContent pattern.
func writeFileAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + "." + uuid.NewString() + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}

// WriteFullManifest writes the FullManifest for rr, recording files as its
// contents. It fails with ErrInvalidKey if rr cannot be encoded into a
// path-safe key.
func WriteFullManifest(root string, rr hub.RepositoryRevision, files map[string]string) error {
	path, ok := ManifestPath(root, rr)
	if !ok {
		return ErrInvalidKey
	}
	data, err := marshalEnvelope(manifestTypeFull, FullManifest{
		RevisionHash: rr.Revision,
		Files:        files,
	})
	if err != nil {
		return err
	}
	return writeFileAtomic(path, data)
}

// WriteRedirectManifest writes a RedirectManifest at the key for
// symbolicRR, pointing at hashRevision.
func WriteRedirectManifest(root string, symbolicRR hub.RepositoryRevision, hashRevision string) error {
	path, ok := ManifestPath(root, symbolicRR)
	if !ok {
		return ErrInvalidKey
	}
	data, err := marshalEnvelope(manifestTypeRedirect, RedirectManifest{
		RevisionHash: hashRevision,
	})
	if err != nil {
		return err
	}
	return writeFileAtomic(path, data)
}

// LoadFullManifest resolves rr to its FullManifest, following at most one
// redirect hop. It returns (nil, nil) on a normal cache miss: rr cannot be
// encoded into a key, or no manifest has been written for it yet. Any other
// failure indicates a store integrity violation and is returned as an
// error: *ErrCorruptManifest, *ErrInconsistentManifest, or
// *ErrInconsistentRedirect.
func LoadFullManifest(root string, rr hub.RepositoryRevision) (*FullManifest, error) {
	path, ok := ManifestPath(root, rr)
	if !ok {
		return nil, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, &ErrCorruptManifest{Path: path, Err: err}
	}

	full, redirect, err := decodeManifest(raw)
	if err != nil {
		return nil, &ErrCorruptManifest{Path: path, Err: err}
	}

	if full != nil {
		if full.RevisionHash != rr.Revision {
			return nil, &ErrInconsistentManifest{
				Path:         path,
				WantRevision: rr.Revision,
				GotRevision:  full.RevisionHash,
			}
		}
		return full, nil
	}

	// redirect != nil: follow it exactly one hop.
	targetRR := hub.RepositoryRevision{Repository: rr.Repository, Revision: redirect.RevisionHash}
	targetPath, ok := ManifestPath(root, targetRR)
	if !ok {
		return nil, &ErrInconsistentRedirect{Path: path, Target: redirect.RevisionHash, Reason: "invalid target key"}
	}

	targetRaw, err := os.ReadFile(targetPath)
	if err != nil {
		return nil, &ErrInconsistentRedirect{Path: path, Target: redirect.RevisionHash, Reason: "target manifest missing or unreadable: " + err.Error()}
	}

	targetFull, targetRedirect, err := decodeManifest(targetRaw)
	if err != nil {
		return nil, &ErrInconsistentRedirect{Path: path, Target: redirect.RevisionHash, Reason: "target manifest invalid: " + err.Error()}
	}
	if targetFull == nil || targetRedirect != nil {
		return nil, &ErrInconsistentRedirect{Path: path, Target: redirect.RevisionHash, Reason: "target is itself a redirect"}
	}
	if targetFull.RevisionHash != redirect.RevisionHash {
		return nil, &ErrInconsistentRedirect{Path: path, Target: redirect.RevisionHash, Reason: "target full manifest has mismatched revision_hash"}
	}
	return targetFull, nil
}
