package registry

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
)

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanArtifact(row *sql.Row) (*Artifact, error) {
	a, err := scanArtifactRows(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return a, nil
}

func scanArtifactRows(row rowScanner) (*Artifact, error) {
	var a Artifact
	var metaJSON []byte
	if err := row.Scan(&a.ID, &a.Name, &a.Version, &a.ManifestHash, &a.Path, &metaJSON, &a.Status, &a.Uploader, &a.UploadedAt, &a.ActivatedAt); err != nil {
		return nil, err
	}
	if len(metaJSON) > 0 {
		if err := json.Unmarshal(metaJSON, &a.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal artifact metadata: %w", err)
		}
	}
	return &a, nil
}

func marshalMetadata(metadata map[string]string) ([]byte, error) {
	if metadata == nil {
		metadata = map[string]string{}
	}
	return json.Marshal(metadata)
}
