package ingress

import (
	"errors"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/ransomeye/rebuild-sub001/pkg/bundle"
	"github.com/ransomeye/rebuild-sub001/pkg/merkle"
	"github.com/ransomeye/rebuild-sub001/pkg/registry"
)

type uploadResponse struct {
	ArtifactID string `json:"artifact_id"`
	Status     string `json:"status"`
	Reason     string `json:"reason,omitempty"`
}

// handleUpload implements POST /artifacts/upload: the request body is
// the raw bundle archive; name/version travel as query parameters
// since the body itself is opaque bytes, not JSON, and the uploader is
// the calling service named in the request's token. The
// archive is staged to a temp file (bundle.Verifier.Verify requires a
// path, not a reader), verified, materialized into the artifact store
// under a freshly minted artifact ID, and registered — in that order,
// so a rejected bundle never reaches the registry.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("name")
	version := r.URL.Query().Get("version")
	uploader := callingService(r.Context())
	if name == "" || version == "" {
		writeError(w, http.StatusBadRequest, "name and version query parameters are required")
		return
	}

	tmp, err := os.CreateTemp(s.cfg.ArchiveWorkDir, "upload-*.tar.gz")
	if err != nil {
		writeError(w, http.StatusInternalServerError, "stage upload: "+err.Error())
		return
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := io.Copy(tmp, r.Body); err != nil {
		tmp.Close()
		writeError(w, http.StatusBadRequest, "read upload body: "+err.Error())
		return
	}
	tmp.Close()

	verified, err := s.cfg.BundleVerify.Verify(tmpPath)
	if err != nil {
		var rejected *bundle.Rejected
		if errors.As(err, &rejected) {
			writeJSON(w, http.StatusUnprocessableEntity, uploadResponse{Status: "rejected", Reason: rejected.Error()})
			return
		}
		writeError(w, http.StatusInternalServerError, "verify bundle: "+err.Error())
		return
	}
	defer os.RemoveAll(verified.SandboxDir)

	artifactID := uuid.NewString()
	finalPath, err := s.cfg.Materializer.Materialize(r.Context(), artifactID, verified.SandboxDir, verified.Manifest.SortedPaths())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "materialize artifact: "+err.Error())
		return
	}

	registeredID, err := s.cfg.Registry.Register(r.Context(), verified.Manifest.Metadata.Name, verified.Manifest.Metadata.Version,
		verified.ManifestID, finalPath, verified.Manifest.Metadata.Extra, uploader)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "register artifact: "+err.Error())
		return
	}
	if registeredID != artifactID {
		s.logger.Warn("manifest already registered under a different artifact id; new materialization is orphaned",
			"requested_id", artifactID, "registered_id", registeredID)
	}

	if s.cfg.AuditLog != nil {
		body := map[string]string{
			"artifact_id": registeredID, "name": name, "version": version,
		}
		if root, err := manifestMerkleRoot(verified.Manifest.Files); err != nil {
			s.logger.Warn("failed to compute manifest merkle root", "artifact_id", registeredID, "error", err)
		} else {
			body["manifest_merkle_root"] = root
		}
		if _, err := s.cfg.AuditLog.Append("artifact_uploaded", uploader, body); err != nil {
			s.logger.Error("failed to append upload ledger entry", "artifact_id", registeredID, "error", err)
		}
	}

	writeJSON(w, http.StatusCreated, uploadResponse{ArtifactID: registeredID, Status: "accepted"})
}

// handleActivate implements POST /artifacts/{id}/activate. Activate is
// itself idempotent (promoting an already-active artifact is a no-op
// demotion query followed by re-setting the same row active), so this
// handler doesn't special-case that.
func (s *Server) handleActivate(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	if err := s.cfg.Registry.Activate(r.Context(), id); err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			writeError(w, http.StatusNotFound, "artifact not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "activate artifact: "+err.Error())
		return
	}

	if s.cfg.AuditLog != nil {
		if _, err := s.cfg.AuditLog.Append("artifact_activated", callingService(r.Context()), map[string]string{"artifact_id": id}); err != nil {
			s.logger.Error("failed to append activate ledger entry", "artifact_id", id, "error", err)
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{"artifact_id": id, "status": "active"})
}

// manifestMerkleRoot builds a Merkle tree over a manifest's per-file
// hash map and returns its root, so the ledger can chain a single
// fixed-size value instead of the full files map for manifests with
// many entries — the root also lets a later chain-verification step
// confirm one file's inclusion via merkle.BuildInclusionProof without
// re-hashing every other entry.
func manifestMerkleRoot(files map[string]string) (string, error) {
	data := make(map[string]interface{}, len(files))
	for path, hash := range files {
		data[path] = hash
	}
	tree, err := merkle.BuildMerkleTree(data)
	if err != nil {
		return "", err
	}
	return tree.Root, nil
}

type artifactMetadata struct {
	ID         string            `json:"artifact_id"`
	Name       string            `json:"name"`
	Version    string            `json:"version"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	UploadedAt string            `json:"uploaded_at"`
}

// handleListActive implements GET /artifacts/active: metadata only, no
// artifact bytes.
func (s *Server) handleListActive(w http.ResponseWriter, r *http.Request) {
	artifacts, err := s.cfg.Registry.List(r.Context(), registry.StatusActive)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "list active artifacts: "+err.Error())
		return
	}

	out := make([]artifactMetadata, 0, len(artifacts))
	for _, a := range artifacts {
		out = append(out, artifactMetadata{
			ID:         a.ID,
			Name:       a.Name,
			Version:    a.Version,
			Metadata:   a.Metadata,
			UploadedAt: a.UploadedAt.UTC().Format(time.RFC3339),
		})
	}
	writeJSON(w, http.StatusOK, out)
}
