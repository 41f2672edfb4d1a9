// Package llmreport defines the signed-summary contract the LLM
// summarizer service runs against: a SummaryRequest in, a SignedSummary
// out. Prompt construction and model inference are out of scope here —
// this package only carries the request/response shapes and performs
// the signing step
// ransomeye_llm/signer/sign_report.py does (hash the generated content,
// build a manifest, RSA-PSS sign the manifest) using the Crypto Kernel
// instead of a private, package-local RSA key.
package llmreport

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/ransomeye/rebuild-sub001/pkg/cryptokernel"
)

// Audience mirrors summarizer_api.py's three-tier reading level.
type Audience string

const (
	AudienceExecutive Audience = "executive"
	AudienceManager   Audience = "manager"
	AudienceAnalyst   Audience = "analyst"
)

// SummaryRequest is what a caller (e.g. the ingress glue, on behalf of
// an analyst) submits to request an incident summary.
type SummaryRequest struct {
	IncidentID string   `json:"incident_id"`
	Audience   Audience `json:"audience"`
}

// Validate checks the request shape summarizer_api.py's handler
// enforces before accepting a job.
func (r SummaryRequest) Validate() error {
	if r.IncidentID == "" {
		return fmt.Errorf("llmreport: incident_id is required")
	}
	switch r.Audience {
	case AudienceExecutive, AudienceManager, AudienceAnalyst:
		return nil
	default:
		return fmt.Errorf("llmreport: invalid audience %q, must be one of executive, manager, analyst", r.Audience)
	}
}

// SummaryManifest is the signed chain-of-custody record for one
// generated summary, analogous to sign_report.py's manifest dict
// (job_id, content hash, signed_at) but over the summary text rather
// than a PDF file.
type SummaryManifest struct {
	JobID        string    `json:"job_id"`
	IncidentID   string    `json:"incident_id"`
	Audience     Audience  `json:"audience"`
	ContentHash  string    `json:"content_hash_sha256"`
	SignedAt     time.Time `json:"signed_at"`
	ManifestHash string    `json:"manifest_hash_sha256,omitempty"`
	Signature    string    `json:"signature,omitempty"`
}

// SignedSummary is the response a caller receives: the generated text
// plus its signed manifest.
type SignedSummary struct {
	JobID    string          `json:"job_id"`
	Content  string          `json:"content"`
	Manifest SummaryManifest `json:"manifest"`
}

// Signer is the subset of cryptokernel.Kernel signing needs.
type Signer interface {
	Sign(data []byte) ([]byte, error)
}

// Sign hashes content, builds its manifest, and signs the manifest —
// the same hash-then-sign-the-manifest shape as sign_report.py's
// sign_report, but operating on in-memory text instead of a PDF on
// disk and using RSA-PSS via the Crypto Kernel rather than a
// package-private key.
func Sign(signer Signer, jobID string, req SummaryRequest, content string, signedAt time.Time) (*SignedSummary, error) {
	contentHash, err := cryptokernel.HashStream(bytes.NewReader([]byte(content)))
	if err != nil {
		return nil, fmt.Errorf("llmreport: hash content: %w", err)
	}

	manifest := SummaryManifest{
		JobID:       jobID,
		IncidentID:  req.IncidentID,
		Audience:    req.Audience,
		ContentHash: contentHash,
		SignedAt:    signedAt,
	}

	unsigned, err := cryptokernel.CanonicalMarshal(manifest)
	if err != nil {
		return nil, fmt.Errorf("llmreport: canonicalize manifest: %w", err)
	}
	manifestHash, err := cryptokernel.HashStream(bytes.NewReader(unsigned))
	if err != nil {
		return nil, fmt.Errorf("llmreport: hash manifest: %w", err)
	}
	manifest.ManifestHash = manifestHash

	toSign, err := cryptokernel.CanonicalMarshal(manifest)
	if err != nil {
		return nil, fmt.Errorf("llmreport: canonicalize manifest for signing: %w", err)
	}
	sig, err := signer.Sign(toSign)
	if err != nil {
		return nil, fmt.Errorf("llmreport: sign manifest: %w", err)
	}
	manifest.Signature = base64.StdEncoding.EncodeToString(sig)

	return &SignedSummary{JobID: jobID, Content: content, Manifest: manifest}, nil
}
