// Package iocnormalize defines the canonical IOC ingest contract at
// the threat-intel ingest boundary: raw, feed-shaped JSON in, a typed
// IOCRecord with RFC3339 timestamps and a validated type enum out.
// Per-feed scraping (MalwareBazaar,
// Ransomware.live, MISP's own schema) stays out of scope — this
// package only normalizes whatever raw map a feed-specific collector
// already produced, grounded in
// ransomeye_threat_intel/ingestors/api_ingestor.py's
// _extract_ioc_from_dict and misp_ingestor.py's equivalent field
// coalescing.
package iocnormalize

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Type is the canonical IOC type enum.
type Type string

const (
	TypeIPv4          Type = "ipv4"
	TypeIPv6          Type = "ipv6"
	TypeDomain        Type = "domain"
	TypeURL           Type = "url"
	TypeHash          Type = "hash"
	TypeFile          Type = "file"
	TypeMalwareFamily Type = "malware_family"
	TypeUnknown       Type = "unknown"
)

func validType(t Type) bool {
	switch t {
	case TypeIPv4, TypeIPv6, TypeDomain, TypeURL, TypeHash, TypeFile, TypeMalwareFamily, TypeUnknown:
		return true
	default:
		return false
	}
}

// IOCRecord is the canonical, typed shape every ingest path converges
// on before an indicator reaches storage.
type IOCRecord struct {
	Value       string          `json:"value"`
	Type        Type            `json:"type"`
	Source      string          `json:"source"`
	SourceID    string          `json:"source_id"`
	FirstSeen   string          `json:"first_seen"`
	LastSeen    string          `json:"last_seen"`
	Description string          `json:"description"`
	Tags        []string        `json:"tags"`
	Confidence  int             `json:"confidence"`
	Raw         json.RawMessage `json:"raw"`
}

// rawItem is the loosely-typed shape a feed-specific collector hands
// us: any of the aliases api_ingestor.py coalesces across ("value",
// "ioc", "indicator", "hash" for the value; "type"/"ioc_type" for the
// type; "first_seen"/"created", "last_seen"/"updated" for timestamps).
type rawItem struct {
	Value       string          `json:"value"`
	IOC         string          `json:"ioc"`
	Indicator   string          `json:"indicator"`
	Hash        string          `json:"hash"`
	Type        string          `json:"type"`
	IOCType     string          `json:"ioc_type"`
	Source      string          `json:"source"`
	SourceID    string          `json:"id"`
	FirstSeen   string          `json:"first_seen"`
	Created     string          `json:"created"`
	LastSeen    string          `json:"last_seen"`
	Updated     string          `json:"updated"`
	Description string          `json:"description"`
	Comment     string          `json:"comment"`
	Tags        []string        `json:"tags"`
	Labels      []string        `json:"labels"`
	Confidence  *int            `json:"confidence"`
}

// defaultConfidence matches api_ingestor.py's 50-point fallback for
// feeds that don't report one.
const defaultConfidence = 50

// Normalize converts one raw feed item (already feed-specific-parsed
// into JSON) into a canonical IOCRecord. source names the feed that
// produced it (e.g. "malwarebazaar", "misp"). Returns an error if no
// usable value field is present — every other field degrades to its
// zero value rather than failing the record.
func Normalize(raw []byte, source string) (*IOCRecord, error) {
	var item rawItem
	if err := json.Unmarshal(raw, &item); err != nil {
		return nil, fmt.Errorf("iocnormalize: parse raw item: %w", err)
	}

	value := firstNonEmpty(item.Value, item.IOC, item.Indicator, item.Hash)
	if value == "" {
		return nil, fmt.Errorf("iocnormalize: no value/ioc/indicator/hash field present")
	}

	iocType := Type(strings.ToLower(firstNonEmpty(item.Type, item.IOCType, string(TypeUnknown))))
	if !validType(iocType) {
		iocType = TypeUnknown
	}

	confidence := defaultConfidence
	if item.Confidence != nil {
		confidence = clamp(*item.Confidence, 0, 100)
	}

	tags := item.Tags
	if len(tags) == 0 {
		tags = item.Labels
	}

	record := &IOCRecord{
		Value:       value,
		Type:        iocType,
		Source:      firstNonEmpty(item.Source, source),
		SourceID:    item.SourceID,
		FirstSeen:   normalizeTimestamp(firstNonEmpty(item.FirstSeen, item.Created)),
		LastSeen:    normalizeTimestamp(firstNonEmpty(item.LastSeen, item.Updated)),
		Description: firstNonEmpty(item.Description, item.Comment),
		Tags:        tags,
		Confidence:  confidence,
		Raw:         json.RawMessage(raw),
	}
	return record, nil
}

// normalizeTimestamp converts a handful of common feed timestamp
// shapes to RFC3339 UTC, leaving the value empty (not an error) if it
// can't be parsed — an unparseable timestamp shouldn't drop the whole
// indicator.
func normalizeTimestamp(ts string) string {
	if ts == "" {
		return ""
	}
	layouts := []string{
		time.RFC3339,
		"2006-01-02T15:04:05",
		"2006-01-02 15:04:05",
		"2006-01-02",
	}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, ts); err == nil {
			return t.UTC().Format(time.RFC3339)
		}
	}
	return ""
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
