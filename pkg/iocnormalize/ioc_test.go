package iocnormalize_test

import (
	"testing"

	"github.com/ransomeye/rebuild-sub001/pkg/iocnormalize"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize_CoalescesValueAliases(t *testing.T) {
	raw := []byte(`{"indicator":"1.2.3.4","type":"ipv4"}`)

	rec, err := iocnormalize.Normalize(raw, "malwarebazaar")

	require.NoError(t, err)
	assert.Equal(t, "1.2.3.4", rec.Value)
	assert.Equal(t, iocnormalize.TypeIPv4, rec.Type)
}

func TestNormalize_UnknownTypeFallsBackToUnknown(t *testing.T) {
	raw := []byte(`{"value":"evil.exe","type":"something-weird"}`)

	rec, err := iocnormalize.Normalize(raw, "misp")

	require.NoError(t, err)
	assert.Equal(t, iocnormalize.TypeUnknown, rec.Type)
}

func TestNormalize_MissingValueIsAnError(t *testing.T) {
	raw := []byte(`{"type":"domain"}`)

	_, err := iocnormalize.Normalize(raw, "misp")

	assert.Error(t, err)
}

func TestNormalize_ConfidenceDefaultsTo50(t *testing.T) {
	raw := []byte(`{"value":"evil.com"}`)

	rec, err := iocnormalize.Normalize(raw, "misp")

	require.NoError(t, err)
	assert.Equal(t, 50, rec.Confidence)
}

func TestNormalize_ConfidenceClampedTo0_100(t *testing.T) {
	raw := []byte(`{"value":"evil.com","confidence":250}`)

	rec, err := iocnormalize.Normalize(raw, "misp")

	require.NoError(t, err)
	assert.Equal(t, 100, rec.Confidence)
}

func TestNormalize_TimestampsNormalizedToRFC3339UTC(t *testing.T) {
	raw := []byte(`{"value":"evil.com","first_seen":"2024-01-02 15:04:05"}`)

	rec, err := iocnormalize.Normalize(raw, "misp")

	require.NoError(t, err)
	assert.Equal(t, "2024-01-02T15:04:05Z", rec.FirstSeen)
}

func TestNormalize_UnparseableTimestampLeftEmptyNotAnError(t *testing.T) {
	raw := []byte(`{"value":"evil.com","first_seen":"not-a-date"}`)

	rec, err := iocnormalize.Normalize(raw, "misp")

	require.NoError(t, err)
	assert.Empty(t, rec.FirstSeen)
}

func TestNormalize_CreatedFallsBackWhenFirstSeenAbsent(t *testing.T) {
	raw := []byte(`{"value":"evil.com","created":"2024-01-02T15:04:05Z"}`)

	rec, err := iocnormalize.Normalize(raw, "misp")

	require.NoError(t, err)
	assert.Equal(t, "2024-01-02T15:04:05Z", rec.FirstSeen)
}

func TestNormalize_LabelsFallBackWhenTagsAbsent(t *testing.T) {
	raw := []byte(`{"value":"evil.com","labels":["ransomware","trojan"]}`)

	rec, err := iocnormalize.Normalize(raw, "misp")

	require.NoError(t, err)
	assert.Equal(t, []string{"ransomware", "trojan"}, rec.Tags)
}

func TestNormalize_SourcePassedThroughWhenItemOmitsIt(t *testing.T) {
	raw := []byte(`{"value":"evil.com"}`)

	rec, err := iocnormalize.Normalize(raw, "ransomware-live")

	require.NoError(t, err)
	assert.Equal(t, "ransomware-live", rec.Source)
}

func TestNormalize_RawPreservesOriginalPayload(t *testing.T) {
	raw := []byte(`{"value":"evil.com","extra_field":"kept"}`)

	rec, err := iocnormalize.Normalize(raw, "misp")

	require.NoError(t, err)
	assert.JSONEq(t, string(raw), string(rec.Raw))
}
