package recovery

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arcledger/arcledger/pkg/blobstore"
	"github.com/arcledger/arcledger/pkg/crypto"
	"github.com/arcledger/arcledger/pkg/database"
	"github.com/arcledger/arcledger/pkg/ledgererr"
)

func testBlobStore(t *testing.T) *blobstore.Store {
	t.Helper()
	s, err := blobstore.New(t.TempDir(), blobstore.WithEncryptionConfig(&crypto.EncryptionConfig{KeyLength: 256, PBKDF2Iterations: 10000}))
	require.NoError(t, err)
	return s
}

func refBlock(t *testing.T, store *blobstore.Store, blockNumber uint64, content string) *database.Block {
	t.Helper()
	signer, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	signerPEM, err := crypto.MarshalPublicKeyPEM(&signer.PublicKey)
	require.NoError(t, err)
	ref, err := store.Store([]byte(content), "", signer, "")
	require.NoError(t, err)
	refJSON, err := json.Marshal(ref)
	require.NoError(t, err)
	return &database.Block{BlockNumber: blockNumber, SignerPublicKey: signerPEM, OffChainRef: refJSON}
}

func TestCheckReportsHealthyBlobs(t *testing.T) {
	store := testBlobStore(t)
	chain := &fakeChain{blocks: []*database.Block{refBlock(t, store, 0, "payload one")}}
	r := NewReporter(chain, store, nil, 0, 0)

	report, err := r.Check(context.Background(), "report-1")
	require.NoError(t, err)
	results := report.Results()
	require.Len(t, results, 1)
	assert.Equal(t, CheckHealthy, results[0].Status)
	assert.Equal(t, offChainBlobCheckType, results[0].CheckType)
	assert.Equal(t, 1, report.Stats.HealthyCount)
	assert.Equal(t, 100.0, report.Stats.HealthyPercent)
}

func TestCheckSkipsBlocksWithoutOffChainRef(t *testing.T) {
	chain := &fakeChain{blocks: []*database.Block{{BlockNumber: 0, Data: "inline"}}}
	r := NewReporter(chain, testBlobStore(t), nil, 0, 0)

	report, err := r.Check(context.Background(), "report-2")
	require.NoError(t, err)
	assert.Empty(t, report.Results())
	assert.Equal(t, 0, report.Stats.TotalChecked)
}

func TestCheckDetectsMissingBlob(t *testing.T) {
	store := testBlobStore(t)
	b := refBlock(t, store, 0, "will be deleted")
	// Simulate the blob having disappeared from disk by pointing at a
	// reference that was never actually stored.
	var ref blobstore.Ref
	require.NoError(t, json.Unmarshal(b.OffChainRef, &ref))
	ref.FileID = "0000000000000000000000000000000000000000000000000000000000000"
	ref.SHA256 = ref.FileID
	raw, err := json.Marshal(ref)
	require.NoError(t, err)
	b.OffChainRef = raw

	chain := &fakeChain{blocks: []*database.Block{b}}
	r := NewReporter(chain, store, nil, 0, 0)

	report, err := r.Check(context.Background(), "report-3")
	require.NoError(t, err)
	results := report.Results()
	require.Len(t, results, 1)
	assert.Equal(t, CheckCritical, results[0].Status)
	assert.Equal(t, 1, report.Stats.CriticalCount)
}

func TestCheckFailsWithCapacityExceededPastMaxResults(t *testing.T) {
	store := testBlobStore(t)
	chain := &fakeChain{blocks: []*database.Block{
		refBlock(t, store, 0, "one"),
		refBlock(t, store, 1, "two"),
		refBlock(t, store, 2, "three"),
	}}
	r := NewReporter(chain, store, nil, 2, 0)

	_, err := r.Check(context.Background(), "report-4")
	require.Error(t, err)
	assert.True(t, ledgererr.Is(err, ledgererr.CapacityExceeded))
}

func TestCheckRejectsOversizeReportID(t *testing.T) {
	r := NewReporter(&fakeChain{}, testBlobStore(t), nil, 0, 0)
	oversized := make([]byte, maxReportIDLen+1)
	_, err := r.Check(context.Background(), string(oversized))
	require.Error(t, err)
	assert.True(t, ledgererr.Is(err, ledgererr.InvalidInput))
}

func TestCheckMirrorsSummaryWhenConfigured(t *testing.T) {
	store := testBlobStore(t)
	chain := &fakeChain{blocks: []*database.Block{refBlock(t, store, 0, "content")}}
	mirror := &fakeMirror{}
	r := NewReporter(chain, store, mirror, 0, 0)

	_, err := r.Check(context.Background(), "report-5")
	require.NoError(t, err)
	assert.Equal(t, 1, mirror.reportCalls)
}

func TestCapMetadataTruncatesEntries(t *testing.T) {
	r := NewReporter(&fakeChain{}, testBlobStore(t), nil, 0, 1)
	capped := r.capMetadata(map[string]string{"a": "1", "b": "2", "c": "3"})
	assert.Len(t, capped, 1)
}

func TestRecommendNoActionWhenAllHealthy(t *testing.T) {
	recs := recommend(Statistics{TotalChecked: 3, HealthyCount: 3}, false)
	assert.Equal(t, []string{"no action required: all checked off-chain blobs are healthy"}, recs)
}

func TestRecommendFlagsCriticalAndDegraded(t *testing.T) {
	recs := recommend(Statistics{TotalChecked: 2, CriticalCount: 1, DegradedCount: 1}, false)
	assert.Len(t, recs, 2)
}

func TestResultsReturnsIndependentCopy(t *testing.T) {
	store := testBlobStore(t)
	chain := &fakeChain{blocks: []*database.Block{refBlock(t, store, 0, "content")}}
	r := NewReporter(chain, store, nil, 0, 0)

	report, err := r.Check(context.Background(), "report-6")
	require.NoError(t, err)

	results := report.Results()
	results[0].Status = CheckCritical

	again := report.Results()
	assert.Equal(t, CheckHealthy, again[0].Status)
}

func TestReportToYAMLRendersReportID(t *testing.T) {
	report := &Report{ReportID: "r1", Stats: Statistics{TotalChecked: 1, HealthyCount: 1}}
	out, err := report.ToYAML()
	require.NoError(t, err)
	assert.Contains(t, string(out), "reportid: r1")
}
