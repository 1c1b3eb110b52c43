package recovery

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/arcledger/arcledger/pkg/blobstore"
	"github.com/arcledger/arcledger/pkg/crypto"
	"github.com/arcledger/arcledger/pkg/database"
	"github.com/arcledger/arcledger/pkg/firestore"
	"github.com/arcledger/arcledger/pkg/ledgererr"
)

// CheckStatus classifies the outcome of verifying a single off-chain blob.
type CheckStatus string

const (
	CheckHealthy  CheckStatus = "Healthy"
	CheckDegraded CheckStatus = "Degraded"
	CheckCritical CheckStatus = "Critical"
	CheckUnknown  CheckStatus = "Unknown"
)

// offChainBlobCheckType identifies the single kind of check this reporter
// performs; kept as a named constant so a future second check_type (e.g.
// checkpoint consistency) has an obvious place to branch from.
const offChainBlobCheckType = "off_chain_blob_integrity"

const (
	maxReportIDLen   = 255
	maxDataIDLen     = 500
	maxDetailsLen    = 2000
	maxCheckDuration = 24 * time.Hour
)

// IntegrityCheckResult is a single blob's verification outcome. DataID,
// Details, and Duration are all capped (500 bytes, 2000 bytes, 24h
// respectively) and Metadata is capped by the Reporter's metadata-entry
// guard.
type IntegrityCheckResult struct {
	DataID    string
	CheckType string
	Status    CheckStatus
	Details   string
	Duration  time.Duration
	Metadata  map[string]string
}

// Statistics aggregates an integrity report. Rates are computed from
// guarded (non-zero, non-negative) inputs to avoid division artifacts.
type Statistics struct {
	TotalChecked   int
	HealthyCount   int
	DegradedCount  int
	CriticalCount  int
	UnknownCount   int
	TotalBytes     int64
	DurationMS     int64
	HealthyPercent float64
	MBPerSecond    float64
}

// Report is the result of a capacity-guarded off-chain integrity sweep.
// Results is unexported so callers can only observe the sweep's findings
// through the defensive copy Results() returns, never mutate the
// Reporter's own slice.
type Report struct {
	ReportID        string
	results         []IntegrityCheckResult
	Stats           Statistics
	Truncated       bool
	Recommendations []string
	CreatedAt       time.Time
}

// Results returns a copy of the report's per-blob findings.
func (r *Report) Results() []IntegrityCheckResult {
	out := make([]IntegrityCheckResult, len(r.results))
	copy(out, r.results)
	return out
}

// MarshalYAML renders Results alongside the report's exported fields; the
// slice itself is unexported so yaml.Marshal needs an explicit shape.
func (r *Report) MarshalYAML() (interface{}, error) {
	return struct {
		ReportID        string
		Results         []IntegrityCheckResult
		Stats           Statistics
		Truncated       bool
		Recommendations []string
		CreatedAt       time.Time
	}{r.ReportID, r.results, r.Stats, r.Truncated, r.Recommendations, r.CreatedAt}, nil
}

// ToYAML renders the report in the YAML format operators use for
// postmortems and ticket attachments.
func (r *Report) ToYAML() ([]byte, error) {
	out, err := yaml.Marshal(r)
	if err != nil {
		return nil, ledgererr.Wrap(ledgererr.InvalidInput, "marshal integrity report", err)
	}
	return out, nil
}

// Reporter runs off-chain integrity sweeps with capacity guards on result
// count and per-result metadata size.
type Reporter struct {
	chain      ChainSource
	blobs      *blobstore.Store
	mirror     Mirror
	maxResults int
	maxMeta    int
}

// NewReporter constructs a Reporter. mirror may be nil.
func NewReporter(chain ChainSource, blobs *blobstore.Store, mirror Mirror, maxResults, maxMetadataEntries int) *Reporter {
	if maxResults <= 0 {
		maxResults = 100000
	}
	if maxMetadataEntries <= 0 {
		maxMetadataEntries = 50
	}
	return &Reporter{chain: chain, blobs: blobs, mirror: mirror, maxResults: maxResults, maxMeta: maxMetadataEntries}
}

const integrityPageSize = 500

// Check scans every block with an off-chain reference, verifying the
// referenced blob's presence, signature, and hash. It observes ctx for
// cancellation between pages, setting Truncated if the caller gives up
// early. Accumulating more than maxResults findings is a hard failure,
// not a silent truncation: the caller must raise the cap or split the
// sweep rather than receive a partial report that looks complete.
func (r *Reporter) Check(ctx context.Context, reportID string) (*Report, error) {
	if len(reportID) > maxReportIDLen {
		return nil, ledgererr.New(ledgererr.InvalidInput, "report id exceeds the 255-byte limit")
	}

	start := time.Now()
	report := &Report{ReportID: reportID, CreatedAt: start.UTC()}

	count, err := r.chain.GetBlockCount(ctx)
	if err != nil {
		return nil, ledgererr.Wrap(ledgererr.StoreFailed, "read block count for integrity check", err)
	}

	var totalBytes int64
	for offset := uint64(0); offset < count; offset += integrityPageSize {
		select {
		case <-ctx.Done():
			report.Truncated = true
			return r.finalize(ctx, report, start, totalBytes), nil
		default:
		}

		blocks, err := r.chain.GetBlocksPaginated(ctx, int(offset), integrityPageSize)
		if err != nil {
			return nil, ledgererr.Wrap(ledgererr.StoreFailed, "page blocks for integrity check", err)
		}

		for _, b := range blocks {
			if len(b.OffChainRef) == 0 {
				continue
			}
			if len(report.results) >= r.maxResults {
				return nil, ledgererr.New(ledgererr.CapacityExceeded,
					fmt.Sprintf("integrity report exceeded the %d-result cap", r.maxResults))
			}

			result, size := r.checkBlock(b)
			report.results = append(report.results, result)
			totalBytes += size
		}
	}

	return r.finalize(ctx, report, start, totalBytes), nil
}

func (r *Reporter) checkBlock(b *database.Block) (IntegrityCheckResult, int64) {
	start := time.Now()
	dataID := truncateString(fmt.Sprintf("block-%d", b.BlockNumber), maxDataIDLen)

	var ref blobstore.Ref
	if err := json.Unmarshal(b.OffChainRef, &ref); err != nil {
		return r.result(dataID, CheckUnknown, "undecodable off-chain reference", start, nil), 0
	}
	dataID = truncateString(fmt.Sprintf("block-%d/%s", b.BlockNumber, ref.FileID), maxDataIDLen)

	signerPub, err := crypto.ParsePublicKeyPEM(b.SignerPublicKey)
	if err != nil {
		return r.result(dataID, CheckCritical, "invalid signer public key", start, nil), 0
	}

	v := r.blobs.Verify(&ref, signerPub)
	status, details := verifyStatus(v)

	return r.result(dataID, status, details, start, map[string]string{"content_type": ref.ContentType}), ref.Size
}

func (r *Reporter) result(dataID string, status CheckStatus, details string, start time.Time, metadata map[string]string) IntegrityCheckResult {
	duration := time.Since(start)
	if duration > maxCheckDuration {
		duration = maxCheckDuration
	}
	return IntegrityCheckResult{
		DataID:    dataID,
		CheckType: offChainBlobCheckType,
		Status:    status,
		Details:   truncateString(details, maxDetailsLen),
		Duration:  duration,
		Metadata:  r.capMetadata(metadata),
	}
}

func truncateString(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}

// verifyStatus maps a blob-level verification outcome onto the report's
// coarser Healthy/Degraded/Critical/Unknown scale: a missing file is
// Critical (the data is gone), a hash or size mismatch is Degraded (the
// data exists but doesn't match what was recorded), and a bad signature
// is Critical since it means the blob cannot be trusted at all.
func verifyStatus(v blobstore.VerifyResult) (CheckStatus, string) {
	switch {
	case v.OK:
		return CheckHealthy, ""
	case v.FileMissing:
		return CheckCritical, "off-chain blob is missing from storage"
	case v.SignatureInvalid:
		return CheckCritical, "off-chain blob signature does not verify"
	case v.HashMismatch:
		return CheckDegraded, "off-chain blob content hash does not match the stored reference"
	case v.SizeMismatch:
		return CheckDegraded, "off-chain blob size does not match the stored reference"
	default:
		return CheckUnknown, "verification returned no definitive outcome"
	}
}

func (r *Reporter) capMetadata(m map[string]string) map[string]string {
	if len(m) <= r.maxMeta {
		return m
	}
	capped := make(map[string]string, r.maxMeta)
	n := 0
	for k, v := range m {
		if n >= r.maxMeta {
			break
		}
		capped[k] = v
		n++
	}
	return capped
}

func (r *Reporter) finalize(ctx context.Context, report *Report, start time.Time, totalBytes int64) *Report {
	stats := Statistics{
		TotalChecked: len(report.results),
		TotalBytes:   totalBytes,
		DurationMS:   time.Since(start).Milliseconds(),
	}
	for _, res := range report.results {
		switch res.Status {
		case CheckHealthy:
			stats.HealthyCount++
		case CheckDegraded:
			stats.DegradedCount++
		case CheckCritical:
			stats.CriticalCount++
		default:
			stats.UnknownCount++
		}
	}
	if stats.TotalChecked > 0 {
		stats.HealthyPercent = 100 * float64(stats.HealthyCount) / float64(stats.TotalChecked)
	}
	if stats.DurationMS > 0 {
		seconds := float64(stats.DurationMS) / 1000
		stats.MBPerSecond = (float64(stats.TotalBytes) / (1024 * 1024)) / seconds
	}
	report.Stats = stats
	report.Recommendations = recommend(stats, report.Truncated)

	if r.mirror != nil {
		_ = r.mirror.MirrorIntegrityReport(ctx, firestore.IntegritySummarySnapshot{
			ReportID:      report.ReportID,
			TotalChecked:  stats.TotalChecked,
			HealthyCount:  stats.HealthyCount,
			DegradedCount: stats.DegradedCount,
			CriticalCount: stats.CriticalCount,
			UnknownCount:  stats.UnknownCount,
			TotalBytes:    stats.TotalBytes,
			DurationMS:    stats.DurationMS,
			CreatedAt:     report.CreatedAt,
		})
	}

	return report
}

// recommend produces deterministic, human-actionable recommendations from
// a report's aggregate statistics.
func recommend(stats Statistics, truncated bool) []string {
	var recs []string
	if stats.CriticalCount > 0 {
		recs = append(recs, "restore or re-sign the off-chain blobs flagged Critical before the next checkpoint")
	}
	if stats.DegradedCount > 0 {
		recs = append(recs, "investigate hash or size mismatches; do not trust affected blocks until resolved")
	}
	if truncated {
		recs = append(recs, "the sweep was cancelled before covering every block; schedule a follow-up sweep to cover the remaining blocks")
	}
	if len(recs) == 0 && stats.TotalChecked > 0 {
		recs = append(recs, "no action required: all checked off-chain blobs are healthy")
	}
	return recs
}
