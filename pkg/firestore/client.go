// Package firestore provides a best-effort, optional mirror of recovery
// checkpoints and off-chain integrity reports into Google Cloud Firestore.
// It is never load-bearing: every write failure is logged and swallowed so
// that a Firestore outage can never block ledger operations, and when
// disabled every method is a no-op.
package firestore

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"
	"sync"
	"time"

	gcpfirestore "cloud.google.com/go/firestore"
	firebase "firebase.google.com/go/v4"
	"google.golang.org/api/option"
)

// Client wraps the Firestore client with the ledger's checkpoint-mirroring
// functionality.
type Client struct {
	app       *firebase.App
	firestore *gcpfirestore.Client
	projectID string
	logger    *log.Logger
	enabled   bool
	mu        sync.RWMutex
}

// ClientConfig holds configuration for the Firestore client.
type ClientConfig struct {
	// ProjectID is the Firebase/GCP project ID.
	ProjectID string

	// CredentialsFile is the path to the service account JSON file. If
	// empty, uses GOOGLE_APPLICATION_CREDENTIALS.
	CredentialsFile string

	// Enabled controls whether Firestore operations are actually
	// performed. If false, all operations are no-ops.
	Enabled bool

	// Logger for client operations.
	Logger *log.Logger
}

// DefaultConfig returns a ClientConfig with values from environment
// variables, matching the config package's own env var names.
func DefaultConfig() *ClientConfig {
	return &ClientConfig{
		ProjectID:       os.Getenv("FIREBASE_PROJECT_ID"),
		CredentialsFile: os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"),
		Enabled:         getEnvBool("FIRESTORE_ENABLED", false),
		Logger:          log.New(os.Stdout, "[firestore] ", log.LstdFlags),
	}
}

// NewClient creates a new Firestore client. When cfg.Enabled is false the
// returned client is a no-op stand-in; callers need not branch on it.
func NewClient(ctx context.Context, cfg *ClientConfig) (*Client, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.Logger == nil {
		cfg.Logger = log.New(os.Stdout, "[firestore] ", log.LstdFlags)
	}

	client := &Client{
		projectID: cfg.ProjectID,
		logger:    cfg.Logger,
		enabled:   cfg.Enabled,
	}

	if !cfg.Enabled {
		cfg.Logger.Println("firestore mirror disabled - running in no-op mode")
		return client, nil
	}

	if cfg.ProjectID == "" {
		return nil, fmt.Errorf("project ID is required when the firestore mirror is enabled")
	}

	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}

	app, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: cfg.ProjectID}, opts...)
	if err != nil {
		return nil, fmt.Errorf("initialize firebase app: %w", err)
	}

	firestoreClient, err := app.Firestore(ctx)
	if err != nil {
		return nil, fmt.Errorf("create firestore client: %w", err)
	}

	client.app = app
	client.firestore = firestoreClient

	cfg.Logger.Printf("firestore mirror initialized for project: %s", cfg.ProjectID)
	return client, nil
}

// Close closes the underlying Firestore client, if any.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.firestore != nil {
		return c.firestore.Close()
	}
	return nil
}

// IsEnabled reports whether the mirror is actively writing to Firestore.
func (c *Client) IsEnabled() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.enabled
}

// CheckpointSnapshot is the subset of a recovery checkpoint mirrored to
// Firestore. It is a plain value type so pkg/recovery never needs to
// import this package's dependencies to build one.
type CheckpointSnapshot struct {
	CheckpointID    string
	Type            string
	Description     string
	LastBlockNumber uint64
	LastBlockHash   string
	TotalBlocks     uint64
	DataSize        int64
	Status          string
	CreatedAt       time.Time
}

// IntegritySummarySnapshot is the subset of an off-chain integrity report
// mirrored to Firestore: aggregate counts, never the per-blob details.
type IntegritySummarySnapshot struct {
	ReportID      string
	TotalChecked  int
	HealthyCount  int
	DegradedCount int
	CriticalCount int
	UnknownCount  int
	TotalBytes    int64
	DurationMS    int64
	CreatedAt     time.Time
}

// MirrorCheckpoint best-effort writes a checkpoint summary to Firestore.
// A write failure is logged and returned as nil: the mirror never blocks
// or fails the checkpoint operation that triggered it.
func (c *Client) MirrorCheckpoint(ctx context.Context, snap CheckpointSnapshot) error {
	if !c.IsEnabled() {
		return nil
	}
	if c.firestore == nil {
		return nil
	}

	docPath := fmt.Sprintf("checkpoints/%s", snap.CheckpointID)
	_, err := c.firestore.Doc(docPath).Set(ctx, map[string]interface{}{
		"type":            snap.Type,
		"description":     snap.Description,
		"lastBlockNumber": snap.LastBlockNumber,
		"lastBlockHash":   snap.LastBlockHash,
		"totalBlocks":     snap.TotalBlocks,
		"dataSize":        snap.DataSize,
		"status":          snap.Status,
		"createdAt":       snap.CreatedAt,
	})
	if err != nil {
		c.logger.Printf("mirror checkpoint %s failed (non-fatal): %v", snap.CheckpointID, err)
		return nil
	}
	return nil
}

// MirrorIntegrityReport best-effort writes an integrity report summary to
// Firestore.
func (c *Client) MirrorIntegrityReport(ctx context.Context, snap IntegritySummarySnapshot) error {
	if !c.IsEnabled() {
		return nil
	}
	if c.firestore == nil {
		return nil
	}

	docPath := fmt.Sprintf("integrityReports/%s", snap.ReportID)
	_, err := c.firestore.Doc(docPath).Set(ctx, map[string]interface{}{
		"totalChecked":  snap.TotalChecked,
		"healthyCount":  snap.HealthyCount,
		"degradedCount": snap.DegradedCount,
		"criticalCount": snap.CriticalCount,
		"unknownCount":  snap.UnknownCount,
		"totalBytes":    snap.TotalBytes,
		"durationMs":    snap.DurationMS,
		"createdAt":     snap.CreatedAt,
	})
	if err != nil {
		c.logger.Printf("mirror integrity report %s failed (non-fatal): %v", snap.ReportID, err)
		return nil
	}
	return nil
}

// LatestCheckpointID returns the most recently mirrored checkpoint's ID,
// used only as an operator-facing cross-check against the primary
// Postgres record; never a source of truth.
func (c *Client) LatestCheckpointID(ctx context.Context) (string, error) {
	if !c.IsEnabled() || c.firestore == nil {
		return "", nil
	}

	query := c.firestore.Collection("checkpoints").OrderBy("createdAt", gcpfirestore.Desc).Limit(1)
	docs, err := query.Documents(ctx).GetAll()
	if err != nil {
		return "", fmt.Errorf("query latest checkpoint: %w", err)
	}
	if len(docs) == 0 {
		return "", nil
	}
	return docs[0].Ref.ID, nil
}

// Health checks Firestore connectivity. A disabled mirror is always
// healthy.
func (c *Client) Health(ctx context.Context) error {
	if !c.IsEnabled() {
		return nil
	}
	if c.firestore == nil {
		return fmt.Errorf("firestore client not initialized")
	}
	_, err := c.firestore.Collection("_health_check").Doc("ping").Get(ctx)
	if err != nil && !strings.Contains(err.Error(), "NotFound") {
		return fmt.Errorf("firestore health check: %w", err)
	}
	return nil
}

func getEnvBool(key string, defaultValue bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return defaultValue
	}
	return val == "true" || val == "1" || val == "yes"
}
