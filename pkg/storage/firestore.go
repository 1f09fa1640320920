package storage

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/levenlabs/go-lflag"
	"github.com/raterudder/idracpower/pkg/log"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// FirestoreProvider implements the Database interface using Google Cloud Firestore.
// Each device is a document in the "devices" collection.
type FirestoreProvider struct {
	client    *firestore.Client
	projectID string
	database  string
}

// configuredFirestore sets up the Firestore provider.
// It registers flags for configuration.
func configuredFirestore() *FirestoreProvider {
	projectID := lflag.String("firestore-project-id", "", "Google Cloud Project ID for Firestore")
	database := lflag.String("firestore-database", "", "Google Cloud Firestore Database")
	emulator := lflag.String("firestore-emulator", "", "Use Firestore emulator")

	f := &FirestoreProvider{}

	lflag.Do(func() {
		f.projectID = *projectID
		f.database = *database

		// set this because that's how firestore client expects it
		if *emulator != "" {
			os.Setenv("FIRESTORE_EMULATOR_HOST", *emulator)
		}
	})

	return f
}

// Validate checks if the provider is properly configured.
func (f *FirestoreProvider) Validate() error {
	// an empty project ID is detected from the environment
	return nil
}

// Init initializes the Firestore client.
// This must be called before using the provider methods.
func (f *FirestoreProvider) Init(ctx context.Context) error {
	projectID := f.projectID
	if projectID == "" {
		projectID = firestore.DetectProjectID
	}
	database := f.database
	if database == "" {
		database = firestore.DefaultDatabaseID
	}
	client, err := firestore.NewClientWithDatabase(ctx, projectID, database)
	if err != nil {
		return fmt.Errorf("failed to create firestore client (project=%s, database=%s): %w", projectID, database, err)
	}
	f.client = client
	return nil
}

// Close closes the Firestore client connection.
func (f *FirestoreProvider) Close() error {
	if f.client != nil {
		return f.client.Close()
	}
	return nil
}

func (f *FirestoreProvider) deviceDoc(deviceID string) (*firestore.DocumentRef, error) {
	if deviceID == "" {
		return nil, fmt.Errorf("deviceID cannot be empty")
	}
	return f.client.Collection("devices").Doc(deviceID), nil
}

// GetEnergyTotal reads the "totalWattHours" field of the device document.
func (f *FirestoreProvider) GetEnergyTotal(ctx context.Context, deviceID string) (float64, error) {
	ref, err := f.deviceDoc(deviceID)
	if err != nil {
		return 0, err
	}
	doc, err := ref.Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return 0, ErrNotFound
		}
		return 0, fmt.Errorf("failed to fetch device doc: %w", err)
	}

	val, err := doc.DataAt("totalWattHours")
	if err != nil {
		log.Ctx(ctx).WarnContext(ctx, "device doc missing total", slog.String("deviceID", deviceID))
		return 0, fmt.Errorf("device document missing 'totalWattHours' field: %w", err)
	}

	// firestore hands back whole numbers as int64
	switch v := val.(type) {
	case float64:
		return v, nil
	case int64:
		return float64(v), nil
	default:
		log.Ctx(ctx).WarnContext(ctx, "device doc total not a number", slog.String("deviceID", deviceID), slog.Any("value", val))
		return 0, fmt.Errorf("device document 'totalWattHours' field is %T, not a number", val)
	}
}

// SetEnergyTotal overwrites the device document with the new total.
func (f *FirestoreProvider) SetEnergyTotal(ctx context.Context, deviceID string, totalWattHours float64, ts time.Time) error {
	ref, err := f.deviceDoc(deviceID)
	if err != nil {
		return err
	}
	_, err = ref.Set(ctx, map[string]interface{}{
		"totalWattHours": totalWattHours,
		"updated":        ts,
	})
	if err != nil {
		return fmt.Errorf("failed to save energy total: %w", err)
	}
	return nil
}
