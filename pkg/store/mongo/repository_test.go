package mongo

import (
	"context"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	mongodriver "go.mongodb.org/mongo-driver/v2/mongo"

	"github.com/ReaganKibet/chatbot-trial/pkg/metrics"
	"github.com/ReaganKibet/chatbot-trial/pkg/models"
	"github.com/ReaganKibet/chatbot-trial/pkg/store"
	"github.com/ReaganKibet/chatbot-trial/pkg/store/storetest"
)

var (
	testMongoClient    *mongodriver.Client
	testMongoContainer testcontainers.Container
	skipMongoTests     bool
)

func TestMain(m *testing.M) {
	ctx := context.Background()

	var containerErr error
	func() {
		defer func() {
			if r := recover(); r != nil {
				containerErr = fmt.Errorf("docker not available: %v", r)
			}
		}()
		req := testcontainers.ContainerRequest{
			Image:        "mongo:7",
			ExposedPorts: []string{"27017/tcp"},
			WaitingFor:   wait.ForLog("Waiting for connections"),
			Tmpfs:        map[string]string{"/data/db": "rw"},
		}
		testMongoContainer, containerErr = testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
			ContainerRequest: req,
			Started:          true,
		})
	}()

	if containerErr != nil {
		fmt.Printf("Docker not available, MongoDB tests will be skipped: %v\n", containerErr)
		skipMongoTests = true
	} else if err := connectTestMongo(ctx); err != nil {
		fmt.Printf("Failed to connect to MongoDB container: %v\n", err)
		skipMongoTests = true
	}

	code := m.Run()

	if testMongoClient != nil {
		_ = testMongoClient.Disconnect(ctx)
	}
	if testMongoContainer != nil {
		_ = testMongoContainer.Terminate(ctx)
	}

	os.Exit(code)
}

func connectTestMongo(ctx context.Context) error {
	host, err := testMongoContainer.Host(ctx)
	if err != nil {
		return err
	}
	port, err := testMongoContainer.MappedPort(ctx, "27017")
	if err != nil {
		return err
	}
	testMongoClient, err = Connect(ctx, fmt.Sprintf("mongodb://%s:%s", host, port.Port()))
	return err
}

// newTestRepository returns a repository on a fresh database, or skips without Docker
func newTestRepository(t *testing.T) *Repository {
	t.Helper()
	if skipMongoTests {
		t.Skip("Docker not available, skipping MongoDB integration test")
	}

	name := "chatbot_test_" + strings.ReplaceAll(uuid.New().String(), "-", "")[:12]
	repo, err := New(Options{
		Client:   testMongoClient,
		Database: name,
		Location: time.UTC,
		Metrics:  metrics.NewMetrics(prometheus.NewRegistry()),
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = testMongoClient.Database(name).Drop(context.Background())
	})
	return repo
}

func TestRepository(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Repository {
		return newTestRepository(t)
	})
}

func TestNew_Validation(t *testing.T) {
	_, err := New(Options{Database: "x"})
	assert.EqualError(t, err, "mongo client is required")
}

func TestRepository_SaveReportRoundTrip(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	report := models.Report{
		Day:   "2024-05-01",
		Stats: store.EmptyStats("2024-05-01"),
		Queue: map[models.JobKind]map[models.JobState]int64{
			models.JobProcessMessage: {models.JobCompleted: 12, models.JobFailed: 1},
		},
		GeneratedAt: time.Date(2024, 5, 2, 6, 0, 0, 0, time.UTC),
	}
	require.NoError(t, repo.SaveReport(ctx, report))

	var stored models.Report
	require.NoError(t, repo.reports.FindOne(ctx, map[string]string{"day": "2024-05-01"}).Decode(&stored))
	assert.Equal(t, int64(12), stored.Queue[models.JobProcessMessage][models.JobCompleted])
	assert.True(t, stored.GeneratedAt.Equal(report.GeneratedAt))
}
