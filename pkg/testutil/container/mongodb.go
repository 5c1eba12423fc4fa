// Package container starts real dependencies for integration tests.
package container

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/mongodb"
	"go.mongodb.org/mongo-driver/v2/mongo"
	mongooptions "go.mongodb.org/mongo-driver/v2/mongo/options"
)

const (
	defaultImage      = "mongo:7"
	defaultReplicaSet = "rs0"
)

// MongoDBContainer wraps the testcontainers MongoDB container with a client.
type MongoDBContainer struct {
	Container        *mongodb.MongoDBContainer
	Client           *mongo.Client
	ConnectionString string
}

// MongoDBContainerOption configures the MongoDB container.
type MongoDBContainerOption func(*mongoDBContainerOptions)

type mongoDBContainerOptions struct {
	image      string
	replicaSet string
}

// WithImage sets the MongoDB image to use.
func WithImage(image string) MongoDBContainerOption {
	return func(o *mongoDBContainerOptions) {
		o.image = image
	}
}

// WithReplicaSet sets the replica set name. Transactions need a replica set,
// so one named "rs0" is used unless WithoutReplicaSet is given.
func WithReplicaSet(name string) MongoDBContainerOption {
	return func(o *mongoDBContainerOptions) {
		o.replicaSet = name
	}
}

// WithoutReplicaSet starts a standalone server.
func WithoutReplicaSet() MongoDBContainerOption {
	return func(o *mongoDBContainerOptions) {
		o.replicaSet = ""
	}
}

// StartMongoDBContainer starts a MongoDB container and returns a wrapper with a connected client.
func StartMongoDBContainer(ctx context.Context, opts ...MongoDBContainerOption) (*MongoDBContainer, error) {
	options := &mongoDBContainerOptions{
		image:      defaultImage,
		replicaSet: defaultReplicaSet,
	}
	for _, opt := range opts {
		opt(options)
	}

	var tcOpts []testcontainers.ContainerCustomizer
	if options.replicaSet != "" {
		tcOpts = append(tcOpts, mongodb.WithReplicaSet(options.replicaSet))
	}

	mongoContainer, err := mongodb.Run(ctx, options.image, tcOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to start mongodb container: %w", err)
	}

	connectionString, err := mongoContainer.ConnectionString(ctx)
	if err != nil {
		_ = testcontainers.TerminateContainer(mongoContainer)
		return nil, fmt.Errorf("failed to get connection string: %w", err)
	}

	client, err := mongo.Connect(mongooptions.Client().ApplyURI(connectionString))
	if err != nil {
		_ = testcontainers.TerminateContainer(mongoContainer)
		return nil, fmt.Errorf("failed to connect to mongodb: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		_ = testcontainers.TerminateContainer(mongoContainer)
		return nil, fmt.Errorf("failed to ping mongodb: %w", err)
	}

	return &MongoDBContainer{
		Container:        mongoContainer,
		Client:           client,
		ConnectionString: connectionString,
	}, nil
}

// IsolatedDatabase returns a fresh database name starting with prefix.
// The database is dropped when t finishes.
func (m *MongoDBContainer) IsolatedDatabase(t testing.TB, prefix string) string {
	t.Helper()
	name := prefix + "_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
	t.Cleanup(func() { _ = m.Client.Database(name).Drop(context.Background()) })
	return name
}

// Terminate disconnects the client and terminates the container.
func (m *MongoDBContainer) Terminate(ctx context.Context) error {
	var errs []error

	if m.Client != nil {
		if err := m.Client.Disconnect(ctx); err != nil {
			errs = append(errs, fmt.Errorf("failed to disconnect from mongodb: %w", err))
		}
	}

	if m.Container != nil {
		if err := testcontainers.TerminateContainer(m.Container); err != nil {
			errs = append(errs, fmt.Errorf("failed to terminate mongodb container: %w", err))
		}
	}

	return errors.Join(errs...)
}

var shared struct {
	once      sync.Once
	container *MongoDBContainer
	err       error
}

// SharedMongoDB returns a replica-set container shared by every test in the
// binary. The test is skipped in short mode or when Docker is unavailable.
// Call TerminateShared from TestMain.
func SharedMongoDB(t testing.TB) *MongoDBContainer {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping mongo integration test in short mode")
	}
	shared.once.Do(func() {
		shared.container, shared.err = StartMongoDBContainer(context.Background())
	})
	if shared.err != nil {
		t.Skipf("mongo container unavailable: %v", shared.err)
	}
	return shared.container
}

// TerminateShared stops the container started by SharedMongoDB, if any.
func TerminateShared() {
	if shared.container != nil {
		_ = shared.container.Terminate(context.Background())
	}
}
