//go:build integration

// Package test runs the catalog against real Postgres and Kafka containers.
//
// The suite needs a Docker daemon and runs with
//
//	go test -tags integration ./test/...
package test

import (
	"context"
	"fmt"
	"net/http/httptest"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/suite"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/relabs-tech/geocatalog/core/access"
	"github.com/relabs-tech/geocatalog/core/backend"
	"github.com/relabs-tech/geocatalog/core/client"
	"github.com/relabs-tech/geocatalog/core/config"
	"github.com/relabs-tech/geocatalog/core/csql"
	"github.com/relabs-tech/geocatalog/core/kss"
	"github.com/relabs-tech/geocatalog/core/outbox"
	"github.com/relabs-tech/geocatalog/core/store"
)

const (
	adminEmail    = "admin@example.com"
	adminPassword = "integration-secret"
)

// IntegrationTestSuite starts Postgres, Zookeeper and Kafka once and serves the backend
// over HTTP against them
type IntegrationTestSuite struct {
	suite.Suite

	*backend.Backend
	server *httptest.Server
	config *config.Config

	dbConn    *csql.DB
	router    *mux.Router
	snapshots kss.Driver

	network           testcontainers.Network
	containers        []testcontainers.Container
	kafkaConn         *kafka.Conn
	kafkaAddr         string
	postgresAddr      string
	postgresUser      string
	postgresPassword  string
	postgresDB        string
	adminClient       client.Client
	anonymousClient   client.Client
}

func (s *IntegrationTestSuite) createTopic(topic string, numPartitions int) error {
	if s.kafkaConn == nil {
		return fmt.Errorf("kafka connection is not established")
	}
	err := s.kafkaConn.CreateTopics(kafka.TopicConfig{
		Topic:             topic,
		NumPartitions:     numPartitions,
		ReplicationFactor: 1,
	})
	if err != nil {
		return fmt.Errorf("failed to create topic %s: %w", topic, err)
	}
	return nil
}

func (s *IntegrationTestSuite) deleteTopic(topic string) error {
	if s.kafkaConn == nil {
		return fmt.Errorf("kafka connection is not established")
	}
	if err := s.kafkaConn.DeleteTopics(topic); err != nil {
		return fmt.Errorf("failed to delete topic %s: %w", topic, err)
	}
	return nil
}

func (s *IntegrationTestSuite) start(ctx context.Context, req testcontainers.ContainerRequest) testcontainers.Container {
	c, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	s.Require().NoError(err)
	s.containers = append(s.containers, c)
	return c
}

func (s *IntegrationTestSuite) SetupSuite() {
	ctx := context.Background()

	// Create a shared Docker network for Kafka and Zookeeper
	networkName := fmt.Sprintf("geocatalog-it_%d", time.Now().Unix())
	network, err := testcontainers.GenericNetwork(ctx, testcontainers.GenericNetworkRequest{
		NetworkRequest: testcontainers.NetworkRequest{
			Name:           networkName,
			CheckDuplicate: true,
		},
	})
	s.Require().NoError(err)
	s.network = network

	s.postgresUser = "testuser"
	s.postgresPassword = "testpass"
	s.postgresDB = "testdb"
	pgC := s.start(ctx, testcontainers.ContainerRequest{
		Image:        "postgres:15",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     s.postgresUser,
			"POSTGRES_PASSWORD": s.postgresPassword,
			"POSTGRES_DB":       s.postgresDB,
		},
		Networks:       []string{networkName},
		NetworkAliases: map[string][]string{networkName: {"postgres"}},
		WaitingFor:     wait.ForLog("database system is ready to accept connections").WithOccurrence(2),
	})
	pgHost, err := pgC.Host(ctx)
	s.Require().NoError(err)
	pgPort, err := pgC.MappedPort(ctx, "5432")
	s.Require().NoError(err)
	s.postgresAddr = fmt.Sprintf("%s:%s", pgHost, pgPort.Port())

	s.start(ctx, testcontainers.ContainerRequest{
		Image:        "confluentinc/cp-zookeeper:7.5.0",
		ExposedPorts: []string{"2181/tcp"},
		Env: map[string]string{
			"ZOOKEEPER_CLIENT_PORT": "2181",
			"ZOOKEEPER_TICK_TIME":   "2000",
		},
		WaitingFor:     wait.ForListeningPort("2181/tcp"),
		Networks:       []string{networkName},
		NetworkAliases: map[string][]string{networkName: {"zookeeper"}},
	})
	kafkaC := s.start(ctx, testcontainers.ContainerRequest{
		Image:        "confluentinc/cp-kafka:7.5.0",
		ExposedPorts: []string{"9092:9092/tcp"},
		Env: map[string]string{
			"KAFKA_BROKER_ID":                        "1",
			"KAFKA_ZOOKEEPER_CONNECT":                "zookeeper:2181",
			"KAFKA_LISTENERS":                        "PLAINTEXT://0.0.0.0:9092,INTERNAL://0.0.0.0:9093",
			"KAFKA_ADVERTISED_LISTENERS":             "PLAINTEXT://localhost:9092,INTERNAL://kafka:9093",
			"KAFKA_LISTENER_SECURITY_PROTOCOL_MAP":   "PLAINTEXT:PLAINTEXT,INTERNAL:PLAINTEXT",
			"KAFKA_INTER_BROKER_LISTENER_NAME":       "INTERNAL",
			"KAFKA_OFFSETS_TOPIC_REPLICATION_FACTOR": "1",
		},
		WaitingFor:     wait.ForLog("started (kafka.server.KafkaServer)"),
		Networks:       []string{networkName},
		NetworkAliases: map[string][]string{networkName: {"kafka"}},
	})
	kafkaHost, err := kafkaC.Host(ctx)
	s.Require().NoError(err)
	kafkaPort, err := kafkaC.MappedPort(ctx, "9092")
	s.Require().NoError(err)
	s.kafkaAddr = fmt.Sprintf("%s:%s", kafkaHost, kafkaPort.Port())
	s.kafkaConn, err = kafka.Dial("tcp", s.kafkaAddr)
	s.Require().NoError(err)

	s.config = &config.Config{
		DatabaseDriver:         config.DriverPostgres,
		Postgres:               fmt.Sprintf("host=%s port=%s user=%s dbname=%s sslmode=disable", pgHost, pgPort.Port(), s.postgresUser, s.postgresDB),
		PostgresPassword:       s.postgresPassword,
		DatabaseSchema:         "geocatalog_it",
		TokenSigningKey:        strings.Repeat("k", 32),
		AccessTokenTTL:         15 * time.Minute,
		RefreshTokenTTL:        time.Hour,
		SessionCookie:          "Geocatalog-JWT",
		CORSOrigins:            []string{"*"},
		PageSize:               20,
		KafkaBrokers:           []string{s.kafkaAddr},
		BootstrapAdminEmail:    adminEmail,
		BootstrapAdminPassword: adminPassword,
	}
	s.Require().NoError(s.config.Validate())

	s.dbConn, err = csql.Open(ctx, s.config.DatabaseDriver, s.config.DSN(), s.config.DatabaseSchema)
	s.Require().NoError(err)
	s.Require().NoError(s.dbConn.ClearSchema(ctx))

	s.snapshots, err = kss.New(ctx, kss.Configuration{
		DriverType:         kss.DriverTypeLocal,
		LocalConfiguration: &kss.LocalConfiguration{BasePath: s.T().TempDir()},
	})
	s.Require().NoError(err)

	s.router = mux.NewRouter()
	s.Backend = backend.New(&backend.Builder{
		Config:       s.config,
		DB:           s.dbConn,
		Router:       s.router,
		KSS:          s.snapshots,
		UpdateSchema: true,
	})
	s.server = httptest.NewServer(s.router)

	s.anonymousClient = client.NewWithURL(s.server.URL)
	var pair access.TokenPair
	_, err = s.anonymousClient.RawPost("/api/token/", map[string]string{
		"email": adminEmail, "password": adminPassword,
	}, &pair)
	s.Require().NoError(err)
	s.adminClient = s.anonymousClient.WithToken(pair.Access)
}

func (s *IntegrationTestSuite) TearDownSuite() {
	ctx := context.Background()
	if s.server != nil {
		s.server.Close()
	}
	if s.kafkaConn != nil {
		s.kafkaConn.Close()
	}
	if s.dbConn != nil {
		s.dbConn.Close()
	}
	// stop in reverse start order, kafka before zookeeper
	for i := len(s.containers) - 1; i >= 0; i-- {
		s.Require().NoError(s.containers[i].Terminate(ctx))
	}
	if s.network != nil {
		s.Require().NoError(s.network.Remove(ctx))
	}
}

// drainTo relays all pending change events into topic
func (s *IntegrationTestSuite) drainTo(ctx context.Context, topic string) int {
	sink := outbox.NewKafkaSink([]string{s.kafkaAddr}, topic)
	defer sink.Close()
	relay := &outbox.Relay{Store: store.New(s.dbConn), Sink: sink, BatchSize: 50, Metrics: s.Backend.Metrics()}
	n, err := relay.Drain(ctx)
	s.Require().NoError(err)
	return n
}
