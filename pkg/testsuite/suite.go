package testsuite

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kristianrpo/connectivity-microservice/pkg/db"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/suite"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/kafka"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/modules/rabbitmq"
	"github.com/testcontainers/testcontainers-go/modules/redis"
	"github.com/testcontainers/testcontainers-go/wait"
)

type Options struct {
	Postgres bool
	RabbitMQ bool
	Redis    bool
	Kafka    bool
}

type BaseSuite struct {
	suite.Suite
	PgContainer     *postgres.PostgresContainer
	RabbitContainer *rabbitmq.RabbitMQContainer
	RedisContainer  *redis.RedisContainer
	KafkaContainer  *kafka.KafkaContainer
	DbPool          *pgxpool.Pool
	DatabaseURL     string
	AmqpURL         string
	RedisClient     *goredis.Client
	KafkaBrokers    []string
	Ctx             context.Context
}

func (s *BaseSuite) SetupInfrastructure(opts Options) {
	s.Ctx = context.Background()

	if opts.Postgres {
		s.setupPostgres()
	}
	if opts.RabbitMQ {
		s.setupRabbitMQ()
	}
	if opts.Redis {
		s.setupRedis()
	}
	if opts.Kafka {
		s.setupKafka()
	}
}

func (s *BaseSuite) setupPostgres() {
	var err error
	s.PgContainer, err = postgres.Run(
		s.Ctx,
		"postgres:17-alpine",
		postgres.WithDatabase("test_db"),
		postgres.WithUsername("test_user"),
		postgres.WithPassword("test_password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	s.Require().NoError(err)

	s.DatabaseURL, err = s.PgContainer.ConnectionString(s.Ctx, "sslmode=disable")
	s.Require().NoError(err)

	s.Require().NoError(db.Migrate(s.DatabaseURL))

	s.DbPool, err = pgxpool.New(s.Ctx, s.DatabaseURL)
	s.Require().NoError(err)
}

func (s *BaseSuite) setupRabbitMQ() {
	var err error
	s.RabbitContainer, err = rabbitmq.Run(
		s.Ctx,
		"rabbitmq:3.13-management-alpine",
		rabbitmq.WithAdminUsername("guest"),
		rabbitmq.WithAdminPassword("guest"),
	)
	s.Require().NoError(err)

	s.AmqpURL, err = s.RabbitContainer.AmqpURL(s.Ctx)
	s.Require().NoError(err)
}

func (s *BaseSuite) setupRedis() {
	var err error
	s.RedisContainer, err = redis.Run(s.Ctx, "redis:7-alpine")
	s.Require().NoError(err)

	connStr, err := s.RedisContainer.ConnectionString(s.Ctx)
	s.Require().NoError(err)

	opts, err := goredis.ParseURL(connStr)
	s.Require().NoError(err)

	s.RedisClient = goredis.NewClient(opts)
	s.Require().NoError(s.RedisClient.Ping(s.Ctx).Err())
}

func (s *BaseSuite) setupKafka() {
	var err error
	s.KafkaContainer, err = kafka.Run(
		s.Ctx,
		"confluentinc/confluent-local:7.5.0",
		kafka.WithClusterID("test-cluster"),
	)
	s.Require().NoError(err)

	s.KafkaBrokers, err = s.KafkaContainer.Brokers(s.Ctx)
	s.Require().NoError(err)
}

func (s *BaseSuite) TearDownInfrastructure() {
	if s.DbPool != nil {
		s.DbPool.Close()
	}
	if s.RedisClient != nil {
		_ = s.RedisClient.Close()
	}

	containers := map[string]testcontainers.Container{}
	if s.PgContainer != nil {
		containers["postgres"] = s.PgContainer
	}
	if s.RabbitContainer != nil {
		containers["rabbitmq"] = s.RabbitContainer
	}
	if s.RedisContainer != nil {
		containers["redis"] = s.RedisContainer
	}
	if s.KafkaContainer != nil {
		containers["kafka"] = s.KafkaContainer
	}

	for name, c := range containers {
		if err := testcontainers.TerminateContainer(c); err != nil {
			log.Printf("Failed to terminate %s container: %v", name, err)
		}
	}
}

func (s *BaseSuite) TruncateTable(tableName string) {
	_, err := s.DbPool.Exec(s.Ctx, fmt.Sprintf("TRUNCATE %s RESTART IDENTITY CASCADE", tableName))
	s.Require().NoError(err)
}
