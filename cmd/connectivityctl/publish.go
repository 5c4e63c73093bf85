package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/kristianrpo/connectivity-microservice/internal/domain"
	"github.com/kristianrpo/connectivity-microservice/pkg/broker"
	"github.com/kristianrpo/connectivity-microservice/pkg/config"
	"github.com/kristianrpo/connectivity-microservice/pkg/kafka"
	"github.com/kristianrpo/connectivity-microservice/pkg/rabbitmq"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func publishCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "publish",
		Short: "Publish sample inbound events",
	}

	cmd.PersistentFlags().Int64("citizen", 1234567890, "idCitizen of the sample event")
	cmd.PersistentFlags().String("message-id", "", "messageId to reuse; a fresh uuid when empty")

	cmd.AddCommand(publishAuthCmd())
	cmd.AddCommand(publishDocumentCmd())

	return cmd
}

func publishAuthCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Publish an auth.user.registered event",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			citizen, _ := cmd.Flags().GetInt64("citizen")
			name, _ := cmd.Flags().GetString("name")
			email, _ := cmd.Flags().GetString("email")

			event := domain.UserRegisteredEvent{
				MessageID: messageID(cmd),
				IDCitizen: citizen,
				Name:      name,
				Email:     email,
				Timestamp: time.Now().UTC().Format(time.RFC3339),
			}

			return publishEvent(cmd, cfg, cfg.Pipelines.Registration.RoutingKey, event.MessageID, event)
		},
	}

	cmd.Flags().String("name", "Carlos Andres Caro", "citizen name")
	cmd.Flags().String("email", "carlos.caro@example.com", "citizen email")

	return cmd
}

func publishDocumentCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "document",
		Short: "Publish a document.authentication.requested event",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			citizen, _ := cmd.Flags().GetInt64("citizen")
			url, _ := cmd.Flags().GetString("url")
			title, _ := cmd.Flags().GetString("title")

			event := domain.DocumentAuthenticationRequestedEvent{
				MessageID:     messageID(cmd),
				DocumentID:    uuid.NewString(),
				IDCitizen:     citizen,
				URLDocument:   url,
				DocumentTitle: title,
			}

			return publishEvent(cmd, cfg, cfg.Pipelines.Document.RoutingKey, event.MessageID, event)
		},
	}

	cmd.Flags().String("url", "https://example-bucket.s3.amazonaws.com/documents/diploma.pdf", "document URL")
	cmd.Flags().String("title", "Diploma Grado", "document title")

	return cmd
}

func messageID(cmd *cobra.Command) string {
	id, _ := cmd.Flags().GetString("message-id")
	if id == "" {
		return uuid.NewString()
	}
	return id
}

func publishEvent(cmd *cobra.Command, cfg *config.Config, routingKey, id string, event any) error {
	body, err := json.Marshal(event)
	if err != nil {
		return err
	}

	logger := zap.NewNop()

	var out broker.Publisher
	if cfg.Broker.Driver == config.DriverKafka {
		out, err = kafka.NewProducer(cfg.Broker.KafkaBrokers, logger)
	} else {
		out, err = rabbitmq.NewPublisher(rabbitmq.Config{
			URL:            cfg.Broker.URL,
			Exchange:       cfg.Broker.Exchange,
			Heartbeat:      cfg.Broker.Heartbeat,
			ConnectionName: "connectivityctl",
		}, logger)
	}
	if err != nil {
		return err
	}
	defer out.Close()

	if err := out.Publish(cmd.Context(), broker.Message{
		RoutingKey: routingKey,
		MessageID:  id,
		Body:       body,
	}); err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "published %s to %s\n%s\n", id, routingKey, body)
	return nil
}
