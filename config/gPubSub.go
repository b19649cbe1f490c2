package config

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"google.golang.org/api/option"
)

// StockMovementMessage is the wire shape accepted by the external
// audit/movement sink. Delivery is at-least-once; consumers dedupe on
// MovementKey.
type StockMovementMessage struct {
	ID            int             `json:"id"`
	BusinessId    string          `json:"business_id"`
	MovementKey   string          `json:"movement_key"`
	PartId        int             `json:"part_id"`
	LocationCode  string          `json:"location_code"`
	MovementType  string          `json:"movement_type"`
	Qty           decimal.Decimal `json:"qty"`
	ReferenceType string          `json:"reference_type"`
	ReferenceId   int             `json:"reference_id"`
	MovedAt       time.Time       `json:"moved_at"`
	CorrelationId string          `json:"correlation_id"`
}

var (
	pubsubClient   *pubsub.Client
	pubsubClientMu sync.Mutex
)

func init() {
	// Load env from .env
	godotenv.Load()
}

func getPubSubProjectID() string {
	if v := os.Getenv("PUBSUB_PROJECT_ID"); v != "" {
		return v
	}
	if v := os.Getenv("GOOGLE_CLOUD_PROJECT"); v != "" {
		return v
	}
	return ""
}

func getPubSubClient(clientCtx context.Context) (*pubsub.Client, error) {
	pubsubClientMu.Lock()
	if pubsubClient != nil {
		c := pubsubClient
		pubsubClientMu.Unlock()
		return c, nil
	}
	pubsubClientMu.Unlock()

	projectID := getPubSubProjectID()
	if projectID == "" {
		return nil, errors.New("PUBSUB_PROJECT_ID/GOOGLE_CLOUD_PROJECT not set")
	}

	credJSON := os.Getenv("PUBSUB_CREDENTIALS_JSON")

	var (
		c   *pubsub.Client
		err error
	)
	if credJSON != "" {
		c, err = pubsub.NewClient(clientCtx, projectID, option.WithCredentialsJSON([]byte(credJSON)))
	} else {
		// Uses Application Default Credentials.
		c, err = pubsub.NewClient(clientCtx, projectID)
	}
	if err != nil {
		return nil, err
	}

	pubsubClientMu.Lock()
	if pubsubClient == nil {
		pubsubClient = c
	} else {
		// Another goroutine won the race; close ours.
		_ = c.Close()
	}
	c2 := pubsubClient
	pubsubClientMu.Unlock()
	return c2, nil
}

func getStockMovementTopic() string {
	if v := os.Getenv("STOCK_MOVEMENT_TOPIC"); v != "" {
		return v
	}
	return "stock-movements"
}

// PublishStockMovementWithResult publishes one movement record to the audit
// sink topic and returns the Pub/Sub message id. The ledger mutation is
// already committed by the time this runs: a publish failure is retried by
// the outbox dispatcher and never fails the primary operation.
func PublishStockMovementWithResult(publishCtx context.Context, businessId string, msg StockMovementMessage) (string, error) {
	client, err := getPubSubClient(publishCtx)
	if err != nil {
		return "", err
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		return "", err
	}

	topic := client.Topic(getStockMovementTopic())
	res := topic.Publish(publishCtx, &pubsub.Message{
		Data: payload,
		Attributes: map[string]string{
			"business_id":  businessId,
			"movement_key": msg.MovementKey,
		},
	})

	id, err := res.Get(publishCtx)
	if err != nil {
		return "", fmt.Errorf("publish stock movement (business_id=%s key=%s): %w", businessId, msg.MovementKey, err)
	}
	return id, nil
}
