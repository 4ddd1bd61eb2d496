//go:build integration

package test

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/suite"

	"github.com/relabs-tech/geocatalog/core/model"
	"github.com/relabs-tech/geocatalog/core/outbox"
)

type EventsTestSuite struct {
	IntegrationTestSuite
}

func TestEventsTestSuite(t *testing.T) {
	suite.Run(t, &EventsTestSuite{})
}

func (s *EventsTestSuite) readEvents(ctx context.Context, topic string, n int) []outbox.Event {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     []string{s.kafkaAddr},
		Topic:       topic,
		GroupID:     "it-" + uuid.NewString(),
		StartOffset: kafka.FirstOffset,
		MaxWait:     500 * time.Millisecond,
	})
	defer reader.Close()

	events := []outbox.Event{}
	for len(events) < n {
		msg, err := reader.ReadMessage(ctx)
		s.Require().NoError(err)
		var e outbox.Event
		s.Require().NoError(json.Unmarshal(msg.Value, &e))
		s.Equal(e.ResourceID.String(), string(msg.Key))
		events = append(events, e)
	}
	return events
}

// TestMetadataEventsInOrder follows one record through its lifecycle and expects the
// change events of the record in the order of the changes
func (s *EventsTestSuite) TestMetadataEventsInOrder() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()
	topic := "geocatalog.events." + uuid.NewString()
	s.Require().NoError(s.createTopic(topic, 3))
	defer s.deleteTopic(topic)
	// events of the bootstrap admin and earlier tests
	s.drainTo(ctx, "geocatalog.discard")

	metadata := s.adminClient.Collection("metadata")
	var created model.MetadataDocument
	status, err := metadata.Create(map[string]interface{}{
		"linkage": "https://example.com/sst",
		"identification": map[string]interface{}{
			"title":                   "Sea Surface Temperature",
			"production_date":         "2021-06-01T00:00:00Z",
			"abstract":                "Daily sea surface temperature",
			"spatial_rep_type":        "RASTER",
			"geographic_bounding_box": map[string]float64{"north": 60, "south": 30, "east": 20, "west": -10},
		},
	}, &created)
	s.Require().NoError(err)
	s.Equal(http.StatusCreated, status)

	_, err = metadata.Item(created.ID).Patch(map[string]interface{}{"standard": "ISO 19115"}, nil)
	s.Require().NoError(err)
	_, err = metadata.Item(created.ID).Action("publish", nil, nil)
	s.Require().NoError(err)
	_, err = metadata.Item(created.ID).Action("archive", nil, nil)
	s.Require().NoError(err)
	_, err = s.snapshots.Get(ctx, model.SnapshotKey(created.ID))
	s.Require().NoError(err)
	status, err = metadata.Item(created.ID).Delete()
	s.Require().NoError(err)
	s.Equal(http.StatusNoContent, status)

	// identification create, then create, update, publish, archive and delete of the record
	s.Equal(6, s.drainTo(ctx, topic))
	events := s.readEvents(ctx, topic, 6)

	states := []string{}
	for _, e := range events {
		if e.ResourceID == created.ID {
			states = append(states, string(e.Operation)+":"+e.State)
		}
	}
	s.Equal([]string{
		"create:DRAFT",
		"update:DRAFT",
		"update:PUBLISHED",
		"update:ARCHIVED",
		"delete:ARCHIVED",
	}, states)
}

// TestPostgresListing checks paging and filters against the Postgres dialect
func (s *EventsTestSuite) TestPostgresListing() {
	metadata := s.adminClient.Collection("metadata")
	for i := 0; i < 5; i++ {
		doc := map[string]interface{}{"status": "PUBLISHED"}
		if i%2 == 0 {
			doc["status"] = "DRAFT"
		}
		_, err := metadata.Create(doc, nil)
		s.Require().NoError(err)
	}

	var list struct {
		Count   int                      `json:"count"`
		Next    *string                  `json:"next"`
		Results []model.MetadataDocument `json:"results"`
	}
	_, err := metadata.WithParameter("status", "DRAFT").WithParameter("page_size", "2").List(&list)
	s.Require().NoError(err)
	s.GreaterOrEqual(list.Count, 3)
	s.Len(list.Results, 2)
	s.NotNil(list.Next)
	for _, m := range list.Results {
		s.Equal("DRAFT", string(m.Status))
	}

	tomorrow := time.Now().UTC().AddDate(0, 0, 1).Format("2006-01-02")
	_, err = metadata.WithParameter("start_date", tomorrow).List(&list)
	s.Require().NoError(err)
	s.Equal(0, list.Count)

	var health struct {
		Status string `json:"status"`
	}
	_, err = s.anonymousClient.RawGet("/healthz", &health)
	s.Require().NoError(err)
	s.Equal("ok", health.Status)
}
