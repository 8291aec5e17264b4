package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/punchamoorthee/tokenledger/internal/models"
	"github.com/segmentio/kafka-go"
)

type recordingWriter struct {
	msgs []kafka.Message
	err  error
}

func (w *recordingWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *recordingWriter) Close() error { return nil }

func TestPublishTopUpCompleted(t *testing.T) {
	w := &recordingWriter{}
	p := NewKafkaPublisher(w)

	evt := models.TopUpCompleted{PaymentID: 7, UserID: 42, ReferenceID: "REF1", Tokens: 1000, BalanceAfter: 1000}
	if err := p.PublishTopUpCompleted(context.Background(), evt); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(w.msgs) != 1 {
		t.Fatalf("messages: got %d, want 1", len(w.msgs))
	}
	if string(w.msgs[0].Key) != "42" {
		t.Fatalf("key: got %q, want user id 42", w.msgs[0].Key)
	}

	var got models.TopUpCompleted
	if err := json.Unmarshal(w.msgs[0].Value, &got); err != nil {
		t.Fatalf("decode value: %v", err)
	}
	if got.ReferenceID != "REF1" || got.Tokens != 1000 {
		t.Fatalf("value: got %+v", got)
	}
}

func TestPublishTopUpCompletedWriterError(t *testing.T) {
	boom := errors.New("broker down")
	p := NewKafkaPublisher(&recordingWriter{err: boom})
	if err := p.PublishTopUpCompleted(context.Background(), models.TopUpCompleted{UserID: 1}); !errors.Is(err, boom) {
		t.Fatalf("got %v, want wrapped broker error", err)
	}
}
