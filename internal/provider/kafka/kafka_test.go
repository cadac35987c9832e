package kafka

import (
	"errors"
	"testing"

	"github.com/IBM/sarama"

	"chmap/internal/event"
)

func TestValidateSample(t *testing.T) {
	t.Parallel()

	t.Run("json message accepted", func(t *testing.T) {
		t.Parallel()

		msg := &sarama.ConsumerMessage{Offset: 41, Value: []byte(`{"id":1}`)}
		got, err := validateSample("orders", 2, msg)
		if err != nil {
			t.Fatalf("validateSample: %v", err)
		}
		if got.Topic != "orders" || got.Partition != 2 || got.Offset != 41 {
			t.Errorf("sample metadata wrong: %+v", got)
		}
		if string(got.Event) != `{"id":1}` {
			t.Errorf("sample event wrong: %s", got.Event)
		}
	})

	t.Run("non-json rejected", func(t *testing.T) {
		t.Parallel()

		msg := &sarama.ConsumerMessage{Value: []byte("not json")}
		if _, err := validateSample("orders", 0, msg); !errors.Is(err, ErrNotJSON) {
			t.Errorf("err = %v, want ErrNotJSON", err)
		}
	})

	t.Run("nil message rejected", func(t *testing.T) {
		t.Parallel()

		if _, err := validateSample("orders", 0, nil); !errors.Is(err, ErrNotJSON) {
			t.Errorf("err = %v, want ErrNotJSON", err)
		}
	})
}

func TestSampleSource(t *testing.T) {
	t.Parallel()

	s := Sample{Topic: "orders", Event: []byte(`{"id":1}`)}
	verified := map[string]event.Type{"id": event.TypeUint64}

	src := s.Source(verified)

	if src.Topic != "orders" {
		t.Errorf("source topic = %q", src.Topic)
	}
	if src.TypeOf("id") != event.TypeUint64 {
		t.Errorf("verified type not carried: %v", src.TypeOf("id"))
	}
}
