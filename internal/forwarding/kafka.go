package forwarding

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/jola2802/iot-gateway-sub000/internal/model"
)

// KafkaSink zapisuje každé čtení jako zprávu s klíčem ID zařízení.
// Hash balancer drží data jednoho zařízení v jedné partition.
type KafkaSink struct {
	writer *kafka.Writer
	format string
}

// NewKafkaSink vytvoří writer. brokers je seznam adres oddělený čárkami.
func NewKafkaSink(brokers, topic, format string) *KafkaSink {
	var addrs []string
	for _, b := range strings.Split(brokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			addrs = append(addrs, b)
		}
	}
	return &KafkaSink{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(addrs...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			Compression:  kafka.Snappy,
			RequiredAcks: kafka.RequireOne,
			BatchTimeout: 50 * time.Millisecond,
		},
		format: format,
	}
}

// KafkaMessages převede čtení na zprávy.
func KafkaMessages(format string, readings []model.Reading) ([]kafka.Message, error) {
	msgs := make([]kafka.Message, 0, len(readings))
	for _, r := range readings {
		var value []byte
		var err error
		if format == model.FormatCSV {
			value, err = EncodeCSV([]model.Reading{r}, false)
		} else {
			value, err = EncodeJSONLines([]model.Reading{r})
		}
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, kafka.Message{
			Key:   []byte(strconv.FormatInt(r.DeviceID, 10)),
			Value: []byte(strings.TrimRight(string(value), "\n")),
			Time:  r.Timestamp,
		})
	}
	return msgs, nil
}

func (s *KafkaSink) Send(ctx context.Context, readings []model.Reading) error {
	msgs, err := KafkaMessages(s.format, readings)
	if err != nil {
		return fmt.Errorf("chyba serializace dat: %w", err)
	}
	if err := s.writer.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("zápis do Kafky selhal: %w", err)
	}
	return nil
}

func (s *KafkaSink) Close() error {
	return s.writer.Close()
}
