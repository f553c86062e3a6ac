// Package logging nastavuje slog pro všechny služby brány a zrcadlí logy do MQTT.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"strings"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// Publisher odešle jednu zprávu do brokeru.
type Publisher interface {
	Publish(topic string, payload []byte) error
}

// PahoPublisher posílá přes paho klienta (QoS 0, bez čekání na potvrzení).
type PahoPublisher struct {
	Client mqtt.Client
}

func (p PahoPublisher) Publish(topic string, payload []byte) error {
	p.Client.Publish(topic, 0, false, payload)
	return nil
}

// MqttWriter implementuje io.Writer. Každý zápis (jeden JSON řádek slogu)
// se odešle na logs/<služba>. Odesílá goroutina, aby logování neblokovalo aplikaci.
type MqttWriter struct {
	pub   Publisher
	topic string
	queue chan []byte
	done  chan struct{}
}

// Velikost fronty. Při zaplnění se nejnovější řádky zahazují.
const queueSize = 256

// NewMqttWriter vytvoří writer a spustí odesílací goroutinu.
func NewMqttWriter(pub Publisher, serviceName string) *MqttWriter {
	w := &MqttWriter{
		pub:   pub,
		topic: Topic(serviceName),
		queue: make(chan []byte, queueSize),
		done:  make(chan struct{}),
	}
	go w.loop()
	return w
}

// Topic vrací topic, na který služba posílá logy.
func Topic(serviceName string) string {
	return fmt.Sprintf("logs/%s", serviceName)
}

func (w *MqttWriter) loop() {
	defer close(w.done)
	for payload := range w.queue {
		// Chybu publikace nelze zalogovat, skončili bychom ve smyčce.
		_ = w.pub.Publish(w.topic, payload)
	}
}

// Write zkopíruje payload, protože slog buffer znovu používá.
func (w *MqttWriter) Write(p []byte) (int, error) {
	payload := make([]byte, len(p))
	copy(payload, p)
	select {
	case w.queue <- payload:
	default:
	}
	return len(p), nil
}

// Close dopošle frontu a ukončí goroutinu.
func (w *MqttWriter) Close() error {
	close(w.queue)
	<-w.done
	return nil
}

// ParseLevel převádí LOG_LEVEL (debug, info, warn, error) na slog.Level.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

// New vytvoří JSON logger s atributem service, který píše do všech writerů.
func New(serviceName, level string, writers ...io.Writer) *slog.Logger {
	var out io.Writer = io.Discard
	if len(writers) == 1 {
		out = writers[0]
	} else if len(writers) > 1 {
		out = io.MultiWriter(writers...)
	}
	handler := slog.NewJSONHandler(out, &slog.HandlerOptions{Level: ParseLevel(level)})
	return slog.New(handler).With("service", serviceName)
}
