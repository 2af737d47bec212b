package events

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"stockscan/backend/internal/domain"
)

func TestScanMessageKeyedByBarcode(t *testing.T) {
	at := time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC)
	msg, err := scanMessage(domain.ScanEvent{Barcode: "7891234", Type: domain.ScanExit, Quantity: 2, ProductName: "Cafe", ScannedAt: at})
	if err != nil {
		t.Fatalf("scan message: %v", err)
	}
	if string(msg.Key) != "7891234" {
		t.Fatalf("expected barcode key, got %q", msg.Key)
	}
	if len(msg.Headers) != 1 || string(msg.Headers[0].Value) != scanRecordedType {
		t.Fatalf("unexpected headers: %+v", msg.Headers)
	}

	var decoded domain.ScanEvent
	if err := json.Unmarshal(msg.Value, &decoded); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if decoded.Quantity != 2 || decoded.Type != domain.ScanExit || !decoded.ScannedAt.Equal(at) {
		t.Fatalf("unexpected payload: %+v", decoded)
	}
}

func TestNoopPublisher(t *testing.T) {
	if err := (NoopPublisher{}).PublishScan(context.Background(), domain.ScanEvent{}); err != nil {
		t.Fatalf("noop publish: %v", err)
	}
}

func TestKafkaPublisherWritesAsync(t *testing.T) {
	p := NewKafkaPublisher([]string{"127.0.0.1:9092"}, "stockscan.scans", zerolog.Nop())
	if !p.writer.Async || p.writer.Completion == nil {
		t.Fatalf("expected async writer with completion callback")
	}
	if p.writer.WriteTimeout <= 0 || p.writer.MaxAttempts < 1 {
		t.Fatalf("expected bounded delivery attempts, got timeout %v attempts %d", p.writer.WriteTimeout, p.writer.MaxAttempts)
	}
}

func TestDeliveryFailureIsLogged(t *testing.T) {
	var buf bytes.Buffer
	p := NewKafkaPublisher([]string{"127.0.0.1:9092"}, "stockscan.scans", zerolog.New(&buf))

	p.delivered([]kafka.Message{{Key: []byte("111")}}, nil)
	if buf.Len() != 0 {
		t.Fatalf("expected nothing logged on success, got %s", buf.String())
	}

	p.delivered([]kafka.Message{{Key: []byte("111")}, {Key: []byte("222")}}, errors.New("broker unreachable"))
	out := buf.String()
	if strings.Count(out, "scan event not delivered") != 2 || !strings.Contains(out, `"barcode":"222"`) {
		t.Fatalf("unexpected delivery log %s", out)
	}
}
