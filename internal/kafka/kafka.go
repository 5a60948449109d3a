// Package kafka holds broker helpers and reader/writer constructors for the
// signal and scout streams.
package kafka

import (
    "context"
    "errors"
    "fmt"
    "net"
    "os"
    "strconv"
    "strings"
    "time"

    "github.com/segmentio/kafka-go"
)

const (
    DefaultBroker      = "localhost:9092"
    DefaultSignalTopic = "darwin.signals"
    DefaultScoutTopic  = "darwin.scouts"

    defaultPartitions = 3
)

var errNoBrokers = errors.New("kafka: no brokers configured")

// ParseBrokers splits a comma-separated broker list.
func ParseBrokers(raw string) []string {
    parts := strings.Split(raw, ",")
    out := make([]string, 0, len(parts))
    for _, p := range parts {
        if trimmed := strings.TrimSpace(p); trimmed != "" {
            out = append(out, trimmed)
        }
    }
    return out
}

// TopicFromEnv returns the value of envKey, or fallback when unset.
func TopicFromEnv(envKey, fallback string) string {
    if val := strings.TrimSpace(os.Getenv(envKey)); val != "" {
        return val
    }
    return fallback
}

// dialAny connects to the first broker that answers.
func dialAny(ctx context.Context, brokers []string) (*kafka.Conn, error) {
    if len(brokers) == 0 {
        return nil, errNoBrokers
    }
    var errs []error
    for _, b := range brokers {
        conn, err := kafka.DialContext(ctx, "tcp", b)
        if err == nil {
            return conn, nil
        }
        errs = append(errs, fmt.Errorf("%s: %w", b, err))
    }
    return nil, errors.Join(errs...)
}

// WaitForBroker blocks until any broker accepts a connection or ctx ends.
func WaitForBroker(ctx context.Context, brokers []string) error {
    if len(brokers) == 0 {
        return errNoBrokers
    }
    ticker := time.NewTicker(time.Second)
    defer ticker.Stop()

    for {
        conn, err := dialAny(ctx, brokers)
        if err == nil {
            conn.Close()
            return nil
        }
        select {
        case <-ctx.Done():
            return fmt.Errorf("kafka: waiting for broker: %w (last error: %v)", ctx.Err(), err)
        case <-ticker.C:
        }
    }
}

// EnsureTopics creates any missing topics through the cluster controller.
// Topics that already exist are left alone.
func EnsureTopics(ctx context.Context, brokers []string, topics ...string) error {
    var specs []kafka.TopicConfig
    for _, t := range topics {
        if t = strings.TrimSpace(t); t != "" {
            specs = append(specs, kafka.TopicConfig{Topic: t, NumPartitions: defaultPartitions, ReplicationFactor: 1})
        }
    }
    if len(specs) == 0 {
        return nil
    }

    conn, err := dialAny(ctx, brokers)
    if err != nil {
        return fmt.Errorf("kafka: dial broker: %w", err)
    }
    defer conn.Close()

    controller, err := conn.Controller()
    if err != nil {
        return fmt.Errorf("kafka: get controller: %w", err)
    }
    addr := net.JoinHostPort(controller.Host, strconv.Itoa(controller.Port))
    ctrl, err := kafka.DialContext(ctx, "tcp", addr)
    if err != nil {
        return fmt.Errorf("kafka: dial controller %s: %w", addr, err)
    }
    defer ctrl.Close()

    if err := ctrl.CreateTopics(specs...); err != nil && !errors.Is(err, kafka.TopicAlreadyExists) {
        return fmt.Errorf("kafka: create topics: %w", err)
    }
    return nil
}

// NewWriter returns a writer for topic. An empty topic means every message
// names its own. Messages with the same key land on the same partition.
func NewWriter(brokers []string, topic string) *kafka.Writer {
    return &kafka.Writer{
        Addr:         kafka.TCP(brokers...),
        Topic:        topic,
        Balancer:     &kafka.Hash{},
        BatchTimeout: 100 * time.Millisecond,
        RequiredAcks: kafka.RequireOne,
        WriteTimeout: 10 * time.Second,
    }
}

// NewReader returns a reader for topic. With an empty group it reads the
// partition-0 stream from the latest offset.
func NewReader(brokers []string, topic, group string) *kafka.Reader {
    cfg := kafka.ReaderConfig{
        Brokers:  brokers,
        Topic:    topic,
        MinBytes: 1,
        MaxBytes: 10e6,
    }
    if group == "" {
        cfg.Partition = 0
        cfg.StartOffset = kafka.LastOffset
        return kafka.NewReader(cfg)
    }
    cfg.GroupID = group
    cfg.HeartbeatInterval = 3 * time.Second
    cfg.SessionTimeout = 30 * time.Second
    cfg.CommitInterval = time.Second
    cfg.StartOffset = kafka.FirstOffset
    return kafka.NewReader(cfg)
}
