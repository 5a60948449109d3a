// Package workers consumes the signal stream with a pool of kafka readers.
package workers

import (
	"context"
	"encoding/json"
	"sync"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/hetulpatel/darwin/internal/kafka"
	"github.com/hetulpatel/darwin/internal/logging"
	"github.com/hetulpatel/darwin/internal/models"
)

type Handler func(context.Context, *models.Signal) error

// MessageReader is the subset of *kafkago.Reader the pool uses.
type MessageReader interface {
	ReadMessage(ctx context.Context) (kafkago.Message, error)
	Close() error
}

// Run starts workerCount readers on topic and blocks until ctx ends.
func Run(ctx context.Context, brokers []string, topic, group string, workerCount int, handler Handler) {
	RunWith(ctx, workerCount, func() MessageReader {
		return kafka.NewReader(brokers, topic, group)
	}, handler)
}

// RunWith is Run with a caller-supplied reader factory.
func RunWith(ctx context.Context, workerCount int, newReader func() MessageReader, handler Handler) {
	if workerCount <= 0 {
		workerCount = 1
	}

	var wg sync.WaitGroup
	for i := 0; i < workerCount; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			reader := newReader()
			defer reader.Close()
			consume(ctx, reader, handler)
		}(i)
	}

	<-ctx.Done()
	wg.Wait()
}

func consume(ctx context.Context, reader MessageReader, handler Handler) {
	for {
		msg, err := reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logging.Errorf("signal reader error: %v", err)
			continue
		}

		var sig models.Signal
		if err := json.Unmarshal(msg.Value, &sig); err != nil {
			logging.Errorf("signal unmarshal error (key=%s): %v", msg.Key, err)
			continue
		}

		if handler != nil {
			if err := handler(ctx, &sig); err != nil {
				logging.Errorf("signal handler error: %v", err)
			}
		}
	}
}
