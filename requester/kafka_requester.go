package requester

import (
	"sync"

	"github.com/Shopify/sarama"
	"go.uber.org/zap"

	bench "github.com/ssd532/psbench"
)

// KafkaRequesterFactory implements RequesterFactory by creating a Requester
// which publishes messages to Kafka topics and consumes them from partition 0.
type KafkaRequesterFactory struct {
	URLs    []string
	IsAsync bool
	Logger  *zap.Logger
}

// GetRequester returns a new Requester, called for each connection.
func (k *KafkaRequesterFactory) GetRequester(num uint64) bench.Requester {
	return &kafkaRequester{
		urls:    k.URLs,
		isAsync: k.IsAsync,
		logger:  k.Logger,
	}
}

// kafkaRequester implements Requester with a sync or async producer and one
// partition consumer per subscribed topic. Keys map to topics with
// DottedKey.
type kafkaRequester struct {
	urls          []string
	isAsync       bool
	logger        *zap.Logger
	asyncProducer sarama.AsyncProducer
	syncProducer  sarama.SyncProducer
	consumer      sarama.Consumer
	partitions    []sarama.PartitionConsumer
	wg            sync.WaitGroup
}

// Setup prepares the Requester for benchmarking.
func (k *kafkaRequester) Setup() error {
	config := sarama.NewConfig()
	var err error
	if k.isAsync {
		k.asyncProducer, err = sarama.NewAsyncProducer(k.urls, config)
	} else {
		config.Producer.Return.Successes = true
		k.syncProducer, err = sarama.NewSyncProducer(k.urls, config)
	}
	if err != nil {
		return err
	}

	if k.isAsync {
		k.wg.Add(1)
		go func() {
			defer k.wg.Done()
			for perr := range k.asyncProducer.Errors() {
				k.logger.Error("async publish failed", zap.String("topic", perr.Msg.Topic), zap.Error(perr.Err))
			}
		}()
	}

	consumer, err := sarama.NewConsumer(k.urls, nil)
	if err != nil {
		k.closeProducer()
		return err
	}
	k.consumer = consumer
	return nil
}

func (k *kafkaRequester) Publish(key string, payload []byte) error {
	msg := &sarama.ProducerMessage{
		Topic: bench.DottedKey(key),
		Value: sarama.ByteEncoder(payload),
	}
	if k.isAsync {
		k.asyncProducer.Input() <- msg
		return nil
	}
	_, _, err := k.syncProducer.SendMessage(msg)
	return err
}

func (k *kafkaRequester) Subscribe(key string, h bench.Handler) error {
	pc, err := k.consumer.ConsumePartition(bench.DottedKey(key), 0, sarama.OffsetNewest)
	if err != nil {
		return err
	}
	k.partitions = append(k.partitions, pc)
	k.wg.Add(2)
	go func() {
		defer k.wg.Done()
		for msg := range pc.Messages() {
			h(msg.Value)
		}
	}()
	go func() {
		defer k.wg.Done()
		for cerr := range pc.Errors() {
			k.logger.Error("consume failed", zap.String("topic", cerr.Topic), zap.Error(cerr.Err))
		}
	}()
	return nil
}

func (k *kafkaRequester) closeProducer() error {
	if k.isAsync {
		if k.asyncProducer == nil {
			return nil
		}
		err := k.asyncProducer.Close()
		k.asyncProducer = nil
		return err
	}
	if k.syncProducer == nil {
		return nil
	}
	err := k.syncProducer.Close()
	k.syncProducer = nil
	return err
}

// Teardown is called upon benchmark completion.
func (k *kafkaRequester) Teardown() error {
	if err := k.closeProducer(); err != nil {
		return err
	}
	for _, pc := range k.partitions {
		if err := pc.Close(); err != nil {
			return err
		}
	}
	k.partitions = nil
	if k.consumer != nil {
		if err := k.consumer.Close(); err != nil {
			return err
		}
		k.consumer = nil
	}
	k.wg.Wait()
	return nil
}
