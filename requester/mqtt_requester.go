package requester

import (
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	bench "github.com/ssd532/psbench"
)

// mqttTimeout bounds connect, subscribe and disconnect round trips.
const mqttTimeout = 10 * time.Second

// MQTTRequesterFactory implements RequesterFactory by creating a Requester
// which publishes to and subscribes on MQTT topics.
type MQTTRequesterFactory struct {
	URL    string
	QoS    byte
	Logger *zap.Logger
}

// GetRequester returns a new Requester, called for each connection.
func (m *MQTTRequesterFactory) GetRequester(num uint64) bench.Requester {
	return &mqttRequester{
		url:    m.URL,
		qos:    m.QoS,
		logger: m.Logger,
	}
}

// mqttRequester implements Requester on a paho client. Keys are used as
// topics without the leading slash.
type mqttRequester struct {
	url    string
	qos    byte
	logger *zap.Logger
	client mqtt.Client
	topics []string
}

func mqttTopic(key string) string {
	if len(key) > 0 && key[0] == '/' {
		return key[1:]
	}
	return key
}

func wait(t mqtt.Token) error {
	if !t.WaitTimeout(mqttTimeout) {
		return errors.New("requester: mqtt operation timed out")
	}
	return t.Error()
}

// Setup prepares the Requester for benchmarking.
func (m *mqttRequester) Setup() error {
	opts := mqtt.NewClientOptions().
		AddBroker(m.url).
		SetClientID("psbench-" + uuid.NewString()).
		SetCleanSession(true).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			m.logger.Error("mqtt connection lost", zap.Error(err))
		})
	client := mqtt.NewClient(opts)
	if err := wait(client.Connect()); err != nil {
		return errors.Wrapf(err, "connect to %s", m.url)
	}
	m.client = client
	return nil
}

func (m *mqttRequester) Publish(key string, payload []byte) error {
	t := m.client.Publish(mqttTopic(key), m.qos, false, payload)
	if m.qos == 0 {
		return nil
	}
	return wait(t)
}

func (m *mqttRequester) Subscribe(key string, h bench.Handler) error {
	topic := mqttTopic(key)
	err := wait(m.client.Subscribe(topic, m.qos, func(_ mqtt.Client, msg mqtt.Message) {
		h(msg.Payload())
	}))
	if err != nil {
		return err
	}
	m.topics = append(m.topics, topic)
	return nil
}

// Teardown is called upon benchmark completion.
func (m *mqttRequester) Teardown() error {
	if m.client == nil {
		return nil
	}
	var err error
	if len(m.topics) > 0 {
		err = wait(m.client.Unsubscribe(m.topics...))
	}
	m.client.Disconnect(uint(mqttTimeout / time.Millisecond))
	m.client = nil
	m.topics = nil
	return err
}
