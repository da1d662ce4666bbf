// Package kafka publishes run reports to a Kafka topic. Downstream consumers
// can alert on failed runs or on entities that stop producing rows.
package kafka

import (
	"encoding/json"
	"io/ioutil"
	"log"

	"github.com/Shopify/sarama"
	"github.com/pkg/errors"

	"github.com/gridstat/gridkit"
)

// Reporter sends each RunReport as a JSON message keyed by entity name, so a
// compacted topic holds the latest outcome per entity.
type Reporter struct {
	Hosts []string
	Topic string

	producer sarama.SyncProducer
}

// NewReporter gets a new Reporter.
func NewReporter() *Reporter {
	return &Reporter{
		Hosts: []string{"localhost:9092"},
		Topic: "gridkit-runs",
	}
}

// Open initializes the kafka producer.
func (r *Reporter) Open() error {
	sarama.Logger = log.New(ioutil.Discard, "", 0)
	conf := sarama.NewConfig()
	conf.Version = sarama.V0_10_0_0
	conf.Producer.Return.Successes = true

	var err error
	r.producer, err = sarama.NewSyncProducer(r.Hosts, conf)
	if err != nil {
		return errors.Wrap(err, "getting new producer")
	}
	return nil
}

// Report publishes rep to the reporter's topic.
func (r *Reporter) Report(rep *gridkit.RunReport) error {
	if rep == nil {
		return errors.New("nil report")
	}
	buf, err := json.Marshal(rep)
	if err != nil {
		return errors.Wrap(err, "marshaling report")
	}
	_, _, err = r.producer.SendMessage(&sarama.ProducerMessage{
		Topic: r.Topic,
		Key:   sarama.StringEncoder(rep.Entity),
		Value: sarama.ByteEncoder(buf),
	})
	return errors.Wrap(err, "sending report")
}

// Close closes the underlying kafka producer.
func (r *Reporter) Close() error {
	if r.producer == nil {
		return nil
	}
	err := r.producer.Close()
	return errors.Wrap(err, "closing kafka producer")
}
