// Package zmqpub publishes samples on a ZMQ PUB socket, two frames per
// sample: the topic, then the timestamp and values as little endian doubles.
package zmqpub

import (
	"encoding/binary"
	"fmt"

	zmq "github.com/pebbe/zmq4"
	"go.uber.org/zap"

	"sleepywoodpecker/bridgelog/internal/output"
	"sleepywoodpecker/bridgelog/internal/processing"
)

type socket interface {
	SendBytes(data []byte, flags zmq.Flag) (int, error)
	Close() error
}

type Publisher struct {
	sock   socket
	topic  []byte
	logger *zap.Logger
}

// New binds a PUB socket to endpoint, e.g. "tcp://*:5502".
func New(endpoint, topic string, logger *zap.Logger) (*Publisher, error) {
	sock, err := zmq.NewSocket(zmq.PUB)
	if err != nil {
		return nil, fmt.Errorf("creating zmq PUB socket: %w", err)
	}
	if err := sock.Bind(endpoint); err != nil {
		sock.Close()
		return nil, fmt.Errorf("binding zmq PUB socket to %s: %w", endpoint, err)
	}
	logger.Info("[zmq] publishing samples", zap.String("endpoint", endpoint), zap.String("topic", topic))
	return newPublisher(sock, topic, logger), nil
}

func newPublisher(sock socket, topic string, logger *zap.Logger) *Publisher {
	return &Publisher{sock: sock, topic: []byte(topic), logger: logger}
}

// Message returns the data frame for one sample.
func Message(s processing.Sample) []byte {
	values := make([]float64, 0, len(s.Values)+1)
	values = append(values, s.Time)
	values = append(values, s.Values...)
	return output.EncodeDoubles(values, binary.LittleEndian)
}

func (p *Publisher) Write(samples []processing.Sample) error {
	for _, s := range samples {
		if _, err := p.sock.SendBytes(p.topic, zmq.SNDMORE); err != nil {
			return fmt.Errorf("sending topic frame: %w", err)
		}
		if _, err := p.sock.SendBytes(Message(s), 0); err != nil {
			return fmt.Errorf("sending data frame: %w", err)
		}
	}
	return nil
}

func (p *Publisher) Close() error {
	return p.sock.Close()
}
