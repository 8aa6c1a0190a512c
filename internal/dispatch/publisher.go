package dispatch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/pillfleet-core/internal/command"
	"github.com/nerrad567/pillfleet-core/internal/infrastructure/metrics"
	"github.com/nerrad567/pillfleet-core/internal/infrastructure/mqtt"
)

// Status is the delivery outcome reported to API clients.
type Status string

// Delivery statuses.
const (
	StatusSent     Status = "sent"
	StatusQueued   Status = "queued"
	StatusFailed   Status = "failed"
	StatusNoDevice Status = "no_device"
)

const defaultQueueSize = 32

// Transport publishes one message. Satisfied by *mqtt.Client.
type Transport interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
}

// Recorder receives one record per publish attempt. Satisfied by *influxdb.Client.
type Recorder interface {
	WriteCommand(serial, kind string, delivered bool, at time.Time)
}

// Logger is the logging surface the publisher needs.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
}

// Options configures a Publisher.
type Options struct {
	// QoS of every publish.
	QoS byte

	// Grace is how long a device queue pauses after each publish.
	Grace time.Duration

	// QueueSize bounds the commands waiting per device.
	QueueSize int

	// Async makes Send return StatusQueued right after enqueue.
	Async bool
}

type job struct {
	id     string
	serial string
	cmd    command.Command
	done   chan error
}

type queue struct {
	jobs    chan job
	pending int
}

// Publisher sends commands to devices through per-device FIFO queues.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
type Publisher struct {
	transport Transport
	opts      Options
	logger    Logger
	metrics   *metrics.Metrics
	recorder  Recorder

	mu     sync.Mutex
	queues map[string]*queue
	closed bool
	wg     sync.WaitGroup
}

// New creates a Publisher. m may be nil.
func New(transport Transport, opts Options, logger Logger, m *metrics.Metrics) *Publisher {
	if opts.QueueSize <= 0 {
		opts.QueueSize = defaultQueueSize
	}
	return &Publisher{
		transport: transport,
		opts:      opts,
		logger:    logger,
		metrics:   m,
		queues:    make(map[string]*queue),
	}
}

// SetRecorder attaches a telemetry recorder. Call before the first Send.
func (p *Publisher) SetRecorder(r Recorder) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.recorder = r
}

// Send queues cmd for the device with the given serial.
//
// Commands for one serial are published in call order by a single worker;
// each gets exactly one publish attempt followed by the configured grace
// pause. Different serials never wait on each other.
//
// Parameters:
//   - ctx: bounds how long a synchronous caller waits for the attempt
//   - serial: dispenser address, the {serial} segment of the topic
//   - cmd: encoded command; its Kind picks the topic suffix
//
// Returns:
//   - Status: StatusSent, StatusFailed, or StatusQueued when the caller
//     stopped waiting (ctx done) or the publisher runs in async mode
//   - error: wraps ErrDeliveryFailed on a failed attempt, ErrQueueFull
//     or ErrClosed when the command was never queued
//
// Example:
//
//	cmd, _ := command.Dispense("module1")
//	status, err := publisher.Send(ctx, "device1", cmd)
//	if err != nil {
//	    log.Warn("dispense not delivered", "status", status, "error", err)
//	}
func (p *Publisher) Send(ctx context.Context, serial string, cmd command.Command) (Status, error) {
	if err := mqtt.ValidateSerial(serial); err != nil {
		return StatusFailed, err
	}

	j := job{
		id:     uuid.NewString(),
		serial: serial,
		cmd:    cmd,
		done:   make(chan error, 1),
	}
	if err := p.enqueue(j); err != nil {
		return StatusFailed, err
	}

	if p.opts.Async {
		return StatusQueued, nil
	}

	select {
	case err := <-j.done:
		if err != nil {
			return StatusFailed, err
		}
		return StatusSent, nil
	case <-ctx.Done():
		return StatusQueued, nil
	}
}

func (p *Publisher) enqueue(j job) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return ErrClosed
	}

	q, ok := p.queues[j.serial]
	if !ok {
		q = &queue{jobs: make(chan job, p.opts.QueueSize)}
		p.queues[j.serial] = q
		p.wg.Add(1)
		go p.run(j.serial, q)
	}
	if q.pending >= p.opts.QueueSize {
		return fmt.Errorf("%w: %s has %d pending", ErrQueueFull, j.serial, q.pending)
	}

	// pending counts queued plus in-flight jobs and never exceeds the
	// channel capacity, so this send cannot block.
	q.pending++
	q.jobs <- j
	p.metrics.SetQueueDepth(j.serial, q.pending)
	return nil
}

// run drains one device queue and exits once it is empty.
func (p *Publisher) run(serial string, q *queue) {
	defer p.wg.Done()

	for j := range q.jobs {
		j.done <- p.deliver(j)
		if p.opts.Grace > 0 {
			time.Sleep(p.opts.Grace)
		}

		p.mu.Lock()
		q.pending--
		p.metrics.SetQueueDepth(serial, q.pending)
		if q.pending == 0 {
			delete(p.queues, serial)
			p.mu.Unlock()
			return
		}
		p.mu.Unlock()
	}
}

func (p *Publisher) deliver(j job) error {
	topic := j.cmd.Topic(j.serial)
	kind := string(j.cmd.Kind)

	start := time.Now()
	err := p.transport.Publish(topic, j.cmd.Payload, p.opts.QoS, false)
	p.metrics.ObservePublish(kind, time.Since(start), err)

	p.mu.Lock()
	recorder := p.recorder
	p.mu.Unlock()
	if recorder != nil {
		recorder.WriteCommand(j.serial, kind, err == nil, time.Now())
	}

	if err != nil {
		p.logger.Warn("command delivery failed",
			"command_id", j.id,
			"serial", j.serial,
			"kind", kind,
			"topic", topic,
			"error", err,
		)
		return fmt.Errorf("%w: %s to %s: %w", ErrDeliveryFailed, kind, j.serial, err)
	}

	p.logger.Debug("command published",
		"command_id", j.id,
		"serial", j.serial,
		"kind", kind,
		"topic", topic,
		"bytes", len(j.cmd.Payload),
	)
	return nil
}

// Close stops accepting commands and waits for queued ones to be attempted.
func (p *Publisher) Close() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()

	p.wg.Wait()
}
