package pipeline

import (
	"context"
	"errors"
	"os"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/roboricindustries/pandoc-worker/internal/converter"
	"github.com/roboricindustries/pandoc-worker/internal/staging"
	conversion "github.com/roboricindustries/pandoc-worker/pkg/schemas/conversion/v1"
)

// fakeAcknowledger records settlements the way a broker channel would.
type fakeAcknowledger struct {
	mu      sync.Mutex
	acks    []uint64
	nacks   []uint64
	requeue []bool
	err     error
}

func (f *fakeAcknowledger) Ack(tag uint64, multiple bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.acks = append(f.acks, tag)
	return f.err
}

func (f *fakeAcknowledger) Nack(tag uint64, multiple, requeue bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nacks = append(f.nacks, tag)
	f.requeue = append(f.requeue, requeue)
	return f.err
}

func (f *fakeAcknowledger) Reject(tag uint64, requeue bool) error {
	return f.Nack(tag, false, requeue)
}

func (f *fakeAcknowledger) settled() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.acks) + len(f.nacks)
}

type published struct {
	queue string
	msg   amqp.Publishing
}

// fakePublisher implements pubsub.Publisher in memory.
type fakePublisher struct {
	mu   sync.Mutex
	msgs []published
	err  error
}

func (f *fakePublisher) Publish(ctx context.Context, queue string, msg amqp.Publishing) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, published{queue: queue, msg: msg})
	return nil
}

// fakeRunner implements Runner. convert sees the staged input bytes.
type fakeRunner struct {
	calls   int
	inputs  [][]byte
	convert func(input []byte) (converter.Result, error)
	before  func()
}

func (f *fakeRunner) Run(ctx context.Context, inputPath, from, to string) (converter.Result, error) {
	f.calls++
	if f.before != nil {
		f.before()
	}
	data, err := os.ReadFile(inputPath)
	if err != nil {
		return converter.Result{State: converter.StateFailed}, err
	}
	f.inputs = append(f.inputs, data)
	return f.convert(data)
}

func succeedWith(out string) func([]byte) (converter.Result, error) {
	return func([]byte) (converter.Result, error) {
		return converter.Result{State: converter.StateSucceeded, Output: []byte(out)}, nil
	}
}

func failWith(code int, stderr string) func([]byte) (converter.Result, error) {
	return func([]byte) (converter.Result, error) {
		res := converter.Result{State: converter.StateFailed, ExitCode: code, Stderr: []byte(stderr)}
		return res, &converter.ConversionError{ExitCode: code, Diagnostic: res.Diagnostic()}
	}
}

// failingStager implements Stager and always fails.
type failingStager struct{}

func (failingStager) Stage(context.Context, string, []byte) (*staging.File, error) {
	return nil, staging.ErrIO
}

var errBroker = errors.New("broker went away")

func delivery(ack amqp.Acknowledger, tag uint64, body []byte) amqp.Delivery {
	return amqp.Delivery{
		Acknowledger: ack,
		DeliveryTag:  tag,
		ContentType:  conversion.ContentType,
		Body:         body,
	}
}

func requestBody(req conversion.ConvertRequest) []byte {
	raw, err := req.Marshal()
	if err != nil {
		panic(err)
	}
	return raw
}

func docxRequest(fileID, content string) conversion.ConvertRequest {
	return conversion.ConvertRequest{
		ChatID:       1001,
		File:         []byte(content),
		FileID:       fileID,
		FromFiletype: "docx",
		ToFiletype:   "plain",
	}
}
