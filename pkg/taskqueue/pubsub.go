// Copyright 2024 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package taskqueue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"cloud.google.com/go/pubsub"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// PubSubQueue is the cross-process, durable Queue/Source implementation:
// one topic carries all four task kinds, tagged by a "kind" attribute,
// and Pub/Sub's own redelivery-on-missing-ack gives the at-least-once
// guarantee the in-memory PlainQueue can't. Payload goes over the wire
// as a protobuf-encoded structpb.Struct (round-tripped through JSON
// first, since payload is an arbitrary Go value, not a generated proto
// message) rather than raw JSON bytes; everywhere else in this package
// payload stays a plain Go value.
type PubSubQueue struct {
	topic *pubsub.Topic
	sub   *pubsub.Subscription

	mu      sync.Mutex
	inFlight map[string]*pubsub.Message
}

// NewPubSubQueue wraps an existing topic/subscription pair. Topic and
// subscription provisioning is a deployment concern left to the cmd/
// entrypoint (or Terraform), not this package.
func NewPubSubQueue(topic *pubsub.Topic, sub *pubsub.Subscription) *PubSubQueue {
	return &PubSubQueue{topic: topic, sub: sub, inFlight: make(map[string]*pubsub.Message)}
}

func (q *PubSubQueue) Submit(ctx context.Context, kind Kind, payload any) error {
	data, err := encodePayload(payload)
	if err != nil {
		return err
	}
	result := q.topic.Publish(ctx, &pubsub.Message{
		Data:       data,
		Attributes: map[string]string{"kind": string(kind)},
	})
	_, err = result.Get(ctx)
	return err
}

// encodePayload turns an arbitrary Go value into protobuf wire bytes by
// routing it through a structpb.Struct: JSON-marshal to get a plain
// map[string]any (structpb's only accepted shape), then proto.Marshal
// that Struct.
func encodePayload(payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	var asMap map[string]any
	if err := json.Unmarshal(raw, &asMap); err != nil {
		return nil, fmt.Errorf("taskqueue: payload must encode as a JSON object: %w", err)
	}
	pbStruct, err := structpb.NewStruct(asMap)
	if err != nil {
		return nil, err
	}
	return proto.Marshal(pbStruct)
}

// decodePayload reverses encodePayload.
func decodePayload(data []byte) (any, error) {
	var pbStruct structpb.Struct
	if err := proto.Unmarshal(data, &pbStruct); err != nil {
		return nil, err
	}
	return pbStruct.AsMap(), nil
}

// Next pulls one message via sub.Receive, which is itself long-lived and
// fan-out oriented; running one per Next call and cancelling right after
// the first delivered message keeps this package's pull-based Source
// contract intact at the cost of one goroutine per call, acceptable at
// this package's call rate (one consumer-loop iteration, not a hot path).
func (q *PubSubQueue) Next(ctx context.Context) (*Task, error) {
	recvCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	type delivery struct {
		task *Task
		msg  *pubsub.Message
	}
	deliveredC := make(chan delivery, 1)
	errC := make(chan error, 1)

	go func() {
		errC <- q.sub.Receive(recvCtx, func(_ context.Context, msg *pubsub.Message) {
			payload, err := decodePayload(msg.Data)
			if err != nil {
				msg.Nack()
				return
			}
			attempt := 1
			if msg.DeliveryAttempt != nil {
				attempt = *msg.DeliveryAttempt
			}
			task := &Task{ID: msg.ID, Kind: Kind(msg.Attributes["kind"]), Payload: payload, Attempt: attempt}
			select {
			case deliveredC <- delivery{task, msg}:
			default:
			}
			cancel()
		})
	}()

	select {
	case d := <-deliveredC:
		q.mu.Lock()
		q.inFlight[d.task.ID] = d.msg
		q.mu.Unlock()
		return d.task, nil
	case err := <-errC:
		if err != nil {
			return nil, fmt.Errorf("taskqueue: receive: %w", err)
		}
		return nil, ctx.Err()
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (q *PubSubQueue) Ack(ctx context.Context, task *Task) error {
	if msg, ok := q.takeInFlight(task.ID); ok {
		msg.Ack()
	}
	return nil
}

func (q *PubSubQueue) Nack(ctx context.Context, task *Task) error {
	if msg, ok := q.takeInFlight(task.ID); ok {
		msg.Nack()
	}
	return nil
}

func (q *PubSubQueue) takeInFlight(id string) (*pubsub.Message, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	msg, ok := q.inFlight[id]
	if ok {
		delete(q.inFlight, id)
	}
	return msg, ok
}
