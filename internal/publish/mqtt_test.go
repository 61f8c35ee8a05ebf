package publish

import (
	"context"
	"fmt"
	"io"
	"testing"
	"time"

	"codeberg.org/mutker/anglepub/internal/errors"
	"codeberg.org/mutker/anglepub/internal/logger"
	"codeberg.org/mutker/anglepub/internal/sample"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeToken struct {
	err       error
	completes bool
	done      chan struct{}
}

func (t *fakeToken) Wait() bool                     { return t.completes }
func (t *fakeToken) WaitTimeout(time.Duration) bool { return t.completes }
func (t *fakeToken) Done() <-chan struct{}          { return t.done }
func (t *fakeToken) Error() error                   { return t.err }

type publishCall struct {
	topic    string
	qos      byte
	retained bool
	payload  []byte
}

type fakePublisher struct {
	calls []publishCall
	token *fakeToken
}

func (f *fakePublisher) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	f.calls = append(f.calls, publishCall{topic: topic, qos: qos, retained: retained, payload: payload.([]byte)})
	return f.token
}

func newTestMQTTSink(token *fakeToken) (*MQTTSink, *fakePublisher) {
	pub := &fakePublisher{token: token}
	return &MQTTSink{
		pub: pub,
		cfg: MQTTConfig{Topic: MQTTTopic(DefaultTopic), QoS: 0, Retained: true, FrameID: "base_link"},
		log: logger.NewWithWriter(io.Discard, "mqtt"),
	}, pub
}

func TestMQTTTopic(t *testing.T) {
	assert.Equal(t, "drone/angles", MQTTTopic("/drone/angles"))
	assert.Equal(t, "drone/angles", MQTTTopic("drone/angles"))
}

func TestMQTTSinkPublishesRetainedMessage(t *testing.T) {
	sink, pub := newTestMQTTSink(&fakeToken{completes: true})

	ts := time.Date(2026, 5, 6, 7, 8, 9, 0, time.UTC)
	require.NoError(t, sink.Send(context.Background(), sample.Sample{Primary: 100, Secondary: 200, Reference: 300, Timestamp: ts}))

	require.Len(t, pub.calls, 1)
	call := pub.calls[0]
	assert.Equal(t, "drone/angles", call.topic)
	assert.True(t, call.retained)
	assert.Equal(t, byte(0), call.qos)

	msg, err := sample.Decode(call.payload)
	require.NoError(t, err)
	assert.Equal(t, "base_link", msg.Header.FrameID)
	assert.Equal(t, sample.Vector{X: 100, Y: 200, Z: 300}, msg.Vector)
}

func TestMQTTSinkErrors(t *testing.T) {
	sink, _ := newTestMQTTSink(&fakeToken{completes: true, err: fmt.Errorf("not connected")})
	err := sink.Send(context.Background(), sample.Sample{})
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrSinkSend))

	sink, _ = newTestMQTTSink(&fakeToken{completes: false})
	err = sink.Send(context.Background(), sample.Sample{})
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrTimeout))

	assert.NoError(t, sink.Close())
}
