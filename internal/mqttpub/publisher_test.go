package mqttpub

import (
	"errors"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

type fakeToken struct {
	err     error
	timeout bool
}

func (t *fakeToken) Wait() bool                       { return true }
func (t *fakeToken) WaitTimeout(d time.Duration) bool { return !t.timeout }
func (t *fakeToken) Error() error                     { return t.err }

func (t *fakeToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

type published struct {
	topic    string
	qos      byte
	retained bool
	payload  []byte
}

type fakeClient struct {
	token        *fakeToken
	published    []published
	disconnected bool
}

func (c *fakeClient) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	c.published = append(c.published, published{topic, qos, retained, payload.([]byte)})
	return c.token
}

func (c *fakeClient) Disconnect(quiesce uint) { c.disconnected = true }

func TestPublishJSON(t *testing.T) {
	fc := &fakeClient{token: &fakeToken{}}
	p := &Publisher{c: fc, topic: "dmpimu/attitude"}

	v := map[string]float64{"yaw_deg": -12.5}
	if err := p.PublishJSON(v); err != nil {
		t.Fatalf("PublishJSON() error: %v", err)
	}
	if len(fc.published) != 1 {
		t.Fatalf("published=%d want 1", len(fc.published))
	}
	got := fc.published[0]
	if got.topic != "dmpimu/attitude" || got.qos != 0 || got.retained {
		t.Fatalf("publish=%+v", got)
	}
	if string(got.payload) != `{"yaw_deg":-12.5}` {
		t.Fatalf("payload=%s", got.payload)
	}
}

func TestPublishJSON_Errors(t *testing.T) {
	brokerErr := errors.New("not connected")
	p := &Publisher{c: &fakeClient{token: &fakeToken{err: brokerErr}}, topic: "t"}
	if err := p.PublishJSON(1); !errors.Is(err, brokerErr) {
		t.Fatalf("err=%v want %v", err, brokerErr)
	}

	p = &Publisher{c: &fakeClient{token: &fakeToken{timeout: true}}, topic: "t"}
	if err := p.PublishJSON(1); err == nil {
		t.Fatalf("expected timeout error")
	}

	fc := &fakeClient{token: &fakeToken{}}
	p = &Publisher{c: fc, topic: "t"}
	if err := p.PublishJSON(func() {}); err == nil {
		t.Fatalf("expected marshal error")
	}
	if len(fc.published) != 0 {
		t.Fatalf("published after marshal error")
	}
}

func TestClose(t *testing.T) {
	fc := &fakeClient{token: &fakeToken{}}
	p := &Publisher{c: fc, topic: "t"}
	p.Close()
	if !fc.disconnected {
		t.Fatalf("client not disconnected")
	}

	var nilPub *Publisher
	nilPub.Close()
}
