package worker

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lalithlochan/herdwatch/internal/alert"
	"github.com/lalithlochan/herdwatch/internal/circuitbreaker"
	"github.com/lalithlochan/herdwatch/internal/sns"
	"github.com/lalithlochan/herdwatch/internal/sqs"
)

type mockSender struct {
	channel alert.Channel
	err     error
	calls   int
	last    *Delivery
}

func (m *mockSender) Send(ctx context.Context, d *Delivery) error {
	m.calls++
	m.last = d
	return m.err
}

func (m *mockSender) Supports(d *Delivery) bool { return d.Channel == m.channel }

type fakeSES struct {
	input *ses.SendEmailInput
	err   error
}

func (f *fakeSES) SendEmail(ctx context.Context, in *ses.SendEmailInput, _ ...func(*ses.Options)) (*ses.SendEmailOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.input = in
	return &ses.SendEmailOutput{MessageId: aws.String("ses-1")}, nil
}

type fakeSMS struct {
	phone, text string
}

func (f *fakeSMS) PublishSMS(ctx context.Context, phone, text string) (string, error) {
	f.phone, f.text = phone, text
	return "sms-1", nil
}

type fakeEndpoints struct {
	arn     string
	payload sns.PushPayload
}

func (f *fakeEndpoints) PublishToEndpoint(ctx context.Context, arn string, p sns.PushPayload) (string, error) {
	f.arn, f.payload = arn, p
	return "push-1", nil
}

type fakeEnqueuer struct {
	msgs []sqs.Message
	err  error
}

func (f *fakeEnqueuer) Enqueue(ctx context.Context, msg sqs.Message) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.msgs = append(f.msgs, msg)
	return "q-1", nil
}

func TestDispatcher_Routing(t *testing.T) {
	logger := zap.NewNop()
	email := &mockSender{channel: alert.ChannelEmail}
	d := NewDispatcher(logger, NewAppSender(logger), email)

	res := d.Deliver(context.Background(), Delivery{Owner: "o", Channel: alert.ChannelEmail, Address: "a@b.c", Body: "x"})
	if !res.Delivered || res.Err != nil {
		t.Fatalf("unexpected result %+v", res)
	}
	if email.calls != 1 || email.last.ID == uuid.Nil {
		t.Error("email sender should receive a delivery with an id")
	}

	res = d.Deliver(context.Background(), Delivery{Owner: "o", Channel: alert.ChannelApp})
	if !res.Delivered {
		t.Errorf("app delivery should succeed, got %+v", res)
	}

	res = d.Deliver(context.Background(), Delivery{Owner: "o", Channel: alert.ChannelSMS})
	if !errors.Is(res.Err, ErrNoSender) {
		t.Errorf("expected ErrNoSender, got %v", res.Err)
	}
	if d.Supports(&Delivery{Channel: alert.ChannelSMS}) {
		t.Error("dispatcher should not support sms")
	}
}

func TestDispatcher_QueuedResult(t *testing.T) {
	logger := zap.NewNop()
	q := &fakeEnqueuer{}
	d := NewDispatcher(logger, NewAppSender(logger), NewQueueSender(q, logger))

	nid := uuid.New()
	res := d.Deliver(context.Background(), Delivery{Owner: "o", Channel: alert.ChannelSMS, Address: "+1555", Body: "b", NotificationID: &nid})
	if !res.Queued || res.Delivered {
		t.Fatalf("expected queued result, got %+v", res)
	}
	if len(q.msgs) != 1 || q.msgs[0].NotificationID != nid.String() {
		t.Errorf("unexpected queue messages %+v", q.msgs)
	}

	res = d.Deliver(context.Background(), Delivery{Owner: "o", Channel: alert.ChannelApp})
	if res.Queued || !res.Delivered {
		t.Errorf("app channel must not be queued, got %+v", res)
	}
}

func TestMessageRoundTrip(t *testing.T) {
	did := uuid.New()
	in := Delivery{
		ID:       uuid.New(),
		Owner:    "owner-1",
		Channel:  alert.ChannelEmail,
		Address:  "farmer@example.com",
		Subject:  "Digest",
		Body:     "body",
		DigestID: &did,
		Attempt:  2,
	}

	out, err := FromMessage(ToMessage(in))
	if err != nil {
		t.Fatalf("FromMessage: %v", err)
	}
	if out.ID != in.ID || *out.DigestID != did || out.NotificationID != nil || out.Attempt != 2 {
		t.Errorf("round trip mismatch: %+v", out)
	}

	if _, err := FromMessage(sqs.Message{DeliveryID: "nope"}); err == nil {
		t.Error("expected error for invalid delivery id")
	}
}

func TestSESSender(t *testing.T) {
	client := &fakeSES{}
	s := NewSESSenderWithClient(client, "alerts@herdwatch.example", zap.NewNop())

	err := s.Send(context.Background(), &Delivery{ID: uuid.New(), Channel: alert.ChannelEmail, Address: "farmer@example.com", Body: "Treatment Amoxicillin expires in 5 days"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := aws.ToString(client.input.Message.Subject.Data); got != defaultEmailSubject {
		t.Errorf("subject = %q", got)
	}
	if got := client.input.Destination.ToAddresses[0]; got != "farmer@example.com" {
		t.Errorf("to = %q", got)
	}

	if err := s.Send(context.Background(), &Delivery{Channel: alert.ChannelEmail, Body: "x"}); err == nil {
		t.Error("expected error for missing address")
	}
	if err := s.Send(context.Background(), &Delivery{Channel: alert.ChannelSMS, Address: "a", Body: "x"}); err == nil {
		t.Error("expected error for wrong channel")
	}
}

func TestSMSSender_UsesDigestSubject(t *testing.T) {
	pub := &fakeSMS{}
	s := NewSMSSender(pub, zap.NewNop())
	did := uuid.New()

	err := s.Send(context.Background(), &Delivery{Channel: alert.ChannelSMS, Address: "+1555", Subject: "Your weekly herd digest", Body: "long body", DigestID: &did})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if pub.text != "Your weekly herd digest" || pub.phone != "+1555" {
		t.Errorf("published %q to %q", pub.text, pub.phone)
	}
}

func TestPushSender_Webhook(t *testing.T) {
	var got webhookPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Herdwatch-Delivery-ID") == "" {
			t.Error("missing delivery id header")
		}
		json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	s := NewPushSender(nil, PushConfig{}, zap.NewNop())
	d := &Delivery{ID: uuid.New(), Owner: "owner-1", Channel: alert.ChannelPush, Address: srv.URL, Body: "Weight check due", Severity: alert.SeverityHigh}

	if !s.Supports(d) {
		t.Fatal("webhook address should be supported")
	}
	if err := s.Send(context.Background(), d); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Body != "Weight check due" || got.Severity != "high" || got.Owner != "owner-1" {
		t.Errorf("unexpected payload %+v", got)
	}
}

func TestPushSender_WebhookNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	s := NewPushSender(nil, PushConfig{}, zap.NewNop())
	if err := s.Send(context.Background(), &Delivery{ID: uuid.New(), Channel: alert.ChannelPush, Address: srv.URL}); err == nil {
		t.Fatal("expected error for 502")
	}
}

func TestPushSender_Endpoint(t *testing.T) {
	endpoints := &fakeEndpoints{}
	s := NewPushSender(endpoints, PushConfig{}, zap.NewNop())
	nid := uuid.New()
	arn := "arn:aws:sns:us-east-1:123:endpoint/APNS/herdwatch/x"

	d := &Delivery{ID: uuid.New(), Channel: alert.ChannelPush, Address: arn, Body: "Booster due", NotificationID: &nid}
	if err := s.Send(context.Background(), d); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if endpoints.arn != arn || endpoints.payload.Data["notification_id"] != nid.String() {
		t.Errorf("unexpected publish %q %+v", endpoints.arn, endpoints.payload)
	}

	noSNS := NewPushSender(nil, PushConfig{}, zap.NewNop())
	if noSNS.Supports(d) {
		t.Error("arn address needs an endpoint publisher")
	}
	if noSNS.Supports(&Delivery{Channel: alert.ChannelPush, Address: "token-123"}) {
		t.Error("bare tokens are not supported")
	}
}

func TestProtectedSender_FailsFast(t *testing.T) {
	logger := zap.NewNop()
	inner := &mockSender{channel: alert.ChannelEmail, err: errors.New("SES down")}
	cb := circuitbreaker.New(circuitbreaker.Config{Name: "ses", MaxFailures: 2}, logger)
	ps := NewProtectedSender(inner, cb, logger)

	d := &Delivery{ID: uuid.New(), Channel: alert.ChannelEmail}
	ps.Send(context.Background(), d)
	ps.Send(context.Background(), d)

	inner.calls = 0
	err := ps.Send(context.Background(), d)
	if !errors.Is(err, circuitbreaker.ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen, got %v", err)
	}
	if inner.calls != 0 {
		t.Errorf("inner sender called %d times while open", inner.calls)
	}
	if !ps.Supports(d) {
		t.Error("Supports should delegate")
	}
}

type fakeQueue struct {
	batch      []sqs.Received
	deleted    []string
	visibility map[string]time.Duration
}

func (f *fakeQueue) Receive(ctx context.Context, max int32) ([]sqs.Received, error) {
	b := f.batch
	f.batch = nil
	return b, nil
}

func (f *fakeQueue) Delete(ctx context.Context, handle string) error {
	f.deleted = append(f.deleted, handle)
	return nil
}

func (f *fakeQueue) ChangeVisibility(ctx context.Context, handle string, d time.Duration) error {
	if f.visibility == nil {
		f.visibility = make(map[string]time.Duration)
	}
	f.visibility[handle] = d
	return nil
}

type fakeRequeuer struct {
	msgs   []sqs.Message
	delays []time.Duration
}

func (f *fakeRequeuer) EnqueueDelayed(ctx context.Context, msg sqs.Message, delay time.Duration) (string, error) {
	f.msgs = append(f.msgs, msg)
	f.delays = append(f.delays, delay)
	return "r", nil
}

func queued(d Delivery, handle string) sqs.Received {
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	return sqs.Received{Message: ToMessage(d), ReceiptHandle: handle}
}

func TestConsumer_Success(t *testing.T) {
	q := &fakeQueue{batch: []sqs.Received{queued(Delivery{Channel: alert.ChannelEmail, Address: "a@b.c", Body: "x"}, "h1")}}
	sender := &mockSender{channel: alert.ChannelEmail}
	c := NewConsumer(q, &fakeRequeuer{}, sender, ConsumerConfig{}, zap.NewNop())

	var outcomes []error
	c.OnOutcome(func(ctx context.Context, d Delivery, err error) { outcomes = append(outcomes, err) })

	c.processBatch(context.Background())

	if len(q.deleted) != 1 || q.deleted[0] != "h1" {
		t.Errorf("message should be deleted, deleted=%v", q.deleted)
	}
	if len(outcomes) != 1 || outcomes[0] != nil {
		t.Errorf("expected one successful outcome, got %v", outcomes)
	}
}

func TestConsumer_RetryThenDrop(t *testing.T) {
	sender := &mockSender{channel: alert.ChannelSMS, err: errors.New("throttled")}
	rq := &fakeRequeuer{}
	q := &fakeQueue{batch: []sqs.Received{queued(Delivery{Channel: alert.ChannelSMS, Attempt: 0}, "h1")}}
	c := NewConsumer(q, rq, sender, ConsumerConfig{MaxRetries: 2}, zap.NewNop())

	var outcomes []error
	c.OnOutcome(func(ctx context.Context, d Delivery, err error) { outcomes = append(outcomes, err) })

	c.processBatch(context.Background())
	if len(rq.msgs) != 1 || rq.msgs[0].Attempt != 1 || rq.delays[0] != time.Minute {
		t.Fatalf("expected requeue with attempt 1 after 1m, got %+v %v", rq.msgs, rq.delays)
	}
	if len(outcomes) != 0 {
		t.Fatal("no outcome until the delivery is given up")
	}

	q.batch = []sqs.Received{{Message: rq.msgs[0], ReceiptHandle: "h2"}}
	c.processBatch(context.Background())
	if len(rq.msgs) != 1 {
		t.Error("should not requeue after max retries")
	}
	if len(outcomes) != 1 || outcomes[0] == nil {
		t.Errorf("expected failed outcome, got %v", outcomes)
	}
	if len(q.deleted) != 2 {
		t.Errorf("both messages should be deleted, got %v", q.deleted)
	}
}

func TestConsumer_BreakerOpenDefers(t *testing.T) {
	sender := &mockSender{channel: alert.ChannelEmail, err: circuitbreaker.ErrCircuitOpen}
	rq := &fakeRequeuer{}
	q := &fakeQueue{batch: []sqs.Received{queued(Delivery{Channel: alert.ChannelEmail}, "h1")}}
	c := NewConsumer(q, rq, sender, ConsumerConfig{OpenBackoff: 45 * time.Second}, zap.NewNop())

	c.processBatch(context.Background())

	if q.visibility["h1"] != 45*time.Second {
		t.Errorf("visibility = %v, want 45s", q.visibility["h1"])
	}
	if len(q.deleted) != 0 || len(rq.msgs) != 0 {
		t.Error("open breaker should neither delete nor requeue")
	}
}

func TestRetryDelay(t *testing.T) {
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, time.Minute},
		{1, time.Minute},
		{2, 5 * time.Minute},
		{3, 15 * time.Minute},
		{9, 15 * time.Minute},
	}
	for _, tt := range tests {
		if got := retryDelay(tt.attempt); got != tt.want {
			t.Errorf("retryDelay(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}
