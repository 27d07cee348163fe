package machineupdate

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	logx "socialsim/pkg/logx"

	"github.com/google/uuid"
	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
)

func samplePost() PostRequest {
	return PostRequest{
		MachineID: "m-42",
		Email:     "ada@example.com",
		PostURL:   "http://social.local/post",
		UserField: "uid",
		MsgField:  "text",
		Content:   "Went for a walk",
	}
}

func TestNewPostUpdateEnvelope(t *testing.T) {
	t.Parallel()
	u, err := NewPostUpdate(samplePost())
	if err != nil {
		t.Fatalf("NewPostUpdate: %v", err)
	}
	if u.MachineID != "m-42" || u.Username != "ada@example.com" || u.Status != StatusActive || u.Type != TypeTimelinePartial {
		t.Fatalf("update=%+v", u)
	}

	tl, err := u.DecodeTimeline()
	if err != nil {
		t.Fatalf("DecodeTimeline: %v", err)
	}
	if tl.ID == uuid.Nil || tl.Status != StatusRun || len(tl.TimeLineHandlers) != 1 {
		t.Fatalf("timeline=%+v", tl)
	}
	h := tl.TimeLineHandlers[0]
	if h.HandlerType != HandlerBrowserFirefox || h.Initial != "about:blank" || h.Loop {
		t.Fatalf("handler=%+v", h)
	}
	if h.UtcTimeOn != "00:00:00" || h.UtcTimeOff != "23:59:59" || h.HandlerArgs["isheadless"] != "false" {
		t.Fatalf("handler window/args=%+v", h)
	}
	if len(h.TimeLineEvents) != 1 {
		t.Fatalf("events=%d, want 1", len(h.TimeLineEvents))
	}
	ev := h.TimeLineEvents[0]
	if ev.Command != CommandBrowse || ev.DelayAfter != 0 || ev.DelayBefore != 0 || len(ev.CommandArgs) != 1 {
		t.Fatalf("event=%+v", ev)
	}
	raw, ok := ev.CommandArgs[0].(string)
	if !ok {
		t.Fatalf("command arg type=%T, want string", ev.CommandArgs[0])
	}
	var p PostPayload
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		t.Fatalf("payload: %v", err)
	}
	if p.URI != "http://social.local/post" || p.Category != CategorySocial || p.Method != "POST" {
		t.Fatalf("payload=%+v", p)
	}
	if p.Headers["u"] != "ada@example.com" {
		t.Fatalf("headers=%v", p.Headers)
	}
	if p.FormValues["uid"] != "ada@example.com" || p.FormValues["text"] != "Went for a walk" || len(p.FormValues) != 2 {
		t.Fatalf("form=%v", p.FormValues)
	}
}

func TestTimelineIDsAreUnique(t *testing.T) {
	t.Parallel()
	a, _ := BuildTimeline(samplePost())
	b, _ := BuildTimeline(samplePost())
	if a.ID == b.ID {
		t.Fatalf("timeline ids repeat: %s", a.ID)
	}
}

func TestWireFieldNames(t *testing.T) {
	t.Parallel()
	u, _ := NewPostUpdate(samplePost())
	b, _ := json.Marshal(u)
	for _, k := range []string{`"MachineId"`, `"Username"`, `"Status"`, `"Type"`, `"Update"`} {
		if !bytes.Contains(b, []byte(k)) {
			t.Fatalf("missing %s in %s", k, b)
		}
	}
	if !strings.Contains(u.Update, `"TimeLineHandlers"`) || !strings.Contains(u.Update, `"TimeLineEvents"`) {
		t.Fatalf("timeline keys: %s", u.Update)
	}
}

func TestNewDriverSelection(t *testing.T) {
	t.Parallel()
	s, err := New(Config{}, logx.Nop())
	if err != nil {
		t.Fatalf("New(default): %v", err)
	}
	if _, ok := s.(*LogSubmitter); !ok {
		t.Fatalf("default submitter=%T, want *LogSubmitter", s)
	}
	if _, err := New(Config{Driver: "amqp"}, logx.Nop()); !errors.Is(err, ErrUnknownDriver) {
		t.Fatalf("err=%v, want ErrUnknownDriver", err)
	}
	if _, err := New(Config{Driver: "nats"}, logx.Nop()); err == nil {
		t.Fatalf("nats without url: want error")
	}
	if _, err := New(Config{Driver: "kafka"}, logx.Nop()); err == nil {
		t.Fatalf("kafka without brokers: want error")
	}
}

func TestKafkaDefaults(t *testing.T) {
	t.Parallel()
	k, err := NewKafka(Config{Brokers: []string{" localhost:9092 ", ""}}, logx.Nop())
	if err != nil {
		t.Fatalf("NewKafka: %v", err)
	}
	defer k.Close()
	if k.Topic() != DefaultTopic {
		t.Fatalf("topic=%q, want %q", k.Topic(), DefaultTopic)
	}
}

func TestLogSubmitter(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	s := NewLogSubmitter(logx.New(&buf, "info"))
	u, _ := NewPostUpdate(samplePost())
	if err := s.Create(context.Background(), u); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if !strings.Contains(buf.String(), `"machine":"m-42"`) {
		t.Fatalf("log=%s", buf.String())
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := s.Create(ctx, u); !errors.Is(err, context.Canceled) {
		t.Fatalf("err=%v, want context.Canceled", err)
	}
}

func runNATSServer(t *testing.T) *server.Server {
	t.Helper()
	s, err := server.NewServer(&server.Options{Host: "127.0.0.1", Port: -1, NoLog: true, NoSigs: true})
	if err != nil {
		t.Fatalf("nats server: %v", err)
	}
	go s.Start()
	if !s.ReadyForConnections(5 * time.Second) {
		t.Fatalf("nats server not ready")
	}
	t.Cleanup(s.Shutdown)
	return s
}

func TestNATSSubmitterPublishes(t *testing.T) {
	srv := runNATSServer(t)

	sub, err := nats.Connect(srv.ClientURL())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer sub.Close()
	msgs := make(chan *nats.Msg, 1)
	if _, err := sub.ChanSubscribe("updates.test", msgs); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if err := sub.Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}

	s, err := New(Config{Driver: "nats", URL: srv.ClientURL(), Subject: "updates.test"}, logx.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer s.Close()

	u, _ := NewPostUpdate(samplePost())
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Create(ctx, u); err != nil {
		t.Fatalf("Create: %v", err)
	}

	select {
	case m := <-msgs:
		var got MachineUpdate
		if err := json.Unmarshal(m.Data, &got); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if got != u {
			t.Fatalf("got=%+v\nwant=%+v", got, u)
		}
		if m.Header.Get("Machine-Id") != "m-42" {
			t.Fatalf("header=%v", m.Header)
		}
	case <-ctx.Done():
		t.Fatalf("no message received")
	}
}
