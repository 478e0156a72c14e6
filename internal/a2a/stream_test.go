package a2a

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"BNBChain-AgentKit/internal/task"
)

type streamedEvent struct {
	Result struct {
		ID       string      `json:"id"`
		Status   *TaskStatus `json:"status"`
		Artifact *Artifact   `json:"artifact"`
		Final    bool        `json:"final"`
	} `json:"result"`
	Error *RPCError `json:"error"`
}

func openStream(t *testing.T, url, method string, params any) []streamedEvent {
	t.Helper()
	raw, err := json.Marshal(params)
	require.NoError(t, err)
	body, err := json.Marshal(Request{JSONRPC: "2.0", ID: json.RawMessage(`"s"`), Method: method, Params: raw})
	require.NoError(t, err)

	resp, err := http.Post(url+RPCPath, "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.True(t, strings.HasPrefix(resp.Header.Get("Content-Type"), "text/event-stream"))

	var events []streamedEvent
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		var ev streamedEvent
		require.NoError(t, json.Unmarshal([]byte(strings.TrimSpace(strings.TrimPrefix(line, "data:"))), &ev))
		events = append(events, ev)
	}
	return events
}

func TestSendSubscribeStreamsUntilFinal(t *testing.T) {
	srv := newSyncServer(t, testCard())
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	events := openStream(t, ts.URL, MethodSendSubscribe, TaskSendParams{ID: "st", Message: userText("stream me")})
	require.GreaterOrEqual(t, len(events), 3)

	first := events[0]
	require.NotNil(t, first.Result.Status)
	assert.Equal(t, StateSubmitted, first.Result.Status.State)

	var artifacts int
	for _, ev := range events {
		assert.Nil(t, ev.Error)
		if ev.Result.Artifact != nil {
			artifacts++
		}
	}
	assert.Equal(t, 1, artifacts)

	last := events[len(events)-1]
	require.NotNil(t, last.Result.Status)
	assert.True(t, last.Result.Final)
	assert.Equal(t, StateCompleted, last.Result.Status.State)
}

func TestSendSubscribeRejectsInvalidParams(t *testing.T) {
	h := newSyncServer(t, testCard()).Handler()
	reply := call(t, h, MethodSendSubscribe, TaskSendParams{ID: "x", Message: Message{Role: RoleUser}})
	require.NotNil(t, reply.Error)
	assert.Equal(t, ErrInvalidParams, reply.Error.Code)
}

func TestStreamingNotSupported(t *testing.T) {
	card := testCard()
	card.Capabilities.Streaming = false
	h := newSyncServer(t, card).Handler()

	for _, method := range []string{MethodSendSubscribe, MethodResubscribe} {
		reply := call(t, h, method, TaskSendParams{ID: "x", Message: userText("x")})
		require.NotNil(t, reply.Error)
		assert.Equal(t, ErrUnsupportedOperation, reply.Error.Code)
	}
}

func TestResubscribeFinishedTask(t *testing.T) {
	srv := newSyncServer(t, testCard())
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	decodeTask(t, call(t, srv.Handler(), MethodSend, TaskSendParams{ID: "done", Message: userText("x")}))
	events := openStream(t, ts.URL, MethodResubscribe, TaskQueryParams{ID: "done"})
	require.Len(t, events, 1)
	assert.True(t, events[0].Result.Final)
	assert.Equal(t, StateCompleted, events[0].Result.Status.State)
}

func TestResubscribeRunningTask(t *testing.T) {
	release := make(chan struct{})
	srv := NewServer(testCard(), task.NewService(task.NewMemoryStore(), nil, 1))
	srv.HandleDefault(func(ctx context.Context, _ *Task) (HandlerResult, error) {
		<-release
		return HandlerResult{Message: "finished"}, nil
	})
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	go func() {
		_, _ = srv.send(context.Background(), &TaskSendParams{ID: "slow", Message: userText("x")})
	}()
	require.Eventually(t, func() bool {
		rec, err := srv.tasks.Get(context.Background(), "slow")
		return err == nil && rec.Status == task.StatusRunning
	}, 2*time.Second, 5*time.Millisecond)

	done := make(chan []streamedEvent, 1)
	go func() { done <- openStream(t, ts.URL, MethodResubscribe, TaskQueryParams{ID: "slow"}) }()
	// Give the stream time to subscribe before the handler returns.
	time.Sleep(100 * time.Millisecond)
	close(release)

	select {
	case events := <-done:
		require.GreaterOrEqual(t, len(events), 2)
		assert.Equal(t, StateWorking, events[0].Result.Status.State)
		last := events[len(events)-1]
		assert.True(t, last.Result.Final)
		assert.Equal(t, StateCompleted, last.Result.Status.State)
	case <-time.After(3 * time.Second):
		t.Fatal("resubscribe stream did not finish")
	}
}

func TestMemoryBroker(t *testing.T) {
	b := NewMemoryBroker()
	ctx := context.Background()
	ch, cancel, err := b.Subscribe(ctx, "t")
	require.NoError(t, err)

	require.NoError(t, b.Publish(ctx, "other", Event{Status: &TaskStatusUpdateEvent{ID: "other"}}))
	require.NoError(t, b.Publish(ctx, "t", Event{Status: &TaskStatusUpdateEvent{ID: "t", Final: true}}))
	ev := <-ch
	assert.Equal(t, "t", ev.Status.ID)
	assert.True(t, ev.final())

	cancel()
	cancel()
	require.NoError(t, b.Publish(ctx, "t", Event{}))
	assert.Empty(t, b.subs)
}

func TestRedisBroker(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	b := NewRedisBroker(client, "")
	ctx := context.Background()
	ch, cancel, err := b.Subscribe(ctx, "t")
	require.NoError(t, err)
	defer cancel()

	want := Event{Artifact: &TaskArtifactUpdateEvent{ID: "t", Artifact: Artifact{Name: "result", Parts: []Part{TextPart("ok")}}}}
	require.NoError(t, b.Publish(ctx, "t", want))

	select {
	case got := <-ch:
		require.NotNil(t, got.Artifact)
		assert.Equal(t, "ok", got.Artifact.Artifact.Parts[0].Text)
		assert.False(t, got.final())
	case <-time.After(2 * time.Second):
		t.Fatal("no event received")
	}
}
