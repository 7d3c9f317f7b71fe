package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/clusterlib/clusterlib/eventbus"
	"github.com/clusterlib/clusterlib/notifyable"
	"github.com/clusterlib/clusterlib/queue"
	"github.com/clusterlib/clusterlib/store"
	"github.com/clusterlib/clusterlib/store/memstore"
)

type fixture struct {
	root           *notifyable.Root
	serverRecv     *queue.Queue
	serverComplete *queue.Queue
	clientResp     *queue.Queue
	st             store.Store
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st := memstore.New()
	bus := eventbus.New()
	reg := notifyable.NewRegistry(st, bus)
	root, err := reg.Root(context.Background(), "/root")
	require.NoError(t, err)

	ctx := context.Background()
	for _, dir := range []string{"/recv", "/completed", "/clientresp"} {
		_, err := st.Create(ctx, dir, nil, store.CreateFlags{})
		require.NoError(t, err)
	}
	serverRecv := queue.New(st, bus, "/server", "/recv")
	serverComplete := queue.New(st, bus, "/server", "/completed")
	clientResp := queue.New(st, bus, "/client", "/clientresp")

	t.Cleanup(func() {
		serverRecv.Close()
		serverComplete.Close()
		clientResp.Close()
		bus.EndOfService()
		st.Close()
	})

	return &fixture{root: root, serverRecv: serverRecv, serverComplete: serverComplete, clientResp: clientResp, st: st}
}

func (f *fixture) buildProcessSlot(t *testing.T) *notifyable.ProcessSlot {
	t.Helper()
	ctx := context.Background()
	app, _, err := f.root.Application(ctx, "app1", notifyable.CreateIfNotFound)
	require.NoError(t, err)
	group, _, err := app.Group(ctx, "group1", notifyable.CreateIfNotFound)
	require.NoError(t, err)
	node, _, err := group.Node(ctx, "node1", notifyable.CreateIfNotFound)
	require.NoError(t, err)
	slot, _, err := node.ProcessSlot(ctx, "slot1", notifyable.CreateIfNotFound)
	require.NoError(t, err)
	return slot
}

func TestClientServerRoundTripUnknownMethod(t *testing.T) {
	f := newFixture(t)
	server := NewServer(f.st, f.serverRecv, f.serverComplete, nil)
	go server.Serve(context.Background())
	defer server.Stop()

	client := NewResponseClient(f.clientResp, f.serverComplete, "/clientresp")
	defer client.Stop()
	_, err := client.Call(context.Background(), f.serverRecv, "noSuchMethod", []json.RawMessage{[]byte(`{}`)}, 2*time.Second)
	require.Error(t, err)
}

func TestStartProcessThenStopProcess(t *testing.T) {
	f := newFixture(t)
	slot := f.buildProcessSlot(t)

	runner := NewProcessRunner(f.root)
	server := NewServer(f.st, f.serverRecv, f.serverComplete, nil)
	server.Register(MethodStartProcess, runner.StartProcessMethod())
	server.Register(MethodStopProcess, runner.StopProcessMethod())
	go server.Serve(context.Background())
	defer server.Stop()

	client := NewResponseClient(f.clientResp, f.serverComplete, "/clientresp")
	defer client.Stop()

	startParams, err := json.Marshal(startProcessParams{NotifyableKey: slot.Key()})
	require.NoError(t, err)
	result, err := client.Call(context.Background(), f.serverRecv, MethodStartProcess, []json.RawMessage{startParams}, 2*time.Second)
	require.NoError(t, err)
	var gotKey string
	require.NoError(t, json.Unmarshal(result, &gotKey))
	require.Equal(t, slot.Key(), gotKey)

	hostnames, _ := slot.ProcessInfo().Get()
	require.NotEmpty(t, hostnames)

	stopParams, err := json.Marshal(stopProcessParams{NotifyableKey: slot.Key()})
	require.NoError(t, err)
	_, err = client.Call(context.Background(), f.serverRecv, MethodStopProcess, []json.RawMessage{stopParams}, 2*time.Second)
	require.NoError(t, err)
}

func TestStartProcessRejectsPartialOptionalParams(t *testing.T) {
	f := newFixture(t)
	slot := f.buildProcessSlot(t)

	runner := NewProcessRunner(f.root)
	server := NewServer(f.st, f.serverRecv, f.serverComplete, nil)
	server.Register(MethodStartProcess, runner.StartProcessMethod())
	go server.Serve(context.Background())
	defer server.Stop()

	client := NewResponseClient(f.clientResp, f.serverComplete, "/clientresp")
	defer client.Stop()
	raw, err := json.Marshal(map[string]interface{}{
		"notifyable-key": slot.Key(),
		"path":           "/bin/true",
	})
	require.NoError(t, err)
	_, err = client.Call(context.Background(), f.serverRecv, MethodStartProcess, []json.RawMessage{raw}, 2*time.Second)
	require.Error(t, err)
}

func TestConcurrentCallsShareOneResponseQueue(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	app, _, err := f.root.Application(ctx, "app1", notifyable.CreateIfNotFound)
	require.NoError(t, err)
	group, _, err := app.Group(ctx, "group1", notifyable.CreateIfNotFound)
	require.NoError(t, err)
	node, _, err := group.Node(ctx, "node1", notifyable.CreateIfNotFound)
	require.NoError(t, err)

	runner := NewProcessRunner(f.root)
	server := NewServer(f.st, f.serverRecv, f.serverComplete, nil)
	server.Register(MethodStartProcess, runner.StartProcessMethod())
	go server.Serve(ctx)
	defer server.Stop()

	client := NewResponseClient(f.clientResp, f.serverComplete, "/clientresp")
	defer client.Stop()

	const n = 5
	slotKeys := make([]string, n)
	for i := 0; i < n; i++ {
		slot, _, err := node.ProcessSlot(ctx, fmt.Sprintf("slot%d", i), notifyable.CreateIfNotFound)
		require.NoError(t, err)
		slotKeys[i] = slot.Key()
	}

	var wg sync.WaitGroup
	results := make([]string, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			params, marshalErr := json.Marshal(startProcessParams{NotifyableKey: slotKeys[i]})
			if marshalErr != nil {
				errs[i] = marshalErr
				return
			}
			result, callErr := client.Call(ctx, f.serverRecv, MethodStartProcess, []json.RawMessage{params}, 2*time.Second)
			if callErr != nil {
				errs[i] = callErr
				return
			}
			var gotKey string
			errs[i] = json.Unmarshal(result, &gotKey)
			results[i] = gotKey
		}(i)
	}
	wg.Wait()

	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		require.Equal(t, slotKeys[i], results[i])
	}
}

func TestResponseFallsBackToCompletedQueueWhenRespQueueKeyAbsent(t *testing.T) {
	f := newFixture(t)
	server := NewServer(f.st, f.serverRecv, f.serverComplete, nil)
	server.Register(MethodStartProcess, NewProcessRunner(f.root).StartProcessMethod())
	go server.Serve(context.Background())
	defer server.Stop()

	req := Request{Method: MethodStartProcess, ID: "req-without-resp-key", Params: []json.RawMessage{[]byte(`{"notifyable-key":"/root/applications/app1"}`)}}
	data, err := json.Marshal(req)
	require.NoError(t, err)
	_, err = f.serverRecv.Put(context.Background(), data)
	require.NoError(t, err)

	payload, _, ok, err := f.serverComplete.Take(context.Background(), 2*time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	var env Envelope
	require.NoError(t, json.Unmarshal(payload, &env))
	require.Equal(t, "req-without-resp-key", env.ID)
	require.NotNil(t, env.Error)
}
