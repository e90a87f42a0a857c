package rpc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/Gao-Garrix/mprpc/coord/memstore"
	"github.com/Gao-Garrix/mprpc/errs"
	"github.com/Gao-Garrix/mprpc/wire"
)

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()
	return port
}

func TestNotifyServiceDuplicate(t *testing.T) {
	srv := NewServer(memstore.New(), nil)
	if err := srv.NotifyService(echoService{}); err != nil {
		t.Fatal(err)
	}
	err := srv.NotifyService(echoService{})
	if !errors.Is(err, errs.DuplicateService) {
		t.Fatalf("duplicate registration must fail, got %v", err)
	}
}

func TestServerOptionsDefaults(t *testing.T) {
	opt := initServerOpt(nil)
	if opt.NumWorkers != 4 {
		t.Fatalf("default workers = %d", opt.NumWorkers)
	}
	opt = initServerOpt(&ServerOptions{NumWorkers: 1})
	if opt.NumWorkers < 2 {
		t.Fatalf("worker floor = %d", opt.NumWorkers)
	}
}

func TestServerIntegration(t *testing.T) {
	tree := memstore.NewTree()
	providerStore := tree.NewStore()
	srv := NewServer(providerStore, nil)
	if err := srv.NotifyService(echoService{}); err != nil {
		t.Fatal(err)
	}

	port := freePort(t)
	go srv.Run("127.0.0.1", port)
	addr := fmt.Sprintf("127.0.0.1:%d", port)

	callerStore := tree.NewStore()
	// 注册完成后广告必然可见
	deadline := time.Now().Add(3 * time.Second)
	for {
		if children, _ := callerStore.Children("/EchoService/Say"); len(children) > 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("service advertisement never appeared")
		}
		time.Sleep(10 * time.Millisecond)
	}

	codec := wire.NewCodec(nil)

	t.Run("AdvertisementData", func(t *testing.T) {
		children, err := callerStore.Children("/EchoService/Say")
		if err != nil || len(children) != 1 {
			t.Fatalf("children = %v, %v", children, err)
		}
		data, err := callerStore.GetData("/EchoService/Say/"+children[0], false)
		if err != nil || string(data) != addr {
			t.Fatalf("advertised data = %q, want %q", data, addr)
		}
	})

	t.Run("EndToEnd", func(t *testing.T) {
		ch := NewChannel(callerStore, nil)
		ctrl := NewController()
		rsp := &textMsg{}
		ch.CallMethod(echoDesc.Method("Say"), ctrl, &textMsg{s: "hi"}, rsp, nil)
		if ctrl.Failed() {
			t.Fatalf("call failed: %s", ctrl.ErrorText())
		}
		if rsp.s != "echo:hi" {
			t.Fatalf("rsp = %q", rsp.s)
		}
	})

	t.Run("CompletionCalledTwice", func(t *testing.T) {
		ch := NewChannel(callerStore, nil)
		ctrl := NewController()
		rsp := &textMsg{}
		ch.CallMethod(echoDesc.Method("Twice"), ctrl, &textMsg{s: "hi"}, rsp, nil)
		if ctrl.Failed() {
			t.Fatalf("call failed: %s", ctrl.ErrorText())
		}
		if rsp.s != "twice:hi" {
			t.Fatalf("rsp = %q", rsp.s)
		}
	})

	t.Run("PartialFraming", func(t *testing.T) {
		frame, err := codec.Encode("EchoService", "Say", []byte("chunked"))
		if err != nil {
			t.Fatal(err)
		}
		conn, err := net.Dial("tcp", addr)
		if err != nil {
			t.Fatal(err)
		}
		defer conn.Close()
		// 每次5字节、间隔10ms，服务方必须攒齐再解
		for i := 0; i < len(frame); i += 5 {
			end := i + 5
			if end > len(frame) {
				end = len(frame)
			}
			if _, err := conn.Write(frame[i:end]); err != nil {
				t.Fatal(err)
			}
			time.Sleep(10 * time.Millisecond)
		}
		body, err := io.ReadAll(conn)
		if err != nil {
			t.Fatal(err)
		}
		if string(body) != "echo:chunked" {
			t.Fatalf("body = %q", body)
		}
	})

	t.Run("UnknownService", func(t *testing.T) {
		frame, err := codec.Encode("NoSuchService", "Foo", []byte("x"))
		if err != nil {
			t.Fatal(err)
		}
		conn, err := net.Dial("tcp", addr)
		if err != nil {
			t.Fatal(err)
		}
		defer conn.Close()
		conn.Write(frame)
		conn.SetReadDeadline(time.Now().Add(3 * time.Second))
		body, _ := io.ReadAll(conn)
		// 没有错误帧：连接被关闭、不写任何字节
		if len(body) != 0 {
			t.Fatalf("unexpected response %q", body)
		}
	})

	t.Run("UnknownMethod", func(t *testing.T) {
		frame, _ := codec.Encode("EchoService", "NoSuchMethod", []byte("x"))
		conn, err := net.Dial("tcp", addr)
		if err != nil {
			t.Fatal(err)
		}
		defer conn.Close()
		conn.Write(frame)
		conn.SetReadDeadline(time.Now().Add(3 * time.Second))
		if body, _ := io.ReadAll(conn); len(body) != 0 {
			t.Fatalf("unexpected response %q", body)
		}
	})

	t.Run("MalformedHeaderLen", func(t *testing.T) {
		conn, err := net.Dial("tcp", addr)
		if err != nil {
			t.Fatal(err)
		}
		defer conn.Close()
		conn.Write([]byte{0xFF, 0xFF, 0xFF, 0xFF})
		conn.SetReadDeadline(time.Now().Add(3 * time.Second))
		if body, _ := io.ReadAll(conn); len(body) != 0 {
			t.Fatalf("unexpected response %q", body)
		}
	})

	t.Run("StopRemovesAdvertisements", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := srv.Stop(ctx); err != nil {
			t.Fatal(err)
		}
		if children, _ := callerStore.Children("/EchoService/Say"); len(children) != 0 {
			t.Fatalf("advertisements must cascade away on session close: %v", children)
		}
		// 广告消失后的调用观察到discovery miss
		ch := NewChannel(callerStore, nil)
		ctrl := NewController()
		ch.CallMethod(echoDesc.Method("Say"), ctrl, &textMsg{s: "x"}, &textMsg{}, nil)
		if !ctrl.Failed() || !strings.Contains(ctrl.ErrorText(), "not found") {
			t.Fatalf("failed=%v text=%q", ctrl.Failed(), ctrl.ErrorText())
		}
	})
}
