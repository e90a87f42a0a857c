package rpc

import (
	"net"
	"strings"
	"testing"

	"github.com/Gao-Garrix/mprpc/coord"
	"github.com/Gao-Garrix/mprpc/coord/memstore"
	"github.com/Gao-Garrix/mprpc/wire"
)

// stubProvider 手写的服务方：收一帧、回一个裸响应体、关连接
func stubProvider(t *testing.T, reply func(service, method string, args []byte) []byte) (addr string, stop func()) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	go func() {
		codec := wire.NewCodec(nil)
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func(conn net.Conn) {
				defer conn.Close()
				var buf []byte
				tmp := make([]byte, 256)
				for {
					h, args, _, err := codec.Decode(buf)
					if err == wire.ErrNeedMore {
						n, rerr := conn.Read(tmp)
						if rerr != nil {
							return
						}
						buf = append(buf, tmp[:n]...)
						continue
					}
					if err != nil {
						return
					}
					if body := reply(h.ServiceName, h.MethodName, args); len(body) > 0 {
						conn.Write(body)
					}
					return
				}
			}(conn)
		}
	}()
	return ln.Addr().String(), func() { ln.Close() }
}

func advertise(t *testing.T, store coord.Store, service, method, addr string) {
	t.Helper()
	if _, err := store.Create("/"+service, nil, coord.FlagPersistent); err != nil {
		t.Fatal(err)
	}
	if _, err := store.Create("/"+service+"/"+method, nil, coord.FlagPersistent); err != nil {
		t.Fatal(err)
	}
	if _, err := store.Create("/"+service+"/"+method+"/"+seqPrefix, []byte(addr), coord.FlagEphemeralSequential); err != nil {
		t.Fatal(err)
	}
}

func TestChannelHappyPath(t *testing.T) {
	addr, stop := stubProvider(t, func(service, method string, args []byte) []byte {
		if service != "EchoService" || method != "Say" {
			t.Errorf("header = %s/%s", service, method)
		}
		return []byte("echo:" + string(args))
	})
	defer stop()

	store := memstore.New()
	advertise(t, store, "EchoService", "Say", addr)

	ch := NewChannel(store, nil)
	ctrl := NewController()
	req := &textMsg{s: "hello"}
	rsp := &textMsg{}
	doneFired := false
	ch.CallMethod(echoDesc.Method("Say"), ctrl, req, rsp, func() { doneFired = true })
	if ctrl.Failed() {
		t.Fatalf("call failed: %s", ctrl.ErrorText())
	}
	if rsp.s != "echo:hello" {
		t.Fatalf("rsp = %q", rsp.s)
	}
	if !doneFired {
		t.Fatal("done callback must fire before return")
	}
}

func TestChannelDiscoveryMiss(t *testing.T) {
	store := memstore.New()
	ch := NewChannel(store, nil)
	ctrl := NewController()
	ch.CallMethod(echoDesc.Method("Say"), ctrl, &textMsg{s: "x"}, &textMsg{}, nil)
	if !ctrl.Failed() {
		t.Fatal("unregistered service must fail")
	}
	if !strings.Contains(ctrl.ErrorText(), "not found") {
		t.Fatalf("error text = %q", ctrl.ErrorText())
	}
}

func TestChannelBadEndpointData(t *testing.T) {
	store := memstore.New()
	advertise(t, store, "EchoService", "Say", "not-an-endpoint")

	ch := NewChannel(store, nil)
	ctrl := NewController()
	ch.CallMethod(echoDesc.Method("Say"), ctrl, &textMsg{s: "x"}, &textMsg{}, nil)
	if !ctrl.Failed() || !strings.Contains(ctrl.ErrorText(), "host:port") {
		t.Fatalf("failed=%v text=%q", ctrl.Failed(), ctrl.ErrorText())
	}
}

func TestChannelClosedWithoutResponse(t *testing.T) {
	addr, stop := stubProvider(t, func(service, method string, args []byte) []byte {
		return nil // 只关连接，不回包
	})
	defer stop()

	store := memstore.New()
	advertise(t, store, "EchoService", "Say", addr)

	ch := NewChannel(store, nil)
	ctrl := NewController()
	rsp := &textMsg{}
	ch.CallMethod(echoDesc.Method("Say"), ctrl, &textMsg{s: "x"}, rsp, nil)
	if !ctrl.Failed() {
		t.Fatal("closed-without-response must surface as failure")
	}
	if !strings.Contains(ctrl.ErrorText(), "transport") {
		t.Fatalf("error text = %q", ctrl.ErrorText())
	}
	if rsp.s != "" {
		t.Fatalf("failed call must leave response untouched, got %q", rsp.s)
	}
}

func TestChannelConnectRefused(t *testing.T) {
	store := memstore.New()
	// 广告指向没人监听的端口
	advertise(t, store, "EchoService", "Say", "127.0.0.1:1")

	ch := NewChannel(store, nil)
	ctrl := NewController()
	ch.CallMethod(echoDesc.Method("Say"), ctrl, &textMsg{s: "x"}, &textMsg{}, nil)
	if !ctrl.Failed() || !strings.Contains(ctrl.ErrorText(), "transport") {
		t.Fatalf("failed=%v text=%q", ctrl.Failed(), ctrl.ErrorText())
	}
}

func TestChannelPicksLexicographicFirstChild(t *testing.T) {
	addr, stop := stubProvider(t, func(service, method string, args []byte) []byte {
		return []byte("from-first")
	})
	defer stop()

	store := memstore.New()
	advertise(t, store, "EchoService", "Say", addr) // seq-0000000000
	// 第二个provider的广告，字典序靠后，不该被选中
	if _, err := store.Create("/EchoService/Say/"+seqPrefix, []byte("127.0.0.1:1"), coord.FlagEphemeralSequential); err != nil {
		t.Fatal(err)
	}

	ch := NewChannel(store, nil)
	ctrl := NewController()
	rsp := &textMsg{}
	ch.CallMethod(echoDesc.Method("Say"), ctrl, &textMsg{s: "x"}, rsp, nil)
	if ctrl.Failed() {
		t.Fatalf("call failed: %s", ctrl.ErrorText())
	}
	if rsp.s != "from-first" {
		t.Fatalf("rsp = %q", rsp.s)
	}
}
