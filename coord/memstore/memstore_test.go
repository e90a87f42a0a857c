package memstore

import (
	"sort"
	"testing"

	"github.com/Gao-Garrix/mprpc/coord"
)

func TestCreateFlags(t *testing.T) {
	s := New()
	if err := s.Start(); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Create("/UserService", nil, coord.FlagPersistent); err != nil {
		t.Fatal(err)
	}
	// persistent重复创建是ensure-exists
	if _, err := s.Create("/UserService", nil, coord.FlagPersistent); err != nil {
		t.Fatalf("persistent re-create should be idempotent: %v", err)
	}
	if _, err := s.Create("/UserService/Login", nil, coord.FlagPersistent); err != nil {
		t.Fatal(err)
	}
	// ephemeral重复创建是错误
	if _, err := s.Create("/UserService/Login/n", []byte("a"), coord.FlagEphemeral); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Create("/UserService/Login/n", []byte("b"), coord.FlagEphemeral); err == nil {
		t.Fatal("duplicate ephemeral must fail")
	}
	// 父节点不存在
	if _, err := s.Create("/NoParent/child", nil, coord.FlagPersistent); err == nil {
		t.Fatal("create under missing parent must fail")
	}
}

func TestSequentialNaming(t *testing.T) {
	s := New()
	s.Create("/S", nil, coord.FlagPersistent)
	s.Create("/S/M", nil, coord.FlagPersistent)
	p1, err := s.Create("/S/M/seq-", []byte("127.0.0.1:8000"), coord.FlagEphemeralSequential)
	if err != nil {
		t.Fatal(err)
	}
	p2, err := s.Create("/S/M/seq-", []byte("127.0.0.1:8001"), coord.FlagEphemeralSequential)
	if err != nil {
		t.Fatal(err)
	}
	if p1 == p2 {
		t.Fatalf("sequential names must be unique: %s", p1)
	}
	if !(p1 < p2) {
		t.Fatalf("creation order must be lexicographic: %s vs %s", p1, p2)
	}
	children, err := s.Children("/S/M")
	if err != nil {
		t.Fatal(err)
	}
	sort.Strings(children)
	if len(children) != 2 || "/S/M/"+children[0] != p1 {
		t.Fatalf("children = %v", children)
	}
}

func TestEphemeralCleanupOnClose(t *testing.T) {
	tree := NewTree()
	provider := tree.NewStore()
	caller := tree.NewStore()

	provider.Create("/S", nil, coord.FlagPersistent)
	provider.Create("/S/M", nil, coord.FlagPersistent)
	provider.Create("/S/M/seq-", []byte("127.0.0.1:8000"), coord.FlagEphemeralSequential)

	if children, _ := caller.Children("/S/M"); len(children) != 1 {
		t.Fatalf("advertisement not visible: %v", children)
	}
	provider.Close()
	// 会话结束后ephemeral节点消失，persistent保留
	if children, _ := caller.Children("/S/M"); len(children) != 0 {
		t.Fatalf("ephemeral should be gone after close: %v", children)
	}
	if ok, _ := caller.Exists("/S/M", false); !ok {
		t.Fatal("persistent node must survive the session")
	}
}

func TestVersionCAS(t *testing.T) {
	s := New()
	s.Create("/n", []byte("v0"), coord.FlagPersistent)
	if err := s.SetData("/n", []byte("v1"), 0); err != nil {
		t.Fatal(err)
	}
	if err := s.SetData("/n", []byte("v2"), 0); err == nil {
		t.Fatal("stale version must fail")
	}
	if err := s.SetData("/n", []byte("v2"), -1); err != nil {
		t.Fatalf("-1 bypasses version check: %v", err)
	}
	data, err := s.GetData("/n", false)
	if err != nil || string(data) != "v2" {
		t.Fatalf("data = %q, %v", data, err)
	}
}

func TestOneShotWatch(t *testing.T) {
	tree := NewTree()
	a := tree.NewStore()
	b := tree.NewStore()

	a.Create("/n", []byte("x"), coord.FlagPersistent)
	if _, err := b.GetData("/n", true); err != nil {
		t.Fatal(err)
	}
	a.SetData("/n", []byte("y"), -1)
	select {
	case ev := <-b.Watch():
		if ev.Type != coord.EventNodeDataChanged || ev.Path != "/n" {
			t.Fatalf("event = %+v", ev)
		}
	default:
		t.Fatal("watch did not fire")
	}
	// 一次性：第二次变更不再触发
	a.SetData("/n", []byte("z"), -1)
	select {
	case ev := <-b.Watch():
		t.Fatalf("one-shot watch fired twice: %+v", ev)
	default:
	}
}
