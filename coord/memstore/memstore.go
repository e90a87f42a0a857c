// Package memstore 进程内的协调存储实现，语义对齐zkstore：
// 树型节点、persistent/ephemeral/sequential标志、版本号、一次性watch、
// 会话关闭级联删除ephemeral节点。用于单机联调和测试。
package memstore

import (
	"fmt"
	"strings"
	"sync"

	"github.com/Gao-Garrix/mprpc/coord"
	"github.com/Gao-Garrix/mprpc/errs"
)

type node struct {
	data     []byte
	version  int32
	flags    coord.CreateFlags
	owner    *Store
	children map[string]*node
	seq      int64
}

// Tree 多个Store(会话)之间共享的节点树
type Tree struct {
	mtx    sync.Mutex
	root   *node
	stores []*Store
}

func NewTree() *Tree {
	return &Tree{
		root: &node{children: make(map[string]*node)},
	}
}

// NewStore 在树上打开一个会话句柄
func (t *Tree) NewStore() *Store {
	s := &Store{
		tree:    t,
		events:  make(chan coord.NodeEvent, 64),
		watched: make(map[string]struct{}),
	}
	t.mtx.Lock()
	t.stores = append(t.stores, s)
	t.mtx.Unlock()
	return s
}

// New 独享树的单会话Store
func New() *Store {
	return NewTree().NewStore()
}

type Store struct {
	tree    *Tree
	events  chan coord.NodeEvent
	watched map[string]struct{}
	// 本会话创建的ephemeral节点路径
	ephemerals []string
	closed     bool
}

func (s *Store) Start() error {
	s.tree.mtx.Lock()
	defer s.tree.mtx.Unlock()
	if s.closed {
		return errs.SessionFailure.Print("store closed")
	}
	return nil
}

func splitPath(path string) ([]string, error) {
	if !strings.HasPrefix(path, "/") || path == "/" {
		return nil, fmt.Errorf("invalid path %q", path)
	}
	segs := strings.Split(path[1:], "/")
	for _, seg := range segs {
		if seg == "" {
			return nil, fmt.Errorf("invalid path %q", path)
		}
	}
	return segs, nil
}

// 调用方需持有tree.mtx
func (t *Tree) lookup(segs []string) *node {
	cur := t.root
	for _, seg := range segs {
		next, ok := cur.children[seg]
		if !ok {
			return nil
		}
		cur = next
	}
	return cur
}

// 调用方需持有tree.mtx
func (t *Tree) fire(path string, typ coord.EventType) {
	for _, st := range t.stores {
		if _, ok := st.watched[path]; ok {
			delete(st.watched, path) // 一次性
			select {
			case st.events <- coord.NodeEvent{Type: typ, Path: path}:
			default:
			}
		}
	}
}

func (s *Store) Create(path string, data []byte, flags coord.CreateFlags) (string, error) {
	t := s.tree
	t.mtx.Lock()
	defer t.mtx.Unlock()
	if s.closed {
		return "", errs.SessionFailure.Print("store closed")
	}
	segs, err := splitPath(path)
	if err != nil {
		return "", err
	}
	parent := t.lookup(segs[:len(segs)-1])
	if parent == nil {
		return "", fmt.Errorf("parent of %s not found", path)
	}
	name := segs[len(segs)-1]
	if flags.IsSequential() {
		name = fmt.Sprintf("%s%010d", name, parent.seq)
		parent.seq++
	}
	if _, ok := parent.children[name]; ok {
		if !flags.IsEphemeral() && !flags.IsSequential() {
			// ensure-exists语义
			return path, nil
		}
		return "", fmt.Errorf("node %s already exists", path)
	}
	n := &node{
		data:     data,
		flags:    flags,
		children: make(map[string]*node),
	}
	if flags.IsEphemeral() {
		n.owner = s
	}
	parent.children[name] = n
	actual := "/" + strings.Join(append(segs[:len(segs)-1], name), "/")
	if flags.IsEphemeral() {
		s.ephemerals = append(s.ephemerals, actual)
	}
	t.fire(actual, coord.EventNodeCreated)
	return actual, nil
}

func (s *Store) GetData(path string, watch bool) ([]byte, error) {
	t := s.tree
	t.mtx.Lock()
	defer t.mtx.Unlock()
	segs, err := splitPath(path)
	if err != nil {
		return nil, err
	}
	n := t.lookup(segs)
	if n == nil {
		return nil, fmt.Errorf("node %s not found", path)
	}
	if watch {
		s.watched[path] = struct{}{}
	}
	return append([]byte(nil), n.data...), nil
}

func (s *Store) SetData(path string, data []byte, version int32) error {
	t := s.tree
	t.mtx.Lock()
	defer t.mtx.Unlock()
	segs, err := splitPath(path)
	if err != nil {
		return err
	}
	n := t.lookup(segs)
	if n == nil {
		return fmt.Errorf("node %s not found", path)
	}
	if version != -1 && version != n.version {
		return fmt.Errorf("node %s version mismatch: have %d, want %d", path, n.version, version)
	}
	n.data = append([]byte(nil), data...)
	n.version++
	t.fire(path, coord.EventNodeDataChanged)
	return nil
}

func (s *Store) Delete(path string, version int32) error {
	t := s.tree
	t.mtx.Lock()
	defer t.mtx.Unlock()
	return t.deleteLocked(path, version, s)
}

// 调用方需持有tree.mtx
func (t *Tree) deleteLocked(path string, version int32, s *Store) error {
	segs, err := splitPath(path)
	if err != nil {
		return err
	}
	parent := t.lookup(segs[:len(segs)-1])
	if parent == nil {
		return fmt.Errorf("node %s not found", path)
	}
	name := segs[len(segs)-1]
	n, ok := parent.children[name]
	if !ok {
		return fmt.Errorf("node %s not found", path)
	}
	if version != -1 && version != n.version {
		return fmt.Errorf("node %s version mismatch: have %d, want %d", path, n.version, version)
	}
	if len(n.children) != 0 {
		return fmt.Errorf("node %s not empty", path)
	}
	delete(parent.children, name)
	if s != nil && n.owner == s {
		for i, p := range s.ephemerals {
			if p == path {
				s.ephemerals = append(s.ephemerals[:i], s.ephemerals[i+1:]...)
				break
			}
		}
	}
	t.fire(path, coord.EventNodeDeleted)
	return nil
}

func (s *Store) Exists(path string, watch bool) (bool, error) {
	t := s.tree
	t.mtx.Lock()
	defer t.mtx.Unlock()
	segs, err := splitPath(path)
	if err != nil {
		return false, err
	}
	if watch {
		s.watched[path] = struct{}{}
	}
	return t.lookup(segs) != nil, nil
}

func (s *Store) Children(path string) ([]string, error) {
	t := s.tree
	t.mtx.Lock()
	defer t.mtx.Unlock()
	segs, err := splitPath(path)
	if err != nil {
		return nil, err
	}
	n := t.lookup(segs)
	if n == nil {
		return nil, fmt.Errorf("node %s not found", path)
	}
	names := make([]string, 0, len(n.children))
	for name := range n.children {
		names = append(names, name)
	}
	return names, nil
}

func (s *Store) Watch() <-chan coord.NodeEvent {
	return s.events
}

// Close 结束会话，级联删除本会话创建的ephemeral节点
func (s *Store) Close() error {
	t := s.tree
	t.mtx.Lock()
	defer t.mtx.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	eph := append([]string(nil), s.ephemerals...)
	for _, path := range eph {
		if err := t.deleteLocked(path, -1, s); err != nil {
			// 已被显式删除的忽略
			continue
		}
	}
	s.ephemerals = nil
	return nil
}
