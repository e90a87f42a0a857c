// Package zkstore 基于ZooKeeper的协调存储实现。
package zkstore

import (
	"sync"
	"time"

	"github.com/Gao-Garrix/mprpc/coord"
	"github.com/Gao-Garrix/mprpc/errs"
	"github.com/Gao-Garrix/mprpc/mlog"
	"github.com/go-zookeeper/zk"
)

type Options struct {
	Servers        []string
	SessionTimeout time.Duration
}

type Store struct {
	opt    *Options
	conn   *zk.Conn
	events chan coord.NodeEvent

	// 本会话创建过的ephemeral节点，会话过期重连后按这份记录恢复
	ephemerals []*ephemeralNode
	mtx        sync.Mutex

	quit      chan struct{}
	closeOnce sync.Once
}

type ephemeralNode struct {
	reqPath    string
	data       []byte
	flags      coord.CreateFlags
	actualPath string
}

func New(opt *Options) *Store {
	if opt.SessionTimeout <= 0 {
		opt.SessionTimeout = coord.DefaultSessionTimeout
	}
	return &Store{
		opt:    opt,
		events: make(chan coord.NodeEvent, 64),
		quit:   make(chan struct{}),
	}
}

// zk客户端日志接到mlog
type zkLogger struct{}

func (zkLogger) Printf(format string, a ...any) {
	mlog.Debugf("zk: "+format, a...)
}

func (s *Store) Start() error {
	conn, sessCh, err := zk.Connect(s.opt.Servers, s.opt.SessionTimeout, zk.WithLogger(zkLogger{}))
	if err != nil {
		return errs.SessionFailure.Printf("connect %v: %v", s.opt.Servers, err)
	}
	// 阻塞到会话建立
	deadline := time.After(s.opt.SessionTimeout)
	for {
		select {
		case ev := <-sessCh:
			if ev.State == zk.StateHasSession {
				s.conn = conn
				mlog.Infof("zk session established, servers:%v", s.opt.Servers)
				go s.pump(sessCh)
				return nil
			}
		case <-deadline:
			conn.Close()
			return errs.SessionFailure.Printf("connect %v timeout", s.opt.Servers)
		case <-s.quit:
			conn.Close()
			return errs.SessionFailure.Print("store closed")
		}
	}
}

// pump 消费会话事件。zk客户端自带ping协程维持会话活性，这里只处理
// 状态迁移：Expired后客户端会自动以新会话重连，重连成功时恢复ephemeral节点
func (s *Store) pump(sessCh <-chan zk.Event) {
	expired := false
	for {
		select {
		case <-s.quit:
			return
		case ev, ok := <-sessCh:
			if !ok {
				return
			}
			if ev.Type != zk.EventSession {
				continue
			}
			switch ev.State {
			case zk.StateExpired:
				mlog.Warn("zk session expired, waiting for re-establishment")
				expired = true
			case zk.StateHasSession:
				if expired {
					expired = false
					mlog.Info("zk session re-established, restoring ephemeral nodes")
					s.restoreEphemerals()
				}
			}
		}
	}
}

func (s *Store) restoreEphemerals() {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	for _, n := range s.ephemerals {
		actual, err := s.conn.Create(n.reqPath, n.data, zkFlags(n.flags), zk.WorldACL(zk.PermAll))
		if err != nil {
			if err == zk.ErrNodeExists {
				continue
			}
			mlog.Errorf("zk restore ephemeral %s err:%v", n.reqPath, err)
			continue
		}
		n.actualPath = actual
		mlog.Infof("zk restored ephemeral %s", actual)
	}
}

func zkFlags(flags coord.CreateFlags) int32 {
	var f int32
	if flags.IsEphemeral() {
		f |= zk.FlagEphemeral
	}
	if flags.IsSequential() {
		f |= zk.FlagSequence
	}
	return f
}

func (s *Store) Create(path string, data []byte, flags coord.CreateFlags) (string, error) {
	actual, err := s.conn.Create(path, data, zkFlags(flags), zk.WorldACL(zk.PermAll))
	if err != nil {
		// persistent节点已存在视为ensure-exists，幂等成功
		if err == zk.ErrNodeExists && !flags.IsEphemeral() && !flags.IsSequential() {
			return path, nil
		}
		return "", err
	}
	if flags.IsEphemeral() {
		s.mtx.Lock()
		s.ephemerals = append(s.ephemerals, &ephemeralNode{
			reqPath:    path,
			data:       data,
			flags:      flags,
			actualPath: actual,
		})
		s.mtx.Unlock()
	}
	return actual, nil
}

func (s *Store) GetData(path string, watch bool) ([]byte, error) {
	if watch {
		data, _, ch, err := s.conn.GetW(path)
		if err != nil {
			return nil, err
		}
		go s.forward(ch)
		return data, nil
	}
	data, _, err := s.conn.Get(path)
	return data, err
}

func (s *Store) SetData(path string, data []byte, version int32) error {
	_, err := s.conn.Set(path, data, version)
	return err
}

func (s *Store) Delete(path string, version int32) error {
	if err := s.conn.Delete(path, version); err != nil {
		return err
	}
	s.mtx.Lock()
	for i, n := range s.ephemerals {
		if n.actualPath == path {
			s.ephemerals = append(s.ephemerals[:i], s.ephemerals[i+1:]...)
			break
		}
	}
	s.mtx.Unlock()
	return nil
}

func (s *Store) Exists(path string, watch bool) (bool, error) {
	if watch {
		ok, _, ch, err := s.conn.ExistsW(path)
		if err != nil {
			return false, err
		}
		go s.forward(ch)
		return ok, nil
	}
	ok, _, err := s.conn.Exists(path)
	return ok, err
}

func (s *Store) Children(path string) ([]string, error) {
	children, _, err := s.conn.Children(path)
	return children, err
}

func (s *Store) Watch() <-chan coord.NodeEvent {
	return s.events
}

// forward 把一次性watch的触发转成NodeEvent投递
func (s *Store) forward(ch <-chan zk.Event) {
	select {
	case <-s.quit:
	case ev, ok := <-ch:
		if !ok {
			return
		}
		var t coord.EventType
		switch ev.Type {
		case zk.EventNodeCreated:
			t = coord.EventNodeCreated
		case zk.EventNodeDataChanged:
			t = coord.EventNodeDataChanged
		case zk.EventNodeDeleted:
			t = coord.EventNodeDeleted
		default:
			return
		}
		select {
		case s.events <- coord.NodeEvent{Type: t, Path: ev.Path}:
		case <-s.quit:
		}
	}
}

// Close 关闭会话，服务端随之级联删除本会话的ephemeral节点
func (s *Store) Close() error {
	s.closeOnce.Do(func() {
		close(s.quit)
		if s.conn != nil {
			s.conn.Close()
		}
	})
	return nil
}
