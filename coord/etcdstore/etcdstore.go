// Package etcdstore 基于etcd的协调存储实现。
//
// 节点树映射为etcd的扁平key空间：key即路径。ephemeral节点挂在一个
// 会话租约上，租约失活时key被删除；sequential节点用uuid后缀保证同级
// 名字唯一。会话活性由KeepAlive心跳维持。
package etcdstore

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/Gao-Garrix/mprpc/coord"
	"github.com/Gao-Garrix/mprpc/errs"
	"github.com/Gao-Garrix/mprpc/mlog"
	"github.com/google/uuid"
	clientv3 "go.etcd.io/etcd/client/v3"
)

const (
	// etcd put/delete事件，不引入mvccpb
	eventType_Put    = 0
	eventType_Delete = 1
)

type Options struct {
	Endpoints      []string
	DialTimeout    time.Duration
	SessionTimeout time.Duration
}

type Store struct {
	opt     *Options
	cli     *clientv3.Client
	leaseID clientv3.LeaseID
	events  chan coord.NodeEvent

	// 本会话创建的ephemeral节点 key -> 数据，租约重建后按这份记录恢复
	ephemerals map[string][]byte
	// 一次性watch登记的路径
	watched map[string]struct{}
	mtx     sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
}

func New(opt *Options) *Store {
	if opt.DialTimeout <= 0 {
		opt.DialTimeout = 5 * time.Second
	}
	if opt.SessionTimeout <= 0 {
		opt.SessionTimeout = coord.DefaultSessionTimeout
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Store{
		opt:        opt,
		events:     make(chan coord.NodeEvent, 64),
		ephemerals: make(map[string][]byte),
		watched:    make(map[string]struct{}),
		ctx:        ctx,
		cancel:     cancel,
	}
}

func (s *Store) ttlSeconds() int64 {
	ttl := int64(s.opt.SessionTimeout / time.Second)
	if ttl < 1 {
		ttl = 1
	}
	return ttl
}

func (s *Store) Start() error {
	cli, err := clientv3.New(clientv3.Config{
		Endpoints: s.opt.Endpoints,
		// 设置DialTimeout后clientv3.New是阻塞call，连不上即报错
		DialTimeout: s.opt.DialTimeout,
	})
	if err != nil {
		return errs.SessionFailure.Printf("connect %v: %v", s.opt.Endpoints, err)
	}
	s.cli = cli

	resp, err := cli.Grant(s.ctx, s.ttlSeconds())
	if err != nil {
		cli.Close()
		return errs.SessionFailure.Printf("grant lease: %v", err)
	}
	s.leaseID = resp.ID
	mlog.Infof("etcd session lease %X granted, ttl %ds", resp.ID, s.ttlSeconds())

	go s.keepAliveLoop()
	go s.watchLoop()
	return nil
}

// keepAliveLoop 维持会话租约。KeepAlive管道关闭说明租约已失效（对应
// 会话过期），重新申请租约并恢复ephemeral节点
func (s *Store) keepAliveLoop() {
	defer func() {
		if r := recover(); r != nil {
			mlog.Errorf("etcd keepalive recover error %v", r)
		}
	}()
	for {
		ch, err := s.cli.KeepAlive(s.ctx, s.currentLease())
		if err == nil {
			for range ch {
			}
		}
		select {
		case <-s.ctx.Done():
			return
		default:
		}
		mlog.Warn("etcd session lease lost, re-establishing")
		for {
			resp, err := s.cli.Grant(s.ctx, s.ttlSeconds())
			if err == nil {
				s.mtx.Lock()
				s.leaseID = resp.ID
				s.mtx.Unlock()
				s.restoreEphemerals()
				break
			}
			select {
			case <-s.ctx.Done():
				return
			case <-time.After(time.Second):
			}
		}
	}
}

func (s *Store) currentLease() clientv3.LeaseID {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	return s.leaseID
}

func (s *Store) restoreEphemerals() {
	s.mtx.Lock()
	nodes := make(map[string][]byte, len(s.ephemerals))
	for k, v := range s.ephemerals {
		nodes[k] = v
	}
	lease := s.leaseID
	s.mtx.Unlock()
	for key, data := range nodes {
		_, err := s.cli.Put(s.ctx, key, string(data), clientv3.WithLease(lease))
		if err != nil {
			mlog.Errorf("etcd restore ephemeral %s err:%v", key, err)
			continue
		}
		mlog.Infof("etcd restored ephemeral %s", key)
	}
}

// watchLoop 监视全部key，为一次性watch派发事件；发现自己的ephemeral
// 节点被删（多半是租约过期），重新注册
func (s *Store) watchLoop() {
	defer func() {
		if r := recover(); r != nil {
			mlog.Errorf("etcd watch recover error %v", r)
		}
	}()
	rch := s.cli.Watch(s.ctx, "/", clientv3.WithPrefix())
	for {
		select {
		case <-s.ctx.Done():
			return
		case rsp, ok := <-rch:
			if !ok {
				return
			}
			if err := rsp.Err(); err != nil {
				mlog.Warnf("etcd watch response error: %v", err)
				continue
			}
			for _, evt := range rsp.Events {
				if evt != nil {
					s.onWatchEvent(evt)
				}
			}
		}
	}
}

func (s *Store) onWatchEvent(evt *clientv3.Event) {
	key := string(evt.Kv.Key)
	var typ coord.EventType
	if int32(evt.Type) == eventType_Delete {
		typ = coord.EventNodeDeleted
		s.mtx.Lock()
		data, mine := s.ephemerals[key]
		lease := s.leaseID
		s.mtx.Unlock()
		if mine {
			mlog.Infof("etcd ephemeral %s deleted, register again", key)
			if _, err := s.cli.Put(s.ctx, key, string(data), clientv3.WithLease(lease)); err != nil {
				mlog.Errorf("etcd re-register %s err:%v", key, err)
			}
		}
	} else if int32(evt.Type) == eventType_Put {
		if evt.Kv.Version == 1 {
			typ = coord.EventNodeCreated
		} else {
			typ = coord.EventNodeDataChanged
		}
	} else {
		return
	}

	s.mtx.Lock()
	_, hit := s.watched[key]
	if hit {
		delete(s.watched, key) // 一次性
	}
	s.mtx.Unlock()
	if hit {
		select {
		case s.events <- coord.NodeEvent{Type: typ, Path: key}:
		case <-s.ctx.Done():
		}
	}
}

func (s *Store) Create(path string, data []byte, flags coord.CreateFlags) (string, error) {
	key := path
	if flags.IsSequential() {
		// 用uuid保证同级名字唯一，序号语义由创建顺序近似
		key = path + uuid.New().String()
	}
	var putOp clientv3.Op
	if flags.IsEphemeral() {
		putOp = clientv3.OpPut(key, string(data), clientv3.WithLease(s.currentLease()))
	} else {
		putOp = clientv3.OpPut(key, string(data))
	}
	resp, err := s.cli.Txn(s.ctx).
		If(clientv3.Compare(clientv3.CreateRevision(key), "=", 0)).
		Then(putOp).
		Commit()
	if err != nil {
		return "", err
	}
	if !resp.Succeeded {
		if flags.IsEphemeral() {
			return "", fmt.Errorf("ephemeral node %s already exists", key)
		}
		// persistent已存在，幂等成功
		return key, nil
	}
	if flags.IsEphemeral() {
		s.mtx.Lock()
		s.ephemerals[key] = data
		s.mtx.Unlock()
	}
	return key, nil
}

func (s *Store) GetData(path string, watch bool) ([]byte, error) {
	rsp, err := s.cli.Get(s.ctx, path)
	if err != nil {
		return nil, err
	}
	if len(rsp.Kvs) == 0 {
		return nil, fmt.Errorf("node %s not found", path)
	}
	if watch {
		s.addWatch(path)
	}
	return rsp.Kvs[0].Value, nil
}

func (s *Store) SetData(path string, data []byte, version int32) error {
	if version == -1 {
		_, err := s.cli.Put(s.ctx, path, string(data))
		return err
	}
	resp, err := s.cli.Txn(s.ctx).
		If(clientv3.Compare(clientv3.Version(path), "=", int64(version))).
		Then(clientv3.OpPut(path, string(data))).
		Commit()
	if err != nil {
		return err
	}
	if !resp.Succeeded {
		return fmt.Errorf("node %s version mismatch", path)
	}
	return nil
}

func (s *Store) Delete(path string, version int32) error {
	s.mtx.Lock()
	delete(s.ephemerals, path)
	s.mtx.Unlock()
	if version == -1 {
		_, err := s.cli.Delete(s.ctx, path)
		return err
	}
	resp, err := s.cli.Txn(s.ctx).
		If(clientv3.Compare(clientv3.Version(path), "=", int64(version))).
		Then(clientv3.OpDelete(path)).
		Commit()
	if err != nil {
		return err
	}
	if !resp.Succeeded {
		return fmt.Errorf("node %s version mismatch", path)
	}
	return nil
}

func (s *Store) Exists(path string, watch bool) (bool, error) {
	rsp, err := s.cli.Get(s.ctx, path, clientv3.WithCountOnly())
	if err != nil {
		return false, err
	}
	if watch {
		s.addWatch(path)
	}
	return rsp.Count > 0, nil
}

// Children 列出path的直接子节点名
func (s *Store) Children(path string) ([]string, error) {
	prefix := strings.TrimSuffix(path, "/") + "/"
	rsp, err := s.cli.Get(s.ctx, prefix, clientv3.WithPrefix(), clientv3.WithKeysOnly())
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{})
	var names []string
	for _, kv := range rsp.Kvs {
		rest := strings.TrimPrefix(string(kv.Key), prefix)
		if rest == "" {
			continue
		}
		if idx := strings.Index(rest, "/"); idx != -1 {
			rest = rest[:idx]
		}
		if _, ok := seen[rest]; !ok {
			seen[rest] = struct{}{}
			names = append(names, rest)
		}
	}
	return names, nil
}

func (s *Store) addWatch(path string) {
	s.mtx.Lock()
	s.watched[path] = struct{}{}
	s.mtx.Unlock()
}

func (s *Store) Watch() <-chan coord.NodeEvent {
	return s.events
}

// Close 注销租约，etcd随之删除本会话的全部ephemeral key
func (s *Store) Close() error {
	if s.cli == nil {
		s.cancel()
		return nil
	}
	// 先停后台任务，避免KeepAlive把刚注销的租约又建回来
	s.cancel()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if _, err := s.cli.Revoke(ctx, s.currentLease()); err != nil {
		mlog.Warnf("etcd revoke lease err:%v", err)
	}
	return s.cli.Close()
}
