package rpc

import (
	"encoding/binary"
	"time"
)

const (
	defaultNumWorkers      = 4
	minNumWorkers          = 2
	defaultWorkerQueueSize = 1024
	defaultDialTimeout     = 5 * time.Second
)

type ServerOptions struct {
	// NumWorkers 派发worker协程数量，默认4，最少2
	NumWorkers int
	// WorkerQueueSize 每个worker的任务队列长度
	WorkerQueueSize int
	// Multicore event loop多核模式
	Multicore bool
	// ByteOrder header_len的字节序，默认小端
	ByteOrder binary.ByteOrder
}

func initServerOpt(opt *ServerOptions) *ServerOptions {
	if opt == nil {
		opt = &ServerOptions{}
	}
	if opt.NumWorkers <= 0 {
		opt.NumWorkers = defaultNumWorkers
	}
	if opt.NumWorkers < minNumWorkers {
		opt.NumWorkers = minNumWorkers
	}
	if opt.WorkerQueueSize <= 0 {
		opt.WorkerQueueSize = defaultWorkerQueueSize
	}
	return opt
}

type ChannelOptions struct {
	DialTimeout time.Duration
	// ByteOrder header_len的字节序，需与服务方一致
	ByteOrder binary.ByteOrder
}

func initChannelOpt(opt *ChannelOptions) *ChannelOptions {
	if opt == nil {
		opt = &ChannelOptions{}
	}
	if opt.DialTimeout <= 0 {
		opt.DialTimeout = defaultDialTimeout
	}
	return opt
}
