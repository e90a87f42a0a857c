package mlog

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
)

type loggerImp struct {
	out    *lumberjack.Logger
	ll     *log.Logger
	buff   chan string
	level  Level
	stdOut bool
}

func newDefaultLogger(logpath, logName string, level Level, stdOut bool) *loggerImp {
	// 默认使用当前路径
	if len(logpath) == 0 {
		logpath = "."
	}
	if logName == "" {
		logName = "mprpc"
	}
	// 轮转交给lumberjack，单文件写满100MB切换
	out := &lumberjack.Logger{
		Filename:   filepath.Join(logpath, logName+".log"),
		MaxSize:    100, // MB
		MaxBackups: 10,
		LocalTime:  true,
	}
	me := &loggerImp{
		out:    out,
		ll:     log.New(out, "", log.Ldate|log.Lmicroseconds),
		buff:   make(chan string, 0x10000),
		level:  level,
		stdOut: stdOut,
	}
	if stdOut {
		log.SetFlags(log.Ldate | log.Lmicroseconds)
	}
	return me
}

// Start 启动writer协程，日志只在这一个协程落盘，调用方只往buff投递
func (me *loggerImp) Start(ctx context.Context, wg *sync.WaitGroup) {
	wg.Add(1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				log.Printf("mlog recover error %v\n", r)
			}
			me.out.Close()
			wg.Done()
		}()
		for {
			select {
			case <-ctx.Done():
				// 退出前把残留日志写完
				for {
					select {
					case str := <-me.buff:
						me.write(str)
					default:
						return
					}
				}
			case str := <-me.buff:
				me.write(str)
			}
		}
	}()
}

func (me *loggerImp) write(str string) {
	if me.stdOut {
		log.Println(str)
	}
	me.ll.Println(str)
}

func (me *loggerImp) IsLevelEnabled(level Level) bool {
	return me.level >= level
}

func (me *loggerImp) put(level Level, str string) {
	me.buff <- (getLevelTag(level) + str)
}

func (me *loggerImp) Debug(args ...any) {
	if me.IsLevelEnabled(DebugLevel) {
		me.put(DebugLevel, fmt.Sprint(args...))
	}
}

func (me *loggerImp) Debugf(format string, args ...any) {
	if me.IsLevelEnabled(DebugLevel) {
		me.put(DebugLevel, fmt.Sprintf(format, args...))
	}
}

func (me *loggerImp) Info(args ...any) {
	if me.IsLevelEnabled(InfoLevel) {
		me.put(InfoLevel, fmt.Sprint(args...))
	}
}

func (me *loggerImp) Infof(format string, args ...any) {
	if me.IsLevelEnabled(InfoLevel) {
		me.put(InfoLevel, fmt.Sprintf(format, args...))
	}
}

func (me *loggerImp) Warn(args ...any) {
	if me.IsLevelEnabled(WarnLevel) {
		me.put(WarnLevel, fmt.Sprint(args...))
	}
}

func (me *loggerImp) Warnf(format string, args ...any) {
	if me.IsLevelEnabled(WarnLevel) {
		me.put(WarnLevel, fmt.Sprintf(format, args...))
	}
}

func (me *loggerImp) Error(args ...any) {
	if me.IsLevelEnabled(ErrorLevel) {
		me.put(ErrorLevel, fmt.Sprint(args...))
	}
}

func (me *loggerImp) Errorf(format string, args ...any) {
	if me.IsLevelEnabled(ErrorLevel) {
		me.put(ErrorLevel, fmt.Sprintf(format, args...))
	}
}

func (me *loggerImp) Fatal(args ...any) {
	me.put(FatalLevel, fmt.Sprint(args...))
	time.Sleep(time.Second)
	os.Exit(1)
}

func (me *loggerImp) Fatalf(format string, args ...any) {
	me.put(FatalLevel, fmt.Sprintf(format, args...))
	time.Sleep(time.Second)
	os.Exit(1)
}

func getLevelTag(level Level) string {
	switch level {
	case FatalLevel:
		return "[fatal] "
	case ErrorLevel:
		return "[error] "
	case WarnLevel:
		return "[warn] "
	case InfoLevel:
		return "[info] "
	case DebugLevel:
		return "[debug] "
	}
	return ""
}
