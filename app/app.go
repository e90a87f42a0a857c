package app

import (
	"log"
	"os"
	"os/signal"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"syscall"

	"github.com/Gao-Garrix/mprpc/mlog"
)

// 进程全局状态
const (
	StateNone = iota // 未开始或已停止
	StateInit        // 正在初始化中
	StateRun         // 正在运行中
	StateStop        // 正在停止中
)

type Module interface {
	OnInit() error // 初始化
	Run()          // 启动，阻塞到模块结束
	Destroy()      // 销毁
	Name() string  // 名字
}

// App 的 modules 在 Run 之后不能变更
type App struct {
	mods  []Module
	state int32
	sig   chan os.Signal
	wg    sync.WaitGroup
}

func (app *App) setState(s int32) {
	atomic.StoreInt32(&app.state, s)
}

func (app *App) GetState() int32 {
	return atomic.LoadInt32(&app.state)
}

func (app *App) start(mods ...Module) {
	// 单个app不能启动两次
	if app.GetState() != StateNone || len(app.mods) != 0 {
		log.Fatal("app modules cannot start twice")
	}
	if len(mods) == 0 {
		return
	}
	mlog.Info("app starting up")
	app.mods = mods
	app.setState(StateInit)
	for _, m := range app.mods {
		if err := m.OnInit(); err != nil {
			log.Fatalf("module %s init error %v", m.Name(), err)
		}
	}
	for _, m := range app.mods {
		app.wg.Add(1)
		go func(m Module) {
			defer app.wg.Done()
			m.Run()
		}(m)
	}
	app.setState(StateRun)
	mlog.Info("app started")
}

func (app *App) stop() {
	if app.GetState() == StateStop {
		return
	}
	mlog.Info("app stop begin")
	app.setState(StateStop)
	// 先进后出
	for i := len(app.mods) - 1; i >= 0; i-- {
		m := app.mods[i]
		mlog.Infof("app stop module %s", m.Name())
		destroy(m)
	}
	app.wg.Wait()
	app.setState(StateNone)
	mlog.Info("app stoped")
}

func destroy(m Module) {
	defer func() {
		if r := recover(); r != nil {
			mlog.Errorf("%s module destroy panic: %v\n%s", m.Name(), r, debug.Stack())
		}
	}()
	m.Destroy()
}

// Run 启动全部模块并阻塞到收到退出信号
func (app *App) Run(mods ...Module) {
	app.start(mods...)
	app.sig = make(chan os.Signal, 1)
	for {
		signal.Notify(app.sig, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
		sig := <-app.sig
		mlog.Infof("app closing down (signal: %v)", sig)
		if sig != syscall.SIGHUP {
			break
		}
	}
	app.stop()
}

func (app *App) Stop() {
	app.sig <- syscall.SIGTERM
}
