package rpc

// Controller 单次调用的状态记录：通道写、调用方在返回后读，
// 一次调用内不跨协程共享，无需同步
type Controller struct {
	failed  bool
	errText string
}

func NewController() *Controller {
	return &Controller{}
}

func (c *Controller) Reset() {
	c.failed = false
	c.errText = ""
}

func (c *Controller) SetFailed(reason string) {
	c.failed = true
	c.errText = reason
}

func (c *Controller) Failed() bool {
	return c.failed
}

func (c *Controller) ErrorText() string {
	return c.errText
}

// 取消不在支持范围内，以下为满足抽象契约的空实现

func (c *Controller) StartCancel() {}

func (c *Controller) IsCanceled() bool {
	return false
}

func (c *Controller) NotifyOnCancel(func()) {}
