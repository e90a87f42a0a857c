package rpc

import "testing"

func TestController(t *testing.T) {
	ctrl := NewController()
	if ctrl.Failed() || ctrl.ErrorText() != "" {
		t.Fatal("fresh controller must be clean")
	}
	ctrl.SetFailed("boom")
	if !ctrl.Failed() || ctrl.ErrorText() != "boom" {
		t.Fatalf("failed=%v text=%q", ctrl.Failed(), ctrl.ErrorText())
	}
	ctrl.Reset()
	if ctrl.Failed() || ctrl.ErrorText() != "" {
		t.Fatal("reset must clear the record")
	}
	// 取消是空实现，调了也不改变状态
	ctrl.StartCancel()
	if ctrl.IsCanceled() {
		t.Fatal("cancellation is a stub")
	}
	ctrl.NotifyOnCancel(func() { t.Fatal("must never fire") })
}
