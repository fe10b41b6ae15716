package idempotency

import (
	"context"
	"sync"
)

// Recorder 业务处理结束后写回响应。
//
// Record 与 Release 合计只生效一次；未跟踪的判定上是空操作；存储错误只记日志不返回，
// 已提交的业务操作不能因为缓存结果失败而回滚。
// 创建时开始续租，Record、Release 或 Stop 时停止。
type Recorder struct {
	c    Completer
	d    *Decision
	once sync.Once
	stop func()
}

// NewRecorder 为一次 Proceed 判定创建 Recorder
func NewRecorder(c Completer, d *Decision) *Recorder {
	return &Recorder{
		c:    c,
		d:    d,
		stop: c.KeepAlive(context.Background(), d),
	}
}

// Record 写回最终状态码与响应体，无论成功还是失败的响应都应记录
func (r *Recorder) Record(ctx context.Context, status int, body []byte, contentType string) {
	r.once.Do(func() {
		r.stop()
		if r.d == nil || !r.d.Tracked {
			return
		}
		// Complete 内部已记录日志与指标
		_ = r.c.Complete(ctx, r.d, status, body, contentType)
	})
}

// Release 没有可记录的响应时放弃持有，下一次重试可以立即接管
func (r *Recorder) Release(ctx context.Context) {
	r.once.Do(func() {
		r.stop()
		if r.d == nil || !r.d.Tracked {
			return
		}
		r.c.Release(ctx, r.d)
	})
}

// Stop 停止续租但不写回，记录保持 processing，租约到期后可被接管
func (r *Recorder) Stop() {
	r.stop()
}
