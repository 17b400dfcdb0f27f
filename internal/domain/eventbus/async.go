package eventbus

import (
	"sync"
	"sync/atomic"

	evbus "github.com/asaskevich/EventBus"
)

// AsyncEventBus 异步事件总线
//
// PublishAsync hands events to a fixed worker pool so publishers never block
// on slow subscribers such as the audit writer.
type AsyncEventBus struct {
	bus       evbus.Bus
	workerNum int
	workChan  chan asyncEvent
	stopChan  chan struct{}
	wg        sync.WaitGroup
	inflight  sync.WaitGroup
	startOnce sync.Once
	stopOnce  sync.Once

	dropped  atomic.Uint64
	panicked atomic.Uint64
}

type asyncEvent struct {
	topic string
	args  []interface{}
}

// NewAsyncEventBus 创建异步事件总线
func NewAsyncEventBus(workerNum, queueSize int) *AsyncEventBus {
	if workerNum <= 0 {
		workerNum = 4
	}
	if queueSize <= 0 {
		queueSize = 1000
	}

	return &AsyncEventBus{
		bus:       evbus.New(),
		workerNum: workerNum,
		workChan:  make(chan asyncEvent, queueSize),
		stopChan:  make(chan struct{}),
	}
}

// Start 启动异步处理
func (aeb *AsyncEventBus) Start() {
	aeb.startOnce.Do(func() {
		for i := 0; i < aeb.workerNum; i++ {
			aeb.wg.Add(1)
			go aeb.worker()
		}
	})
}

// Stop drains queued events and stops the workers.
func (aeb *AsyncEventBus) Stop() {
	aeb.stopOnce.Do(func() {
		aeb.Start()
		aeb.inflight.Wait()
		close(aeb.stopChan)
		aeb.wg.Wait()
	})
}

func (aeb *AsyncEventBus) worker() {
	defer aeb.wg.Done()

	for {
		select {
		case <-aeb.stopChan:
			return
		case event := <-aeb.workChan:
			aeb.dispatch(event)
		}
	}
}

func (aeb *AsyncEventBus) dispatch(event asyncEvent) {
	defer aeb.inflight.Done()
	defer func() {
		if r := recover(); r != nil {
			aeb.panicked.Add(1)
		}
	}()
	aeb.bus.Publish(event.topic, event.args...)
}

// Publish 发布事件（同步）
func (aeb *AsyncEventBus) Publish(topic string, args ...interface{}) {
	aeb.bus.Publish(topic, args...)
}

// PublishAsync queues the event. It reports false and counts a drop when the
// queue is full or the bus is stopped.
func (aeb *AsyncEventBus) PublishAsync(topic string, args ...interface{}) bool {
	select {
	case <-aeb.stopChan:
		aeb.dropped.Add(1)
		return false
	default:
	}

	aeb.inflight.Add(1)
	select {
	case aeb.workChan <- asyncEvent{topic: topic, args: args}:
		return true
	default:
		aeb.inflight.Done()
		aeb.dropped.Add(1)
		return false
	}
}

// Subscribe 订阅事件
func (aeb *AsyncEventBus) Subscribe(topic string, fn interface{}) error {
	return aeb.bus.Subscribe(topic, fn)
}

// Unsubscribe 取消订阅
func (aeb *AsyncEventBus) Unsubscribe(topic string, handler interface{}) error {
	return aeb.bus.Unsubscribe(topic, handler)
}

// HasCallback 检查是否有订阅者
func (aeb *AsyncEventBus) HasCallback(topic string) bool {
	return aeb.bus.HasCallback(topic)
}

// Wait blocks until every accepted event has been handled. Workers must be
// running.
func (aeb *AsyncEventBus) Wait() {
	aeb.inflight.Wait()
}

// Dropped reports how many events were rejected.
func (aeb *AsyncEventBus) Dropped() uint64 { return aeb.dropped.Load() }

// Panicked reports how many handler invocations panicked.
func (aeb *AsyncEventBus) Panicked() uint64 { return aeb.panicked.Load() }
