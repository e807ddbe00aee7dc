package manager

import "time"

type EventType string

const (
	EventStart   EventType = "start"
	EventSuccess EventType = "success"
	EventError   EventType = "error"
)

// Event 是单个数据源抓取的生命周期事件：start、success{count}、error{message}
type Event struct {
	Type     EventType `json:"type"`
	Platform string    `json:"platform"`
	Count    int       `json:"count,omitempty"`
	Strategy string    `json:"strategy,omitempty"`
	Message  string    `json:"error,omitempty"`
	Err      error     `json:"-"`
	At       time.Time `json:"at"`
}

// Observer 在抓取 goroutine 中同步调用，实现方不应阻塞太久
type Observer interface {
	OnEvent(Event)
}

type ObserverFunc func(Event)

func (f ObserverFunc) OnEvent(e Event) { f(e) }

// ChanObserver 把事件投递到 channel；发送是阻塞的，调用方需要持续读取
type ChanObserver chan<- Event

func (c ChanObserver) OnEvent(e Event) { c <- e }
