// Package scheduler 定时或手动触发采集：触发只把任务放进有界队列并立即返回，由后台 worker 串行执行
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/LJTian/HotlistHub/internal/logging"
	"github.com/LJTian/HotlistHub/internal/pipeline"
)

const (
	DefaultQueueSize  = 8
	DefaultRunTimeout = 10 * time.Minute
	historySize       = 50
)

var ErrQueueFull = errors.New("task queue full")

type Runner interface {
	Run(ctx context.Context, req pipeline.Request) (pipeline.Outcome, error)
}

type State string

const (
	StateQueued  State = "queued"
	StateRunning State = "running"
	StateDone    State = "done"
	StateSkipped State = "skipped"
	StateFailed  State = "failed"
)

// Ack 是触发后的立即回执，不等待任务执行
type Ack struct {
	Accepted bool   `json:"accepted"`
	TaskID   string `json:"taskId,omitempty"`
	Reason   string `json:"reason,omitempty"`
}

type Task struct {
	ID      string
	Trigger string // cron / manual / startup
	Request pipeline.Request
}

type TaskStatus struct {
	ID         string    `json:"id"`
	Trigger    string    `json:"trigger"`
	State      State     `json:"state"`
	Articles   int       `json:"articles"`
	Failed     int       `json:"failedSources"`
	Error      string    `json:"error,omitempty"`
	EnqueuedAt time.Time `json:"enqueuedAt"`
	StartedAt  time.Time `json:"startedAt,omitempty"`
	FinishedAt time.Time `json:"finishedAt,omitempty"`
}

type Option func(*Scheduler)

func WithQueueSize(n int) Option {
	return func(s *Scheduler) {
		if n > 0 {
			s.queueSize = n
		}
	}
}

// WithStartupDelay 启动后延迟执行首轮采集，0 表示不执行
func WithStartupDelay(d time.Duration) Option {
	return func(s *Scheduler) { s.startupDelay = d }
}

func WithRunTimeout(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.runTimeout = d
		}
	}
}

type Scheduler struct {
	cron   *cron.Cron
	runner Runner
	logger *zap.Logger

	queueSize    int
	queue        chan Task
	startupDelay time.Duration
	runTimeout   time.Duration

	mu      sync.Mutex
	tasks   map[string]*TaskStatus
	history []string

	cancel  context.CancelFunc
	wg      sync.WaitGroup
	startup *time.Timer
}

// New 创建调度器；spec 为空时不注册定时任务，只接受手动触发
func New(spec string, runner Runner, logger *zap.Logger, opts ...Option) (*Scheduler, error) {
	s := &Scheduler{
		cron:       cron.New(),
		runner:     runner,
		logger:     logging.OrNop(logger),
		queueSize:  DefaultQueueSize,
		runTimeout: DefaultRunTimeout,
		tasks:      make(map[string]*TaskStatus),
	}
	for _, o := range opts {
		o(s)
	}
	s.queue = make(chan Task, s.queueSize)

	if spec != "" {
		_, err := s.cron.AddFunc(spec, func() {
			if _, err := s.Enqueue("cron", pipeline.Request{}); err != nil {
				s.logger.Warn("cron trigger dropped", zap.Error(err))
			}
		})
		if err != nil {
			return nil, fmt.Errorf("invalid cron spec %q: %w", spec, err)
		}
	}
	return s, nil
}

// Start 启动 worker 与定时器
func (s *Scheduler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(1)
	go s.work(ctx)
	s.cron.Start()

	if s.startupDelay > 0 {
		s.startup = time.AfterFunc(s.startupDelay, func() {
			if _, err := s.Enqueue("startup", pipeline.Request{}); err != nil {
				s.logger.Warn("startup run dropped", zap.Error(err))
			}
		})
	}
	s.logger.Info("scheduler started", zap.Int("queue_size", s.queueSize))
}

// Stop 停止接收定时任务并等待当前任务结束
func (s *Scheduler) Stop() {
	if s.startup != nil {
		s.startup.Stop()
	}
	<-s.cron.Stop().Done()
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	s.logger.Info("scheduler stopped")
}

// Trigger 手动触发一轮采集，立即返回回执
func (s *Scheduler) Trigger(req pipeline.Request) Ack {
	ack, err := s.Enqueue("manual", req)
	if err != nil {
		ack.Reason = err.Error()
	}
	return ack
}

// Enqueue 把任务放进队列；队列已满时返回 ErrQueueFull，不阻塞
func (s *Scheduler) Enqueue(trigger string, req pipeline.Request) (Ack, error) {
	t := Task{ID: uuid.NewString(), Trigger: trigger, Request: req}
	// 先登记再入队，worker 取到任务时状态一定存在
	s.record(&TaskStatus{ID: t.ID, Trigger: trigger, State: StateQueued, EnqueuedAt: time.Now()})
	select {
	case s.queue <- t:
	default:
		s.forget(t.ID)
		s.logger.Warn("task queue full, trigger rejected", zap.String("trigger", trigger))
		return Ack{Accepted: false}, ErrQueueFull
	}
	s.logger.Info("task enqueued", zap.String("task_id", t.ID), zap.String("trigger", trigger))
	return Ack{Accepted: true, TaskID: t.ID}, nil
}

// Status 返回任务状态；只保留最近的若干个任务
func (s *Scheduler) Status(id string) (TaskStatus, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.tasks[id]
	if !ok {
		return TaskStatus{}, false
	}
	return *st, true
}

// Pending 返回队列中等待执行的任务数
func (s *Scheduler) Pending() int { return len(s.queue) }

func (s *Scheduler) work(ctx context.Context) {
	defer s.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case t := <-s.queue:
			s.execute(ctx, t)
		}
	}
}

func (s *Scheduler) execute(ctx context.Context, t Task) {
	s.update(t.ID, func(st *TaskStatus) {
		st.State = StateRunning
		st.StartedAt = time.Now()
	})
	log := s.logger.With(zap.String("task_id", t.ID), zap.String("trigger", t.Trigger))
	log.Info("start collect job")

	rctx, cancel := context.WithTimeout(ctx, s.runTimeout)
	defer cancel()
	out, err := s.runner.Run(rctx, t.Request)

	s.update(t.ID, func(st *TaskStatus) {
		st.FinishedAt = time.Now()
		switch {
		case err != nil:
			st.State = StateFailed
			st.Error = err.Error()
		case out.Skipped:
			st.State = StateSkipped
		default:
			st.State = StateDone
			st.Articles = out.Articles
			if out.Stats != nil {
				st.Failed = out.Stats.Failed
			}
		}
	})
	if err != nil {
		log.Error("collect job failed", zap.Error(err))
		return
	}
	log.Info("collect job done", zap.Bool("skipped", out.Skipped), zap.Int("articles", out.Articles))
}

func (s *Scheduler) record(st *TaskStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks[st.ID] = st
	s.history = append(s.history, st.ID)
	if len(s.history) > historySize {
		delete(s.tasks, s.history[0])
		s.history = s.history[1:]
	}
}

func (s *Scheduler) forget(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tasks, id)
	for i := len(s.history) - 1; i >= 0; i-- {
		if s.history[i] == id {
			s.history = append(s.history[:i], s.history[i+1:]...)
			break
		}
	}
}

func (s *Scheduler) update(id string, fn func(*TaskStatus)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.tasks[id]; ok {
		fn(st)
	}
}
